package streamhub

// Inbound frame types recognized from clients.
const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameMessage     = "message"
	FramePing        = "ping"
)

// Outbound event types pushed to clients.
const (
	EventConnected      = "connected"
	EventSubscribed     = "subscribed"
	EventUnsubscribed   = "unsubscribed"
	EventError          = "error"
	EventPong           = "pong"
	EventBroadcast      = "broadcast"
	EventMessage        = "message"
	EventUserJoined     = "user_joined"
	EventServerShutdown = "server_shutdown"
)

// Inner message envelope types dispatched to upstream services.
const (
	MessageMarketSubscribe  = "market_subscribe"
	MessageTraderSubscribe  = "trader_subscribe"
	MessageStrategyUpdate   = "strategy_update"
	MessagePing             = "ping"
	MessageUserDisconnected = "user_disconnected"
)

// Upstream service targets reachable through the Forwarder.
const (
	ServiceMarket     = "market-service"
	ServiceTrader     = "trader-service"
	ServiceStrategy   = "strategy-service"
	ServiceConnection = "connection-service"
)

// Room name grammar: a category prefix followed by an identifier, or one of
// the fixed global rooms.
const (
	RoomPrefixMarket   = "market:"
	RoomPrefixTrader   = "trader:"
	RoomPrefixStrategy = "strategy:"
	RoomPrefixUser     = "user:"
	RoomNotifications  = "notifications"
	RoomRiskAlerts     = "risk_alerts"
)

// UserRoom returns the private room name for a user id. The room is joinable
// only by the identity whose id matches, and is the mechanism for user-scoped
// unicast delivery.
func UserRoom(userID string) string {
	return RoomPrefixUser + userID
}

// Standard error messages
const (
	// Protocol errors
	ErrInvalidFrame   = "invalid frame"
	ErrFailedToEncode = "failed to encode frame"

	// Connection errors
	ErrConnectionNotFound   = "connection not found"
	ErrConnectionClosed     = "connection is closed"
	ErrContextCancelled     = "connection context cancelled"
	ErrDuplicateConnection  = "connection already registered"
	ErrServerAlreadyRunning = "server already running"
	ErrServerShuttingDown   = "server is shutting down"

	// Subscription errors reported to clients
	ErrRoomDenied = "invalid room or insufficient permissions"
)
