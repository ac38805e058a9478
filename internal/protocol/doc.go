// Package protocol implements the JSON wire codec for client frames.
//
// A frame is { type, data?, timestamp, requestId? }. Encode and Decode
// translate between streamhub.Frame and wire bytes; ParseSubscribe and
// ParseUnsubscribe extract the typed payloads of the two room-management
// frames; InnerType peeks at the type tag of generic message envelopes.
package protocol
