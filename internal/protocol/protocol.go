package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hyperdash/streamhub"
)

const (
	// maxFrameSize caps inbound frames at 1MB, matching the transport's
	// read limit.
	maxFrameSize = 1 * 1024 * 1024
)

var (
	// ErrFrameTooLarge is returned when an inbound frame exceeds maxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")

	// ErrMissingType is returned when an inbound frame has no type tag.
	ErrMissingType = errors.New("frame missing type")
)

// Encode serializes a frame for the wire, stamping the current UTC time if
// the frame carries no timestamp.
func Encode(frame streamhub.Frame) ([]byte, error) {
	if frame.Type == "" {
		return nil, ErrMissingType
	}
	if frame.Timestamp == "" {
		frame.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", streamhub.ErrFailedToEncode, err)
	}
	return data, nil
}

// Decode parses raw wire bytes into a frame. A frame without a type tag is
// rejected; everything else about the payload is left to the dispatcher.
func Decode(data []byte) (streamhub.Frame, error) {
	if len(data) > maxFrameSize {
		return streamhub.Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}

	var frame streamhub.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return streamhub.Frame{}, fmt.Errorf("%s: %w", streamhub.ErrInvalidFrame, err)
	}
	if frame.Type == "" {
		return streamhub.Frame{}, ErrMissingType
	}
	return frame, nil
}

// SubscribeRequest is the payload of an inbound subscribe frame.
type SubscribeRequest struct {
	Room   string          `json:"room"`
	Params json.RawMessage `json:"params,omitempty"`
}

// UnsubscribeRequest is the payload of an inbound unsubscribe frame.
type UnsubscribeRequest struct {
	Room string `json:"room"`
}

// ParseSubscribe extracts a subscribe request from a frame payload.
func ParseSubscribe(data json.RawMessage) (SubscribeRequest, error) {
	var req SubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SubscribeRequest{}, fmt.Errorf("%s: %w", streamhub.ErrInvalidFrame, err)
	}
	if req.Room == "" {
		return SubscribeRequest{}, errors.New("subscribe missing room")
	}
	return req, nil
}

// ParseUnsubscribe extracts an unsubscribe request from a frame payload.
func ParseUnsubscribe(data json.RawMessage) (UnsubscribeRequest, error) {
	var req UnsubscribeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return UnsubscribeRequest{}, fmt.Errorf("%s: %w", streamhub.ErrInvalidFrame, err)
	}
	if req.Room == "" {
		return UnsubscribeRequest{}, errors.New("unsubscribe missing room")
	}
	return req, nil
}

// InnerType returns the type tag of a generic message envelope without
// decoding the whole payload. Returns the empty string when the tag is
// absent or the payload is not an object.
func InnerType(data json.RawMessage) string {
	return gjson.GetBytes(data, "type").String()
}

// Wrap nests an event frame inside an outer envelope of the given type.
// Broadcasts and unicasts use this so clients can distinguish pushed events
// from direct replies.
func Wrap(envelope string, inner streamhub.Frame) (streamhub.Frame, error) {
	if inner.Timestamp == "" {
		inner.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return streamhub.NewFrame(envelope, inner)
}
