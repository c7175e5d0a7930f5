package stomp

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Publish and Subscribe while the
	// connection is down. Callers get the error synchronously; the
	// connection keeps retrying in the background.
	ErrNotConnected = errors.New("stomp: not connected")
	// ErrClosed is returned after an explicit Disconnect.
	ErrClosed = errors.New("stomp: connection closed")
)

// DecodeError marks a malformed inbound frame. The frame is dropped and the
// connection stays up.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "stomp: decode: " + e.Reason
}

// ProtocolError carries a broker-reported ERROR frame.
type ProtocolError struct {
	Message string
	Body    string
}

func (e *ProtocolError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stomp: broker error: %s: %s", e.Message, e.Body)
	}
	return "stomp: broker error: " + e.Message
}
