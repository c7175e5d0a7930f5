package party

import "errors"

var (
	// ErrNotJoined is returned by outbound commands before a room is entered.
	ErrNotJoined = errors.New("not joined to a room")
	// ErrRoomClosed is returned once ROOM_CLOSED has been received; the
	// room code is terminated and accepts no further commands.
	ErrRoomClosed = errors.New("room is closed")
)

// ValidationError rejects a malformed outbound command before any network
// call. The caller corrects the input and retries.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// DecodeError marks an inbound frame the router could not interpret.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode envelope: " + e.Reason
}
