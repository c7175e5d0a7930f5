package party

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType tags the wire envelope. Values match the broker's enum.
type MessageType string

const (
	TypeJoin        MessageType = "JOIN"
	TypeLeave       MessageType = "LEAVE"
	TypeChat        MessageType = "CHAT"
	TypePlayVideo   MessageType = "PLAY_VIDEO"
	TypeRoomClosed  MessageType = "ROOM_CLOSED"
	TypeMemberCount MessageType = "MEMBER_COUNT_UPDATE"
)

func (t MessageType) valid() bool {
	switch t {
	case TypeJoin, TypeLeave, TypeChat, TypePlayVideo, TypeRoomClosed, TypeMemberCount:
		return true
	}
	return false
}

// User identifies a participant as asserted by the sender. The core never
// verifies these fields; authorization lives on the broker side.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Envelope is the typed message exchanged over a room topic. Immutable once
// built. Field names are fixed by the broker contract.
type Envelope struct {
	Type           MessageType `json:"type"`
	RoomCode       string      `json:"roomCode,omitempty"`
	VideoID        string      `json:"videoId,omitempty"`
	VideoTitle     string      `json:"videoTitle,omitempty"`
	VideoThumbnail string      `json:"videoThumbnail,omitempty"`
	SenderID       string      `json:"senderId,omitempty"`
	SenderUsername string      `json:"senderUsername,omitempty"`
	Content        string      `json:"content,omitempty"`
	Timestamp      int64       `json:"timestamp,omitempty"`
}

// Sender extracts the asserted sender identity.
func (e *Envelope) Sender() User {
	return User{ID: e.SenderID, Username: e.SenderUsername}
}

// EncodeEnvelope serializes an envelope for publishing.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeEnvelope parses an inbound frame body. Unknown types and malformed
// payloads yield a DecodeError; the caller drops the frame and carries on.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	if !e.Type.valid() {
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown message type %q", e.Type)}
	}
	return &e, nil
}

// CanonicalRoomCode normalizes a room code: codes are case-insensitive and
// canonicalized to uppercase everywhere they appear.
func CanonicalRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
