package api

import "fmt"

// Room mirrors the backend's watch-party room representation.
type Room struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	Description           string `json:"description"`
	RoomCode              string `json:"roomCode"`
	OwnerID               string `json:"ownerId"`
	OwnerUsername         string `json:"ownerUsername"`
	CurrentVideoID        string `json:"currentVideoId,omitempty"`
	CurrentVideoTitle     string `json:"currentVideoTitle,omitempty"`
	CurrentVideoThumbnail string `json:"currentVideoThumbnail,omitempty"`
	CurrentVideoPath      string `json:"currentVideoPath,omitempty"`
	Active                bool   `json:"active"`
	Public                bool   `json:"isPublic"`
	MemberCount           int    `json:"memberCount"`
	CreatedAt             string `json:"createdAt"`
	// VideoElapsedSeconds lets late joiners seek to the room's position.
	VideoElapsedSeconds int64 `json:"videoElapsedSeconds"`
}

// ChatMessage is one persisted transcript line from the history endpoint.
type ChatMessage struct {
	ID             string `json:"id"`
	SenderID       string `json:"senderId"`
	SenderUsername string `json:"senderUsername"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	Timestamp      int64  `json:"timestamp"`
}

// CreateRoomRequest is the payload for creating a room.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Public      bool   `json:"isPublic"`
}

// RoomMembers is the active-members listing for a room.
type RoomMembers struct {
	Members []string `json:"members"`
	Count   int      `json:"count"`
}

// StatusError carries a non-2xx backend response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	se, ok := err.(*StatusError)
	return ok && se.StatusCode == 404
}
