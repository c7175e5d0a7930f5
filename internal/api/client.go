// Package api is the client for the watch-party REST collaborator: room
// CRUD, ownership checks and chat history live on the backend, not in the
// sync core.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/vovakirdan/partysync/internal/auth"
	"github.com/vovakirdan/partysync/internal/party"
)

// Client talks to the backend REST surface with a bearer credential.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
}

// NewClient builds a client for the given base URL. tokens may be nil for
// unauthenticated endpoints.
func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		tokens:  tokens,
	}
}

// CreateRoom creates a new watch-party room owned by the caller.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*Room, error) {
	var room Room
	if err := c.do(ctx, http.MethodPost, "/api/watch-party/create", req, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// RoomByID looks a room up by its backend id.
func (c *Client) RoomByID(ctx context.Context, roomID string) (*Room, error) {
	var room Room
	path := "/api/watch-party/" + url.PathEscape(roomID)
	if err := c.do(ctx, http.MethodGet, path, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// RoomByCode looks a room up by its join code.
func (c *Client) RoomByCode(ctx context.Context, roomCode string) (*Room, error) {
	var room Room
	path := "/api/watch-party/code/" + url.PathEscape(party.CanonicalRoomCode(roomCode))
	if err := c.do(ctx, http.MethodGet, path, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// PublicRooms lists active public rooms.
func (c *Client) PublicRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.do(ctx, http.MethodGet, "/api/watch-party/public", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// MyRooms lists rooms owned by the caller.
func (c *Client) MyRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.do(ctx, http.MethodGet, "/api/watch-party/my-rooms", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// JoinRoom registers the caller as a member and returns the room if it is
// still active.
func (c *Client) JoinRoom(ctx context.Context, roomCode string) (*Room, error) {
	var room Room
	path := "/api/watch-party/join/" + url.PathEscape(party.CanonicalRoomCode(roomCode))
	if err := c.do(ctx, http.MethodPost, path, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// SetVideo selects the room's current video. Owner only.
func (c *Client) SetVideo(ctx context.Context, roomCode, videoID string) (*Room, error) {
	var room Room
	path := fmt.Sprintf("/api/watch-party/%s/video/%s",
		url.PathEscape(party.CanonicalRoomCode(roomCode)), url.PathEscape(videoID))
	if err := c.do(ctx, http.MethodPost, path, nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CloseRoom deactivates a room. Owner only.
func (c *Client) CloseRoom(ctx context.Context, roomCode string) error {
	path := "/api/watch-party/" + url.PathEscape(party.CanonicalRoomCode(roomCode))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// IsOwner reports whether the caller owns the room.
func (c *Client) IsOwner(ctx context.Context, roomCode string) (bool, error) {
	var resp struct {
		IsOwner bool `json:"isOwner"`
	}
	path := "/api/watch-party/" + url.PathEscape(party.CanonicalRoomCode(roomCode)) + "/is-owner"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return false, err
	}
	return resp.IsOwner, nil
}

// ChatHistory fetches the persisted transcript for a room. Reconnecting
// clients use this to fill gaps; the live topic replays nothing.
func (c *Client) ChatHistory(ctx context.Context, roomCode string) ([]ChatMessage, error) {
	var messages []ChatMessage
	path := "/api/watch-party/" + url.PathEscape(party.CanonicalRoomCode(roomCode)) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Members lists the room's active members as the backend sees them.
func (c *Client) Members(ctx context.Context, roomCode string) (*RoomMembers, error) {
	var members RoomMembers
	path := "/api/watch-party/" + url.PathEscape(party.CanonicalRoomCode(roomCode)) + "/members"
	if err := c.do(ctx, http.MethodGet, path, nil, &members); err != nil {
		return nil, err
	}
	return &members, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("bearer token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// readErrorMessage extracts the backend's {"error": "..."} body if present.
func readErrorMessage(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return string(bytes.TrimSpace(data))
}
