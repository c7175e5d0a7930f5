// Package broker is a development stand-in for the production STOMP
// broker: just enough CONNECT/SUBSCRIBE/SEND handling and topic fan-out to
// run the client against locally and in integration tests. It persists
// nothing and replays nothing.
package broker

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/partysync/internal/party"
)

// Hub routes published frames to topic subscribers and mirrors the
// production broker's watch-party side effects (server timestamps, join/
// leave content, member tallies).
type Hub struct {
	log *zerolog.Logger

	mu sync.Mutex
	// topic -> subscribers
	topics map[string]map[*session]struct{}
	// watch-party room code -> member ids
	members map[string]map[string]struct{}
}

// NewHub builds an empty hub.
func NewHub(logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		log:     logger,
		topics:  make(map[string]map[*session]struct{}),
		members: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) subscribe(sess *session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*session]struct{})
		h.topics[topic] = subs
	}
	subs[sess] = struct{}{}
}

func (h *Hub) unsubscribe(sess *session, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *Hub) dropSession(sess *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, subs := range h.topics {
		delete(subs, sess)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

// broadcast fans a message body out to every subscriber of topic.
func (h *Hub) broadcast(topic string, body []byte) {
	h.mu.Lock()
	subs := make([]*session, 0, len(h.topics[topic]))
	for s := range h.topics[topic] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.deliver(topic, body)
	}
}

// handleSend processes a SEND to an app destination and produces the
// broadcast(s) the production broker would.
func (h *Hub) handleSend(destination string, body []byte) {
	switch {
	case strings.HasPrefix(destination, "/app/watch-party/"):
		h.handlePartyCommand(strings.TrimPrefix(destination, "/app/watch-party/"), body)
	case strings.HasPrefix(destination, "/app/chat/"):
		h.handleChatCommand(strings.TrimPrefix(destination, "/app/chat/"), body)
	case strings.HasPrefix(destination, "/topic/"):
		// Raw topic publish, fanned out untouched.
		h.broadcast(destination, body)
	default:
		h.log.Debug().Str("destination", destination).Msg("ignoring send")
	}
}

func (h *Hub) handlePartyCommand(rest string, body []byte) {
	roomCode, verb, ok := strings.Cut(rest, "/")
	if !ok {
		h.log.Warn().Str("destination", rest).Msg("party command without verb")
		return
	}
	roomCode = party.CanonicalRoomCode(roomCode)

	env, err := party.DecodeEnvelope(body)
	if err != nil {
		h.log.Warn().Err(err).Msg("dropping bad party command")
		return
	}
	env.RoomCode = roomCode
	env.Timestamp = time.Now().UnixMilli()
	topic := "/topic/watch-party/" + roomCode

	switch verb {
	case "join":
		env.Type = party.TypeJoin
		env.Content = env.SenderUsername + " joined the party"
		h.publishEnvelope(topic, env)
		h.updateMembers(topic, roomCode, env.SenderID, true)
	case "leave":
		env.Type = party.TypeLeave
		env.Content = env.SenderUsername + " left the party"
		h.publishEnvelope(topic, env)
		h.updateMembers(topic, roomCode, env.SenderID, false)
	case "chat":
		env.Type = party.TypeChat
		h.publishEnvelope(topic, env)
	case "play":
		env.Type = party.TypePlayVideo
		h.publishEnvelope(topic, env)
		h.publishEnvelope(topic, &party.Envelope{
			Type:           party.TypeChat,
			RoomCode:       roomCode,
			SenderUsername: "System",
			Content:        "🎬 " + env.SenderUsername + " started playing: " + env.VideoTitle,
			Timestamp:      time.Now().UnixMilli(),
		})
	case "close":
		env.Type = party.TypeRoomClosed
		env.Content = "Watch party closed by the owner"
		h.publishEnvelope(topic, env)
		h.mu.Lock()
		delete(h.members, roomCode)
		h.mu.Unlock()
	default:
		h.log.Warn().Str("verb", verb).Msg("unknown party verb")
	}
}

func (h *Hub) handleChatCommand(rest string, body []byte) {
	videoID, verb, hasVerb := strings.Cut(rest, "/")
	env, err := party.DecodeEnvelope(body)
	if err != nil {
		h.log.Warn().Err(err).Msg("dropping bad chat command")
		return
	}
	env.VideoID = videoID
	env.Timestamp = time.Now().UnixMilli()

	switch {
	case !hasVerb:
		env.Type = party.TypeChat
	case verb == "join":
		env.Type = party.TypeJoin
		env.Content = env.SenderUsername + " joined the chat"
	case verb == "leave":
		env.Type = party.TypeLeave
		env.Content = env.SenderUsername + " left the chat"
	default:
		h.log.Warn().Str("verb", verb).Msg("unknown chat verb")
		return
	}
	h.publishEnvelope("/topic/chat/"+videoID, env)
}

// updateMembers maintains the per-room member tally and announces it, the
// way the production broker does after every join and leave.
func (h *Hub) updateMembers(topic, roomCode, senderID string, joined bool) {
	if senderID == "" {
		return
	}
	h.mu.Lock()
	set, ok := h.members[roomCode]
	if !ok {
		set = make(map[string]struct{})
		h.members[roomCode] = set
	}
	if joined {
		set[senderID] = struct{}{}
	} else {
		delete(set, senderID)
	}
	count := len(set)
	h.mu.Unlock()

	h.publishEnvelope(topic, &party.Envelope{
		Type:      party.TypeMemberCount,
		RoomCode:  roomCode,
		Content:   strconv.Itoa(count),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (h *Hub) publishEnvelope(topic string, env *party.Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal broadcast")
		return
	}
	h.broadcast(topic, body)
}
