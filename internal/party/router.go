package party

import (
	"strconv"

	"github.com/rs/zerolog"
)

// Router classifies inbound envelopes and applies them to one RoomState.
// OnFrame is invoked by the subscription's single consumer goroutine, so
// dispatch for a given room is serialized by construction.
type Router struct {
	state *RoomState
	emit  func(Event)
	log   *zerolog.Logger

	// onClosed runs once when ROOM_CLOSED arrives, after the state is
	// marked terminal. The session uses it to tear down the subscription.
	onClosed func()
}

// NewRouter wires a router to a state and an event sink.
func NewRouter(state *RoomState, emit func(Event), logger *zerolog.Logger) *Router {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Router{state: state, emit: emit, log: logger}
}

// OnFrame handles one inbound frame body. Malformed frames are logged,
// surfaced as a non-fatal EventError and dropped; the subscription stays up.
func (r *Router) OnFrame(body []byte) {
	env, err := DecodeEnvelope(body)
	if err != nil {
		r.log.Warn().Err(err).Str("room", r.state.Ref().String()).Msg("dropping undecodable frame")
		r.emit(Event{Kind: EventError, Room: r.state.Ref(), Err: err})
		return
	}

	if r.state.Closed() {
		// Terminal: frames racing the unsubscribe are dropped.
		r.log.Debug().Str("room", r.state.Ref().String()).Msg("frame after room close")
		return
	}

	switch env.Type {
	case TypeJoin:
		r.applyJoin(env)
	case TypeLeave:
		r.applyLeave(env)
	case TypeChat:
		r.applyChat(env)
	case TypePlayVideo:
		r.applyPlayVideo(env)
	case TypeMemberCount:
		r.applyMemberCount(env)
	case TypeRoomClosed:
		r.applyRoomClosed()
	}
}

func (r *Router) applyJoin(env *Envelope) {
	sender := env.Sender()
	r.state.addMember(sender)

	content := env.Content
	if content == "" {
		content = sender.Username + " joined the party"
	}
	// One system line per JOIN frame, duplicates included.
	entry := ChatEntry{System: true, Sender: sender, Content: content, Timestamp: env.Timestamp}
	r.state.appendEntry(entry)

	r.emit(Event{Kind: EventMemberJoined, Room: r.state.Ref(), Member: sender, Entry: entry})
}

func (r *Router) applyLeave(env *Envelope) {
	sender := env.Sender()
	r.state.removeMember(sender.ID)

	content := env.Content
	if content == "" {
		content = sender.Username + " left the party"
	}
	entry := ChatEntry{System: true, Sender: sender, Content: content, Timestamp: env.Timestamp}
	r.state.appendEntry(entry)

	r.emit(Event{Kind: EventMemberLeft, Room: r.state.Ref(), Member: sender, Entry: entry})
}

func (r *Router) applyChat(env *Envelope) {
	// Append unconditionally, in arrival order. The transport is
	// at-least-once; repeated delivery shows up as repeated entries.
	entry := ChatEntry{Sender: env.Sender(), Content: env.Content, Timestamp: env.Timestamp}
	r.state.appendEntry(entry)

	r.emit(Event{Kind: EventChatReceived, Room: r.state.Ref(), Member: env.Sender(), Entry: entry})
}

func (r *Router) applyPlayVideo(env *Envelope) {
	// Ownership is enforced by the broker before fan-out; the sender field
	// is not trusted and not re-checked here.
	video := Video{ID: env.VideoID, Title: env.VideoTitle, Thumbnail: env.VideoThumbnail}
	r.state.setVideo(video)

	r.emit(Event{Kind: EventVideoChanged, Room: r.state.Ref(), Member: env.Sender(), Video: video})
}

func (r *Router) applyMemberCount(env *Envelope) {
	count, err := strconv.Atoi(env.Content)
	if err != nil || count < 0 {
		r.log.Warn().Str("content", env.Content).Msg("dropping bad member count")
		return
	}
	r.state.setMemberCount(count)

	r.emit(Event{Kind: EventMemberCountChanged, Room: r.state.Ref(), MemberCount: count})
}

func (r *Router) applyRoomClosed() {
	if !r.state.markClosed() {
		return
	}
	r.emit(Event{Kind: EventRoomClosed, Room: r.state.Ref()})
	if r.onClosed != nil {
		r.onClosed()
	}
}
