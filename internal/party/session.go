package party

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/partysync/internal/stomp"
)

// SessionConfig configures one session's transport.
type SessionConfig struct {
	BrokerURL      string
	Heartbeat      time.Duration
	ReconnectDelay time.Duration
	// HTTPHeader is sent with the WebSocket handshake (bearer credential).
	HTTPHeader http.Header
	Logger     *zerolog.Logger
}

// Session owns one broker connection and at most one active room. It is an
// explicit object rather than package state, so independent sessions can
// coexist in one process. All notifications flow through a single tagged
// event channel.
type Session struct {
	self     User
	conn     *stomp.Conn
	registry *stomp.Registry
	log      *zerolog.Logger

	events chan Event
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	state *RoomState
}

// NewSession builds a session for the given user. The connection is dialed
// lazily on the first Enter.
func NewSession(cfg SessionConfig, self User) *Session {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	conn := stomp.NewConn(stomp.Options{
		URL:            cfg.BrokerURL,
		Heartbeat:      cfg.Heartbeat,
		ReconnectDelay: cfg.ReconnectDelay,
		HTTPHeader:     cfg.HTTPHeader,
		Logger:         logger,
	})

	s := &Session{
		self:     self,
		conn:     conn,
		registry: stomp.NewRegistry(conn),
		log:      logger,
		events:   make(chan Event, 256),
		done:     make(chan struct{}),
	}
	go s.forwardConnEvents()
	return s
}

// Self returns the session's user identity.
func (s *Session) Self() User { return s.self }

// Events is the session's outbound event channel. It is never closed; use
// a context alongside it.
func (s *Session) Events() <-chan Event { return s.events }

// State returns the projection of the current room, or nil outside a room.
func (s *Session) State() *RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Enter joins a room: connects if needed, switches the topic subscription
// and announces the JOIN. Entering while another room is active leaves that
// room first. The returned error is synchronous; later failures surface as
// events.
func (s *Session) Enter(ctx context.Context, ref RoomRef) error {
	// Validate before touching the network.
	join, err := BuildJoin(ref, s.self)
	if err != nil {
		return err
	}

	if err := s.conn.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	prev := s.state
	state := NewRoomState(ref)
	state.setPhase(PhaseJoining)
	s.state = state
	s.mu.Unlock()

	if prev != nil && prev.Phase() == PhaseJoined {
		s.announceLeave(prev)
	}

	router := NewRouter(state, s.emit, s.log)
	router.onClosed = func() {
		// Runs on the dispatch goroutine; the actual unsubscribe happens
		// off it to avoid self-blocking.
		go s.teardownClosed(state)
	}

	if _, err := s.registry.Switch(ctx, ref.Topic(), router.OnFrame); err != nil {
		state.setPhase(PhaseNotJoined)
		return fmt.Errorf("subscribe %s: %w", ref.Topic(), err)
	}
	state.setPhase(PhaseJoined)
	s.emit(Event{Kind: EventJoined, Room: ref})

	if err := s.publish(join); err != nil {
		return fmt.Errorf("announce join: %w", err)
	}
	return nil
}

// SendChat publishes a chat message to the current room.
func (s *Session) SendChat(content string) error {
	state, err := s.joinedState()
	if err != nil {
		return err
	}
	cmd, err := BuildChat(state.Ref(), s.self, content)
	if err != nil {
		return err
	}
	return s.publish(cmd)
}

// PlayVideo asks the room to switch videos. Only honored by the broker for
// the room owner.
func (s *Session) PlayVideo(video Video) error {
	state, err := s.joinedState()
	if err != nil {
		return err
	}
	cmd, err := BuildPlayVideo(state.Ref(), s.self, video)
	if err != nil {
		return err
	}
	return s.publish(cmd)
}

// CloseRoom terminates the current watch-party room for everyone.
func (s *Session) CloseRoom() error {
	state, err := s.joinedState()
	if err != nil {
		return err
	}
	cmd, err := BuildClose(state.Ref(), s.self)
	if err != nil {
		return err
	}
	return s.publish(cmd)
}

// Leave exits the current room. Safe to call at any state, including while
// a join is still in flight: the registry serializes against the subscribe
// and tears the new handle down immediately.
func (s *Session) Leave() {
	s.mu.Lock()
	state := s.state
	s.state = nil
	s.mu.Unlock()

	if state == nil {
		return
	}
	if state.Phase() == PhaseJoined {
		s.announceLeave(state)
	}
	s.registry.Clear()
	if state.Phase() != PhaseClosed {
		state.setPhase(PhaseLeft)
	}
	s.log.Info().Str("room", state.Ref().String()).Msg("left room")
}

// Close leaves any room and tears the connection down. Idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		s.Leave()
		s.conn.Disconnect()
		close(s.done)
	})
}

func (s *Session) joinedState() (*RoomState, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == nil {
		return nil, ErrNotJoined
	}
	switch state.Phase() {
	case PhaseJoined:
		return state, nil
	case PhaseClosed:
		return nil, ErrRoomClosed
	default:
		return nil, ErrNotJoined
	}
}

func (s *Session) publish(cmd Command) error {
	body, err := EncodeEnvelope(&cmd.Envelope)
	if err != nil {
		return err
	}
	return s.conn.Publish(cmd.Destination, body)
}

func (s *Session) announceLeave(state *RoomState) {
	cmd, err := BuildLeave(state.Ref(), s.self)
	if err != nil {
		return
	}
	if err := s.publish(cmd); err != nil {
		s.log.Debug().Err(err).Str("room", state.Ref().String()).Msg("leave announce failed")
	}
}

// teardownClosed unsubscribes after a remote ROOM_CLOSED, if the closed
// room is still the current one. The state stays in place so outbound
// commands for the dead room code keep failing with ErrRoomClosed until
// the caller enters another room.
func (s *Session) teardownClosed(state *RoomState) {
	s.mu.Lock()
	current := s.state == state
	s.mu.Unlock()

	if current {
		s.registry.Clear()
		s.log.Info().Str("room", state.Ref().String()).Msg("room closed by owner")
	}
}

func (s *Session) forwardConnEvents() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.conn.Events():
			switch ev.Kind {
			case stomp.ConnDown:
				s.emit(Event{Kind: EventTransportDown, Err: ev.Err})
			case stomp.ConnUp:
				s.emit(Event{Kind: EventTransportUp})
			case stomp.ConnFailure:
				s.emit(Event{Kind: EventError, Err: ev.Err})
			}
		}
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Int("kind", int(ev.Kind)).Msg("event channel full, dropping event")
	}
}
