package stomp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State of a connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ConnEventKind classifies connection lifecycle notifications.
type ConnEventKind int

const (
	// ConnUp fires after a successful automatic reconnect, once active
	// subscriptions have been re-established.
	ConnUp ConnEventKind = iota
	// ConnDown fires when the socket drops unexpectedly.
	ConnDown
	// ConnFailure carries a broker ERROR frame not tied to a pending
	// operation, or a reconnect attempt failure.
	ConnFailure
)

// ConnEvent is a connection lifecycle notification.
type ConnEvent struct {
	Kind ConnEventKind
	Err  error
}

// Handler receives the body of each MESSAGE frame for one subscription,
// one call at a time, in arrival order.
type Handler func(body []byte)

// Options configure a connection.
type Options struct {
	// URL is the broker WebSocket endpoint, e.g. ws://host:8080/ws.
	URL string
	// Heartbeat is offered in both directions; 4s matches the broker.
	Heartbeat time.Duration
	// ReconnectDelay is the fixed pause before each reconnect attempt.
	// Retries are unlimited with no backoff growth; a known simplification
	// carried over from the production client settings.
	ReconnectDelay time.Duration
	// HTTPHeader is attached to the WebSocket handshake request.
	HTTPHeader http.Header
	Logger     *zerolog.Logger
}

const (
	writeTimeout = 10 * time.Second
	dialTimeout  = 10 * time.Second
	// subBuffer sizes the per-subscription frame queue. Frames beyond it
	// are dropped with a warning rather than stalling the read loop.
	subBuffer = 64
)

// Subscription is one active topic subscription on a connection.
type Subscription struct {
	id          string
	destination string
	handler     Handler

	frames chan []byte
	done   chan struct{}
	once   sync.Once
}

// ID returns the subscription identifier sent to the broker.
func (s *Subscription) ID() string { return s.id }

// Destination returns the topic this subscription listens on.
func (s *Subscription) Destination() string { return s.destination }

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// run delivers queued frames to the handler in arrival order. This is the
// single consumer that makes room-state mutation race-free without locks.
func (s *Subscription) run() {
	for {
		select {
		case body := <-s.frames:
			s.handler(body)
		case <-s.done:
			return
		}
	}
}

// Conn is a STOMP 1.2 client connection over WebSocket. Publish and
// Subscribe are safe for concurrent callers; inbound dispatch is serialized
// per subscription.
type Conn struct {
	opts Options
	log  *zerolog.Logger

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	subs     map[string]*Subscription
	receipts map[string]chan error
	lastSend time.Time
	lastRecv time.Time

	events chan ConnEvent
	closed chan struct{}

	hbOnce sync.Once
}

// NewConn builds a connection; it does not dial until Connect.
func NewConn(opts Options) *Conn {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Conn{
		opts:     opts,
		log:      logger,
		state:    StateDisconnected,
		subs:     make(map[string]*Subscription),
		receipts: make(map[string]chan error),
		events:   make(chan ConnEvent, 16),
		closed:   make(chan struct{}),
	}
}

// Events exposes connection lifecycle notifications. Slow consumers lose
// events rather than blocking the transport.
func (c *Conn) Events() <-chan ConnEvent { return c.events }

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the broker and completes the STOMP handshake. Calling it
// while already connected is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected, StateConnecting:
		c.mu.Unlock()
		return nil
	case StateClosing:
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ws, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.lastSend = time.Now()
	c.lastRecv = time.Now()
	c.mu.Unlock()

	go c.readLoop(ws)
	c.hbOnce.Do(func() { go c.heartbeatLoop() })
	return nil
}

// dial opens the socket and performs CONNECT/CONNECTED.
func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, c.opts.URL, &websocket.DialOptions{
		HTTPHeader: c.opts.HTTPHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ws.SetReadLimit(1 << 20)

	hb := c.opts.Heartbeat.Milliseconds()
	connect := NewFrame(CmdConnect, nil,
		HdrAcceptVersion, "1.2",
		HdrHost, hostOf(c.opts.URL),
		HdrHeartBeat, fmt.Sprintf("%d,%d", hb, hb),
	)
	if err := ws.Write(dialCtx, websocket.MessageText, Encode(connect)); err != nil {
		ws.Close(websocket.StatusInternalError, "connect write failed")
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	for {
		_, data, err := ws.Read(dialCtx)
		if err != nil {
			ws.Close(websocket.StatusInternalError, "handshake read failed")
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		frame, decErr := Decode(data)
		if decErr != nil {
			ws.Close(websocket.StatusProtocolError, "bad handshake frame")
			return nil, decErr
		}
		if frame == nil {
			continue
		}
		switch frame.Command {
		case CmdConnected:
			return ws, nil
		case CmdError:
			ws.Close(websocket.StatusNormalClosure, "rejected")
			return nil, &ProtocolError{Message: frame.Header(HdrMessage), Body: string(frame.Body)}
		default:
			ws.Close(websocket.StatusProtocolError, "unexpected frame")
			return nil, &ProtocolError{Message: "unexpected " + frame.Command + " before CONNECTED"}
		}
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}

// Publish sends an envelope body to a destination. It fails synchronously
// with ErrNotConnected while the socket is down; success means accepted by
// the local transport, not received by peers.
func (c *Conn) Publish(destination string, body []byte) error {
	frame := NewFrame(CmdSend, body,
		HdrDestination, destination,
		HdrContentType, "application/json",
	)
	return c.sendFrame(frame)
}

// Subscribe registers a handler for a destination and waits for the broker
// receipt. Cancelling ctx mid-flight unsubscribes immediately, leaving no
// dangling handler.
func (c *Conn) Subscribe(ctx context.Context, destination string, h Handler) (*Subscription, error) {
	sub := &Subscription{
		id:          uuid.NewString(),
		destination: destination,
		handler:     h,
		frames:      make(chan []byte, subBuffer),
		done:        make(chan struct{}),
	}
	receiptID := uuid.NewString()
	ack := make(chan error, 1)

	c.mu.Lock()
	if c.state != StateConnected {
		err := ErrNotConnected
		if c.state == StateClosing {
			err = ErrClosed
		}
		c.mu.Unlock()
		return nil, err
	}
	// Register before sending so an early MESSAGE still routes.
	c.subs[sub.id] = sub
	c.receipts[receiptID] = ack
	err := c.sendFrameLocked(NewFrame(CmdSubscribe, nil,
		HdrID, sub.id,
		HdrDestination, destination,
		HdrReceipt, receiptID,
	))
	c.mu.Unlock()

	if err != nil {
		c.dropSubscription(sub, receiptID, false)
		return nil, err
	}

	select {
	case err := <-ack:
		if err != nil {
			c.dropSubscription(sub, receiptID, false)
			return nil, err
		}
	case <-ctx.Done():
		// The broker may already have processed the SUBSCRIBE; frame
		// ordering guarantees the UNSUBSCRIBE lands right behind it.
		c.dropSubscription(sub, receiptID, true)
		return nil, ctx.Err()
	}

	go sub.run()
	return sub, nil
}

// Unsubscribe tears down a subscription. It is idempotent: repeated calls
// and calls on an already-dropped handle are safe no-ops.
func (c *Conn) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	c.dropSubscription(sub, "", true)
}

func (c *Conn) dropSubscription(sub *Subscription, receiptID string, tellBroker bool) {
	c.mu.Lock()
	_, active := c.subs[sub.id]
	delete(c.subs, sub.id)
	if receiptID != "" {
		delete(c.receipts, receiptID)
	}
	var err error
	if active && tellBroker && c.state == StateConnected {
		err = c.sendFrameLocked(NewFrame(CmdUnsubscribe, nil, HdrID, sub.id))
	}
	c.mu.Unlock()

	sub.close()
	if err != nil {
		c.log.Warn().Err(err).Str("destination", sub.destination).Msg("unsubscribe send failed")
	}
}

// Disconnect closes the connection for good. Safe to call at any state.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosing {
		c.mu.Unlock()
		return
	}
	c.state = StateClosing
	close(c.closed)
	ws := c.ws
	c.ws = nil
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*Subscription)
	for id, ack := range c.receipts {
		ack <- ErrClosed
		delete(c.receipts, id)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
	if ws != nil {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		_ = ws.Write(ctx, websocket.MessageText, Encode(NewFrame(CmdDisconnect, nil)))
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "bye")
	}
}

func (c *Conn) sendFrame(f *Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendFrameLocked(f)
}

func (c *Conn) sendFrameLocked(f *Frame) error {
	switch c.state {
	case StateClosing:
		return ErrClosed
	case StateConnected:
	default:
		return ErrNotConnected
	}
	if c.ws == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c.lastSend = time.Now()
	if err := c.ws.Write(ctx, websocket.MessageText, Encode(f)); err != nil {
		return fmt.Errorf("write %s: %w", f.Command, err)
	}
	return nil
}

func (c *Conn) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			c.handleSocketDrop(ws, err)
			return
		}

		c.mu.Lock()
		c.lastRecv = time.Now()
		c.mu.Unlock()

		frame, decErr := Decode(data)
		if decErr != nil {
			// A single bad frame must not tear down the session.
			c.log.Warn().Err(decErr).Msg("dropping malformed frame")
			continue
		}
		if frame == nil {
			continue
		}

		switch frame.Command {
		case CmdMessage:
			c.routeMessage(frame)
		case CmdReceipt:
			c.resolveReceipt(frame.Header(HdrReceiptID), nil)
		case CmdError:
			perr := &ProtocolError{Message: frame.Header(HdrMessage), Body: string(frame.Body)}
			if rid := frame.Header(HdrReceiptID); rid != "" {
				c.resolveReceipt(rid, perr)
			} else {
				c.emit(ConnEvent{Kind: ConnFailure, Err: perr})
			}
		default:
			c.log.Debug().Str("command", frame.Command).Msg("ignoring frame")
		}
	}
}

func (c *Conn) routeMessage(frame *Frame) {
	subID := frame.Header(HdrSubscription)
	c.mu.Lock()
	sub := c.subs[subID]
	c.mu.Unlock()
	if sub == nil {
		// Late frame for a torn-down subscription; expected during room
		// switches, drop quietly.
		c.log.Debug().Str("subscription", subID).Msg("frame for inactive subscription")
		return
	}
	select {
	case sub.frames <- frame.Body:
	default:
		c.log.Warn().Str("destination", sub.destination).Msg("subscriber queue full, dropping frame")
	}
}

func (c *Conn) resolveReceipt(id string, err error) {
	if id == "" {
		return
	}
	c.mu.Lock()
	ack := c.receipts[id]
	delete(c.receipts, id)
	c.mu.Unlock()
	if ack != nil {
		ack <- err
	}
}

// handleSocketDrop transitions to disconnected and kicks off the reconnect
// loop, unless the drop was an explicit Disconnect.
func (c *Conn) handleSocketDrop(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.state == StateClosing || c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.ws = nil
	c.mu.Unlock()

	_ = ws.Close(websocket.StatusInternalError, "read failed")
	c.log.Warn().Err(cause).Msg("connection lost, scheduling reconnect")
	c.emit(ConnEvent{Kind: ConnDown, Err: cause})
	go c.reconnectLoop()
}

func (c *Conn) reconnectLoop() {
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(c.opts.ReconnectDelay):
		}

		ws, err := c.dial(context.Background())
		if err != nil {
			c.log.Warn().Err(err).Dur("retry_in", c.opts.ReconnectDelay).Msg("reconnect failed")
			c.emit(ConnEvent{Kind: ConnFailure, Err: err})
			continue
		}

		c.mu.Lock()
		if c.state == StateClosing {
			c.mu.Unlock()
			_ = ws.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		c.ws = ws
		c.state = StateConnected
		c.lastSend = time.Now()
		c.lastRecv = time.Now()
		subs := make([]*Subscription, 0, len(c.subs))
		for _, s := range c.subs {
			subs = append(subs, s)
		}
		// Re-establish active subscriptions; missed messages are not
		// replayed, the transport offers no history.
		for _, s := range subs {
			if err := c.sendFrameLocked(NewFrame(CmdSubscribe, nil,
				HdrID, s.id,
				HdrDestination, s.destination,
			)); err != nil {
				c.log.Warn().Err(err).Str("destination", s.destination).Msg("resubscribe failed")
			}
		}
		c.mu.Unlock()

		go c.readLoop(ws)
		c.log.Info().Int("subscriptions", len(subs)).Msg("reconnected")
		c.emit(ConnEvent{Kind: ConnUp})
		return
	}
}

// heartbeatLoop sends idle heart-beats and closes a stale socket so the
// read loop notices and reconnects.
func (c *Conn) heartbeatLoop() {
	if c.opts.Heartbeat <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.Heartbeat / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		if c.state != StateConnected || c.ws == nil {
			c.mu.Unlock()
			continue
		}
		ws := c.ws
		stale := time.Since(c.lastRecv) > 3*c.opts.Heartbeat
		idle := time.Since(c.lastSend) >= c.opts.Heartbeat
		if idle {
			c.lastSend = time.Now()
		}
		c.mu.Unlock()

		if stale {
			c.log.Warn().Msg("no heartbeat from broker, dropping socket")
			_ = ws.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
			continue
		}
		if idle {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			if err := ws.Write(ctx, websocket.MessageText, heartbeat); err != nil {
				c.log.Debug().Err(err).Msg("heartbeat write failed")
			}
			cancel()
		}
	}
}

func (c *Conn) emit(ev ConnEvent) {
	select {
	case c.events <- ev:
	default:
		// Slow consumer; drop rather than stall the transport.
	}
}
