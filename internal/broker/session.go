package broker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/partysync/internal/stomp"
)

const (
	outBuffer       = 64
	writeTimeout    = 10 * time.Second
	serverHeartbeat = 4 * time.Second
)

// session is one connected client: its socket, outbound queue and the
// subscription-id -> topic mapping.
type session struct {
	id  string
	ws  *websocket.Conn
	hub *Hub
	log *zerolog.Logger

	out chan []byte

	mu   sync.Mutex
	subs map[string]string // subscription id -> topic
}

// deliver queues a MESSAGE frame; slow consumers lose frames instead of
// blocking the hub.
func (s *session) deliver(topic string, body []byte) {
	s.mu.Lock()
	var subID string
	for id, t := range s.subs {
		if t == topic {
			subID = id
			break
		}
	}
	s.mu.Unlock()
	if subID == "" {
		return
	}

	frame := stomp.NewFrame(stomp.CmdMessage, body,
		stomp.HdrDestination, topic,
		stomp.HdrSubscription, subID,
		stomp.HdrMessageID, uuid.NewString(),
		stomp.HdrContentType, "application/json",
	)
	select {
	case s.out <- stomp.Encode(frame):
	default:
		s.log.Warn().Str("topic", topic).Msg("slow consumer, dropping frame")
	}
}

// WSHandler upgrades HTTP connections and runs the STOMP session.
type WSHandler struct {
	hub *Hub
	log *zerolog.Logger
}

// NewWSHandler builds the WebSocket endpoint handler.
func NewWSHandler(hub *Hub, logger *zerolog.Logger) *WSHandler {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &WSHandler{hub: hub, log: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer ws.Close(websocket.StatusInternalError, "internal error")
	ws.SetReadLimit(1 << 20)

	sess := &session{
		id:   uuid.NewString(),
		ws:   ws,
		hub:  h.hub,
		log:  h.log,
		out:  make(chan []byte, outBuffer),
		subs: make(map[string]string),
	}
	defer h.hub.dropSession(sess)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, sess)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, sess)
	}()

	err = <-errCh
	cancel()
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
			h.log.Warn().Err(err).Str("session", sess.id).Msg("session closed with error")
			reason = "error"
		}
	}
	ws.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, sess *session) error {
	for {
		_, data, err := sess.ws.Read(ctx)
		if err != nil {
			return err
		}
		frame, decErr := stomp.Decode(data)
		if decErr != nil {
			h.log.Warn().Err(decErr).Str("session", sess.id).Msg("dropping bad frame")
			continue
		}
		if frame == nil {
			continue
		}

		switch frame.Command {
		case stomp.CmdConnect:
			connected := stomp.NewFrame(stomp.CmdConnected, nil,
				stomp.HdrVersion, "1.2",
				stomp.HdrHeartBeat, "4000,4000",
			)
			sess.out <- stomp.Encode(connected)
		case stomp.CmdSubscribe:
			id := frame.Header(stomp.HdrID)
			topic := frame.Header(stomp.HdrDestination)
			if id == "" || topic == "" {
				continue
			}
			sess.mu.Lock()
			sess.subs[id] = topic
			sess.mu.Unlock()
			h.hub.subscribe(sess, topic)
			if receipt := frame.Header(stomp.HdrReceipt); receipt != "" {
				sess.out <- stomp.Encode(stomp.NewFrame(stomp.CmdReceipt, nil, stomp.HdrReceiptID, receipt))
			}
		case stomp.CmdUnsubscribe:
			id := frame.Header(stomp.HdrID)
			sess.mu.Lock()
			topic, ok := sess.subs[id]
			delete(sess.subs, id)
			sess.mu.Unlock()
			if ok {
				h.hub.unsubscribe(sess, topic)
			}
		case stomp.CmdSend:
			h.hub.handleSend(frame.Header(stomp.HdrDestination), frame.Body)
		case stomp.CmdDisconnect:
			return nil
		default:
			h.log.Debug().Str("command", frame.Command).Msg("ignoring frame")
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, sess *session) error {
	ticker := time.NewTicker(serverHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case data := <-sess.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := sess.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := sess.ws.Write(wctx, websocket.MessageText, []byte("\n"))
			cancel()
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
