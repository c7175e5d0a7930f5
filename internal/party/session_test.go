package party_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/partysync/internal/broker"
	"github.com/vovakirdan/partysync/internal/party"
	"github.com/vovakirdan/partysync/internal/stomp"
)

func startBroker(t *testing.T) string {
	t.Helper()

	hub := broker.NewHub(nil)
	server := broker.NewServer(":0", hub, nil)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func newSession(t *testing.T, url string, user party.User) *party.Session {
	t.Helper()

	sess := party.NewSession(party.SessionConfig{
		BrokerURL:      url,
		Heartbeat:      4 * time.Second,
		ReconnectDelay: 500 * time.Millisecond,
	}, user)
	t.Cleanup(sess.Close)
	return sess
}

func waitEvent(t *testing.T, sess *party.Session, kind party.EventKind) party.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestWatchPartyLifecycle(t *testing.T) {
	url := startBroker(t)

	alice := newSession(t, url, party.User{ID: "u-alice", Username: "alice"})
	bob := newSession(t, url, party.User{ID: "u-bob", Username: "bob"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Alice enters first and sees her own JOIN fanned back.
	if err := alice.Enter(ctx, party.Party("xy12")); err != nil {
		t.Fatalf("alice enter failed: %v", err)
	}
	waitEvent(t, alice, party.EventJoined)
	ev := waitEvent(t, alice, party.EventMemberJoined)
	if ev.Member.ID != "u-alice" {
		t.Fatalf("expected alice's own join, got %+v", ev.Member)
	}

	// Bob joins late: his member set starts empty and only grows from
	// events seen after subscribing, so alice is invisible to him.
	if err := bob.Enter(ctx, party.Party("XY12")); err != nil {
		t.Fatalf("bob enter failed: %v", err)
	}
	bobJoin := waitEvent(t, bob, party.EventMemberJoined)
	if bobJoin.Member.ID != "u-bob" {
		t.Fatalf("expected bob's own join, got %+v", bobJoin.Member)
	}
	members := bob.State().Members()
	if len(members) != 1 || members[0].ID != "u-bob" {
		t.Fatalf("late joiner should only see members observed live, got %+v", members)
	}

	// Alice sees bob arrive on the shared topic.
	aliceSawBob := waitEvent(t, alice, party.EventMemberJoined)
	if aliceSawBob.Member.ID != "u-bob" {
		t.Fatalf("expected bob's join at alice, got %+v", aliceSawBob.Member)
	}

	// The broker maintains the authoritative tally.
	count := waitEvent(t, bob, party.EventMemberCountChanged)
	if count.MemberCount != 2 {
		t.Fatalf("expected member count 2, got %d", count.MemberCount)
	}

	// Chat flows to every subscriber, sender included.
	if err := alice.SendChat("hi from alice"); err != nil {
		t.Fatalf("send chat failed: %v", err)
	}
	chat := waitEvent(t, bob, party.EventChatReceived)
	if chat.Entry.Content != "hi from alice" || chat.Entry.Sender.Username != "alice" {
		t.Fatalf("unexpected chat: %+v", chat.Entry)
	}

	// Video selection reaches the room.
	if err := alice.PlayVideo(party.Video{ID: "v1", Title: "First Video"}); err != nil {
		t.Fatalf("play video failed: %v", err)
	}
	video := waitEvent(t, bob, party.EventVideoChanged)
	if video.Video.ID != "v1" {
		t.Fatalf("unexpected video: %+v", video.Video)
	}
	if got, ok := bob.State().CurrentVideo(); !ok || got.Title != "First Video" {
		t.Fatalf("bob's state missed the video: %+v ok=%v", got, ok)
	}

	// Closing the room is terminal for everyone.
	if err := alice.CloseRoom(); err != nil {
		t.Fatalf("close room failed: %v", err)
	}
	waitEvent(t, bob, party.EventRoomClosed)
	if err := bob.SendChat("too late"); !errors.Is(err, party.ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed after close, got %v", err)
	}
	if !bob.State().Closed() {
		t.Fatal("bob's room state should be closed")
	}
}

func TestEnterSwitchesRooms(t *testing.T) {
	url := startBroker(t)

	alice := newSession(t, url, party.User{ID: "u-alice", Username: "alice"})
	bob := newSession(t, url, party.User{ID: "u-bob", Username: "bob"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := alice.Enter(ctx, party.Party("AAAA")); err != nil {
		t.Fatalf("enter AAAA failed: %v", err)
	}
	waitEvent(t, alice, party.EventMemberJoined)

	// Switching rooms drops the old subscription before the new one.
	if err := alice.Enter(ctx, party.Party("BBBB")); err != nil {
		t.Fatalf("enter BBBB failed: %v", err)
	}
	if got := alice.State().Ref(); got.Key != "BBBB" {
		t.Fatalf("unexpected current room: %+v", got)
	}

	// Traffic in the old room must not reach alice anymore.
	if err := bob.Enter(ctx, party.Party("AAAA")); err != nil {
		t.Fatalf("bob enter failed: %v", err)
	}
	if err := bob.SendChat("anyone here?"); err != nil {
		t.Fatalf("bob chat failed: %v", err)
	}

	deadline := time.After(700 * time.Millisecond)
	for {
		select {
		case ev := <-alice.Events():
			if ev.Kind == party.EventChatReceived && ev.Room.Key == "AAAA" {
				t.Fatalf("received frame for abandoned room: %+v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestEnterValidatesBeforeDialing(t *testing.T) {
	// Unroutable address: if validation touched the network this would
	// fail with a dial error instead of a ValidationError.
	sess := newSession(t, "ws://127.0.0.1:1/ws", party.User{ID: "u1", Username: ""})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := sess.Enter(ctx, party.Party("XY12"))
	var verr *party.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestCommandsOutsideRoom(t *testing.T) {
	url := startBroker(t)
	sess := newSession(t, url, party.User{ID: "u1", Username: "alice"})

	if err := sess.SendChat("hello?"); !errors.Is(err, party.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sess.Enter(ctx, party.Party("XY12")); err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	sess.Leave()
	sess.Leave() // leave is safe to repeat

	if err := sess.SendChat("still there?"); !errors.Is(err, party.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined after leave, got %v", err)
	}
}

// receiptStallServer speaks just enough STOMP to hold a SUBSCRIBE receipt
// back for a while, keeping a join in flight long enough to race against.
type receiptStallServer struct {
	receiptDelay time.Duration

	mu    sync.Mutex
	conns map[*websocket.Conn]map[string]string // subscription id -> topic
}

func newReceiptStallServer(delay time.Duration) *receiptStallServer {
	return &receiptStallServer{
		receiptDelay: delay,
		conns:        make(map[*websocket.Conn]map[string]string),
	}
}

func (s *receiptStallServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	ctx := r.Context()
	s.mu.Lock()
	s.conns[ws] = make(map[string]string)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, ws)
		s.mu.Unlock()
		ws.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}
		frame, decErr := stomp.Decode(data)
		if decErr != nil || frame == nil {
			continue
		}
		switch frame.Command {
		case stomp.CmdConnect:
			_ = ws.Write(ctx, websocket.MessageText, stomp.Encode(stomp.NewFrame(stomp.CmdConnected, nil,
				stomp.HdrVersion, "1.2",
				stomp.HdrHeartBeat, "4000,4000",
			)))
		case stomp.CmdSubscribe:
			s.mu.Lock()
			s.conns[ws][frame.Header(stomp.HdrID)] = frame.Header(stomp.HdrDestination)
			s.mu.Unlock()
			if receipt := frame.Header(stomp.HdrReceipt); receipt != "" {
				go func() {
					time.Sleep(s.receiptDelay)
					_ = ws.Write(context.Background(), websocket.MessageText,
						stomp.Encode(stomp.NewFrame(stomp.CmdReceipt, nil, stomp.HdrReceiptID, receipt)))
				}()
			}
		case stomp.CmdUnsubscribe:
			s.mu.Lock()
			delete(s.conns[ws], frame.Header(stomp.HdrID))
			s.mu.Unlock()
		}
	}
}

func (s *receiptStallServer) subscriberCount(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, subs := range s.conns {
		for _, t := range subs {
			if t == topic {
				n++
			}
		}
	}
	return n
}

func (s *receiptStallServer) broadcast(t *testing.T, topic string, env party.Envelope) {
	t.Helper()
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for ws, subs := range s.conns {
		for id, tp := range subs {
			if tp != topic {
				continue
			}
			frame := stomp.NewFrame(stomp.CmdMessage, body,
				stomp.HdrDestination, topic,
				stomp.HdrSubscription, id,
			)
			_ = ws.Write(context.Background(), websocket.MessageText, stomp.Encode(frame))
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestLeaveDuringJoinLeavesNoSubscription(t *testing.T) {
	server := newReceiptStallServer(400 * time.Millisecond)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	sess := newSession(t, url, party.User{ID: "u1", Username: "alice"})
	topic := party.Party("XY12").Topic()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	enterDone := make(chan error, 1)
	go func() { enterDone <- sess.Enter(ctx, party.Party("XY12")) }()

	// The SUBSCRIBE is in flight and its receipt is still held back.
	waitFor(t, func() bool { return server.subscriberCount(topic) == 1 })

	// Leave serializes behind the pending subscribe and tears it down as
	// soon as the subscribe completes.
	sess.Leave()
	if err := <-enterDone; err != nil {
		t.Fatalf("enter failed: %v", err)
	}
	waitFor(t, func() bool { return server.subscriberCount(topic) == 0 })

	if err := sess.SendChat("anyone?"); !errors.Is(err, party.ErrNotJoined) {
		t.Fatalf("expected ErrNotJoined after mid-join leave, got %v", err)
	}

	// Traffic on the abandoned topic must not reach the session.
	server.broadcast(t, topic, party.Envelope{
		Type: party.TypeChat, SenderID: "u2", SenderUsername: "bob", Content: "hello",
	})
	deadline := time.After(400 * time.Millisecond)
	for {
		select {
		case ev := <-sess.Events():
			if ev.Kind == party.EventChatReceived {
				t.Fatalf("frame delivered after mid-join leave: %+v", ev)
			}
		case <-deadline:
			return
		}
	}
}

func TestVideoChatRoom(t *testing.T) {
	url := startBroker(t)

	alice := newSession(t, url, party.User{ID: "u-alice", Username: "alice"})
	bob := newSession(t, url, party.User{ID: "u-bob", Username: "bob"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := alice.Enter(ctx, party.VideoChat("vid-9")); err != nil {
		t.Fatalf("alice enter failed: %v", err)
	}
	if err := bob.Enter(ctx, party.VideoChat("vid-9")); err != nil {
		t.Fatalf("bob enter failed: %v", err)
	}
	waitEvent(t, bob, party.EventMemberJoined)

	if err := alice.SendChat("nice video"); err != nil {
		t.Fatalf("send chat failed: %v", err)
	}
	chat := waitEvent(t, bob, party.EventChatReceived)
	if chat.Entry.Content != "nice video" {
		t.Fatalf("unexpected chat: %+v", chat.Entry)
	}
	if chat.Room.Kind != party.KindVideoChat || chat.Room.Key != "vid-9" {
		t.Fatalf("unexpected room on event: %+v", chat.Room)
	}
}
