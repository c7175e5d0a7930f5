package stomp_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/partysync/internal/broker"
	"github.com/vovakirdan/partysync/internal/stomp"
)

func startBroker(t *testing.T) (string, *httptest.Server) {
	t.Helper()

	hub := broker.NewHub(nil)
	server := broker.NewServer(":0", hub, nil)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", ts
}

func newConn(t *testing.T, url string) *stomp.Conn {
	t.Helper()

	conn := stomp.NewConn(stomp.Options{
		URL:            url,
		Heartbeat:      4 * time.Second,
		ReconnectDelay: 200 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(conn.Disconnect)
	return conn
}

func mustReceive(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case body := <-ch:
		return body
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func mustNotReceive(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case body := <-ch:
		t.Fatalf("unexpected frame: %s", body)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestConnectTwiceIsNoop(t *testing.T) {
	url, _ := startBroker(t)
	conn := newConn(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Connect(ctx); err != nil {
		t.Fatalf("second connect should be a no-op, got %v", err)
	}
	if got := conn.State(); got != stomp.StateConnected {
		t.Fatalf("unexpected state: %v", got)
	}
}

func TestPublishWhenDisconnected(t *testing.T) {
	conn := stomp.NewConn(stomp.Options{URL: "ws://127.0.0.1:1/ws"})
	err := conn.Publish("/topic/watch-party/AB12", []byte("{}"))
	if !errors.Is(err, stomp.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSubscribeReceivesFanout(t *testing.T) {
	url, _ := startBroker(t)
	conn := newConn(t, url)

	received := make(chan []byte, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := conn.Subscribe(ctx, "/topic/watch-party/AB12", func(body []byte) {
		received <- body
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	payload := `{"type":"CHAT","roomCode":"AB12","senderId":"u1","senderUsername":"alice","content":"hi"}`
	if err := conn.Publish("/topic/watch-party/AB12", []byte(payload)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	body := mustReceive(t, received)
	if !strings.Contains(string(body), `"content":"hi"`) {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestRegistryKeepsOneActiveSubscription(t *testing.T) {
	url, _ := startBroker(t)
	conn := newConn(t, url)
	registry := stomp.NewRegistry(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	fromA := make(chan []byte, 8)
	if _, err := registry.Switch(ctx, "/topic/watch-party/AAAA", func(b []byte) { fromA <- b }); err != nil {
		t.Fatalf("subscribe A failed: %v", err)
	}

	fromB := make(chan []byte, 8)
	if _, err := registry.Switch(ctx, "/topic/watch-party/BBBB", func(b []byte) { fromB <- b }); err != nil {
		t.Fatalf("subscribe B failed: %v", err)
	}

	if err := conn.Publish("/topic/watch-party/AAAA", []byte(`{"type":"CHAT","content":"for A"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := conn.Publish("/topic/watch-party/BBBB", []byte(`{"type":"CHAT","content":"for B"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	body := mustReceive(t, fromB)
	if !strings.Contains(string(body), "for B") {
		t.Fatalf("unexpected body on B: %s", body)
	}
	// The A subscription was torn down by the switch; its frame is gone.
	mustNotReceive(t, fromA)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	url, _ := startBroker(t)
	conn := newConn(t, url)

	received := make(chan []byte, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sub, err := conn.Subscribe(ctx, "/topic/watch-party/AB12", func(b []byte) { received <- b })
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	conn.Unsubscribe(sub)
	conn.Unsubscribe(sub)
	conn.Unsubscribe(nil)

	if err := conn.Publish("/topic/watch-party/AB12", []byte(`{"type":"CHAT","content":"late"}`)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	mustNotReceive(t, received)
}

func TestReconnectRestoresSubscription(t *testing.T) {
	url, ts := startBroker(t)
	conn := newConn(t, url)

	received := make(chan []byte, 8)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := conn.Subscribe(ctx, "/topic/watch-party/AB12", func(b []byte) { received <- b }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Kill the socket from the server side; the client must come back on
	// its own and resubscribe.
	ts.CloseClientConnections()

	waitConnEvent(t, conn, stomp.ConnDown)
	waitConnEvent(t, conn, stomp.ConnUp)

	if err := conn.Publish("/topic/watch-party/AB12", []byte(`{"type":"CHAT","content":"after reconnect"}`)); err != nil {
		t.Fatalf("publish after reconnect failed: %v", err)
	}
	body := mustReceive(t, received)
	if !strings.Contains(string(body), "after reconnect") {
		t.Fatalf("unexpected body: %s", body)
	}
}

func waitConnEvent(t *testing.T, conn *stomp.Conn, kind stomp.ConnEventKind) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-conn.Events():
			if ev.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for conn event %d", kind)
		}
	}
}
