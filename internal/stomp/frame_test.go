package stomp

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := NewFrame(CmdSend, []byte(`{"type":"CHAT"}`),
		HdrDestination, "/app/watch-party/XY12/chat",
		HdrContentType, "application/json",
	)

	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Command != CmdSend {
		t.Fatalf("unexpected command: %q", out.Command)
	}
	if got := out.Header(HdrDestination); got != "/app/watch-party/XY12/chat" {
		t.Fatalf("unexpected destination: %q", got)
	}
	if !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("body mismatch: %q", out.Body)
	}
}

func TestHeaderEscaping(t *testing.T) {
	in := NewFrame(CmdSend, nil, "x-note", "a:b\nc\\d")

	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got := out.Header("x-note"); got != "a:b\nc\\d" {
		t.Fatalf("escaping broke the value: %q", got)
	}
}

func TestConnectHeadersNotEscaped(t *testing.T) {
	raw := Encode(NewFrame(CmdConnect, nil, HdrHeartBeat, "4000,4000"))
	if bytes.Contains(raw, []byte(`\c`)) {
		t.Fatalf("CONNECT headers must not be escaped: %q", raw)
	}
}

func TestHeartbeatFrames(t *testing.T) {
	for _, raw := range [][]byte{[]byte("\n"), []byte("\r\n")} {
		if !IsHeartbeat(raw) {
			t.Fatalf("%q should be a heartbeat", raw)
		}
		f, err := Decode(raw)
		if err != nil || f != nil {
			t.Fatalf("heartbeat should decode to (nil, nil), got (%v, %v)", f, err)
		}
	}
	if IsHeartbeat([]byte("MESSAGE\n\n\x00")) {
		t.Fatal("frame misdetected as heartbeat")
	}
}

func TestDecodeCRLFLineEndings(t *testing.T) {
	raw := []byte("MESSAGE\r\ndestination:/topic/watch-party/XY12\r\nsubscription:s1\r\n\r\nhello\x00")
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if f.Command != CmdMessage {
		t.Fatalf("unexpected command: %q", f.Command)
	}
	if got := f.Header(HdrDestination); got != "/topic/watch-party/XY12" {
		t.Fatalf("unexpected destination: %q", got)
	}
	if !bytes.Equal(f.Body, []byte("hello")) {
		t.Fatalf("unexpected body: %q", f.Body)
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string][]byte{
		"no header terminator": []byte("SEND\ndestination:/x\x00"),
		"header without colon": []byte("SEND\nbogus\n\n\x00"),
		"dangling escape":      []byte("SEND\nk:v\\\n\n\x00"),
	}
	for name, raw := range cases {
		if _, err := Decode(raw); err == nil {
			t.Errorf("%s: expected decode error", name)
		} else {
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Errorf("%s: expected DecodeError, got %T", name, err)
			}
		}
	}
}

func TestDuplicateHeaderFirstWins(t *testing.T) {
	raw := []byte("MESSAGE\nsubscription:first\nsubscription:second\n\nhi\x00")
	f, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got := f.Header(HdrSubscription); got != "first" {
		t.Fatalf("expected first header value to win, got %q", got)
	}
}
