package stomp

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// STOMP 1.2 commands used by the client and the dev broker.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdMessage     = "MESSAGE"
	CmdReceipt     = "RECEIPT"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

// Standard header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
)

// Frame is a single STOMP frame. Headers are a flat map; duplicate inbound
// headers keep the first value as STOMP 1.2 requires.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// NewFrame builds a frame from alternating header key/value pairs.
func NewFrame(command string, body []byte, headers ...string) *Frame {
	f := &Frame{Command: command, Headers: make(map[string]string, len(headers)/2), Body: body}
	for i := 0; i+1 < len(headers); i += 2 {
		f.Headers[headers[i]] = headers[i+1]
	}
	return f
}

// Header returns the named header or "".
func (f *Frame) Header(name string) string {
	return f.Headers[name]
}

// heartbeat is the single-LF frame exchanged while a connection is idle.
var heartbeat = []byte("\n")

// IsHeartbeat reports whether raw is a bare heart-beat frame.
func IsHeartbeat(raw []byte) bool {
	trimmed := bytes.TrimRight(raw, "\r\n")
	return len(trimmed) == 0
}

// Encode serializes the frame to its wire form, NUL-terminated.
func Encode(f *Frame) []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')

	// Deterministic header order keeps the codec testable.
	keys := make([]string, 0, len(f.Headers))
	for k := range f.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	escape := f.Command != CmdConnect && f.Command != CmdConnected
	for _, k := range keys {
		v := f.Headers[k]
		if escape {
			k = escapeHeader(k)
			v = escapeHeader(v)
		}
		b.WriteString(k)
		b.WriteByte(':')
		b.WriteString(v)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}

// Decode parses a wire frame. A bare heart-beat yields (nil, nil).
func Decode(raw []byte) (*Frame, error) {
	if IsHeartbeat(raw) {
		return nil, nil
	}
	raw = bytes.TrimSuffix(raw, []byte{0})

	head, body, found := cutHeaders(raw)
	if !found {
		return nil, &DecodeError{Reason: "missing header terminator"}
	}

	lines := strings.Split(strings.ReplaceAll(string(head), "\r\n", "\n"), "\n")
	command := lines[0]
	if command == "" {
		return nil, &DecodeError{Reason: "empty command"}
	}

	f := &Frame{Command: command, Headers: make(map[string]string, len(lines)-1), Body: body}
	unescape := command != CmdConnect && command != CmdConnected
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, &DecodeError{Reason: fmt.Sprintf("malformed header %q", line)}
		}
		if unescape {
			var err error
			if k, err = unescapeHeader(k); err != nil {
				return nil, err
			}
			if v, err = unescapeHeader(v); err != nil {
				return nil, err
			}
		}
		// First occurrence wins for repeated headers.
		if _, exists := f.Headers[k]; !exists {
			f.Headers[k] = v
		}
	}
	return f, nil
}

// cutHeaders splits a frame at the blank line ending the header block.
// STOMP 1.2 allows CRLF as well as LF line endings; whichever terminator
// appears first wins.
func cutHeaders(raw []byte) (head, body []byte, found bool) {
	lf := bytes.Index(raw, []byte("\n\n"))
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:], true
	case lf >= 0:
		return raw[:lf], raw[lf+2:], true
	}
	return nil, nil, false
}

func escapeHeader(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	return r.Replace(s)
}

func unescapeHeader(s string) (string, error) {
	if !strings.ContainsRune(s, '\\') {
		return s, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			b.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", &DecodeError{Reason: "dangling escape in header"}
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", &DecodeError{Reason: fmt.Sprintf("invalid escape \\%c in header", s[i])}
		}
	}
	return b.String(), nil
}
