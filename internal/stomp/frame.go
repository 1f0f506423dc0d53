// Package stomp implements the subset of STOMP 1.2 framing the chat backend
// speaks over its WebSocket endpoint: one frame per WebSocket message, a
// lone newline as heartbeat.
package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Client and server frame commands.
const (
	CmdConnect     = "CONNECT"
	CmdConnected   = "CONNECTED"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdMessage     = "MESSAGE"
	CmdError       = "ERROR"
	CmdDisconnect  = "DISCONNECT"
)

// Common header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
)

// Frame is a single STOMP frame. Headers preserve insertion order because
// STOMP 1.2 gives the first occurrence of a repeated header precedence.
type Frame struct {
	Command string
	headers []string // flat key,value pairs
	Body    []byte
}

// New builds a frame from a command and alternating key/value header pairs.
func New(command string, headers ...string) *Frame {
	if len(headers)%2 != 0 {
		panic("stomp: odd header pair count")
	}
	return &Frame{Command: command, headers: headers}
}

// Set appends or replaces a header.
func (f *Frame) Set(key, value string) {
	for i := 0; i < len(f.headers); i += 2 {
		if f.headers[i] == key {
			f.headers[i+1] = value
			return
		}
	}
	f.headers = append(f.headers, key, value)
}

// Get returns the first value for key, or "".
func (f *Frame) Get(key string) string {
	for i := 0; i < len(f.headers); i += 2 {
		if f.headers[i] == key {
			return f.headers[i+1]
		}
	}
	return ""
}

// escaping per STOMP 1.2 §Value Encoding; CONNECT/CONNECTED are exempt.
var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	unescaper = strings.NewReplacer(`\r`, "\r", `\n`, "\n", `\c`, ":", `\\`, `\`)
)

func (f *Frame) escaped() bool {
	return f.Command != CmdConnect && f.Command != CmdConnected
}

// Marshal renders the frame in wire format, NUL-terminated. A content-length
// header is added for frames with a body so binary-safe parsing works.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')
	for i := 0; i < len(f.headers); i += 2 {
		k, v := f.headers[i], f.headers[i+1]
		if f.escaped() {
			k, v = escaper.Replace(k), escaper.Replace(v)
		}
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(v)
		buf.WriteByte('\n')
	}
	if len(f.Body) > 0 && f.Get("content-length") == "" {
		buf.WriteString("content-length:")
		buf.WriteString(strconv.Itoa(len(f.Body)))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// IsHeartBeat reports whether data is a heartbeat (EOL only) rather than a frame.
func IsHeartBeat(data []byte) bool {
	trimmed := bytes.Trim(data, "\r\n")
	return len(trimmed) == 0
}

// Parse decodes one frame from a single WebSocket message payload.
func Parse(data []byte) (*Frame, error) {
	data = bytes.TrimSuffix(data, []byte{0})
	head, body, found := bytes.Cut(data, []byte("\n\n"))
	if !found {
		return nil, fmt.Errorf("stomp: missing header terminator")
	}

	lines := strings.Split(strings.TrimSuffix(string(head), "\r"), "\n")
	f := &Frame{Command: strings.TrimSuffix(lines[0], "\r")}
	if f.Command == "" {
		return nil, fmt.Errorf("stomp: empty command")
	}
	for _, line := range lines[1:] {
		line = strings.TrimSuffix(line, "\r")
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("stomp: malformed header %q", line)
		}
		if f.escaped() {
			k, v = unescaper.Replace(k), unescaper.Replace(v)
		}
		f.headers = append(f.headers, k, v)
	}

	if n := f.Get("content-length"); n != "" {
		length, err := strconv.Atoi(n)
		if err != nil || length > len(body) {
			return nil, fmt.Errorf("stomp: bad content-length %q", n)
		}
		f.Body = body[:length]
	} else {
		f.Body = body
	}
	return f, nil
}

// ParseHeartBeat parses a "heart-beat:sx,sy" header value into the interval
// the sender can emit at and the interval it wants to receive at.
func ParseHeartBeat(value string) (send, recv time.Duration, err error) {
	sx, sy, ok := strings.Cut(strings.TrimSpace(value), ",")
	if !ok {
		return 0, 0, fmt.Errorf("stomp: malformed heart-beat %q", value)
	}
	ms1, err1 := strconv.Atoi(strings.TrimSpace(sx))
	ms2, err2 := strconv.Atoi(strings.TrimSpace(sy))
	if err1 != nil || err2 != nil || ms1 < 0 || ms2 < 0 {
		return 0, 0, fmt.Errorf("stomp: malformed heart-beat %q", value)
	}
	return time.Duration(ms1) * time.Millisecond, time.Duration(ms2) * time.Millisecond, nil
}

// NegotiateHeartBeat resolves the effective intervals between what the client
// offered (cx,cy) and what the server answered (sx,sy). Zero disables a
// direction; otherwise the larger of the two values wins.
func NegotiateHeartBeat(clientSend, clientRecv, serverSend, serverRecv time.Duration) (outgoing, incoming time.Duration) {
	if clientSend > 0 && serverRecv > 0 {
		outgoing = max(clientSend, serverRecv)
	}
	if clientRecv > 0 && serverSend > 0 {
		incoming = max(clientRecv, serverSend)
	}
	return outgoing, incoming
}
