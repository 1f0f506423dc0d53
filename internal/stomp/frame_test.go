package stomp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	f := New(CmdSend, HdrDestination, "/app/chat.sendMessage", HdrContentType, "application/json")
	f.Body = []byte(`{"conversationId":"c1","body":"hi"}`)

	parsed, err := Parse(f.Marshal())
	require.NoError(t, err)
	assert.Equal(t, CmdSend, parsed.Command)
	assert.Equal(t, "/app/chat.sendMessage", parsed.Get(HdrDestination))
	assert.Equal(t, f.Body, parsed.Body)
}

func TestParseServerFrame(t *testing.T) {
	raw := "MESSAGE\nsubscription:sub-1\ndestination:/topic/presence\n\n{\"userId\":\"u1\",\"online\":true}\x00"
	f, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, CmdMessage, f.Command)
	assert.Equal(t, "sub-1", f.Get(HdrSubscription))
	assert.JSONEq(t, `{"userId":"u1","online":true}`, string(f.Body))
}

func TestHeaderEscaping(t *testing.T) {
	f := New(CmdSend, HdrDestination, "/queue/a:b\nc")
	parsed, err := Parse(f.Marshal())
	require.NoError(t, err)
	assert.Equal(t, "/queue/a:b\nc", parsed.Get(HdrDestination))
}

func TestConnectedFrameNotUnescaped(t *testing.T) {
	// CONNECT/CONNECTED headers are exempt from value encoding.
	raw := "CONNECTED\nversion:1.2\nheart-beat:4000,4000\n\n\x00"
	f, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, "4000,4000", f.Get(HdrHeartBeat))
}

func TestParseErrors(t *testing.T) {
	for name, raw := range map[string]string{
		"empty":            "",
		"no terminator":    "SEND\ndestination:/x",
		"malformed header": "SEND\nnotaheader\n\n\x00",
		"bad length":       "SEND\ncontent-length:99\n\nshort\x00",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestIsHeartBeat(t *testing.T) {
	assert.True(t, IsHeartBeat([]byte("\n")))
	assert.True(t, IsHeartBeat([]byte("\r\n")))
	assert.False(t, IsHeartBeat([]byte("MESSAGE\n\n\x00")))
}

func TestHeartBeatNegotiation(t *testing.T) {
	send, recv, err := ParseHeartBeat("4000,5000")
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, send)
	assert.Equal(t, 5*time.Second, recv)

	_, _, err = ParseHeartBeat("oops")
	assert.Error(t, err)

	out, in := NegotiateHeartBeat(4*time.Second, 4*time.Second, 5*time.Second, 2*time.Second)
	assert.Equal(t, 4*time.Second, out)
	assert.Equal(t, 5*time.Second, in)

	out, in = NegotiateHeartBeat(4*time.Second, 4*time.Second, 0, 0)
	assert.Zero(t, out)
	assert.Zero(t, in)
}
