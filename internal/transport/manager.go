// Package transport owns the persistent STOMP-over-WebSocket connection to
// the chat backend: connect, heartbeat, automatic reconnect, teardown, and
// the subscription registry on top of it.
package transport

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/meridian-im/meridian-go/internal/stomp"
)

var log = logging.Logger("transport")

const (
	// DefaultHeartBeat is offered in both directions on CONNECT. The backend
	// answers with its own pair; the negotiated maximum wins per direction.
	DefaultHeartBeat = 4 * time.Second

	// DefaultReconnectDelay is the fixed pause between reconnect attempts.
	// Deliberately not exponential: the backend is a single well-known broker
	// and the original clients retry at a flat interval forever.
	DefaultReconnectDelay = 5 * time.Second
)

// FrameHandler receives the body of one inbound MESSAGE frame.
type FrameHandler func(body []byte)

// StateHandler is notified synchronously on every connected/disconnected
// transition.
type StateHandler func(connected bool)

// Options configures a Manager.
type Options struct {
	// URL is the broker's WebSocket endpoint, e.g. wss://host/ws.
	URL string
	// Token is the bearer token presented on the CONNECT frame.
	Token string
	// HeartBeat is the interval offered in both directions. 0 means DefaultHeartBeat.
	HeartBeat time.Duration
	// ReconnectDelay is the fixed retry pause. 0 means DefaultReconnectDelay.
	ReconnectDelay time.Duration
	// Dialer overrides the WebSocket dialer, used by tests.
	Dialer *websocket.Dialer
}

type subscription struct {
	id      string
	dest    string
	handler FrameHandler
}

// Manager maintains exactly one broker connection per authenticated session.
type Manager struct {
	opts Options

	mu      sync.Mutex
	running bool
	closeCh chan struct{}

	conn      *websocket.Conn
	connected bool
	subs      map[string]*subscription // subscription id → entry

	stateMu  sync.Mutex
	stateFns []StateHandler

	writeMu sync.Mutex // serializes frame and heartbeat writes
}

// New creates a Manager. Connect must be called to start the session loop.
func New(opts Options) *Manager {
	if opts.HeartBeat == 0 {
		opts.HeartBeat = DefaultHeartBeat
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Manager{
		opts: opts,
		subs: make(map[string]*subscription),
	}
}

// OnStateChange registers a handler fired synchronously on every transition.
func (m *Manager) OnStateChange(fn StateHandler) {
	m.stateMu.Lock()
	m.stateFns = append(m.stateFns, fn)
	m.stateMu.Unlock()
}

// Connected reports whether the STOMP session is currently established.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connect starts the session loop. Idempotent: a no-op while already
// connecting or connected. Reconnection after any unexpected close is
// automatic and indefinite until Disconnect is called.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.closeCh = make(chan struct{})
	closeCh := m.closeCh
	m.mu.Unlock()

	go m.run(closeCh)
}

// Disconnect tears the session down and stops reconnecting.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.closeCh)
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		m.writeFrame(conn, stomp.New(stomp.CmdDisconnect))
		conn.Close()
	}
}

// Publish writes one SEND frame. Returns false — and performs no retry or
// queueing — when the connection is not currently established or the write
// fails; callers fall back (e.g. to a REST send).
func (m *Manager) Publish(destination string, body []byte) bool {
	m.mu.Lock()
	conn, ok := m.conn, m.connected
	m.mu.Unlock()
	if !ok {
		log.Debugw("publish skipped, not connected", "destination", destination)
		return false
	}

	f := stomp.New(stomp.CmdSend,
		stomp.HdrDestination, destination,
		stomp.HdrContentType, "application/json",
	)
	f.Body = body
	if err := m.writeFrame(conn, f); err != nil {
		log.Warnf("publish to %s failed: %v", destination, err)
		conn.Close() // wake the read loop so the reconnect cycle starts
		return false
	}
	return true
}

// Subscribe registers a handler for destination and returns an unsubscribe
// function. Fails when the connection is not live; the caller (the
// multiplexer) treats that as non-fatal and retries on its next diff.
func (m *Manager) Subscribe(destination string, fn FrameHandler) (func() error, error) {
	m.mu.Lock()
	if !m.connected || m.conn == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("transport: not connected")
	}
	conn := m.conn
	sub := &subscription{id: uuid.NewString(), dest: destination, handler: fn}
	m.subs[sub.id] = sub
	m.mu.Unlock()

	f := stomp.New(stomp.CmdSubscribe,
		stomp.HdrID, sub.id,
		stomp.HdrDestination, destination,
	)
	if err := m.writeFrame(conn, f); err != nil {
		m.mu.Lock()
		delete(m.subs, sub.id)
		m.mu.Unlock()
		return nil, fmt.Errorf("transport: subscribe %s: %w", destination, err)
	}

	return func() error { return m.unsubscribe(sub.id) }, nil
}

func (m *Manager) unsubscribe(id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
	}
	conn, connected := m.conn, m.connected
	m.mu.Unlock()

	// Registry entry dropped either way; the server-side subscription died
	// with the connection if we are offline.
	if !ok || !connected || conn == nil {
		return nil
	}
	return m.writeFrame(conn, stomp.New(stomp.CmdUnsubscribe, stomp.HdrID, sub.id))
}

// run is the reconnect loop: one session per iteration, fixed delay between
// attempts, forever until Disconnect.
func (m *Manager) run(closeCh chan struct{}) {
	for {
		err := m.session(closeCh)
		m.setConnected(false)

		select {
		case <-closeCh:
			return
		default:
		}
		if err != nil {
			log.Warnf("session ended: %v (reconnecting in %s)", err, m.opts.ReconnectDelay)
		}
		select {
		case <-closeCh:
			return
		case <-time.After(m.opts.ReconnectDelay):
		}
	}
}

// session dials, performs the CONNECT handshake, then reads frames until the
// connection dies. Returns the terminal error.
func (m *Manager) session(closeCh chan struct{}) error {
	header := http.Header{}
	if m.opts.Token != "" {
		header.Set("Authorization", "Bearer "+m.opts.Token)
	}
	conn, _, err := m.opts.Dialer.Dial(m.opts.URL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}
	defer conn.Close()

	// Disconnect cannot reach the connection until it is stored below, so a
	// watcher kills an in-flight handshake when the session is torn down.
	handshakeDone := make(chan struct{})
	defer close(handshakeDone)
	go func() {
		select {
		case <-closeCh:
			conn.Close()
		case <-handshakeDone:
		}
	}()

	hbMillis := strconv.FormatInt(m.opts.HeartBeat.Milliseconds(), 10)
	connect := stomp.New(stomp.CmdConnect,
		stomp.HdrAcceptVersion, "1.2",
		stomp.HdrHeartBeat, hbMillis+","+hbMillis,
	)
	if m.opts.Token != "" {
		connect.Set("Authorization", "Bearer "+m.opts.Token)
	}
	if err := m.writeFrame(conn, connect); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	frame, err := m.readFrame(conn)
	if err != nil {
		return fmt.Errorf("await CONNECTED: %w", err)
	}
	if frame == nil || frame.Command != stomp.CmdConnected {
		return fmt.Errorf("handshake: unexpected frame %v", frame)
	}

	outgoing, incoming := m.opts.HeartBeat, m.opts.HeartBeat
	if hb := frame.Get(stomp.HdrHeartBeat); hb != "" {
		if ss, sr, err := stomp.ParseHeartBeat(hb); err == nil {
			outgoing, incoming = stomp.NegotiateHeartBeat(m.opts.HeartBeat, m.opts.HeartBeat, ss, sr)
		}
	}

	m.mu.Lock()
	select {
	case <-closeCh:
		// Disconnect won the race against the handshake: never surface this
		// session as connected.
		m.mu.Unlock()
		return nil
	default:
	}
	m.conn = conn
	m.mu.Unlock()
	m.setConnected(true)
	log.Infof("connected to %s (heartbeat out=%s in=%s)", m.opts.URL, outgoing, incoming)

	stopBeat := make(chan struct{})
	defer close(stopBeat)
	if outgoing > 0 {
		go m.heartbeatLoop(conn, outgoing, stopBeat, closeCh)
	}

	for {
		if incoming > 0 {
			// Silent-failure detection: any traffic (heartbeats included)
			// must arrive within twice the negotiated interval.
			_ = conn.SetReadDeadline(time.Now().Add(2 * incoming))
		}
		frame, err := m.readFrame(conn)
		if err != nil {
			return err
		}
		if frame == nil { // heartbeat
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Manager) heartbeatLoop(conn *websocket.Conn, every time.Duration, stop, closeCh chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-closeCh:
			return
		case <-ticker.C:
			m.writeMu.Lock()
			err := conn.WriteMessage(websocket.TextMessage, []byte("\n"))
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (m *Manager) readFrame(conn *websocket.Conn) (*stomp.Frame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if stomp.IsHeartBeat(data) {
		return nil, nil
	}
	return stomp.Parse(data)
}

func (m *Manager) writeFrame(conn *websocket.Conn, f *stomp.Frame) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, f.Marshal())
}

// dispatch routes one server frame to the matching subscription handler.
// Handlers run synchronously on the read loop, preserving per-connection
// event ordering.
func (m *Manager) dispatch(f *stomp.Frame) {
	switch f.Command {
	case stomp.CmdMessage:
		m.mu.Lock()
		sub, ok := m.subs[f.Get(stomp.HdrSubscription)]
		m.mu.Unlock()
		if !ok {
			log.Debugw("message for unknown subscription dropped",
				"subscription", f.Get(stomp.HdrSubscription),
				"destination", f.Get(stomp.HdrDestination))
			return
		}
		sub.handler(f.Body)
	case stomp.CmdError:
		log.Errorf("broker error: %s", f.Get(stomp.HdrMessage))
	default:
		log.Debugf("ignoring frame %s", f.Command)
	}
}

// setConnected flips the state, clears the subscription registry on
// disconnect (server-side subscription state died with the transport), and
// notifies listeners synchronously.
func (m *Manager) setConnected(connected bool) {
	m.mu.Lock()
	if m.connected == connected {
		m.mu.Unlock()
		return
	}
	m.connected = connected
	if !connected {
		m.conn = nil
		m.subs = make(map[string]*subscription)
	}
	m.mu.Unlock()

	m.stateMu.Lock()
	fns := make([]StateHandler, len(m.stateFns))
	copy(fns, m.stateFns)
	m.stateMu.Unlock()
	for _, fn := range fns {
		fn(connected)
	}
}
