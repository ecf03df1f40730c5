// Package loopback implements an in-process transport.Provider. Sockets
// exchange whole messages through memory, handshakes run the listener's
// callback and compare passphrases the way SRT does, and faults can be
// injected with Break. Sessions sharing one Transport can talk to each
// other in caller, listener and rendezvous modes without touching the
// network.
package loopback

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/srtsession/transport"
)

const (
	defaultInboxSize   = 8192
	defaultConnTimeout = 3 * time.Second
	firstEphemeralPort = 40000
)

// Option configures a Transport.
type Option func(*Transport)

// WithIPv4Only makes the transport report no IPv6 support.
func WithIPv4Only() Option {
	return func(t *Transport) { t.caps.IPv6 = false }
}

// WithStartupError makes Startup fail with err.
func WithStartupError(err error) Option {
	return func(t *Transport) { t.startErr = err }
}

// WithInboxSize bounds the number of undelivered messages per socket.
// Sends to a full inbox fail with transport.ErrWouldBlock.
func WithInboxSize(n int) Option {
	return func(t *Transport) { t.inboxSize = n }
}

// Transport is an in-memory transport.Provider.
type Transport struct {
	caps      transport.Capabilities
	inboxSize int
	startErr  error
	wake      transport.Signal

	startups atomic.Int32
	cleanups atomic.Int32

	mu       sync.Mutex
	started  bool
	next     transport.SocketID
	nextPort int
	socks    map[transport.SocketID]*socket
}

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		caps:      transport.Capabilities{IPv6: true},
		inboxSize: defaultInboxSize,
		next:      1,
		nextPort:  firstEphemeralPort,
		socks:     make(map[transport.SocketID]*socket),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

type socket struct {
	id     transport.SocketID
	state  transport.SockState
	opts   map[transport.Option]any
	local  *net.UDPAddr
	remote *net.UDPAddr
	peer   *socket

	backlogSize int
	backlog     []*socket
	listenCB    transport.ListenCallback

	inbox  [][]byte
	reject transport.RejectReason
	stats  transport.Stats
	timer  *time.Timer
}

func (s *socket) boolOpt(o transport.Option) bool {
	v, _ := s.opts[o].(bool)
	return v
}

func (s *socket) stringOpt(o transport.Option) string {
	v, _ := s.opts[o].(string)
	return v
}

func (s *socket) intOpt(o transport.Option, def int) int {
	if v, ok := s.opts[o].(int); ok {
		return v
	}
	return def
}

// Startups returns how many times Startup has been called.
func (t *Transport) Startups() int { return int(t.startups.Load()) }

// Cleanups returns how many times Cleanup has been called.
func (t *Transport) Cleanups() int { return int(t.cleanups.Load()) }

// Startup implements transport.Provider.
func (t *Transport) Startup() error {
	t.startups.Add(1)
	if t.startErr != nil {
		return t.startErr
	}
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return nil
}

// Cleanup implements transport.Provider. Every remaining socket is closed.
func (t *Transport) Cleanup() error {
	t.cleanups.Add(1)
	t.mu.Lock()
	for id, s := range t.socks {
		t.closeLocked(s)
		delete(t.socks, id)
	}
	t.started = false
	t.mu.Unlock()
	t.wake.Broadcast()
	return nil
}

// Capabilities implements transport.Provider.
func (t *Transport) Capabilities() transport.Capabilities { return t.caps }

// Socket implements transport.Provider.
func (t *Transport) Socket() (transport.SocketID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return transport.InvalidSocket, transport.ErrNotStarted
	}
	id := t.next
	t.next++
	t.socks[id] = &socket{
		id:    id,
		state: transport.StateInit,
		opts:  make(map[transport.Option]any),
	}
	return id, nil
}

func (t *Transport) lookup(id transport.SocketID) (*socket, error) {
	s, ok := t.socks[id]
	if !ok {
		return nil, fmt.Errorf("socket %d: %w", id, transport.ErrInvalidSocket)
	}
	return s, nil
}

// Close implements transport.Provider. The peer of a connected socket
// observes a broken connection.
func (t *Transport) Close(id transport.SocketID) error {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.closeLocked(s)
	delete(t.socks, id)
	t.mu.Unlock()
	t.wake.Broadcast()
	return nil
}

func (t *Transport) closeLocked(s *socket) {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.peer != nil && s.peer.state == transport.StateConnected {
		s.peer.state = transport.StateBroken
	}
	for _, pending := range s.backlog {
		t.closeLocked(pending)
		delete(t.socks, pending.id)
	}
	s.backlog = nil
	s.peer = nil
	s.state = transport.StateClosed
}

// SetOption implements transport.Provider.
func (t *Transport) SetOption(id transport.SocketID, opt transport.Option, value any) error {
	if err := transport.CheckValue(opt, value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		return err
	}
	if opt == transport.OptPBKeyLen {
		switch value.(int) {
		case 0, 16, 24, 32:
		default:
			return fmt.Errorf("invalid pbkeylen %d", value)
		}
	}
	s.opts[opt] = value
	return nil
}

// Option implements transport.Provider.
func (t *Transport) Option(id transport.SocketID, opt transport.Option) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		return nil, err
	}
	if v, ok := s.opts[opt]; ok {
		return v, nil
	}
	switch opt {
	case transport.OptPayloadSize:
		return transport.DefaultPayloadSize, nil
	case transport.OptLatency, transport.OptRcvLatency, transport.OptPeerLatency:
		return 120, nil
	}
	return nil, fmt.Errorf("option %s: %w", opt, transport.ErrUnsupportedOption)
}

// Bind implements transport.Provider. Port 0 picks an ephemeral port.
func (t *Transport) Bind(id transport.SocketID, addr *net.UDPAddr) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		return err
	}
	if s.state != transport.StateInit {
		return fmt.Errorf("bind socket %d in state %s: %w", id, s.state, transport.ErrInvalidSocket)
	}
	bound := &net.UDPAddr{IP: addr.IP, Port: addr.Port, Zone: addr.Zone}
	if bound.Port == 0 {
		bound.Port = t.ephemeralPortLocked()
	}
	if t.listenerForLocked(bound, true) != nil {
		return fmt.Errorf("bind %s: %w", bound, transport.ErrAddrInUse)
	}
	s.local = bound
	s.state = transport.StateOpened
	return nil
}

func (t *Transport) ephemeralPortLocked() int {
	p := t.nextPort
	t.nextPort++
	return p
}

// listenerForLocked finds a listening socket reachable at addr. Exact
// address matches win over wildcard binds on the same port. With exact
// set, any overlap counts as a match (used for bind conflicts).
func (t *Transport) listenerForLocked(addr *net.UDPAddr, exact bool) *socket {
	var wildcard *socket
	for _, s := range t.socks {
		if s.state != transport.StateListening || s.local.Port != addr.Port {
			continue
		}
		if s.local.IP.Equal(addr.IP) {
			return s
		}
		if s.local.IP.IsUnspecified() || (exact && addr.IP.IsUnspecified()) {
			wildcard = s
		}
	}
	return wildcard
}

// Listen implements transport.Provider.
func (t *Transport) Listen(id transport.SocketID, backlog int) error {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if s.state != transport.StateOpened {
		t.mu.Unlock()
		return fmt.Errorf("listen on socket %d in state %s: %w", id, s.state, transport.ErrInvalidSocket)
	}
	if backlog < 1 {
		backlog = 1
	}
	s.backlogSize = backlog
	s.state = transport.StateListening
	t.mu.Unlock()

	t.retryPending()
	return nil
}

// SetListenCallback implements transport.Provider.
func (t *Transport) SetListenCallback(id transport.SocketID, fn transport.ListenCallback) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		return err
	}
	s.listenCB = fn
	return nil
}

// Accept implements transport.Provider.
func (t *Transport) Accept(id transport.SocketID) (transport.SocketID, net.Addr, error) {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return transport.InvalidSocket, nil, err
	}
	if s.state != transport.StateListening {
		t.mu.Unlock()
		return transport.InvalidSocket, nil, fmt.Errorf("accept on socket %d in state %s: %w", id, s.state, transport.ErrInvalidSocket)
	}
	if len(s.backlog) == 0 {
		t.mu.Unlock()
		return transport.InvalidSocket, nil, transport.ErrWouldBlock
	}
	conn := s.backlog[0]
	s.backlog = s.backlog[1:]
	t.mu.Unlock()

	t.retryPending()
	return conn.id, conn.remote, nil
}

// Connect implements transport.Provider. The handshake completes
// asynchronously once a matching listener or rendezvous peer exists, or
// fails with RejectTimeout after the conntimeo option (default 3s).
func (t *Transport) Connect(id transport.SocketID, addr *net.UDPAddr) error {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	switch s.state {
	case transport.StateInit:
		s.local = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: t.ephemeralPortLocked()}
	case transport.StateOpened:
	default:
		t.mu.Unlock()
		return fmt.Errorf("connect socket %d in state %s: %w", id, s.state, transport.ErrInvalidSocket)
	}
	if s.boolOpt(transport.OptRendezvous) && s.state != transport.StateOpened {
		t.mu.Unlock()
		return fmt.Errorf("rendezvous socket %d must be bound: %w", id, transport.ErrInvalidSocket)
	}
	s.remote = &net.UDPAddr{IP: addr.IP, Port: addr.Port, Zone: addr.Zone}
	s.state = transport.StateConnecting
	timeout := time.Duration(s.intOpt(transport.OptConnTimeo, int(defaultConnTimeout/time.Millisecond))) * time.Millisecond
	s.timer = time.AfterFunc(timeout, func() { t.expire(id) })
	t.mu.Unlock()

	t.retryPending()
	return nil
}

func (t *Transport) expire(id transport.SocketID) {
	t.mu.Lock()
	if s, ok := t.socks[id]; ok && s.state == transport.StateConnecting {
		s.state = transport.StateBroken
		s.reject = transport.RejectTimeout
	}
	t.mu.Unlock()
	t.wake.Broadcast()
}

// retryPending drives every connecting socket as far as it can go. It
// runs listener callbacks without holding the transport lock.
func (t *Transport) retryPending() {
	for {
		progressed := false

		t.mu.Lock()
		var pending []*socket
		for _, s := range t.socks {
			if s.state == transport.StateConnecting {
				pending = append(pending, s)
			}
		}
		t.mu.Unlock()

		for _, s := range pending {
			if t.advance(s) {
				progressed = true
			}
		}
		t.wake.Broadcast()
		if !progressed {
			return
		}
	}
}

// advance tries to complete one handshake and reports whether the socket
// left the connecting state.
func (t *Transport) advance(s *socket) bool {
	t.mu.Lock()
	if s.state != transport.StateConnecting {
		t.mu.Unlock()
		return false
	}

	if s.boolOpt(transport.OptRendezvous) {
		defer t.mu.Unlock()
		return t.rendezvousLocked(s)
	}

	l := t.listenerForLocked(s.remote, false)
	if l == nil || len(l.backlog) >= l.backlogSize {
		t.mu.Unlock()
		return false
	}
	if reason := secretMismatch(s, l); reason != transport.RejectUnknown {
		t.failLocked(s, reason)
		t.mu.Unlock()
		return true
	}
	cb := l.listenCB
	peerAddr := s.local
	streamID := s.stringOpt(transport.OptStreamID)
	t.mu.Unlock()

	if cb != nil && !cb(peerAddr, streamID) {
		t.mu.Lock()
		if s.state == transport.StateConnecting {
			t.failLocked(s, transport.RejectPeer)
		}
		t.mu.Unlock()
		return true
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s.state != transport.StateConnecting || l.state != transport.StateListening {
		return false
	}
	conn := &socket{
		id:     t.next,
		state:  transport.StateConnected,
		opts:   inheritOpts(l.opts),
		local:  l.local,
		remote: s.local,
	}
	t.next++
	t.socks[conn.id] = conn
	t.pairLocked(s, conn)
	l.backlog = append(l.backlog, conn)
	return true
}

func (t *Transport) rendezvousLocked(s *socket) bool {
	for _, o := range t.socks {
		if o == s || o.state != transport.StateConnecting || !o.boolOpt(transport.OptRendezvous) {
			continue
		}
		if !sameAddr(o.local, s.remote) || !sameAddr(o.remote, s.local) {
			continue
		}
		if reason := secretMismatch(s, o); reason != transport.RejectUnknown {
			t.failLocked(s, reason)
			t.failLocked(o, reason)
			return true
		}
		t.pairLocked(s, o)
		return true
	}
	return false
}

func (t *Transport) pairLocked(a, b *socket) {
	for _, s := range []*socket{a, b} {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.state = transport.StateConnected
	}
	a.peer, b.peer = b, a
	latency := max(a.intOpt(transport.OptLatency, 120), b.intOpt(transport.OptLatency, 120))
	for _, s := range []*socket{a, b} {
		s.stats.SendLatencyMs = latency
		s.stats.ReceiveLatencyMs = latency
	}
}

func (t *Transport) failLocked(s *socket, reason transport.RejectReason) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = transport.StateBroken
	s.reject = reason
}

func inheritOpts(src map[transport.Option]any) map[transport.Option]any {
	out := make(map[transport.Option]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	if a.Port != b.Port {
		return false
	}
	return a.IP.Equal(b.IP) || a.IP.IsUnspecified() || b.IP.IsUnspecified()
}

// secretMismatch mirrors SRT's handshake encryption checks.
func secretMismatch(caller, listener *socket) transport.RejectReason {
	a := caller.stringOpt(transport.OptPassphrase)
	b := listener.stringOpt(transport.OptPassphrase)
	switch {
	case a == b:
		return transport.RejectUnknown
	case a == "" || b == "":
		return transport.RejectUnsecure
	default:
		return transport.RejectBadSecret
	}
}

// Send implements transport.Provider.
func (t *Transport) Send(id transport.SocketID, msg []byte) (int, error) {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if state := s.state; state != transport.StateConnected || s.peer == nil {
		t.mu.Unlock()
		if state == transport.StateConnecting {
			return 0, transport.ErrWouldBlock
		}
		return 0, fmt.Errorf("send on socket %d: %w", id, transport.ErrConnectionLost)
	}
	if size := s.intOpt(transport.OptPayloadSize, transport.DefaultPayloadSize); len(msg) > size {
		t.mu.Unlock()
		return 0, fmt.Errorf("message of %d bytes exceeds payload size %d", len(msg), size)
	}
	peer := s.peer
	if len(peer.inbox) >= t.inboxSize {
		t.mu.Unlock()
		return 0, transport.ErrWouldBlock
	}
	peer.inbox = append(peer.inbox, append([]byte(nil), msg...))
	s.stats.PacketsSent++
	s.stats.BytesSent += uint64(len(msg))
	peer.stats.PacketsReceived++
	peer.stats.BytesReceived += uint64(len(msg))
	peer.stats.PacketAckSent++
	s.stats.PacketAckReceived++
	t.mu.Unlock()

	t.wake.Broadcast()
	return len(msg), nil
}

// Recv implements transport.Provider. Messages longer than buf are
// truncated.
func (t *Transport) Recv(id transport.SocketID, buf []byte) (int, error) {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	if len(s.inbox) == 0 {
		state := s.state
		t.mu.Unlock()
		if state == transport.StateConnected || state == transport.StateConnecting {
			return 0, transport.ErrWouldBlock
		}
		return 0, fmt.Errorf("recv on socket %d: %w", id, transport.ErrConnectionLost)
	}
	msg := s.inbox[0]
	s.inbox[0] = nil
	s.inbox = s.inbox[1:]
	t.mu.Unlock()

	t.wake.Broadcast()
	return copy(buf, msg), nil
}

// State implements transport.Provider.
func (t *Transport) State(id transport.SocketID) transport.SockState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.socks[id]; ok {
		return s.state
	}
	return transport.StateNonExist
}

// RejectReason implements transport.Provider.
func (t *Transport) RejectReason(id transport.SocketID) transport.RejectReason {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.socks[id]; ok {
		return s.reject
	}
	return transport.RejectUnknown
}

// Stats implements transport.Provider.
func (t *Transport) Stats(id transport.SocketID) (transport.Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		return transport.Stats{}, err
	}
	return s.stats, nil
}

// NewPoller implements transport.Provider.
func (t *Transport) NewPoller() (transport.Poller, error) {
	return transport.NewPollSet(t.readiness, &t.wake), nil
}

func (t *Transport) readiness(id transport.SocketID) transport.Events {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.socks[id]
	if !ok || s.state.Dead() {
		return transport.EventErr
	}
	var ev transport.Events
	switch s.state {
	case transport.StateListening:
		if len(s.backlog) > 0 {
			ev |= transport.EventIn
		}
	case transport.StateConnected:
		if len(s.inbox) > 0 {
			ev |= transport.EventIn
		}
		if s.peer != nil && len(s.peer.inbox) < t.inboxSize {
			ev |= transport.EventOut
		}
	}
	return ev
}

// Break forces a socket and its peer into the broken state, as if the
// network between them failed.
func (t *Transport) Break(id transport.SocketID) {
	t.mu.Lock()
	if s, ok := t.socks[id]; ok {
		s.state = transport.StateBroken
		if s.peer != nil && s.peer.state == transport.StateConnected {
			s.peer.state = transport.StateBroken
		}
	}
	t.mu.Unlock()
	t.wake.Broadcast()
}

// Sockets returns the ids of all live sockets.
func (t *Transport) Sockets() []transport.SocketID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]transport.SocketID, 0, len(t.socks))
	for id := range t.socks {
		out = append(out, id)
	}
	return out
}

// PeerOf returns the socket connected to id, or InvalidSocket.
func (t *Transport) PeerOf(id transport.SocketID) transport.SocketID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.socks[id]; ok && s.peer != nil {
		return s.peer.id
	}
	return transport.InvalidSocket
}

var _ transport.Provider = (*Transport)(nil)
