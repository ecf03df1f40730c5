// Package srt adapts github.com/zsiec/srtgo, a pure-Go SRT stack, to the
// transport.Provider interface. srtgo exposes blocking Dial/Listen/Accept
// and net.Conn-style connections; this package runs those calls on
// per-socket goroutines and reports their progress through socket states
// and a readiness PollSet so the session manager can drive it like a
// non-blocking socket library.
package srt

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/srtsession/transport"
)

const (
	// readQueueSize bounds the messages buffered per connection before the
	// reader goroutine stops pulling from srtgo.
	readQueueSize = 256

	// readBufferSize fits the largest SRT live payload with room to spare.
	readBufferSize = transport.DefaultPayloadSize * 10
)

// Transport is a transport.Provider over srtgo.
type Transport struct {
	log  *slog.Logger
	wake transport.Signal

	mu      sync.Mutex
	started bool
	next    transport.SocketID
	socks   map[transport.SocketID]*socket
}

// New creates a Transport. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Transport {
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		log:   log.With("component", "srtgo-transport"),
		next:  1,
		socks: make(map[transport.SocketID]*socket),
	}
}

// acceptor is the part of an srtgo listener the adapter uses.
type acceptor interface {
	Accept() (*srtgo.Conn, error)
}

type socket struct {
	id     transport.SocketID
	state  transport.SockState
	opts   map[transport.Option]any
	local  *net.UDPAddr
	remote net.Addr
	reject transport.RejectReason

	conn     *srtgo.Conn
	inbox    [][]byte
	streamID string

	ln          acceptor
	closeLn     func()
	listenCB    transport.ListenCallback
	backlog     []*socket
	backlogSize int

	done chan struct{}
}

func (s *socket) rendezvous() bool {
	v, _ := s.opts[transport.OptRendezvous].(bool)
	return v
}

// inherit copies the options an accepted connection shares with its
// listener.
func (s *socket) inherit() map[transport.Option]any {
	out := make(map[transport.Option]any, len(s.opts))
	for k, v := range s.opts {
		if k != transport.OptStreamID {
			out[k] = v
		}
	}
	return out
}

// Startup implements transport.Provider. srtgo has no global state; the
// flag only gates socket creation.
func (t *Transport) Startup() error {
	t.mu.Lock()
	t.started = true
	t.mu.Unlock()
	return nil
}

// Cleanup implements transport.Provider.
func (t *Transport) Cleanup() error {
	t.mu.Lock()
	socks := make([]*socket, 0, len(t.socks))
	for id, s := range t.socks {
		socks = append(socks, s)
		delete(t.socks, id)
	}
	t.started = false
	t.mu.Unlock()

	for _, s := range socks {
		t.shutdown(s)
	}
	t.wake.Broadcast()
	return nil
}

// Capabilities implements transport.Provider.
func (t *Transport) Capabilities() transport.Capabilities {
	return transport.Capabilities{IPv6: true}
}

// Socket implements transport.Provider.
func (t *Transport) Socket() (transport.SocketID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return transport.InvalidSocket, transport.ErrNotStarted
	}
	return t.addLocked(&socket{
		state: transport.StateInit,
		opts:  make(map[transport.Option]any),
		done:  make(chan struct{}),
	}), nil
}

func (t *Transport) addLocked(s *socket) transport.SocketID {
	s.id = t.next
	t.next++
	t.socks[s.id] = s
	return s.id
}

func (t *Transport) lookup(id transport.SocketID) (*socket, error) {
	s, ok := t.socks[id]
	if !ok {
		return nil, fmt.Errorf("socket %d: %w", id, transport.ErrInvalidSocket)
	}
	return s, nil
}

// Close implements transport.Provider.
func (t *Transport) Close(id transport.SocketID) error {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	delete(t.socks, id)
	pending := s.backlog
	s.backlog = nil
	for _, p := range pending {
		delete(t.socks, p.id)
	}
	t.mu.Unlock()

	t.shutdown(s)
	for _, p := range pending {
		t.shutdown(p)
	}
	t.wake.Broadcast()
	return nil
}

func (t *Transport) shutdown(s *socket) {
	t.mu.Lock()
	s.state = transport.StateClosed
	conn, closeLn := s.conn, s.closeLn
	s.conn, s.closeLn = nil, nil
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	t.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if closeLn != nil {
		closeLn()
	}
}

// SetOption implements transport.Provider. srtgo is configured through a
// Config value at dial/listen time; the value is checked against a scratch
// config now and applied when the socket listens or connects.
func (t *Transport) SetOption(id transport.SocketID, opt transport.Option, value any) error {
	if err := transport.CheckValue(opt, value); err != nil {
		return err
	}
	scratch := srtgo.DefaultConfig()
	if err := applyOption(&scratch, opt, value); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		return err
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
		return payloadSize(s.opts), nil
	case transport.OptLatency:
		return latencyMs(s.opts), nil
	case transport.OptStreamID:
		return s.streamID, nil
	}
	return nil, fmt.Errorf("option %s: %w", opt, transport.ErrUnsupportedOption)
}

// Bind implements transport.Provider. The address is remembered and bound
// when the socket listens or connects.
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
	s.local = addr
	s.state = transport.StateOpened
	return nil
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
	cfg, err := config(s.opts)
	addr := s.local.String()
	t.mu.Unlock()
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", addr, err)
	}

	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		if strings.Contains(err.Error(), "in use") {
			return fmt.Errorf("SRT listen on %s: %w", addr, transport.ErrAddrInUse)
		}
		return fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		t.mu.Lock()
		cb := s.listenCB
		t.mu.Unlock()
		if cb != nil && !cb(req.RemoteAddr, req.StreamID) {
			return srtgo.RejPeer
		}
		return 0
	})

	t.mu.Lock()
	if s.state != transport.StateOpened {
		t.mu.Unlock()
		l.Close()
		return fmt.Errorf("socket %d closed during listen: %w", id, transport.ErrInvalidSocket)
	}
	s.ln = l
	s.closeLn = func() { l.Close() }
	s.backlogSize = max(backlog, 1)
	s.state = transport.StateListening
	t.mu.Unlock()

	t.log.Info("listening", "addr", addr)
	go t.acceptLoop(s)
	return nil
}

func (t *Transport) acceptLoop(s *socket) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			t.log.Warn("accept error", "error", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		t.mu.Lock()
		if s.state != transport.StateListening {
			t.mu.Unlock()
			conn.Close()
			return
		}
		c := &socket{
			state:    transport.StateConnected,
			opts:     s.inherit(),
			remote:   conn.RemoteAddr(),
			conn:     conn,
			streamID: conn.StreamID(),
			done:     make(chan struct{}),
		}
		t.addLocked(c)
		s.backlog = append(s.backlog, c)
		t.mu.Unlock()

		go t.readLoop(c)
		t.wake.Broadcast()
	}
}

// SetListenCallback implements transport.Provider. The callback runs from
// srtgo's handshake with the caller's address and stream id; returning false
// rejects the caller with a peer rejection.
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
	defer t.mu.Unlock()
	s, err := t.lookup(id)
	if err != nil {
		return transport.InvalidSocket, nil, err
	}
	if s.state != transport.StateListening {
		return transport.InvalidSocket, nil, fmt.Errorf("accept on socket %d in state %s: %w", id, s.state, transport.ErrInvalidSocket)
	}
	if len(s.backlog) == 0 {
		return transport.InvalidSocket, nil, transport.ErrWouldBlock
	}
	c := s.backlog[0]
	s.backlog = s.backlog[1:]
	return c.id, c.remote, nil
}

// Connect implements transport.Provider. The handshake runs in the
// background; completion shows up as a state change. A bound caller dials
// from its bound address, and a rendezvous socket dials from its bound
// address or, if unbound, from the remote port on all interfaces.
func (t *Transport) Connect(id transport.SocketID, addr *net.UDPAddr) error {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if s.state != transport.StateInit && s.state != transport.StateOpened {
		t.mu.Unlock()
		return fmt.Errorf("connect socket %d in state %s: %w", id, s.state, transport.ErrInvalidSocket)
	}
	cfg, err := config(s.opts)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("connect socket %d: %w", id, err)
	}
	local, rendezvous := s.local, s.rendezvous()
	t.mu.Unlock()

	var pc net.PacketConn
	if local != nil && !rendezvous {
		udp, err := net.ListenUDP("udp", local)
		if err != nil {
			if strings.Contains(err.Error(), "in use") {
				return fmt.Errorf("bind %s: %w", local, transport.ErrAddrInUse)
			}
			return fmt.Errorf("bind %s: %w", local, err)
		}
		pc = udp
	}

	t.mu.Lock()
	if s.state != transport.StateInit && s.state != transport.StateOpened {
		t.mu.Unlock()
		if pc != nil {
			pc.Close()
		}
		return fmt.Errorf("socket %d closed during connect: %w", id, transport.ErrInvalidSocket)
	}
	s.state = transport.StateConnecting
	s.remote = addr
	t.mu.Unlock()

	go t.dial(s, addr, local, pc, rendezvous, cfg)
	return nil
}

func (t *Transport) dial(s *socket, addr, local *net.UDPAddr, pc net.PacketConn, rendezvous bool, cfg srtgo.Config) {
	var (
		conn *srtgo.Conn
		err  error
	)
	switch {
	case rendezvous:
		from := net.JoinHostPort("", strconv.Itoa(addr.Port))
		if local != nil {
			from = local.String()
		}
		conn, err = srtgo.DialRendezvous(from, addr.String(), cfg)
	case pc != nil:
		conn, err = srtgo.DialPacketConn(pc, addr, cfg)
		if err != nil {
			pc.Close()
		}
	default:
		conn, err = srtgo.Dial(addr.String(), cfg)
	}

	t.mu.Lock()
	if s.state != transport.StateConnecting {
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.state = transport.StateBroken
		s.reject = classifyDialError(err)
		reason := s.reject
		t.mu.Unlock()
		t.log.Debug("dial failed", "addr", addr, "error", err, "reject", reason)
		t.wake.Broadcast()
		return
	}
	s.conn = conn
	s.state = transport.StateConnected
	t.mu.Unlock()

	go t.readLoop(s)
	t.wake.Broadcast()
}

var rejectCode = regexp.MustCompile(`rejected \(code (\d+)\)`)

// Handshake rejection codes as carried on the wire.
const (
	wireRejectBase   = 1000
	wireRejectCrypto = 1017
)

// classifyDialError maps srtgo's handshake failures onto SRT reject
// reasons. srtgo reports them as plain errors carrying the wire code.
func classifyDialError(err error) transport.RejectReason {
	msg := strings.ToLower(err.Error())
	if m := rejectCode.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code >= wireRejectBase && code <= wireRejectBase+int(transport.RejectTimeout):
			return transport.RejectReason(code - wireRejectBase)
		case code == wireRejectCrypto:
			return transport.RejectBadSecret
		}
		return transport.RejectPeer
	}
	switch {
	case strings.Contains(msg, "passphrase"), strings.Contains(msg, "secret"):
		return transport.RejectBadSecret
	case strings.Contains(msg, "unsecure"), strings.Contains(msg, "encrypt"):
		return transport.RejectUnsecure
	case strings.Contains(msg, "reject"):
		return transport.RejectPeer
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return transport.RejectTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return transport.RejectTimeout
	}
	return transport.RejectUnknown
}

func (t *Transport) readLoop(s *socket) {
	buf := make([]byte, readBufferSize)
	for {
		t.mu.Lock()
		conn := s.conn
		for conn != nil && len(s.inbox) >= readQueueSize && s.state == transport.StateConnected {
			t.mu.Unlock()
			select {
			case <-s.done:
				return
			case <-t.wake.C():
			case <-time.After(10 * time.Millisecond):
			}
			t.mu.Lock()
		}
		t.mu.Unlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)

		t.mu.Lock()
		if err != nil {
			if s.state == transport.StateConnected {
				s.state = transport.StateBroken
			}
			t.mu.Unlock()
			t.wake.Broadcast()
			return
		}
		s.inbox = append(s.inbox, append([]byte(nil), buf[:n]...))
		t.mu.Unlock()
		t.wake.Broadcast()
	}
}

// Send implements transport.Provider. srtgo writes block until the message
// is queued in its send buffer.
func (t *Transport) Send(id transport.SocketID, msg []byte) (int, error) {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}
	state, conn := s.state, s.conn
	t.mu.Unlock()

	switch {
	case state == transport.StateConnecting:
		return 0, transport.ErrWouldBlock
	case state != transport.StateConnected || conn == nil:
		return 0, fmt.Errorf("send on socket %d: %w", id, transport.ErrConnectionLost)
	}

	n, err := conn.Write(msg)
	if err != nil {
		t.mu.Lock()
		if s.state == transport.StateConnected {
			s.state = transport.StateBroken
		}
		t.mu.Unlock()
		t.wake.Broadcast()
		return 0, fmt.Errorf("send on socket %d: %w: %v", id, transport.ErrConnectionLost, err)
	}
	return n, nil
}

// Recv implements transport.Provider.
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

// Stats implements transport.Provider. Connected sockets report srtgo's
// cumulative counters; a socket without a connection reports its configured
// latency only.
func (t *Transport) Stats(id transport.SocketID) (transport.Stats, error) {
	t.mu.Lock()
	s, err := t.lookup(id)
	if err != nil {
		t.mu.Unlock()
		return transport.Stats{}, err
	}
	conn, payload, latency := s.conn, payloadSize(s.opts), latencyMs(s.opts)
	t.mu.Unlock()

	if conn != nil {
		return statsFrom(conn.Stats(false), payload), nil
	}
	return transport.Stats{SendLatencyMs: latency, ReceiveLatencyMs: latency}, nil
}

// statsFrom converts srtgo counters to the transport snapshot. The link
// bandwidth estimate is in packets per second and is scaled by the full
// packet size.
func statsFrom(cs srtgo.ConnStats, payload int) transport.Stats {
	latency := int(cs.NegotiatedLatency / time.Millisecond)
	return transport.Stats{
		PacketsSent:          int64(cs.SentPackets),
		PacketsSentLost:      int(cs.LostPackets),
		PacketsRetransmitted: int(cs.Retransmits),
		PacketAckReceived:    int(cs.RecvACKs),
		PacketNackReceived:   int(cs.RecvNAKs),
		SendDurationUs:       cs.UsSndDuration,
		BytesSent:            cs.SentBytes,
		BytesRetransmitted:   cs.RetransBytes,
		BytesSentDropped:     cs.SentDroppedBytes,
		PacketsSentDropped:   int(cs.SentDropped),
		SendRateMbps:         cs.MbpsSendRate,
		SendLatencyMs:        latency,

		PacketsReceived:              int64(cs.RecvPackets),
		PacketsReceivedLost:          int(cs.RecvLoss),
		PacketsReceivedRetransmitted: int(cs.RecvRetrans),
		PacketsReceivedDropped:       int(cs.RecvDropped),
		PacketAckSent:                int(cs.SentACKs),
		PacketNackSent:               int(cs.SentNAKs),
		BytesReceived:                cs.RecvBytes,
		BytesReceivedLost:            cs.RecvLossBytes,
		ReceiveRateMbps:              cs.MbpsRecvRate,
		ReceiveLatencyMs:             latency,

		BandwidthMbps: float64(cs.EstimatedBandwidth) * float64(payload+dataHeader) * 8 / 1e6,
		RTTMs:         float64(cs.RTT) / float64(time.Millisecond),
	}
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
		ev |= transport.EventOut
	}
	return ev
}

var _ transport.Provider = (*Transport)(nil)
