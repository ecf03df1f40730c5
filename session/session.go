// Package session manages the lifecycle of one SRT connection endpoint:
// connection-mode negotiation (caller, listener, rendezvous), the listener
// accept loop and its caller registry, blocking reads and writes with
// cooperative cancellation, auto-reconnect, and statistics snapshots.
//
// A Session is driven by an owning element through Open, Read or Write,
// and Close. Its configuration is a params.Store populated from an srt://
// URI and typed setters.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/srtsession/params"
	"github.com/zsiec/srtsession/transport"
)

// Role is the data direction of a session, fixed at construction.
type Role int

// Session roles.
const (
	RoleSource Role = iota + 1 // reads from the network
	RoleSink                   // writes to the network
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleSink:
		return "sink"
	}
	return "unknown"
}

func (r Role) sender() bool { return r == RoleSink }

// events is the readiness a data socket of this role waits for.
func (r Role) events() transport.Events {
	if r == RoleSink {
		return transport.EventOut
	}
	return transport.EventIn
}

// Defaults for the session-level flags.
const (
	DefaultWaitForConnection = true
	DefaultAutoReconnect     = true
	DefaultAuthentication    = false
)

// Config holds construction-time dependencies of a Session.
type Config struct {
	Role Role
	// Runtime provides the transport and reference-counts its library
	// state. Required.
	Runtime *transport.Runtime
	// Observer receives notifications. Nil means NopObserver.
	Observer Observer
	// Resolver resolves host names. Nil means net.DefaultResolver.
	Resolver Resolver
	// Log is the base logger. Nil means slog.Default().
	Log *slog.Logger
}

// Session is one SRT endpoint. All methods are safe for concurrent use.
type Session struct {
	role Role
	rt   *transport.Runtime
	tr   transport.Provider
	obs  Observer
	res  Resolver
	log  *slog.Logger

	// startErr is the transport startup failure seen by New, if any.
	startErr error

	// poller is the primary readiness multiplexer, alive for the whole
	// lifetime of the session.
	poller transport.Poller

	// mu is the object lock: configuration and the opened flag.
	mu                sync.Mutex
	uri               *params.URI
	params            *params.Store
	waitForConnection bool
	autoReconnect     bool
	authentication    bool
	opened            bool
	onAdded           func(net.Addr)
	onRemoved         func(net.Addr)

	// regMu guards the connection state and the caller registry.
	regMu       sync.Mutex
	regCond     *sync.Cond
	callers     []*Caller
	sock        transport.SocketID
	sentHeaders bool
	accept      *acceptLoop

	tokMu     sync.Mutex
	tok       context.Context
	tokCancel context.CancelFunc

	bytes     atomic.Uint64
	destroyed atomic.Bool
}

// New creates a closed session configured with params.DefaultURI. It takes
// a reference on cfg.Runtime, released by Destroy.
func New(cfg Config) (*Session, error) {
	if cfg.Runtime == nil {
		return nil, newError(KindLibraryInit, nil, "no transport runtime")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	res := cfg.Resolver
	if res == nil {
		res = net.DefaultResolver
	}

	// The reference is held even if startup failed; Open reports the error.
	startErr := cfg.Runtime.Acquire()
	if startErr != nil {
		log.Error("failed to start transport", "role", cfg.Role, "error", startErr)
	}

	poller, err := cfg.Runtime.Provider().NewPoller()
	if err != nil {
		cfg.Runtime.Release()
		return nil, newError(KindLibraryInit, err, "failed to create poller")
	}

	u, _ := params.ParseURI(params.DefaultURI)
	s := &Session{
		role:              cfg.Role,
		rt:                cfg.Runtime,
		tr:                cfg.Runtime.Provider(),
		obs:               obs,
		res:               res,
		log:               log.With("component", "srt-"+cfg.Role.String()),
		startErr:          startErr,
		poller:            poller,
		uri:               u,
		params:            params.FromURI(u),
		waitForConnection: DefaultWaitForConnection,
		autoReconnect:     DefaultAutoReconnect,
		authentication:    DefaultAuthentication,
		sock:              transport.InvalidSocket,
	}
	s.regCond = sync.NewCond(&s.regMu)

	// The token starts cancelled: I/O before Open is flushing.
	s.tok, s.tokCancel = context.WithCancel(context.Background())
	s.tokCancel()
	return s, nil
}

// Destroy closes the session, releases its poller and drops its runtime
// reference. Further calls are no-ops.
func (s *Session) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	s.Close()
	s.poller.Close()
	s.log.Debug("destroying session")
	if err := s.rt.Release(); err != nil {
		s.log.Warn("transport cleanup failed", "error", err)
	}
}

// Role returns the session's data direction.
func (s *Session) Role() Role { return s.role }

// Observer returns the notification sink the session was built with.
func (s *Session) Observer() Observer { return s.obs }

// Open establishes the connection described by the current configuration.
func (s *Session) Open(ctx context.Context) error {
	return s.OpenWithCallbacks(ctx, nil, nil)
}

// OpenWithCallbacks is Open with per-open caller notifications that replace
// the observer's CallerAdded and CallerRemoved until the next open.
func (s *Session) OpenWithCallbacks(ctx context.Context, added, removed func(net.Addr)) error {
	if s.destroyed.Load() {
		return newError(KindBadState, nil, "session destroyed")
	}
	if s.startErr != nil {
		return newError(KindLibraryInit, s.startErr, "failed to initialize SRT")
	}

	s.mu.Lock()
	s.opened = true
	s.onAdded, s.onRemoved = added, removed
	s.mu.Unlock()

	s.resetToken()
	s.bytes.Store(0)

	if err := s.openInternal(ctx); err != nil {
		s.mu.Lock()
		s.opened = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close tears down the accept loop, every caller and the primary socket.
// It is safe to call on a session that is not open, and more than once.
func (s *Session) Close() {
	s.mu.Lock()
	s.opened = false
	s.mu.Unlock()

	s.cancelToken()
	s.closeInternal()
}

func (s *Session) closeInternal() {
	s.regMu.Lock()
	acc := s.accept
	s.accept = nil
	if acc != nil {
		// Cancel before closing so the loop does not report the closed
		// socket as a failure.
		acc.cancel()
	}
	if s.sock.Valid() {
		s.poller.Remove(s.sock)
		s.log.Debug("closing SRT socket", "socket", s.sock)
		if err := s.tr.Close(s.sock); err != nil {
			s.log.Debug("close failed", "socket", s.sock, "error", err)
		}
		s.sock = transport.InvalidSocket
	}
	s.regMu.Unlock()

	if acc != nil {
		acc.stop()
	}

	s.regMu.Lock()
	callers := s.callers
	s.callers = nil
	s.sentHeaders = false
	s.regMu.Unlock()

	s.dropCallers(callers)
}

// Opened reports whether the session is open.
func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Socket returns the primary socket: the connected socket in caller and
// rendezvous mode, the listening socket in listener mode, or
// transport.InvalidSocket when closed.
func (s *Session) Socket() transport.SocketID {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.sock
}

// Unlock cancels blocked and future I/O until UnlockStop. Interrupted
// calls return a flushing result.
func (s *Session) Unlock() {
	s.log.Debug("waking up SRT")
	s.regMu.Lock()
	s.cancelToken()
	s.regCond.Broadcast()
	s.regMu.Unlock()
}

// UnlockStop re-enables I/O after Unlock.
func (s *Session) UnlockStop() {
	s.resetToken()
}

// Flushing reports whether I/O is currently cancelled.
func (s *Session) Flushing() bool {
	return s.token().Err() != nil
}

func (s *Session) token() context.Context {
	s.tokMu.Lock()
	defer s.tokMu.Unlock()
	return s.tok
}

func (s *Session) cancelToken() {
	s.tokMu.Lock()
	s.tokCancel()
	s.tokMu.Unlock()
}

func (s *Session) resetToken() {
	s.tokMu.Lock()
	if s.tok.Err() != nil {
		s.tok, s.tokCancel = context.WithCancel(context.Background())
	}
	s.tokMu.Unlock()
}

// ioContext derives a context that is done when parent is, or when the
// session's cancellation token fires.
func (s *Session) ioContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.token(), cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// interrupted is the result of an I/O call cut short by cancellation:
// flushing (0, nil) for the session token, the context error otherwise.
func (s *Session) interrupted(parent context.Context) (int, error) {
	if s.Flushing() {
		return 0, nil
	}
	return 0, parent.Err()
}

func (s *Session) notifyAdded(addr net.Addr) {
	s.log.Info("caller added", "addr", transport.AddrString(addr))
	s.mu.Lock()
	fn := s.onAdded
	s.mu.Unlock()
	if fn != nil {
		fn(addr)
		return
	}
	s.obs.CallerAdded(addr)
}

func (s *Session) notifyRemoved(addr net.Addr) {
	s.log.Info("caller removed", "addr", transport.AddrString(addr))
	s.mu.Lock()
	fn := s.onRemoved
	s.mu.Unlock()
	if fn != nil {
		fn(addr)
		return
	}
	s.obs.CallerRemoved(addr)
}

// fail reports a fatal error that has no synchronous consumer.
func (s *Session) fail(err error) {
	s.log.Error("fatal session error", "error", err)
	s.obs.Error(err)
}

// SetURI replaces the target URI and rebuilds the configuration from it.
func (s *Session) SetURI(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return newError(KindBadState, nil, "cannot change the URI while the SRT socket is open")
	}
	u, err := params.ParseURI(raw)
	if err != nil {
		return newError(KindBadURI, err, "invalid SRT URI scheme")
	}
	s.uri = u
	s.params = params.FromURI(u)
	s.log.Debug("set uri", "host", u.Host, "port", u.Port, "query", len(u.Query))
	return nil
}

// URI returns the target URI.
func (s *Session) URI() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uri.String()
}

// Mode returns the connection mode, ModeNone if unset.
func (s *Session) Mode() params.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.params.Mode()
	if !ok {
		s.log.Warn("failed to get mode")
		return params.ModeNone
	}
	return m
}

// SetMode sets the connection mode. Switching to listener or rendezvous
// fills in the bind address and port from the URI when they are unset.
func (s *Session) SetMode(m params.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.params.Set(params.KeyMode, m); err != nil {
		return err
	}
	s.params.Validate(s.uri)
	return nil
}

// LocalAddress returns the local bind address, empty if unset.
func (s *Session) LocalAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _ := s.params.LocalAddress()
	return a
}

// SetLocalAddress sets the local bind address.
func (s *Session) SetLocalAddress(addr string) error {
	return s.SetParam(params.KeyLocalAddress, addr)
}

// LocalPort returns the local bind port, params.DefaultPort if unset.
func (s *Session) LocalPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.params.LocalPort()
	if !ok {
		return params.DefaultPort
	}
	return p
}

// SetLocalPort sets the local bind port.
func (s *Session) SetLocalPort(port int) error {
	return s.SetParam(params.KeyLocalPort, port)
}

// SetPassphrase sets the encryption passphrase. It cannot be read back.
func (s *Session) SetPassphrase(pass string) error {
	return s.SetParam(params.KeyPassphrase, pass)
}

// KeyLength returns the crypto key length.
func (s *Session) KeyLength() params.KeyLength {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.KeyLength()
}

// SetKeyLength sets the crypto key length.
func (s *Session) SetKeyLength(k params.KeyLength) error {
	return s.SetParam(params.KeyKeyLength, int(k))
}

// PollTimeout returns how long a single readiness wait may block; a
// negative value waits indefinitely.
func (s *Session) PollTimeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.PollTimeout()
}

// SetPollTimeout sets the readiness wait timeout with millisecond
// precision. Negative values wait indefinitely.
func (s *Session) SetPollTimeout(d time.Duration) error {
	ms := int(d / time.Millisecond)
	if d < 0 {
		ms = -1
	}
	return s.SetParam(params.KeyPollTimeout, ms)
}

// Latency returns the configured SRT latency.
func (s *Session) Latency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.params.Latency()) * time.Millisecond
}

// SetLatency sets the SRT latency with millisecond precision.
func (s *Session) SetLatency(d time.Duration) error {
	return s.SetParam(params.KeyLatency, int(d/time.Millisecond))
}

// StreamID returns the stream id sent to listeners.
func (s *Session) StreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, _ := s.params.String(params.KeyStreamID)
	return id
}

// SetStreamID sets the stream id sent to listeners.
func (s *Session) SetStreamID(id string) error {
	return s.SetParam(params.KeyStreamID, id)
}

// WaitForConnection reports whether writes block until a peer is connected.
func (s *Session) WaitForConnection() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitForConnection
}

// SetWaitForConnection sets whether writes block until a peer is connected.
func (s *Session) SetWaitForConnection(v bool) {
	s.mu.Lock()
	s.waitForConnection = v
	s.mu.Unlock()
}

// Authentication reports whether inbound connections are vetted by
// Observer.CallerConnecting.
func (s *Session) Authentication() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authentication
}

// SetAuthentication enables or disables vetting of inbound connections.
func (s *Session) SetAuthentication(v bool) {
	s.mu.Lock()
	s.authentication = v
	s.mu.Unlock()
}

// AutoReconnect reports whether a broken caller or rendezvous connection
// is reopened transparently.
func (s *Session) AutoReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoReconnect
}

// SetAutoReconnect sets the reconnect policy.
func (s *Session) SetAutoReconnect(v bool) {
	s.mu.Lock()
	s.autoReconnect = v
	s.mu.Unlock()
}

// Param returns a raw configuration value by name. The passphrase is
// write-only and never returned.
func (s *Session) Param(name string) (any, bool) {
	if name == params.KeyPassphrase {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params.Get(name)
}

// SetParam sets a configuration value by name, checked against the
// option table.
func (s *Session) SetParam(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.params.Set(name, value); err != nil {
		if errors.Is(err, params.ErrUnknownOption) || errors.Is(err, params.ErrBadValue) {
			return newError(KindLibrarySettings, err, "cannot set %s", name)
		}
		return err
	}
	return nil
}
