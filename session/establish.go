package session

import (
	"context"
	"net"
	"time"

	"github.com/zsiec/srtsession/params"
	"github.com/zsiec/srtsession/transport"
)

// target is the configuration snapshot one establishment works from.
type target struct {
	mode        params.Mode
	host        string
	port        int
	localAddr   string
	localPort   int
	pollTimeout time.Duration
	passphrase  bool
	opts        []params.OptionValue
}

func (s *Session) snapshot() target {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := target{
		host:        s.uri.Host,
		port:        s.uri.PortOr(params.DefaultPort),
		pollTimeout: s.params.PollTimeout(),
		opts:        s.params.TransportOptions(),
	}
	var ok bool
	if t.mode, ok = s.params.Mode(); !ok || t.mode == params.ModeNone {
		t.mode = params.DefaultMode
	}
	t.localAddr, _ = s.params.LocalAddress()
	t.localPort, _ = s.params.LocalPort()
	pass, _ := s.params.String(params.KeyPassphrase)
	t.passphrase = pass != ""
	return t
}

// openInternal establishes the primary socket for the configured mode.
func (s *Session) openInternal(parent context.Context) error {
	ctx, stop := s.ioContext(parent)
	defer stop()

	t := s.snapshot()
	if t.host == "" {
		t.mode = params.ModeListener
		t.host = params.DefaultLocalAddress
	}

	addr, err := s.resolve(ctx, t.host, t.port)
	if err != nil {
		return err
	}

	if t.mode == params.ModeListener {
		return s.waitConnect(ctx, t)
	}
	return s.connect(ctx, t, addr)
}

func (s *Session) resolve(ctx context.Context, host string, port int) (*net.UDPAddr, error) {
	v6 := s.tr.Capabilities().IPv6
	addr, err := resolve(ctx, s.res, host, port, !v6)
	if err != nil {
		return nil, newError(KindResourceOpenRead, err, "failed to resolve host %q", host)
	}
	if !v6 && addr.IP.To4() == nil {
		return nil, newError(KindResourceOpenRead, nil, "SRT supports IPv4 only: %s", addr)
	}
	return addr, nil
}

// setCommonParams applies the options every session socket carries, then
// every configured tuning option.
func (s *Session) setCommonParams(sock transport.SocketID, t target) error {
	mandatory := []params.OptionValue{
		{Option: transport.OptSndSyn, Value: false},
		{Option: transport.OptRcvSyn, Value: false},
		{Option: transport.OptLinger, Value: 0},
		{Option: transport.OptTsbpdMode, Value: true},
		{Option: transport.OptIPv6Only, Value: 0},
	}
	for _, ov := range append(mandatory, t.opts...) {
		if str, ok := ov.Value.(string); ok && str == "" {
			continue
		}
		// The key length only means something alongside a passphrase.
		if ov.Option == transport.OptPBKeyLen && !t.passphrase {
			continue
		}
		if err := s.tr.SetOption(sock, ov.Option, ov.Value); err != nil {
			return newError(KindLibrarySettings, err, "failed to set %s", ov.Option)
		}
	}
	return nil
}

// connect starts a caller or rendezvous connection. Completion is observed
// by the data path through the primary poller.
func (s *Session) connect(ctx context.Context, t target, addr *net.UDPAddr) (err error) {
	sock, err := s.tr.Socket()
	if err != nil {
		return newError(KindLibraryInit, err, "failed to create SRT socket")
	}
	polled := false
	defer func() {
		if err == nil {
			return
		}
		if polled {
			s.poller.Remove(sock)
		}
		s.tr.Close(sock)
	}()

	if err := s.setCommonParams(sock, t); err != nil {
		return err
	}
	if err := s.tr.SetOption(sock, transport.OptSender, s.role.sender()); err != nil {
		return newError(KindLibrarySettings, err, "failed to set %s", transport.OptSender)
	}
	if err := s.tr.SetOption(sock, transport.OptRendezvous, t.mode == params.ModeRendezvous); err != nil {
		return newError(KindLibrarySettings, err, "failed to set %s", transport.OptRendezvous)
	}

	if t.localAddr != "" && t.localPort != 0 {
		bind, err := s.resolve(ctx, t.localAddr, t.localPort)
		if err != nil {
			return err
		}
		if err := s.tr.Bind(sock, bind); err != nil {
			return newError(KindResourceOpenReadWrite, err, "cannot bind to %s:%d", t.localAddr, t.localPort)
		}
	}

	if err := s.poller.Add(sock, transport.EventErr|s.role.events()); err != nil {
		return newError(KindLibrarySettings, err, "failed to add SRT socket to poller")
	}
	polled = true

	s.log.Debug("connecting", "addr", addr, "mode", t.mode)
	if err := s.tr.Connect(sock, addr); err != nil {
		return newError(KindResourceOpenRead, err, "failed to connect to %s", addr)
	}

	return s.install(ctx, sock, nil)
}

// waitConnect binds a listening socket and starts the accept loop.
func (s *Session) waitConnect(ctx context.Context, t target) (err error) {
	if t.localAddr == "" {
		t.localAddr = params.DefaultLocalAddress
	}
	bind, err := s.resolve(ctx, t.localAddr, t.localPort)
	if err != nil {
		return err
	}

	sock, err := s.tr.Socket()
	if err != nil {
		return newError(KindLibraryInit, err, "failed to create SRT socket")
	}
	polled := false
	defer func() {
		if err == nil {
			return
		}
		if polled {
			s.poller.Remove(sock)
		}
		s.tr.Close(sock)
	}()

	if err := s.setCommonParams(sock, t); err != nil {
		return err
	}
	if err := s.tr.Bind(sock, bind); err != nil {
		return newError(KindResourceOpenReadWrite, err, "cannot bind to %s:%d", t.localAddr, t.localPort)
	}
	if err := s.poller.Add(sock, transport.EventErr|transport.EventIn); err != nil {
		return newError(KindLibrarySettings, err, "failed to add SRT socket to poller")
	}
	polled = true

	// The callback goes in before listening so no handshake can slip past it.
	if err := s.tr.SetListenCallback(sock, s.listenCallback); err != nil {
		return newError(KindLibrarySettings, err, "failed to install listen callback")
	}
	if err := s.tr.Listen(sock, 1); err != nil {
		return newError(KindResourceOpenReadWrite, err, "cannot listen on bind socket")
	}

	s.log.Info("listening", "addr", bind)
	return s.install(ctx, sock, func() *acceptLoop {
		return s.startAccept(sock, t.pollTimeout)
	})
}

// install publishes sock as the primary socket, starting the accept loop if
// start is set. An establishment overtaken by Close is abandoned.
func (s *Session) install(ctx context.Context, sock transport.SocketID, start func() *acceptLoop) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	if ctx.Err() != nil || !s.Opened() {
		return newError(KindResourceOpenRead, ctx.Err(), "session closed while connecting")
	}
	s.sock = sock
	if start != nil {
		s.accept = start()
	}
	return nil
}
