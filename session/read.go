package session

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/srtsession/params"
	"github.com/zsiec/srtsession/transport"
)

// ioPolicy is the per-call snapshot of the flags that steer the data path.
type ioPolicy struct {
	mode              params.Mode
	pollTimeout       time.Duration
	waitForConnection bool
	autoReconnect     bool
}

func (s *Session) policy() ioPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.params.Mode()
	if !ok || m == params.ModeNone {
		m = params.DefaultMode
	}
	if s.uri.Host == "" {
		m = params.ModeListener
	}
	return ioPolicy{
		mode:              m,
		pollTimeout:       s.params.PollTimeout(),
		waitForConnection: s.waitForConnection,
		autoReconnect:     s.autoReconnect,
	}
}

// rejectError classifies a socket reported in both readiness lists.
func rejectError(r transport.RejectReason, kind Kind) error {
	if r.IsAuthentication() {
		return newError(KindNotAuthorized, nil, "failed to authenticate: %s", r)
	}
	return newError(kind, nil, "error on SRT socket: %s", r)
}

// brokenError describes a dead socket, surfacing authentication failures
// that closed it.
func (s *Session) brokenError(sock transport.SocketID, kind Kind) error {
	if r := s.tr.RejectReason(sock); r.IsAuthentication() {
		return newError(KindNotAuthorized, nil, "failed to authenticate: %s", r)
	}
	return newError(kind, nil, "socket is broken or closed")
}

// errCallerGone is the cause recorded when a listener-mode read finds its
// caller disconnected.
var errCallerGone = errors.New("caller disconnected")

// markGone records errCallerGone as the cause of a dead caller socket's
// error. Authentication failures keep their own kind.
func markGone(listener bool, err error) error {
	var e *Error
	if listener && errors.As(err, &e) && e.Kind != KindNotAuthorized && e.Err == nil {
		e.Err = errCallerGone
	}
	return err
}

// reconnectable reports whether err may be cured by reopening.
func reconnectable(err error) bool {
	return !errors.Is(err, ErrNotAuthorized)
}

// Read receives one message into buf. It returns (0, nil) when the session
// is flushing or, in listener mode, when the caller has gone away; the
// owner treats that as end of stream. Other listener-mode failures, such as
// a poll error or a rejected passphrase, are returned. Cancelling ctx
// returns ctx.Err().
func (s *Session) Read(parent context.Context, buf []byte) (int, error) {
	if s.role != RoleSource {
		return 0, newError(KindBadState, nil, "read on a %s session", s.role)
	}
	p := s.policy()
	ctx, stop := s.ioContext(parent)
	defer stop()

	for {
		n, err := s.readOnce(ctx, p, buf)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return s.interrupted(parent)
		}
		if p.mode == params.ModeListener {
			if !errors.Is(err, errCallerGone) {
				return 0, err
			}
			s.log.Warn("caller has disappeared", "error", err)
			return 0, nil
		}
		if !p.autoReconnect || !reconnectable(err) {
			return 0, err
		}

		s.log.Warn("error receiving, reconnecting", "error", err)
		s.closeInternal()
		if err := s.openInternal(ctx); err != nil {
			if ctx.Err() != nil {
				return s.interrupted(parent)
			}
			return 0, err
		}
	}
}

func (s *Session) readOnce(ctx context.Context, p ioPolicy, buf []byte) (int, error) {
	var (
		sock     transport.SocketID
		poller   transport.Poller
		listener = p.mode == params.ModeListener
	)
	if listener {
		c := s.firstCaller(ctx)
		if c == nil {
			return 0, ctx.Err()
		}
		sock, poller = c.sock, c.poller
	} else {
		s.regMu.Lock()
		sock = s.sock
		s.regMu.Unlock()
		poller = s.poller
	}

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if s.tr.State(sock).Dead() {
			return 0, markGone(listener, s.brokenError(sock, KindResourceRead))
		}

		ready, err := poller.Wait(ctx, p.pollTimeout)
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			return 0, newError(KindResourceRead, err, "failed to poll socket")
		}
		if !ready.Readable(sock) {
			continue
		}
		if ready.Writable(sock) {
			return 0, markGone(listener, rejectError(s.tr.RejectReason(sock), KindResourceRead))
		}

		n, err := s.tr.Recv(sock, buf)
		if errors.Is(err, transport.ErrWouldBlock) {
			continue
		}
		if listener && errors.Is(err, transport.ErrConnectionLost) {
			return 0, newError(KindResourceRead, errCallerGone, "failed to receive from SRT socket: %v", err)
		}
		if err != nil {
			return 0, newError(KindResourceRead, err, "failed to receive from SRT socket")
		}
		s.bytes.Add(uint64(n))
		return n, nil
	}
}
