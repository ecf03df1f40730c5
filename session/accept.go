package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/zsiec/srtsession/transport"
)

// acceptLoop is a running accept goroutine.
type acceptLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the loop and waits for it to exit.
func (a *acceptLoop) stop() {
	a.cancel()
	<-a.done
}

func (s *Session) startAccept(lsock transport.SocketID, pollTimeout time.Duration) *acceptLoop {
	ctx, cancel := context.WithCancel(context.Background())
	a := &acceptLoop{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		s.acceptCallers(ctx, lsock, pollTimeout)
	}()
	return a
}

// acceptCallers accepts inbound connections into the registry. A source
// session stops after its first caller.
func (s *Session) acceptCallers(ctx context.Context, lsock transport.SocketID, pollTimeout time.Duration) {
	log := s.log.With("socket", lsock)
	for {
		if st := s.tr.State(lsock); st.Dead() {
			if ctx.Err() == nil {
				s.fail(newError(KindResourceFailed, nil, "socket is broken or closed"))
			}
			return
		}

		ready, err := s.poller.Wait(ctx, pollTimeout)
		if ctx.Err() != nil || !s.Opened() {
			return
		}
		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				continue
			}
			s.fail(newError(KindResourceFailed, err, "failed to poll socket"))
			return
		}
		if !ready.Readable(lsock) {
			continue
		}

		csock, peer, err := s.tr.Accept(lsock)
		if errors.Is(err, transport.ErrWouldBlock) {
			continue
		}
		if err != nil {
			s.fail(newError(KindResourceFailed, err, "failed to accept connection"))
			return
		}

		c, err := newCaller(s.tr, csock, peer, s.role.events())
		if err != nil {
			log.Warn("failed to add caller to poller", "addr", transport.AddrString(peer), "error", err)
			s.tr.Close(csock)
			continue
		}

		log.Debug("accepted connection", "caller", csock, "addr", transport.AddrString(peer))
		s.publish(c)
		s.notifyAdded(peer)

		if s.role == RoleSource {
			return
		}
	}
}

// listenCallback vets inbound handshakes when authentication is enabled.
func (s *Session) listenCallback(peer net.Addr, streamID string) bool {
	if !s.Authentication() {
		return true
	}
	if s.obs.CallerConnecting(peer, streamID) {
		return true
	}
	s.log.Warn("rejected caller", "addr", transport.AddrString(peer), "streamid", streamID)
	s.obs.CallerRejected(peer, streamID)
	return false
}
