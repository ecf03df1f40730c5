package session

import (
	"context"
	"net"

	"go.uber.org/multierr"

	"github.com/zsiec/srtsession/transport"
)

// Caller is one peer accepted by a listening session.
type Caller struct {
	sock        transport.SocketID
	poller      transport.Poller
	addr        net.Addr
	sentHeaders bool
}

// Addr returns the caller's peer address.
func (c *Caller) Addr() net.Addr { return c.addr }

func newCaller(tr transport.Provider, sock transport.SocketID, addr net.Addr, ev transport.Events) (*Caller, error) {
	p, err := tr.NewPoller()
	if err != nil {
		return nil, err
	}
	if err := p.Add(sock, ev|transport.EventErr); err != nil {
		p.Close()
		return nil, err
	}
	return &Caller{sock: sock, poller: p, addr: addr}, nil
}

// close frees the caller. Its fields are never modified, so goroutines
// still holding c see a closed socket rather than a torn value.
func (c *Caller) close(tr transport.Provider) error {
	return multierr.Append(c.poller.Close(), tr.Close(c.sock))
}

// publish adds c to the registry and wakes goroutines waiting for a caller.
func (s *Session) publish(c *Caller) {
	s.regMu.Lock()
	s.callers = append(s.callers, c)
	s.regCond.Broadcast()
	s.regMu.Unlock()
}

// takeCallerLocked removes c from the registry. It reports false if c was
// already gone. Callers hold regMu.
func (s *Session) takeCallerLocked(c *Caller) bool {
	for i, x := range s.callers {
		if x == c {
			s.callers = append(s.callers[:i], s.callers[i+1:]...)
			return true
		}
	}
	return false
}

// dropCallers announces and frees callers already unlinked from the
// registry. It must be called without regMu held.
func (s *Session) dropCallers(callers []*Caller) {
	for _, c := range callers {
		s.notifyRemoved(c.addr)
		if err := c.close(s.tr); err != nil {
			s.log.Debug("closing caller", "addr", transport.AddrString(c.addr), "error", err)
		}
	}
}

// firstCaller blocks until the registry is non-empty or ctx is done.
func (s *Session) firstCaller(ctx context.Context) *Caller {
	stop := context.AfterFunc(ctx, func() {
		s.regMu.Lock()
		s.regCond.Broadcast()
		s.regMu.Unlock()
	})
	defer stop()

	s.regMu.Lock()
	defer s.regMu.Unlock()
	if len(s.callers) == 0 {
		s.log.Info("waiting for connection")
	}
	for len(s.callers) == 0 && ctx.Err() == nil {
		s.regCond.Wait()
	}
	if len(s.callers) == 0 {
		return nil
	}
	s.log.Debug("got a connection")
	return s.callers[0]
}

// CallerCount returns the number of registered callers.
func (s *Session) CallerCount() int {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return len(s.callers)
}

// CallerAddrs returns the registered callers' peer addresses.
func (s *Session) CallerAddrs() []net.Addr {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	out := make([]net.Addr, len(s.callers))
	for i, c := range s.callers {
		out[i] = c.addr
	}
	return out
}
