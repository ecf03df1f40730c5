package transport

import (
	"context"
	"sync"
	"time"
)

// Signal is a broadcast wakeup. Waiters take the channel from C before
// checking their condition and block on it afterwards; Broadcast closes the
// channel so every waiter re-checks.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// C returns the channel closed by the next Broadcast.
func (s *Signal) C() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Broadcast wakes all current waiters.
func (s *Signal) Broadcast() {
	s.mu.Lock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
	s.mu.Unlock()
}

// ReadinessFunc reports the conditions a socket currently satisfies. A
// socket that no longer exists should report EventErr.
type ReadinessFunc func(SocketID) Events

// PollSet is a Poller built on a ReadinessFunc and a Signal raised by the
// provider whenever any socket's readiness may have changed. Providers
// return it from NewPoller.
type PollSet struct {
	ready ReadinessFunc
	wake  *Signal

	mu     sync.Mutex
	socks  map[SocketID]Events
	closed bool
}

// NewPollSet creates an empty PollSet.
func NewPollSet(ready ReadinessFunc, wake *Signal) *PollSet {
	return &PollSet{
		ready: ready,
		wake:  wake,
		socks: make(map[SocketID]Events),
	}
}

// Add registers s for the given events, replacing any earlier registration.
func (p *PollSet) Add(s SocketID, ev Events) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrInvalidPoller
	}
	if !s.Valid() {
		return ErrInvalidSocket
	}
	p.socks[s] = ev
	return nil
}

// Remove unregisters s. Removing an unknown socket is not an error.
func (p *PollSet) Remove(s SocketID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrInvalidPoller
	}
	delete(p.socks, s)
	return nil
}

// Close releases the set; later calls fail with ErrInvalidPoller.
func (p *PollSet) Close() error {
	p.mu.Lock()
	p.closed = true
	p.socks = nil
	p.mu.Unlock()
	p.wake.Broadcast()
	return nil
}

// Wait implements Poller.
func (p *PollSet) Wait(ctx context.Context, timeout time.Duration) (Ready, error) {
	var deadline <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	for {
		wake := p.wake.C()

		ready, err := p.scan()
		if err != nil {
			return Ready{}, err
		}
		if !ready.Empty() {
			return ready, nil
		}

		select {
		case <-wake:
		case <-deadline:
			return Ready{}, ErrTimeout
		case <-ctx.Done():
			return Ready{}, ctx.Err()
		}
	}
}

func (p *PollSet) scan() (Ready, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Ready{}, ErrInvalidPoller
	}

	var r Ready
	for s, want := range p.socks {
		have := p.ready(s)
		switch {
		case have&EventErr != 0 && want&EventErr != 0:
			r.Read = append(r.Read, s)
			r.Write = append(r.Write, s)
		default:
			if want&EventIn != 0 && have&EventIn != 0 {
				r.Read = append(r.Read, s)
			}
			if want&EventOut != 0 && have&EventOut != 0 {
				r.Write = append(r.Write, s)
			}
		}
	}
	return r, nil
}
