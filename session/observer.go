package session

import (
	"net"
	"sync"
)

// Observer receives session notifications. Methods are called from the
// accept loop and from I/O goroutines, never while the caller registry
// lock is held.
type Observer interface {
	// CallerAdded fires after an accepted caller is published.
	CallerAdded(addr net.Addr)
	// CallerRemoved fires once per caller, before its socket is closed.
	CallerRemoved(addr net.Addr)
	// CallerRejected fires when authentication refuses a connection.
	CallerRejected(addr net.Addr, streamID string)
	// CallerConnecting decides whether an inbound connection is accepted.
	// It is only consulted when authentication is enabled.
	CallerConnecting(addr net.Addr, streamID string) bool
	// ConnectionRemoved fires once per keep-listening reopen cycle.
	ConnectionRemoved()
	// Error receives fatal errors that have no other consumer, such as an
	// accept loop failure.
	Error(err error)
}

// NopObserver accepts every connection and ignores all notifications.
type NopObserver struct{}

func (NopObserver) CallerAdded(net.Addr)                   {}
func (NopObserver) CallerRemoved(net.Addr)                 {}
func (NopObserver) CallerRejected(net.Addr, string)        {}
func (NopObserver) CallerConnecting(net.Addr, string) bool { return true }
func (NopObserver) ConnectionRemoved()                     {}
func (NopObserver) Error(error)                            {}

// EventType names a recorded notification.
type EventType string

// Recorded notification types.
const (
	EventCallerAdded       EventType = "caller-added"
	EventCallerRemoved     EventType = "caller-removed"
	EventCallerRejected    EventType = "caller-rejected"
	EventCallerConnecting  EventType = "caller-connecting"
	EventConnectionRemoved EventType = "connection-removed"
	EventError             EventType = "error"
)

// Event is one recorded notification.
type Event struct {
	Type     EventType
	Addr     string
	StreamID string
	Err      error
}

// EventLog is an Observer that records every notification. Authorize, if
// set, decides CallerConnecting; otherwise every connection is accepted.
type EventLog struct {
	Authorize func(addr net.Addr, streamID string) bool

	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func (l *EventLog) record(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	if l.notify != nil {
		close(l.notify)
		l.notify = nil
	}
	l.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Count returns how many events of type t were recorded.
func (l *EventLog) Count(t EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// Changed returns a channel closed by the next recorded event.
func (l *EventLog) Changed() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.notify == nil {
		l.notify = make(chan struct{})
	}
	return l.notify
}

func (l *EventLog) CallerAdded(addr net.Addr) {
	l.record(Event{Type: EventCallerAdded, Addr: addrString(addr)})
}

func (l *EventLog) CallerRemoved(addr net.Addr) {
	l.record(Event{Type: EventCallerRemoved, Addr: addrString(addr)})
}

func (l *EventLog) CallerRejected(addr net.Addr, streamID string) {
	l.record(Event{Type: EventCallerRejected, Addr: addrString(addr), StreamID: streamID})
}

func (l *EventLog) CallerConnecting(addr net.Addr, streamID string) bool {
	l.record(Event{Type: EventCallerConnecting, Addr: addrString(addr), StreamID: streamID})
	if l.Authorize == nil {
		return true
	}
	return l.Authorize(addr, streamID)
}

func (l *EventLog) ConnectionRemoved() {
	l.record(Event{Type: EventConnectionRemoved})
}

func (l *EventLog) Error(err error) {
	l.record(Event{Type: EventError, Err: err})
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
