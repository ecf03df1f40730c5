// Package transport defines the socket-level surface the SRT session manager
// drives. A Provider exposes SRT-style primitives (create, bind, listen,
// accept, connect, message send/receive, readiness polling, socket state,
// options, statistics) without taking a position on how the reliable-UDP
// protocol itself is implemented.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// SocketID identifies a socket within a Provider.
type SocketID int32

// InvalidSocket is the "none" sentinel for socket handles.
const InvalidSocket SocketID = -1

// Valid reports whether the handle refers to a socket.
func (s SocketID) Valid() bool { return s != InvalidSocket }

// Sentinel errors returned by providers. Callers match them with errors.Is.
var (
	ErrTimeout           = errors.New("transport: poll timeout")
	ErrWouldBlock        = errors.New("transport: operation would block")
	ErrInvalidSocket     = errors.New("transport: invalid socket")
	ErrInvalidPoller     = errors.New("transport: invalid poller")
	ErrNotConnected      = errors.New("transport: socket not connected")
	ErrConnectionLost    = errors.New("transport: connection lost")
	ErrAddrInUse         = errors.New("transport: address already in use")
	ErrUnsupportedOption = errors.New("transport: option not supported")
	ErrNotStarted        = errors.New("transport: library not started")
)

// SockState is the lifecycle state of a socket.
type SockState int

// Socket states, in the order a socket normally passes through them.
const (
	StateInit SockState = iota + 1
	StateOpened
	StateListening
	StateConnecting
	StateConnected
	StateBroken
	StateClosing
	StateClosed
	StateNonExist
)

var stateNames = map[SockState]string{
	StateInit:       "init",
	StateOpened:     "opened",
	StateListening:  "listening",
	StateConnecting: "connecting",
	StateConnected:  "connected",
	StateBroken:     "broken",
	StateClosing:    "closing",
	StateClosed:     "closed",
	StateNonExist:   "nonexist",
}

func (s SockState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Dead reports whether the socket can no longer transfer data.
func (s SockState) Dead() bool {
	switch s {
	case StateBroken, StateClosing, StateClosed, StateNonExist:
		return true
	}
	return false
}

// Events is a bit set of readiness conditions.
type Events uint8

// Readiness conditions a Poller can watch for.
const (
	EventIn Events = 1 << iota
	EventOut
	EventErr
)

// Ready is the result of a Poller wait. A socket in an error condition is
// reported in both lists.
type Ready struct {
	Read  []SocketID
	Write []SocketID
}

// Empty reports whether no socket is ready.
func (r Ready) Empty() bool { return len(r.Read) == 0 && len(r.Write) == 0 }

// Readable reports whether s is in the read list.
func (r Ready) Readable(s SocketID) bool { return contains(r.Read, s) }

// Writable reports whether s is in the write list.
func (r Ready) Writable(s SocketID) bool { return contains(r.Write, s) }

func contains(ids []SocketID, s SocketID) bool {
	for _, id := range ids {
		if id == s {
			return true
		}
	}
	return false
}

// ListenCallback is consulted during the handshake of every inbound
// connection on a listening socket. Returning false refuses the connection
// at the protocol level; it is never delivered to Accept.
type ListenCallback func(peer net.Addr, streamID string) bool

// Capabilities describes optional features of a Provider.
type Capabilities struct {
	// IPv6 is false for transports that only carry IPv4.
	IPv6 bool
}

// Provider is the transport library as seen by the session manager.
// Every method is safe for concurrent use.
type Provider interface {
	// Startup and Cleanup bracket all other use of the library.
	Startup() error
	Cleanup() error

	Capabilities() Capabilities

	Socket() (SocketID, error)
	Close(s SocketID) error

	SetOption(s SocketID, opt Option, value any) error
	Option(s SocketID, opt Option) (any, error)

	Bind(s SocketID, addr *net.UDPAddr) error
	Listen(s SocketID, backlog int) error
	SetListenCallback(s SocketID, fn ListenCallback) error
	// Connect starts a non-blocking connection attempt. Completion is
	// observed through State and a Poller.
	Connect(s SocketID, addr *net.UDPAddr) error
	Accept(s SocketID) (SocketID, net.Addr, error)

	// Send and Recv transfer exactly one message. They return
	// ErrWouldBlock when nothing can be transferred right now.
	Send(s SocketID, msg []byte) (int, error)
	Recv(s SocketID, buf []byte) (int, error)

	State(s SocketID) SockState
	RejectReason(s SocketID) RejectReason
	Stats(s SocketID) (Stats, error)

	NewPoller() (Poller, error)
}

// Poller is a readiness multiplexer over sockets of one Provider.
type Poller interface {
	Add(s SocketID, ev Events) error
	Remove(s SocketID) error
	// Wait blocks until at least one registered socket is ready, the
	// timeout elapses (ErrTimeout) or ctx is done (ctx.Err()). A negative
	// timeout waits indefinitely.
	Wait(ctx context.Context, timeout time.Duration) (Ready, error)
	Close() error
}

// AddrString formats a possibly nil peer address.
func AddrString(a net.Addr) string {
	if a == nil {
		return "unknown"
	}
	return a.String()
}
