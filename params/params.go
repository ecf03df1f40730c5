// Package params holds the configuration of an SRT session: the target URI
// and a typed option store populated from the URI query and from direct
// setter calls.
package params

import (
	"errors"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/zsiec/srtsession/transport"
)

// Defaults applied when neither the URI nor a setter provides a value.
const (
	DefaultURI          = "srt://127.0.0.1:7001"
	DefaultPort         = 7001
	DefaultLocalAddress = "0.0.0.0"
	DefaultPollTimeout  = 1000 * time.Millisecond
	DefaultLatency      = 125
	DefaultMode         = ModeCaller
)

// Session-level keys. Every other key is a transport tuning option.
const (
	KeyMode         = "mode"
	KeyLocalAddress = "localaddress"
	KeyLocalPort    = "localport"
	KeyPollTimeout  = "poll-timeout"
	KeyLatency      = "latency"
	KeyPassphrase   = "passphrase"
	KeyKeyLength    = "pbkeylen"
	KeyStreamID     = "streamid"
)

// Sentinel errors for option validation.
var (
	ErrUnknownOption = errors.New("params: unknown option")
	ErrBadValue      = errors.New("params: bad option value")
)

// Mode is the SRT connection mode.
type Mode int

// Connection modes.
const (
	ModeNone Mode = iota
	ModeCaller
	ModeListener
	ModeRendezvous
)

var modeNicks = map[Mode]string{
	ModeNone:       "none",
	ModeCaller:     "caller",
	ModeListener:   "listener",
	ModeRendezvous: "rendezvous",
}

func (m Mode) String() string {
	if n, ok := modeNicks[m]; ok {
		return n
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode maps a nick (caller, listener, rendezvous, none) to a Mode.
func ParseMode(nick string) (Mode, bool) {
	for m, n := range modeNicks {
		if n == nick {
			return m, true
		}
	}
	return ModeNone, false
}

// KeyLength is the crypto key length in bytes; KeyLengthNone lets the
// transport pick.
type KeyLength int

// Valid key lengths.
const (
	KeyLengthNone KeyLength = 0
	KeyLength16   KeyLength = 16
	KeyLength24   KeyLength = 24
	KeyLength32   KeyLength = 32
)

// Valid reports whether k is one of the supported lengths.
func (k KeyLength) Valid() bool {
	switch k {
	case KeyLengthNone, KeyLength16, KeyLength24, KeyLength32:
		return true
	}
	return false
}

// KindOf returns the value kind stored under name.
func KindOf(name string) (transport.Kind, bool) {
	switch name {
	case KeyMode:
		return 0, true
	case KeyLocalAddress:
		return transport.KindString, true
	case KeyLocalPort, KeyPollTimeout:
		return transport.KindInt, true
	}
	if o, ok := transport.LookupOption(name); ok {
		return o.Kind(), true
	}
	return 0, false
}

// Store maps option names to typed values. It is not safe for concurrent
// use; the owning session guards it with its object lock.
type Store struct {
	values map[string]any
}

// NewStore creates a store holding the poll-timeout and latency defaults.
func NewStore() *Store {
	return &Store{values: map[string]any{
		KeyPollTimeout: int(DefaultPollTimeout / time.Millisecond),
		KeyLatency:     DefaultLatency,
	}}
}

// Clone returns an independent copy.
func (s *Store) Clone() *Store {
	return &Store{values: maps.Clone(s.values)}
}

// Get returns the raw value stored under name.
func (s *Store) Get(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

// Has reports whether name is set.
func (s *Store) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Delete removes name.
func (s *Store) Delete(name string) { delete(s.values, name) }

// Set stores value under name after checking it against the option table.
func (s *Store) Set(name string, value any) error {
	kind, ok := KindOf(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	if name == KeyMode {
		m, ok := value.(Mode)
		if !ok || m < ModeNone || m > ModeRendezvous {
			return fmt.Errorf("%w: mode %v", ErrBadValue, value)
		}
		s.values[name] = m
		return nil
	}

	var good bool
	switch kind {
	case transport.KindInt:
		_, good = value.(int)
	case transport.KindInt64:
		_, good = value.(int64)
	case transport.KindString:
		_, good = value.(string)
	case transport.KindBool:
		_, good = value.(bool)
	}
	if !good {
		return fmt.Errorf("%w: %s wants %s, got %T", ErrBadValue, name, kind, value)
	}
	if name == KeyKeyLength && !KeyLength(value.(int)).Valid() {
		return fmt.Errorf("%w: pbkeylen %d", ErrBadValue, value)
	}
	if name == KeyLocalPort {
		if p := value.(int); p < 0 || p > 65535 {
			return fmt.Errorf("%w: localport %d", ErrBadValue, p)
		}
	}
	s.values[name] = value
	return nil
}

// SetString parses text according to the option's kind and stores it.
// Unparseable values leave the option unchanged and return ErrBadValue.
func (s *Store) SetString(name, text string) error {
	kind, ok := KindOf(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, name)
	}
	if name == KeyMode {
		m, ok := ParseMode(text)
		if !ok {
			return fmt.Errorf("%w: mode %q", ErrBadValue, text)
		}
		return s.Set(name, m)
	}

	switch kind {
	case transport.KindInt:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrBadValue, name, text, err)
		}
		return s.Set(name, int(n))
	case transport.KindInt64:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrBadValue, name, text, err)
		}
		return s.Set(name, n)
	case transport.KindBool:
		b, ok := ParseBool(text)
		if !ok {
			return fmt.Errorf("%w: %s=%q", ErrBadValue, name, text)
		}
		return s.Set(name, b)
	default:
		return s.Set(name, text)
	}
}

// ParseBool accepts 1/yes/on/true and 0/no/off/false.
func ParseBool(text string) (bool, bool) {
	switch text {
	case "1", "yes", "on", "true":
		return true, true
	case "0", "no", "off", "false":
		return false, true
	}
	return false, false
}

// Mode returns the configured connection mode.
func (s *Store) Mode() (Mode, bool) {
	m, ok := s.values[KeyMode].(Mode)
	return m, ok
}

// String returns a string option.
func (s *Store) String(name string) (string, bool) {
	v, ok := s.values[name].(string)
	return v, ok
}

// Int returns an int option.
func (s *Store) Int(name string) (int, bool) {
	v, ok := s.values[name].(int)
	return v, ok
}

// LocalAddress returns the local bind address.
func (s *Store) LocalAddress() (string, bool) { return s.String(KeyLocalAddress) }

// LocalPort returns the local bind port.
func (s *Store) LocalPort() (int, bool) { return s.Int(KeyLocalPort) }

// PollTimeout returns the readiness wait timeout; negative means infinite.
func (s *Store) PollTimeout() time.Duration {
	ms, ok := s.Int(KeyPollTimeout)
	if !ok {
		return DefaultPollTimeout
	}
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

// Latency returns the latency in milliseconds.
func (s *Store) Latency() int {
	if v, ok := s.Int(KeyLatency); ok {
		return v
	}
	return DefaultLatency
}

// KeyLength returns the crypto key length.
func (s *Store) KeyLength() KeyLength {
	if v, ok := s.Int(KeyKeyLength); ok {
		return KeyLength(v)
	}
	return KeyLengthNone
}

// TransportOptions returns every tuning option that is set, in the order
// they should be applied.
func (s *Store) TransportOptions() []OptionValue {
	var out []OptionValue
	for _, o := range transport.TuningOptions {
		if v, ok := s.values[o.String()]; ok {
			out = append(out, OptionValue{Option: o, Value: v})
		}
	}
	return out
}

// OptionValue pairs a transport option with its configured value.
type OptionValue struct {
	Option transport.Option
	Value  any
}

// Keys returns the names of all set options.
func (s *Store) Keys() []string {
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		out = append(out, k)
	}
	return out
}
