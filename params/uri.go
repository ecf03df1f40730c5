package params

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Scheme is the only URI scheme accepted for SRT targets.
const Scheme = "srt"

// ErrBadURI is returned for malformed or non-srt URIs.
var ErrBadURI = errors.New("params: invalid SRT URI")

// URI is a parsed srt://host:port?query target.
type URI struct {
	raw   string
	Host  string
	Port  int // -1 when absent
	Query url.Values
}

// ParseURI parses raw, which must use the srt scheme.
func ParseURI(raw string) (*URI, error) {
	if !strings.HasPrefix(raw, Scheme+"://") {
		return nil, fmt.Errorf("%w: %q", ErrBadURI, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadURI, err)
	}

	port := -1
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 65535 {
			return nil, fmt.Errorf("%w: port %q", ErrBadURI, p)
		}
		port = n
	}

	return &URI{
		raw:   raw,
		Host:  u.Hostname(),
		Port:  port,
		Query: u.Query(),
	}, nil
}

// String returns the URI as given.
func (u *URI) String() string { return u.raw }

// PortOr returns the port, or def when the URI has none.
func (u *URI) PortOr(def int) int {
	if u.Port < 0 {
		return def
	}
	return u.Port
}

// FromURI builds a Store for u: defaults, the mode inferred from the
// presence of a host, every recognized query parameter, and listener bind
// defaults. Unknown keys and unparseable values are skipped.
func FromURI(u *URI) *Store {
	s := NewStore()

	if u.Host != "" {
		s.values[KeyMode] = ModeCaller
	} else {
		s.values[KeyMode] = ModeListener
	}

	for key, vals := range u.Query {
		if len(vals) == 0 {
			continue
		}
		// Later duplicates win, like a hash table insert would.
		_ = s.SetString(key, vals[len(vals)-1])
	}

	s.Validate(u)
	return s
}

// Validate fills in the bind address and port for listener and rendezvous
// modes from the URI, falling back to the wildcard address and the
// default port.
func (s *Store) Validate(u *URI) {
	mode, _ := s.Mode()
	if mode != ModeListener && mode != ModeRendezvous {
		return
	}
	if _, ok := s.LocalAddress(); !ok {
		addr := DefaultLocalAddress
		if u != nil && u.Host != "" {
			addr = u.Host
		}
		s.values[KeyLocalAddress] = addr
	}
	if _, ok := s.LocalPort(); !ok {
		port := DefaultPort
		if u != nil {
			port = u.PortOr(DefaultPort)
		}
		s.values[KeyLocalPort] = port
	}
}
