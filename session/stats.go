package session

import (
	"github.com/zsiec/srtsession/transport"
)

// CallerStats is one registered caller's counters.
type CallerStats struct {
	transport.Stats
	Address string `json:"caller-address"`
}

// StatsReport is a statistics snapshot. Outside listener mode the primary
// socket's counters are embedded; in listener mode Callers holds one entry
// per registered caller. Exactly one of the byte totals is set, by role.
type StatsReport struct {
	*transport.Stats
	Callers            []CallerStats `json:"callers,omitempty"`
	BytesSentTotal     *uint64       `json:"bytes-sent-total,omitempty"`
	BytesReceivedTotal *uint64       `json:"bytes-received-total,omitempty"`
}

// BytesTotal returns whichever byte total the report carries.
func (r StatsReport) BytesTotal() uint64 {
	switch {
	case r.BytesSentTotal != nil:
		return *r.BytesSentTotal
	case r.BytesReceivedTotal != nil:
		return *r.BytesReceivedTotal
	}
	return 0
}

// Stats takes a snapshot. Callers whose counters cannot be read are removed
// from the registry and announced.
func (s *Session) Stats() StatsReport {
	var rep StatsReport

	s.regMu.Lock()
	if s.accept == nil && s.sock.Valid() {
		if st, err := s.tr.Stats(s.sock); err == nil {
			rep.Stats = &st
		} else {
			s.log.Debug("failed to get stats", "socket", s.sock, "error", err)
		}
	}

	var (
		kept   = make([]*Caller, 0, len(s.callers))
		failed []*Caller
	)
	for _, c := range s.callers {
		st, err := s.tr.Stats(c.sock)
		if err != nil {
			failed = append(failed, c)
			continue
		}
		kept = append(kept, c)
		rep.Callers = append(rep.Callers, CallerStats{Stats: st, Address: transport.AddrString(c.addr)})
	}
	s.callers = kept
	s.regMu.Unlock()

	s.dropCallers(failed)

	total := s.bytes.Load()
	if s.role.sender() {
		rep.BytesSentTotal = &total
	} else {
		rep.BytesReceivedTotal = &total
	}
	return rep
}

// BytesTotal returns the bytes moved since the last Open.
func (s *Session) BytesTotal() uint64 { return s.bytes.Load() }
