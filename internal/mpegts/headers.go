package mpegts

import (
	"bytes"
	"slices"
)

// HeaderTracker follows the PAT and PMT packets of a transport stream.
// It is not safe for concurrent use.
type HeaderTracker struct {
	pat        []byte // raw packet
	patSection []byte
	pmtPIDs    []uint16
	pmts       map[uint16][]byte
	pmtSection map[uint16][]byte
}

// NewHeaderTracker returns an empty tracker.
func NewHeaderTracker() *HeaderTracker {
	return &HeaderTracker{
		pmts:       make(map[uint16][]byte),
		pmtSection: make(map[uint16][]byte),
	}
}

// Observe scans buf, a run of whole 188-byte packets, for PSI. It reports
// whether the table contents changed. Packets with a bad sync byte or CRC
// are ignored, as are sections that span packets.
func (h *HeaderTracker) Observe(buf []byte) bool {
	changed := false
	for off := 0; off+packetSize <= len(buf); off += packetSize {
		raw := buf[off : off+packetSize]
		p, err := parsePacket(raw)
		if err != nil || !p.Header.PayloadUnitStartIndicator || p.Header.TransportErrorIndicator {
			continue
		}
		switch {
		case p.Header.PID == pidPAT:
			changed = h.observePAT(raw, p.Payload) || changed
		case slices.Contains(h.pmtPIDs, p.Header.PID):
			changed = h.observePMT(p.Header.PID, raw, p.Payload) || changed
		}
	}
	return changed
}

func (h *HeaderTracker) observePAT(raw, payload []byte) bool {
	sections, err := splitSections(payload)
	if err != nil {
		return false
	}
	for _, s := range sections {
		if s.tableID != tableIDPAT {
			continue
		}
		pat, err := parsePATSection(s.data)
		if err != nil {
			return false
		}
		if bytes.Equal(h.patSection, s.data) {
			h.pat = bytes.Clone(raw)
			return false
		}

		h.pat = bytes.Clone(raw)
		h.patSection = bytes.Clone(s.data)
		h.pmtPIDs = h.pmtPIDs[:0]
		for _, prog := range pat.Programs {
			h.pmtPIDs = append(h.pmtPIDs, prog.ProgramMapID)
		}
		for pid := range h.pmts {
			if !slices.Contains(h.pmtPIDs, pid) {
				delete(h.pmts, pid)
				delete(h.pmtSection, pid)
			}
		}
		return true
	}
	return false
}

func (h *HeaderTracker) observePMT(pid uint16, raw, payload []byte) bool {
	sections, err := splitSections(payload)
	if err != nil {
		return false
	}
	for _, s := range sections {
		if s.tableID != tableIDPMT {
			continue
		}
		if _, err := parsePMTSection(s.data); err != nil {
			return false
		}
		h.pmts[pid] = bytes.Clone(raw)
		if bytes.Equal(h.pmtSection[pid], s.data) {
			return false
		}
		h.pmtSection[pid] = bytes.Clone(s.data)
		return true
	}
	return false
}

// Complete reports whether the PAT and every PMT it names have been seen.
func (h *HeaderTracker) Complete() bool {
	if h.pat == nil {
		return false
	}
	for _, pid := range h.pmtPIDs {
		if h.pmts[pid] == nil {
			return false
		}
	}
	return true
}

// Headers returns the latest PAT packet followed by the PMT packets in PAT
// order, or nil until the set is complete.
func (h *HeaderTracker) Headers() [][]byte {
	if !h.Complete() {
		return nil
	}
	out := [][]byte{h.pat}
	for _, pid := range h.pmtPIDs {
		out = append(out, h.pmts[pid])
	}
	return out
}

// Programs returns the PMT PIDs announced by the latest PAT.
func (h *HeaderTracker) Programs() []uint16 {
	return slices.Clone(h.pmtPIDs)
}
