package main

import (
	"errors"
	"time"
)

// byteRate picks the send rate in bytes per second: an explicit bitrate
// wins, otherwise the file is spread over duration.
func byteRate(size, bitrate int, duration time.Duration) (float64, error) {
	switch {
	case bitrate > 0:
		return float64(bitrate) / 8, nil
	case duration > 0 && size > 0:
		return float64(size) / duration.Seconds(), nil
	}
	return 0, errors.New("need a positive -bitrate or -duration and a non-empty file")
}

// pacer tracks bytes against one global clock, so timing stays continuous
// across loop boundaries.
type pacer struct {
	rate  float64
	now   func() time.Time
	start time.Time
	sent  int64
}

func newPacer(rate float64, now func() time.Time) *pacer {
	return &pacer{rate: rate, now: now, start: now()}
}

// advance records n sent bytes and returns how long to wait before the
// next send.
func (p *pacer) advance(n int) time.Duration {
	p.sent += int64(n)
	due := time.Duration(float64(p.sent) / p.rate * float64(time.Second))
	return due - p.now().Sub(p.start)
}
