package element

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/zsiec/srtsession/internal/mpegts"
	"github.com/zsiec/srtsession/session"
)

// Sink writes to a sink-role session. Stream headers, either set
// explicitly or captured from the MPEG-TS program tables in the payload,
// are delivered once to every new connection before any payload.
type Sink struct {
	sess *session.Session
	log  *slog.Logger

	mu      sync.Mutex
	headers [][]byte
	tracker *mpegts.HeaderTracker
}

// SinkOption configures a Sink.
type SinkOption func(*Sink)

// WithStreamHeaders sets fixed stream headers.
func WithStreamHeaders(headers ...[]byte) SinkOption {
	return func(s *Sink) { s.headers = headers }
}

// WithMPEGTSHeaders captures the latest PAT and PMT packets from the
// payload and uses them as stream headers.
func WithMPEGTSHeaders() SinkOption {
	return func(s *Sink) { s.tracker = mpegts.NewHeaderTracker() }
}

// WithSinkLogger sets the logger. If nil, slog.Default() is used.
func WithSinkLogger(log *slog.Logger) SinkOption {
	return func(s *Sink) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSink wraps sess, which must have the sink role.
func NewSink(sess *session.Session, opts ...SinkOption) *Sink {
	s := &Sink{sess: sess, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "srt-sink")
	return s
}

// Session returns the wrapped session.
func (s *Sink) Session() *session.Session { return s.sess }

// Start opens the session.
func (s *Sink) Start(ctx context.Context) error {
	if s.sess.Role() != session.RoleSink {
		return errors.New("element: sink needs a sink-role session")
	}
	return s.sess.Open(ctx)
}

// Stop closes the session.
func (s *Sink) Stop() { s.sess.Close() }

// Unlock interrupts a blocked Write; UnlockStop re-arms it.
func (s *Sink) Unlock()     { s.sess.Unlock() }
func (s *Sink) UnlockStop() { s.sess.UnlockStop() }

// StreamHeaders returns the headers new connections receive.
func (s *Sink) StreamHeaders() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.headers
}

// Write sends p.
func (s *Sink) Write(ctx context.Context, p []byte) (int, error) {
	s.mu.Lock()
	if s.tracker != nil && s.tracker.Observe(p) && s.tracker.Complete() {
		s.headers = s.tracker.Headers()
		s.log.Debug("stream headers updated", "packets", len(s.headers))
	}
	headers := s.headers
	s.mu.Unlock()

	n, err := s.sess.Write(ctx, headers, p)
	if err == nil && n == 0 && len(p) > 0 && s.sess.Flushing() {
		return 0, ErrFlushing
	}
	return n, err
}
