// Package element wraps sessions the way a media pipeline drives them: a
// Source that turns session reads into a byte stream with end-of-stream
// and keep-listening semantics, a Sink that forwards buffers together with
// MPEG-TS stream headers, and a Relay that pumps one into the other.
package element

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/srtsession/params"
	"github.com/zsiec/srtsession/session"
)

// ErrFlushing is returned by Read and Write while the element is unlocked.
var ErrFlushing = errors.New("element: flushing")

// Source reads from a source-role session.
type Source struct {
	sess          *session.Session
	log           *slog.Logger
	keepListening bool
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithKeepListening makes a listener-mode Source reopen and wait for the
// next caller when the current one disconnects, instead of ending the
// stream.
func WithKeepListening(v bool) SourceOption {
	return func(s *Source) { s.keepListening = v }
}

// WithSourceLogger sets the logger. If nil, slog.Default() is used.
func WithSourceLogger(log *slog.Logger) SourceOption {
	return func(s *Source) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSource wraps sess, which must have the source role.
func NewSource(sess *session.Session, opts ...SourceOption) *Source {
	s := &Source{sess: sess, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "srt-source")
	return s
}

// Session returns the wrapped session.
func (s *Source) Session() *session.Session { return s.sess }

// Start opens the session.
func (s *Source) Start(ctx context.Context) error {
	if s.sess.Role() != session.RoleSource {
		return errors.New("element: source needs a source-role session")
	}
	return s.sess.Open(ctx)
}

// Stop closes the session.
func (s *Source) Stop() { s.sess.Close() }

// Unlock interrupts a blocked Read; UnlockStop re-arms it.
func (s *Source) Unlock()     { s.sess.Unlock() }
func (s *Source) UnlockStop() { s.sess.UnlockStop() }

// Read returns the next message. A vanished peer ends the stream with
// io.EOF unless keep-listening applies.
func (s *Source) Read(ctx context.Context, p []byte) (int, error) {
	for {
		n, err := s.sess.Read(ctx, p)
		if err != nil || n > 0 {
			return n, err
		}
		if s.sess.Flushing() {
			return 0, ErrFlushing
		}
		if !s.keepListening || s.sess.Mode() != params.ModeListener {
			s.log.Info("end of stream")
			return 0, io.EOF
		}

		s.log.Info("caller disconnected, listening for the next one")
		s.sess.Close()
		s.sess.Observer().ConnectionRemoved()
		if err := s.sess.Open(ctx); err != nil {
			return 0, err
		}
	}
}
