package transport

import (
	"log/slog"
	"sync/atomic"
)

// Runtime reference-counts process-wide library state for a Provider. The
// first Acquire starts the library, the Release that drops the count back
// to zero cleans it up. Every session holds one reference for its lifetime.
type Runtime struct {
	provider Provider
	log      *slog.Logger
	refs     atomic.Int32
}

// NewRuntime wraps p. If log is nil, slog.Default() is used.
func NewRuntime(p Provider, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{
		provider: p,
		log:      log.With("component", "srt-runtime"),
	}
}

// Provider returns the wrapped transport.
func (r *Runtime) Provider() Provider { return r.provider }

// Acquire takes a reference, starting the library on the 0→1 transition.
// A failed startup is logged and the reference is still held, so the
// matching Release stays balanced.
func (r *Runtime) Acquire() error {
	if r.refs.Add(1) != 1 {
		return nil
	}
	r.log.Debug("starting up SRT")
	if err := r.provider.Startup(); err != nil {
		r.log.Warn("failed to initialize SRT", "error", err)
		return err
	}
	return nil
}

// Release drops a reference, cleaning the library up on the 1→0 transition.
func (r *Runtime) Release() error {
	for {
		n := r.refs.Load()
		if n == 0 {
			return nil
		}
		if !r.refs.CompareAndSwap(n, n-1) {
			continue
		}
		if n != 1 {
			return nil
		}
		break
	}
	r.log.Debug("cleaning up SRT")
	return r.provider.Cleanup()
}

// Refs returns the current reference count.
func (r *Runtime) Refs() int { return int(r.refs.Load()) }
