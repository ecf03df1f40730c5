package element

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// readBufferSize holds the largest SRT message; 1316 bytes carries 7
// MPEG-TS packets and some deployments raise the payload size.
const readBufferSize = 1316 * 10

// queueDepth bounds the buffers in flight between the two sides.
const queueDepth = 64

// Relay pumps messages from a Source into a Sink.
type Relay struct {
	name string
	src  *Source
	sink *Sink
	log  *slog.Logger

	messages atomic.Uint64
	bytes    atomic.Uint64
}

// NewRelay creates a relay. If log is nil, slog.Default() is used.
func NewRelay(name string, src *Source, sink *Sink, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		name: name,
		src:  src,
		sink: sink,
		log:  log.With("component", "srt-relay", "relay", name),
	}
}

// Name returns the relay's name.
func (r *Relay) Name() string { return r.name }

// Source returns the reading side.
func (r *Relay) Source() *Source { return r.src }

// Sink returns the writing side.
func (r *Relay) Sink() *Sink { return r.sink }

// Counters returns the messages and bytes forwarded so far.
func (r *Relay) Counters() (messages, bytes uint64) {
	return r.messages.Load(), r.bytes.Load()
}

// Run opens both sides and forwards until the source ends, either side
// fails, or ctx is cancelled. A source that reaches end of stream is not
// an error.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.sink.Start(ctx); err != nil {
		return fmt.Errorf("relay %s: start sink: %w", r.name, err)
	}
	defer r.sink.Stop()
	if err := r.src.Start(ctx); err != nil {
		return fmt.Errorf("relay %s: start source: %w", r.name, err)
	}
	defer r.src.Stop()

	r.log.Info("relay started")
	g, ctx := errgroup.WithContext(ctx)
	queue := make(chan []byte, queueDepth)

	g.Go(func() error {
		defer close(queue)
		buf := make([]byte, readBufferSize)
		for {
			n, err := r.src.Read(ctx, buf)
			if err != nil {
				if errors.Is(err, io.EOF) || ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay %s: read: %w", r.name, err)
			}
			msg := make([]byte, n)
			copy(msg, buf[:n])
			select {
			case queue <- msg:
			case <-ctx.Done():
				return nil
			}
		}
	})

	g.Go(func() error {
		for msg := range queue {
			if _, err := r.sink.Write(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay %s: write: %w", r.name, err)
			}
			r.messages.Add(1)
			r.bytes.Add(uint64(len(msg)))
		}
		return nil
	})

	err := g.Wait()
	msgs, bytes := r.Counters()
	r.log.Info("relay stopped", "messages", msgs, "bytes", bytes, "error", err)
	return err
}
