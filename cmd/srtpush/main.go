// Command srtpush streams an MPEG-TS file into an SRT sink session, paced
// to a fixed byte rate and looped until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsiec/srtsession/element"
	"github.com/zsiec/srtsession/internal/mpegts"
	"github.com/zsiec/srtsession/session"
	"github.com/zsiec/srtsession/transport"
	"github.com/zsiec/srtsession/transport/srt"
)

const chunkSize = mpegts.PacketSize * 7

func main() {
	fileFlag := flag.String("file", "", "MPEG-TS file to push")
	uriFlag := flag.String("uri", "srt://127.0.0.1:7001", "SRT URI of the sink session")
	rateFlag := flag.Int("bitrate", 0, "target bitrate in bits per second (default: derived from -duration)")
	durationFlag := flag.Duration("duration", time.Minute, "playback duration of the file, used to derive the rate")
	loopFlag := flag.Bool("loop", true, "restart from the beginning at end of file")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	path := *fileFlag
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintf(os.Stderr, "usage: srtpush -file stream.ts [-uri srt://host:port] [-bitrate N | -duration D]\n")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := push(ctx, path, *uriFlag, *rateFlag, *durationFlag, *loopFlag); err != nil {
		slog.Error("push failed", "error", err)
		os.Exit(1)
	}
}

func push(ctx context.Context, path, uri string, bitrate int, duration time.Duration, loop bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data)%mpegts.PacketSize != 0 {
		slog.Warn("file size is not a multiple of the TS packet size", "size", len(data))
	}
	rate, err := byteRate(len(data), bitrate, duration)
	if err != nil {
		return err
	}

	rt := transport.NewRuntime(srt.New(nil), nil)
	sess, err := session.New(session.Config{Role: session.RoleSink, Runtime: rt})
	if err != nil {
		return err
	}
	defer sess.Destroy()
	if err := sess.SetURI(uri); err != nil {
		return err
	}

	sink := element.NewSink(sess, element.WithMPEGTSHeaders())
	if err := sink.Start(ctx); err != nil {
		return err
	}
	defer sink.Stop()

	slog.Info("pushing", "file", path, "uri", uri, "bytes_per_sec", int64(rate))
	p := newPacer(rate, time.Now)
	for n := 1; ; n++ {
		if err := pushOnce(ctx, sink, data, p); err != nil {
			if errors.Is(err, element.ErrFlushing) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		slog.Info("loop complete", "loop", n, "sent", p.sent, "bytes_total", sess.BytesTotal())
		if !loop {
			return nil
		}
	}
}

func pushOnce(ctx context.Context, sink *element.Sink, data []byte, p *pacer) error {
	for off := 0; off < len(data); off += chunkSize {
		end := min(off+chunkSize, len(data))
		if _, err := sink.Write(ctx, data[off:end]); err != nil {
			return err
		}
		if d := p.advance(end - off); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
