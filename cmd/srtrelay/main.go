// Command srtrelay forwards SRT streams from a source session to a sink
// session and publishes their statistics over HTTPS, HTTP/3 and Prometheus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/srtsession/element"
	"github.com/zsiec/srtsession/internal/certs"
	"github.com/zsiec/srtsession/session"
	"github.com/zsiec/srtsession/statsapi"
	"github.com/zsiec/srtsession/transport"
	"github.com/zsiec/srtsession/transport/loopback"
	"github.com/zsiec/srtsession/transport/srt"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "TOML route file (default: SRC_URI and SINK_URI from the environment)")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := readConfig(*configPath)
	if err != nil {
		for _, e := range multierr.Errors(err) {
			slog.Error("invalid configuration", "error", e)
		}
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("relay error", "error", err)
		os.Exit(1)
	}
}

func readConfig(path string) (config, error) {
	if path == "" {
		return envConfig(os.Getenv)
	}
	return loadConfig(path, os.Getenv)
}

func newProvider(name string) transport.Provider {
	if name == transportLoopback {
		return loopback.New()
	}
	return srt.New(nil)
}

func run(ctx context.Context, cfg config) error {
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		return fmt.Errorf("generate cert: %w", err)
	}
	slog.Info("srtrelay starting",
		"version", version,
		"transport", cfg.Transport,
		"routes", len(cfg.Routes),
		"api", cfg.APIAddr,
		"expires", cert.NotAfter.Format(time.RFC3339),
	)

	rt := transport.NewRuntime(newProvider(cfg.Transport), nil)
	reg := statsapi.NewRegistry()

	relays := make([]*element.Relay, 0, len(cfg.Routes))
	defer func() {
		for _, r := range relays {
			r.Source().Session().Destroy()
			r.Sink().Session().Destroy()
		}
	}()
	for _, rc := range cfg.Routes {
		r, err := buildRelay(rt, rc)
		if err != nil {
			return err
		}
		relays = append(relays, r)
		reg.Add(rc.Name+"/source", r.Source().Session())
		reg.Add(rc.Name+"/sink", r.Sink().Session())
	}

	api, err := statsapi.NewServer(statsapi.ServerConfig{
		Addr:     cfg.APIAddr,
		Cert:     cert,
		Registry: reg,
	})
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Start(ctx) })
	for _, r := range relays {
		g.Go(func() error { return r.Run(ctx) })
	}
	return g.Wait()
}

func buildRelay(rt *transport.Runtime, rc route) (*element.Relay, error) {
	log := slog.Default().With("route", rc.Name)

	src, err := session.New(session.Config{Role: session.RoleSource, Runtime: rt, Log: log})
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", rc.Name, err)
	}
	sink, err := session.New(session.Config{Role: session.RoleSink, Runtime: rt, Log: log})
	if err != nil {
		src.Destroy()
		return nil, fmt.Errorf("route %s: %w", rc.Name, err)
	}
	if err := multierr.Combine(src.SetURI(rc.Source), sink.SetURI(rc.Sink)); err != nil {
		src.Destroy()
		sink.Destroy()
		return nil, fmt.Errorf("route %s: %w", rc.Name, err)
	}
	src.SetAuthentication(rc.Authentication)
	sink.SetAuthentication(rc.Authentication)

	var sinkOpts []element.SinkOption
	if rc.MPEGTSHeaders {
		sinkOpts = append(sinkOpts, element.WithMPEGTSHeaders())
	}
	return element.NewRelay(rc.Name,
		element.NewSource(src, element.WithKeepListening(rc.KeepListening), element.WithSourceLogger(log)),
		element.NewSink(sink, append(sinkOpts, element.WithSinkLogger(log))...),
		log,
	), nil
}
