package statsapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/srtsession/internal/certs"
)

// ServerConfig holds the configuration for Server.
type ServerConfig struct {
	Addr     string
	Cert     *certs.CertInfo
	Registry *Registry
	Log      *slog.Logger
}

// Server serves Handler over HTTPS on TCP and HTTP/3 on UDP, both on Addr.
// HTTPS responses advertise the HTTP/3 endpoint with Alt-Svc.
type Server struct {
	config ServerConfig
	log    *slog.Logger
	h3     *http3.Server
	https  *http.Server
}

// NewServer creates a Server. It returns an error if required fields are
// missing.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("statsapi: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("statsapi: Addr is required")
	}
	if config.Registry == nil {
		return nil, errors.New("statsapi: Registry is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "stats-server")

	handler := Handler(config.Registry, log)
	s := &Server{config: config, log: log}
	s.h3 = &http3.Server{
		Addr:      config.Addr,
		Handler:   handler,
		TLSConfig: http3.ConfigureTLSConfig(config.Cert.TLSConfig()),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}
	s.https = &http.Server{
		Addr:              config.Addr,
		Handler:           s.altSvc(handler),
		TLSConfig:         config.Cert.TLSConfig("h2", "http/1.1"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) altSvc(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
			s.log.Debug("alt-svc header", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled or either listener fails.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	stop := context.AfterFunc(gctx, func() {
		s.h3.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.https.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("stats API listening", "addr", s.config.Addr, "cert_hash", s.config.Cert.FingerprintBase64())

	g.Go(func() error {
		if err := s.h3.ListenAndServe(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("http3: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := s.https.ListenAndServeTLS("", "")
		if err != nil && !errors.Is(err, http.ErrServerClosed) && gctx.Err() == nil {
			return fmt.Errorf("https: %w", err)
		}
		return nil
	})
	return g.Wait()
}
