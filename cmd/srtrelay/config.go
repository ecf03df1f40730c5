package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/multierr"

	"github.com/zsiec/srtsession/params"
)

const (
	transportSRT      = "srtgo"
	transportLoopback = "loopback"
)

type route struct {
	Name           string
	Source         string
	Sink           string
	KeepListening  bool
	MPEGTSHeaders  bool
	Authentication bool
}

type config struct {
	APIAddr   string
	Transport string
	Routes    []route
}

type fileRoute struct {
	Name           string `toml:"name"`
	Source         string `toml:"source"`
	Sink           string `toml:"sink"`
	KeepListening  *bool  `toml:"keep_listening"`
	MPEGTSHeaders  *bool  `toml:"mpegts_headers"`
	Authentication bool   `toml:"authentication"`
}

type fileConfig struct {
	APIAddr   string      `toml:"api_addr"`
	Transport string      `toml:"transport"`
	Routes    []fileRoute `toml:"route"`
}

// envConfig builds a single-route config from SRC_URI and SINK_URI.
func envConfig(getenv func(string) string) (config, error) {
	cfg := config{
		APIAddr:   envOr(getenv, "API_ADDR", ":4444"),
		Transport: envOr(getenv, "TRANSPORT", transportSRT),
		Routes: []route{{
			Name:          "default",
			Source:        getenv("SRC_URI"),
			Sink:          getenv("SINK_URI"),
			KeepListening: true,
			MPEGTSHeaders: true,
		}},
	}
	return cfg, cfg.validate()
}

// loadConfig reads routes from a TOML file. API_ADDR and TRANSPORT from
// the environment apply when the file leaves them unset.
func loadConfig(path string, getenv func(string) string) (config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return config{}, fmt.Errorf("load config: unknown keys %v", undecoded)
	}

	cfg := config{
		APIAddr:   envOr(getenv, "API_ADDR", ":4444"),
		Transport: envOr(getenv, "TRANSPORT", transportSRT),
	}
	if meta.IsDefined("api_addr") {
		cfg.APIAddr = strings.TrimSpace(raw.APIAddr)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.TrimSpace(raw.Transport)
	}
	for i, r := range raw.Routes {
		rt := route{
			Name:           strings.TrimSpace(r.Name),
			Source:         strings.TrimSpace(r.Source),
			Sink:           strings.TrimSpace(r.Sink),
			KeepListening:  true,
			MPEGTSHeaders:  true,
			Authentication: r.Authentication,
		}
		if rt.Name == "" {
			rt.Name = fmt.Sprintf("route-%d", i)
		}
		if r.KeepListening != nil {
			rt.KeepListening = *r.KeepListening
		}
		if r.MPEGTSHeaders != nil {
			rt.MPEGTSHeaders = *r.MPEGTSHeaders
		}
		cfg.Routes = append(cfg.Routes, rt)
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	var err error
	switch c.Transport {
	case transportSRT, transportLoopback:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown transport %q", c.Transport))
	}
	if len(c.Routes) == 0 {
		err = multierr.Append(err, errors.New("no routes configured"))
	}
	seen := make(map[string]bool, len(c.Routes))
	for _, r := range c.Routes {
		if seen[r.Name] {
			err = multierr.Append(err, fmt.Errorf("route %s: duplicate name", r.Name))
		}
		seen[r.Name] = true
		if _, perr := params.ParseURI(r.Source); perr != nil {
			err = multierr.Append(err, fmt.Errorf("route %s: source: %w", r.Name, perr))
		}
		if _, perr := params.ParseURI(r.Sink); perr != nil {
			err = multierr.Append(err, fmt.Errorf("route %s: sink: %w", r.Name, perr))
		}
	}
	return err
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
