package srt

import (
	"fmt"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/srtsession/transport"
)

const (
	defaultLatency = 120 * time.Millisecond

	// udpIPHeader is the IPv4 plus UDP overhead SRT subtracts from the MSS
	// when converting byte-sized buffers into packet counts.
	udpIPHeader = 28

	// dataHeader is the SRT data packet header plus UDP/IP overhead.
	dataHeader = 44
)

// config builds the srtgo configuration for a socket from its stored
// options, applied in option order so byte-sized buffers see the final MSS.
func config(opts map[transport.Option]any) (srtgo.Config, error) {
	cfg := srtgo.DefaultConfig()
	for _, opt := range transport.TuningOptions {
		v, ok := opts[opt]
		if !ok {
			continue
		}
		if err := applyOption(&cfg, opt, v); err != nil {
			return cfg, err
		}
	}
	for _, opt := range []transport.Option{transport.OptSndSyn, transport.OptRcvSyn, transport.OptLinger, transport.OptSender} {
		if v, ok := opts[opt]; ok {
			if err := applyOption(&cfg, opt, v); err != nil {
				return cfg, err
			}
		}
	}
	cfg.PayloadSize = payloadSize(opts)
	return cfg, nil
}

// payloadSize is the largest message the socket carries: the configured
// payloadsize, else the live default clamped to what the MSS allows.
func payloadSize(opts map[transport.Option]any) int {
	if v, ok := opts[transport.OptPayloadSize].(int); ok && v > 0 {
		return v
	}
	mss := srtgo.DefaultMSS
	if v, ok := opts[transport.OptMSS].(int); ok && v > 0 {
		mss = v
	}
	return min(transport.DefaultPayloadSize, mss-dataHeader)
}

func latencyMs(opts map[transport.Option]any) int {
	if v, ok := opts[transport.OptLatency].(int); ok && v > 0 {
		return v
	}
	return int(defaultLatency / time.Millisecond)
}

func ptr[T any](v T) *T { return &v }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// packets converts a buffer size in bytes to srtgo's packet count.
func packets(bytes, mss int) int {
	return max(bytes/(mss-udpIPHeader), srtgo.MinBufSize)
}

// applyOption stores one option value in cfg. Options srtgo has no knob for,
// or values it cannot honour, return transport.ErrUnsupportedOption.
func applyOption(cfg *srtgo.Config, opt transport.Option, v any) error {
	unsupported := func() error {
		return fmt.Errorf("option %s=%v: %w", opt, v, transport.ErrUnsupportedOption)
	}
	switch opt {
	case transport.OptMSS:
		cfg.MSS = v.(int)
	case transport.OptFC:
		cfg.FC = v.(int)
	case transport.OptSndBuf:
		cfg.SendBufSize = packets(v.(int), cfg.MSS)
	case transport.OptRcvBuf:
		cfg.RecvBufSize = packets(v.(int), cfg.MSS)
	case transport.OptMaxBW:
		cfg.MaxBW = max(v.(int64), 0)
	case transport.OptInputBW:
		cfg.InputBW = v.(int64)
	case transport.OptOheadBW:
		cfg.OverheadBW = v.(int)
	case transport.OptLatency:
		cfg.Latency = ms(v.(int))
	case transport.OptRcvLatency:
		cfg.RecvLatency = ms(v.(int))
	case transport.OptPeerLatency:
		cfg.PeerLatency = ms(v.(int))
	case transport.OptConnTimeo:
		cfg.ConnTimeout = ms(v.(int))
	case transport.OptPeerIdleTimeo:
		cfg.PeerIdleTimeout = ms(v.(int))
	case transport.OptPassphrase:
		p := v.(string)
		if p != "" && (len(p) < 10 || len(p) > 80) {
			return fmt.Errorf("option %s: must be 10-80 bytes, got %d", opt, len(p))
		}
		cfg.Passphrase = p
	case transport.OptPBKeyLen:
		switch n := v.(int); n {
		case 0, 16, 24, 32:
			cfg.KeyLength = n
		default:
			return fmt.Errorf("option %s: must be 16, 24 or 32, got %d", opt, n)
		}
	case transport.OptKMRefreshRate:
		cfg.KMRefreshRate = uint64(max(v.(int), 0))
	case transport.OptKMPreAnnounce:
		cfg.KMPreAnnounce = uint64(max(v.(int), 0))
	case transport.OptEnforcedEncryption:
		cfg.EnforcedEncryption = ptr(v.(bool))
	case transport.OptIPTTL:
		cfg.IPTTL = v.(int)
	case transport.OptIPTOS:
		cfg.IPTOS = v.(int)
	case transport.OptSndDropDelay:
		cfg.SndDropDelay = v.(int)
	case transport.OptNAKReport:
		cfg.NAKReport = ptr(v.(bool))
	case transport.OptDriftTracer:
		cfg.DriftTracer = ptr(v.(bool))
	case transport.OptLossMaxTTL:
		cfg.LossMaxTTL = v.(int)
	case transport.OptMinVersion:
		cfg.MinVersion = uint32(max(v.(int), 0))
	case transport.OptStreamID:
		cfg.StreamID = v.(string)
	case transport.OptCongestion:
		cfg.Congestion = srtgo.CongestionType(v.(string))
	case transport.OptMessageAPI:
		cfg.MessageAPI = ptr(v.(bool))
	case transport.OptPayloadSize:
		cfg.PayloadSize = v.(int)
	case transport.OptTransType:
		switch n := srtgo.TransType(v.(int)); n {
		case srtgo.TransTypeLive, srtgo.TransTypeFile:
			cfg.TransType = n
		default:
			return unsupported()
		}
	case transport.OptIPv6Only:
		switch n := v.(int); {
		case n < 0:
			cfg.IPv6Only = nil
		default:
			cfg.IPv6Only = ptr(n != 0)
		}
	case transport.OptBindToDevice:
		cfg.BindToDevice = v.(string)
	case transport.OptPacketFilter:
		cfg.PacketFilter = v.(string)
	case transport.OptRetransmitAlgo:
		cfg.RetransmitAlgo = ptr(v.(int))
	case transport.OptLinger:
		cfg.Linger = time.Duration(v.(int)) * time.Second
	case transport.OptSender:
		cfg.Sender = ptr(v.(bool))

	// srtgo always runs live sockets with TSBPD and too-late drop.
	case transport.OptTsbpdMode, transport.OptTLPktDrop:
		if !v.(bool) {
			return unsupported()
		}

	// The adapter drives srtgo from its own goroutines and is never
	// blocking towards the caller.
	case transport.OptSndSyn, transport.OptRcvSyn:
		if v.(bool) {
			return unsupported()
		}

	// Consumed by Connect.
	case transport.OptRendezvous:

	default:
		return unsupported()
	}
	return nil
}
