package transport

import "fmt"

// Kind is the value type of a socket option.
type Kind int

// Option value kinds. KindInt values are Go ints, KindInt64 values int64.
const (
	KindInt Kind = iota + 1
	KindInt64
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindInt64:
		return "int64"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Option identifies a socket option.
type Option int

// Tuning options that can be set by name from configuration.
const (
	OptMSS Option = iota + 1
	OptFC
	OptSndBuf
	OptRcvBuf
	OptMaxBW
	OptTsbpdMode
	OptLatency
	OptInputBW
	OptOheadBW
	OptPassphrase
	OptPBKeyLen
	OptIPTTL
	OptIPTOS
	OptTLPktDrop
	OptSndDropDelay
	OptNAKReport
	OptConnTimeo
	OptDriftTracer
	OptLossMaxTTL
	OptRcvLatency
	OptPeerLatency
	OptMinVersion
	OptStreamID
	OptCongestion
	OptMessageAPI
	OptPayloadSize
	OptTransType
	OptKMRefreshRate
	OptKMPreAnnounce
	OptEnforcedEncryption
	OptIPv6Only
	OptPeerIdleTimeo
	OptBindToDevice
	OptPacketFilter
	OptRetransmitAlgo

	// Options the session sets itself; not settable by name.
	OptSndSyn
	OptRcvSyn
	OptLinger
	OptSender
	OptRendezvous
)

type optionInfo struct {
	name string
	kind Kind
}

var options = map[Option]optionInfo{
	OptMSS:                {"mss", KindInt},
	OptFC:                 {"fc", KindInt},
	OptSndBuf:             {"sndbuf", KindInt},
	OptRcvBuf:             {"rcvbuf", KindInt},
	OptMaxBW:              {"maxbw", KindInt64},
	OptTsbpdMode:          {"tsbpdmode", KindBool},
	OptLatency:            {"latency", KindInt},
	OptInputBW:            {"inputbw", KindInt64},
	OptOheadBW:            {"oheadbw", KindInt},
	OptPassphrase:         {"passphrase", KindString},
	OptPBKeyLen:           {"pbkeylen", KindInt},
	OptIPTTL:              {"ipttl", KindInt},
	OptIPTOS:              {"iptos", KindInt},
	OptTLPktDrop:          {"tlpktdrop", KindBool},
	OptSndDropDelay:       {"snddropdelay", KindInt},
	OptNAKReport:          {"nakreport", KindBool},
	OptConnTimeo:          {"conntimeo", KindInt},
	OptDriftTracer:        {"drifttracer", KindBool},
	OptLossMaxTTL:         {"lossmaxttl", KindInt},
	OptRcvLatency:         {"rcvlatency", KindInt},
	OptPeerLatency:        {"peerlatency", KindInt},
	OptMinVersion:         {"minversion", KindInt},
	OptStreamID:           {"streamid", KindString},
	OptCongestion:         {"congestion", KindString},
	OptMessageAPI:         {"messageapi", KindBool},
	OptPayloadSize:        {"payloadsize", KindInt},
	OptTransType:          {"transtype", KindInt},
	OptKMRefreshRate:      {"kmrefreshrate", KindInt},
	OptKMPreAnnounce:      {"kmpreannounce", KindInt},
	OptEnforcedEncryption: {"enforcedencryption", KindBool},
	OptIPv6Only:           {"ipv6only", KindInt},
	OptPeerIdleTimeo:      {"peeridletimeo", KindInt},
	OptBindToDevice:       {"bindtodevice", KindString},
	OptPacketFilter:       {"packetfilter", KindString},
	OptRetransmitAlgo:     {"retransmitalgo", KindInt},

	OptSndSyn:     {"sndsyn", KindBool},
	OptRcvSyn:     {"rcvsyn", KindBool},
	OptLinger:     {"linger", KindInt},
	OptSender:     {"sender", KindBool},
	OptRendezvous: {"rendezvous", KindBool},
}

// TuningOptions lists the options settable by name, in the order they are
// applied to a new socket.
var TuningOptions = func() []Option {
	out := make([]Option, 0, OptRetransmitAlgo)
	for o := OptMSS; o <= OptRetransmitAlgo; o++ {
		out = append(out, o)
	}
	return out
}()

var byName = func() map[string]Option {
	m := make(map[string]Option, len(TuningOptions))
	for _, o := range TuningOptions {
		m[options[o].name] = o
	}
	return m
}()

// LookupOption returns the tuning option with the given name.
func LookupOption(name string) (Option, bool) {
	o, ok := byName[name]
	return o, ok
}

func (o Option) String() string {
	if info, ok := options[o]; ok {
		return info.name
	}
	return fmt.Sprintf("option(%d)", int(o))
}

// Kind returns the value type the option carries.
func (o Option) Kind() Kind {
	return options[o].kind
}

// CheckValue verifies that v has the Go type matching the option's kind.
func CheckValue(o Option, v any) error {
	var ok bool
	switch o.Kind() {
	case KindInt:
		_, ok = v.(int)
	case KindInt64:
		_, ok = v.(int64)
	case KindString:
		_, ok = v.(string)
	case KindBool:
		_, ok = v.(bool)
	}
	if !ok {
		return fmt.Errorf("option %s has unsupported type %T (want %s)", o, v, o.Kind())
	}
	return nil
}

// DefaultPayloadSize is the SRT live-mode maximum payload per message:
// seven 188-byte MPEG-TS packets.
const DefaultPayloadSize = 1316
