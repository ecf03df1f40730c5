package transport

import "fmt"

// RejectReason explains why a connection attempt was refused. The numeric
// values follow the SRT handshake rejection codes.
type RejectReason int

// Rejection reasons. RejectUnknown doubles as "no rejection recorded".
const (
	RejectUnknown RejectReason = iota
	RejectSystem
	RejectPeer
	RejectResource
	RejectRogue
	RejectBacklog
	RejectIPE
	RejectClose
	RejectVersion
	RejectRdvCookie
	RejectBadSecret
	RejectUnsecure
	RejectMessageAPI
	RejectCongestion
	RejectFilter
	RejectGroup
	RejectTimeout
)

var rejectNames = [...]string{
	RejectUnknown:    "unknown or erroneous",
	RejectSystem:     "error in system calls",
	RejectPeer:       "peer rejected connection",
	RejectResource:   "resource allocation failure",
	RejectRogue:      "rogue peer or incorrect parameters",
	RejectBacklog:    "listener's backlog exceeded",
	RejectIPE:        "internal program error",
	RejectClose:      "socket is being closed",
	RejectVersion:    "peer version too old",
	RejectRdvCookie:  "rendezvous-mode cookie collision",
	RejectBadSecret:  "incorrect passphrase",
	RejectUnsecure:   "password required or unexpected",
	RejectMessageAPI: "messageapi flag mismatch",
	RejectCongestion: "congestion controller type collision",
	RejectFilter:     "packet filter settings error",
	RejectGroup:      "group settings collision",
	RejectTimeout:    "connection timeout",
}

func (r RejectReason) String() string {
	if r >= 0 && int(r) < len(rejectNames) {
		return fmt.Sprintf("%s (%d)", rejectNames[r], int(r))
	}
	return fmt.Sprintf("reject reason code %d", int(r))
}

// IsAuthentication reports whether the rejection was caused by encryption
// settings (wrong or missing passphrase).
func (r RejectReason) IsAuthentication() bool {
	return r == RejectBadSecret || r == RejectUnsecure
}
