package transport

// Stats is a snapshot of one socket's transport counters. Field tags use the
// names SRT tooling reports them under.
type Stats struct {
	PacketsSent          int64   `json:"packets-sent"`
	PacketsSentLost      int     `json:"packets-sent-lost"`
	PacketsRetransmitted int     `json:"packets-retransmitted"`
	PacketAckReceived    int     `json:"packet-ack-received"`
	PacketNackReceived   int     `json:"packet-nack-received"`
	SendDurationUs       int64   `json:"send-duration-us"`
	BytesSent            uint64  `json:"bytes-sent"`
	BytesRetransmitted   uint64  `json:"bytes-retransmitted"`
	BytesSentDropped     uint64  `json:"bytes-sent-dropped"`
	PacketsSentDropped   int     `json:"packets-sent-dropped"`
	SendRateMbps         float64 `json:"send-rate-mbps"`
	SendLatencyMs        int     `json:"send-latency-ms"`

	PacketsReceived              int64   `json:"packets-received"`
	PacketsReceivedLost          int     `json:"packets-received-lost"`
	PacketsReceivedRetransmitted int     `json:"packets-received-retransmitted"`
	PacketsReceivedDropped       int     `json:"packets-received-dropped"`
	PacketAckSent                int     `json:"packet-ack-sent"`
	PacketNackSent               int     `json:"packet-nack-sent"`
	BytesReceived                uint64  `json:"bytes-received"`
	BytesReceivedLost            uint64  `json:"bytes-received-lost"`
	ReceiveRateMbps              float64 `json:"receive-rate-mbps"`
	ReceiveLatencyMs             int     `json:"receive-latency-ms"`

	BandwidthMbps float64 `json:"bandwidth-mbps"`
	RTTMs         float64 `json:"rtt-ms"`
}

// NegotiatedLatencyMs returns the TSBPD delay for the direction the socket
// carries data in.
func (s Stats) NegotiatedLatencyMs(sender bool) int {
	if sender {
		return s.SendLatencyMs
	}
	return s.ReceiveLatencyMs
}
