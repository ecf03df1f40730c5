package statsapi

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/zsiec/srtsession/session"
	"github.com/zsiec/srtsession/transport"
)

const namespace = "srt"

// Collector exports the registry's sessions as Prometheus metrics. A
// listener session reports the sum over its callers, with the largest RTT.
type Collector struct {
	reg *Registry

	bytes         *prometheus.Desc
	packetsSent   *prometheus.Desc
	packetsRecv   *prometheus.Desc
	packetsLost   *prometheus.Desc
	retransmitted *prometheus.Desc
	rtt           *prometheus.Desc
	callers       *prometheus.Desc
	open          *prometheus.Desc
}

// NewCollector creates a collector over reg.
func NewCollector(reg *Registry) *Collector {
	labels := []string{"session", "name", "role"}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "session", name), help, labels, nil)
	}
	return &Collector{
		reg:           reg,
		bytes:         desc("bytes_total", "Payload bytes moved since the session was opened."),
		packetsSent:   desc("packets_sent_total", "Data packets sent."),
		packetsRecv:   desc("packets_received_total", "Data packets received."),
		packetsLost:   desc("packets_lost_total", "Data packets reported lost in either direction."),
		retransmitted: desc("packets_retransmitted_total", "Data packets retransmitted."),
		rtt:           desc("rtt_seconds", "Smoothed round-trip time."),
		callers:       desc("callers", "Callers connected to a listener session."),
		open:          desc("open", "1 while the session is open."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.bytes, c.packetsSent, c.packetsRecv, c.packetsLost,
		c.retransmitted, c.rtt, c.callers, c.open,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, e := range c.reg.snapshotEntries() {
		rep := e.src.Stats()
		labels := []string{e.id, e.name, e.src.Role().String()}
		agg := aggregate(rep)

		open := 0.0
		if e.src.Opened() {
			open = 1
		}

		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(rep.BytesTotal()), labels...)
		ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(agg.PacketsSent), labels...)
		ch <- prometheus.MustNewConstMetric(c.packetsRecv, prometheus.CounterValue, float64(agg.PacketsReceived), labels...)
		ch <- prometheus.MustNewConstMetric(c.packetsLost, prometheus.CounterValue,
			float64(agg.PacketsSentLost+agg.PacketsReceivedLost), labels...)
		ch <- prometheus.MustNewConstMetric(c.retransmitted, prometheus.CounterValue, float64(agg.PacketsRetransmitted), labels...)
		ch <- prometheus.MustNewConstMetric(c.rtt, prometheus.GaugeValue, agg.RTTMs/1000, labels...)
		ch <- prometheus.MustNewConstMetric(c.callers, prometheus.GaugeValue, float64(len(rep.Callers)), labels...)
		ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, open, labels...)
	}
}

// aggregate folds a report into one set of counters.
func aggregate(rep session.StatsReport) transport.Stats {
	if rep.Stats != nil {
		return *rep.Stats
	}
	var sum transport.Stats
	for _, cs := range rep.Callers {
		sum.PacketsSent += cs.PacketsSent
		sum.PacketsReceived += cs.PacketsReceived
		sum.PacketsSentLost += cs.PacketsSentLost
		sum.PacketsReceivedLost += cs.PacketsReceivedLost
		sum.PacketsRetransmitted += cs.PacketsRetransmitted
		sum.RTTMs = max(sum.RTTMs, cs.RTTMs)
	}
	return sum
}

var _ prometheus.Collector = (*Collector)(nil)
