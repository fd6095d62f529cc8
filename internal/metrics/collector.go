package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RuntimeStats exposes live server state to the collector.
type RuntimeStats interface {
	ActiveSessions() int // open WebSocket sessions
	InFlight() int       // pipelines currently running
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	stats RuntimeStats

	activeSessions *prometheus.Desc
	inFlight       *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// stats may be nil (metrics will report 0).
func NewCollector(stats RuntimeStats) *Collector {
	return &Collector{
		stats: stats,
		activeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ws", "sessions_active"),
			"Current number of open WebSocket sessions.",
			nil, nil,
		),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pipeline", "in_flight"),
			"Transcription pipelines currently running.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessions
	ch <- c.inFlight
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var sessions, inflight float64
	if c.stats != nil {
		sessions = float64(c.stats.ActiveSessions())
		inflight = float64(c.stats.InFlight())
	}
	ch <- prometheus.MustNewConstMetric(c.activeSessions, prometheus.GaugeValue, sessions)
	ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, inflight)
}
