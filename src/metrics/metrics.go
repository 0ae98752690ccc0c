package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	SyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "govsync_sync_total", Help: "Sync attempts by build mode and result"},
		[]string{"mode", "result"},
	)
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "govsync_sync_duration_seconds", Help: "Sync latency", Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400}},
		[]string{"mode"},
	)
	GateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "govsync_gate_decisions_total", Help: "Promotion gate decisions"},
		[]string{"decision"},
	)
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "govsync_upstream_requests_total", Help: "Upstream HTTP requests by provider and status class"},
		[]string{"provider", "status"},
	)
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "govsync_cache_entries", Help: "Entries held by each persistent cache"},
		[]string{"cache"},
	)
	SnapshotVotes = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "govsync_snapshot_votes", Help: "Votes in the served snapshot"},
	)
	SnapshotPartial = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "govsync_snapshot_partial", Help: "1 when the served snapshot is partial"},
	)
)

func init() {
	prometheus.MustRegister(SyncTotal, SyncDuration, GateDecisions, UpstreamRequests, CacheEntries, SnapshotVotes, SnapshotPartial)
}

// StatusClass collapses an HTTP status into a 2xx/4xx/5xx label.
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}
