// Package metrics exposes the §6.2 observable counters as Prometheus
// metrics, scraped via GET /metrics (§4.14). pkg/host.Host.Snapshot is the
// source of truth for a point-in-time read (e.g. GET /api/v1/status); these
// gauges/counters mirror the same numbers for scraping.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BeaconsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posehost_beacons_sent_total",
		Help: "Discovery beacons broadcast.",
	})

	SessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posehost_sessions_opened_total",
		Help: "Sessions accepted, regardless of authentication outcome.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "posehost_sessions_closed_total",
		Help: "Sessions closed, labeled by close reason.",
	}, []string{"reason"})

	BytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posehost_bytes_in_total",
		Help: "Bytes received from mobile devices across all closed sessions.",
	})

	BytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posehost_bytes_out_total",
		Help: "Bytes sent to mobile devices across all closed sessions.",
	})

	BadMagic = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posehost_bad_magic_total",
		Help: "Messages rejected for a malformed magic preamble.",
	})

	UnknownType = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posehost_unknown_type_total",
		Help: "Messages skipped for an unrecognized msg_type.",
	})

	VersionMismatch = promauto.NewCounter(prometheus.CounterOpts{
		Name: "posehost_version_mismatch_total",
		Help: "Sessions rejected for a HELLO version outside [min,max].",
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "posehost_active_sessions",
		Help: "1 if a session is currently Connected, else 0 (at most one by design).",
	})
)
