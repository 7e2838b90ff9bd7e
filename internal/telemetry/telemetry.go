// Package telemetry sets up structured logging and the Prometheus
// counters surfaced through Agent.Status (spec §4.8, §7 AMBIENT).
// Grounded on the teacher's per-package logrus.New() idiom and on
// Pricilla's metrics.Metrics (Pricilla/internal/metrics/prometheus.go)
// for grouping related counters/gauges into one struct created once at
// startup.
package telemetry

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// NewLogger builds a logrus.Logger at the given level, text-formatted
// with timestamps, matching the teacher's console-first logging style.
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// Metrics groups every counter/gauge the agent exposes, registered once
// at startup (spec §4.8 Status: counters, buffer depths, bytes in/out).
type Metrics struct {
	SamplesCollected  *prometheus.CounterVec
	SamplesUploaded   prometheus.Counter
	LapsCollected     prometheus.Counter
	LapsValid         prometheus.Counter
	LapsInvalid       *prometheus.CounterVec
	LapsUploaded      prometheus.Counter
	LapsFailed        prometheus.Counter
	BytesOut          prometheus.Counter
	RetryAttempts     prometheus.Counter
	BufferDropped     prometheus.Counter
	SourceUnavailable prometheus.Counter
}

// NewMetrics registers a fresh Metrics set against reg. Tests and
// replay runs should pass a dedicated prometheus.NewRegistry() to avoid
// collisions with the process-wide default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SamplesCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herbie_samples_collected_total",
			Help: "Physics and scoring samples collected, by stream.",
		}, []string{"stream"}),
		SamplesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_samples_uploaded_total",
			Help: "Samples accepted by the remote backend.",
		}),
		LapsCollected: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_laps_collected_total",
			Help: "Laps sealed by the Lifecycle Manager.",
		}),
		LapsValid: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_laps_valid_total",
			Help: "Laps that passed validation.",
		}),
		LapsInvalid: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "herbie_laps_invalid_total",
			Help: "Laps rejected by validation, by reason.",
		}, []string{"reason"}),
		LapsUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_laps_uploaded_total",
			Help: "Laps fully uploaded to the remote backend.",
		}),
		LapsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_laps_failed_total",
			Help: "Laps that exhausted retries during upload.",
		}),
		BytesOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_bytes_out_total",
			Help: "Approximate bytes sent to the remote backend.",
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_retry_attempts_total",
			Help: "Upload step retry attempts.",
		}),
		BufferDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_buffer_dropped_total",
			Help: "Samples dropped by batch buffer or lap input backpressure.",
		}),
		SourceUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Name: "herbie_source_unavailable_total",
			Help: "Times the Source Adapter was reported unavailable.",
		}),
	}
}
