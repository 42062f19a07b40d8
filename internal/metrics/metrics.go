// Package metrics exposes Prometheus collectors for conversions and ingest.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "apiingest", Subsystem: "convert", Name: "total", Help: "Conversions by outcome"},
		[]string{"outcome"},
	)
	stageLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "apiingest", Subsystem: "convert", Name: "stage_seconds", Help: "Conversion stage latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10}},
		[]string{"stage"},
	)
	diagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "apiingest", Subsystem: "convert", Name: "diagnostics_total", Help: "Diagnostics reported by kind"},
		[]string{"kind"},
	)
	artifactTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "apiingest", Subsystem: "convert", Name: "artifact_tokens", Help: "Estimated tokens per artifact",
			Buckets: prometheus.ExponentialBuckets(100, 4, 8)},
		[]string{"artifact"},
	)
	ingestJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "apiingest", Subsystem: "ingest", Name: "jobs_total", Help: "Ingest jobs by final status"},
		[]string{"status"},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "apiingest", Subsystem: "ingest", Name: "queue_depth", Help: "Jobs waiting for a worker"},
	)
	storeLatency = prometheus.NewSummaryVec(
		prometheus.SummaryOpts{Namespace: "apiingest", Subsystem: "store", Name: "latency_seconds", Help: "Store operation latency"},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(conversions, stageLatency, diagnostics, artifactTokens, ingestJobs, queueDepth, storeLatency)
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

func IncConversion(outcome string) { conversions.WithLabelValues(outcome).Inc() }
func ObserveStage(stage string, d time.Duration) { stageLatency.WithLabelValues(stage).Observe(d.Seconds()) }
func AddDiagnostics(kind string, n int) { diagnostics.WithLabelValues(kind).Add(float64(n)) }
func ObserveTokens(artifact string, n int) { artifactTokens.WithLabelValues(artifact).Observe(float64(n)) }
func IncJob(status string) { ingestJobs.WithLabelValues(status).Inc() }
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }
func ObserveStore(op string, d time.Duration) { storeLatency.WithLabelValues(op).Observe(d.Seconds()) }
