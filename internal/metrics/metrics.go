// ============================================================================
// sheetflow Metrics - Prometheus instrumentation
// ============================================================================
//
// Package: internal/metrics
// File: metrics.go
// Function: collect and expose executor and batch-plan metrics
//
// Metric groups:
//
//   1. Request counters (Counter):
//      - sheetflow_requests_submitted_total
//      - sheetflow_requests_completed_total{outcome="success|executed-error|shutdown"}
//
//   2. Latency (Histogram):
//      - sheetflow_request_duration_seconds: Execute time of admitted requests
//      - sheetflow_admission_wait_seconds: time spent queued before admission
//
//   3. Executor state (Gauge):
//      - sheetflow_requests_in_flight
//      - sheetflow_requests_queued
//
//   4. Plan progress (Counter / Histogram):
//      - sheetflow_batches_total{result="succeeded|failed"}
//      - sheetflow_batch_duration_seconds
//      - sheetflow_plans_total{result="succeeded|failed"}
//
// Example queries:
//
//   # failed request ratio
//   rate(sheetflow_requests_completed_total{outcome!="success"}[5m])
//     / rate(sheetflow_requests_completed_total[5m])
//
//   # saturation
//   sheetflow_requests_in_flight + sheetflow_requests_queued
//
// HTTP endpoint: /metrics, default port 9090.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ChuLiYu/sheetflow/internal/batch"
	"github.com/ChuLiYu/sheetflow/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sheetflow"

// Collector holds every sheetflow metric. It implements executor.Recorder and
// batch.Observer.
type Collector struct {
	submitted prometheus.Counter
	completed *prometheus.CounterVec

	duration      prometheus.Histogram
	admissionWait prometheus.Histogram

	inFlight prometheus.Gauge
	queued   prometheus.Gauge

	batches       *prometheus.CounterVec
	batchDuration prometheus.Histogram
	plans         *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Total number of requests submitted to the executor",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_completed_total",
			Help:      "Total number of request outcomes by kind",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Execute time of admitted requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		admissionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_wait_seconds",
			Help:      "Time requests spent queued before admission in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Current number of running requests",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_queued",
			Help:      "Current number of requests waiting for admission",
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of resolved batches by result",
		}, []string{"result"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time from batch submission to full resolution in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Total number of finished plans by result",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(
			c.submitted,
			c.completed,
			c.duration,
			c.admissionWait,
			c.inFlight,
			c.queued,
			c.batches,
			c.batchDuration,
			c.plans,
		)
	}
	return c
}

// ============================================================================
// executor.Recorder
// ============================================================================

// RecordSubmit counts a submission.
func (c *Collector) RecordSubmit() {
	c.submitted.Inc()
}

// RecordAdmit observes how long a request waited in the queue.
func (c *Collector) RecordAdmit(wait time.Duration) {
	c.admissionWait.Observe(wait.Seconds())
}

// RecordOutcome counts an outcome. d is zero for requests that never ran.
func (c *Collector) RecordOutcome(o types.Outcome, d time.Duration) {
	c.completed.WithLabelValues(o.Label()).Inc()
	if o.Reason != types.ReasonShutdown {
		c.duration.Observe(d.Seconds())
	}
}

// UpdateExecutorStats sets the executor gauges.
func (c *Collector) UpdateExecutorStats(inFlight, queued int) {
	c.inFlight.Set(float64(inFlight))
	c.queued.Set(float64(queued))
}

// ============================================================================
// batch.Observer
// ============================================================================

// Observe records batch and plan results.
func (c *Collector) Observe(ev batch.Event) {
	switch ev.Kind {
	case batch.EventBatchSucceeded:
		c.batches.WithLabelValues("succeeded").Inc()
		c.batchDuration.Observe(ev.Duration.Seconds())
	case batch.EventBatchFailed:
		c.batches.WithLabelValues("failed").Inc()
		c.batchDuration.Observe(ev.Duration.Seconds())
	case batch.EventPlanSucceeded:
		c.plans.WithLabelValues("succeeded").Inc()
	case batch.EventPlanFailed:
		c.plans.WithLabelValues("failed").Inc()
	}
}

// ============================================================================
// HTTP
// ============================================================================

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// NewServer returns an HTTP server exposing g on /metrics. The caller starts
// it with ListenAndServe and stops it with Shutdown.
func NewServer(port int, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
