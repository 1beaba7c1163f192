package metrics

import (
	"net/http"
	"strconv"
	"time"

	"neptuneload/internal/loader"
	"neptuneload/internal/signer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes loader metrics. It implements
// loader.Observer.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollsTotal      *prometheus.CounterVec
	records         *prometheus.GaugeVec
	loadErrors      *prometheus.GaugeVec
	loadsFinished   *prometheus.CounterVec
	recordsLoaded   prometheus.Counter
	outcomesTotal   *prometheus.CounterVec
	tasksInflight   prometheus.Gauge
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neptuneload_requests_total",
				Help: "Signed requests sent to the cluster",
			},
			[]string{"category", "method", "code"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "neptuneload_request_duration_seconds",
				Help:    "Time taken by a signed request",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"category", "method"},
		),
		pollsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neptuneload_status_polls_total",
				Help: "Decoded load status documents by status",
			},
			[]string{"status"},
		),
		records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "neptuneload_load_records",
				Help: "Records loaded so far by a running load",
			},
			[]string{"load_id"},
		),
		loadErrors: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "neptuneload_load_errors",
				Help: "Errors reported by a running load by kind",
			},
			[]string{"load_id", "kind"},
		),
		loadsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neptuneload_loads_finished_total",
				Help: "Loads observed running that reached a terminal status",
			},
			[]string{"status"},
		),
		recordsLoaded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "neptuneload_records_loaded_total",
				Help: "Records reported by finished loads",
			},
		),
		outcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "neptuneload_task_outcomes_total",
				Help: "Per-load tasks by action and result",
			},
			[]string{"action", "result"},
		),
		tasksInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "neptuneload_tasks_inflight",
				Help: "Per-load tasks currently running",
			},
		),
	}

	c.registry.MustRegister(
		c.requestsTotal,
		c.requestDuration,
		c.pollsTotal,
		c.records,
		c.loadErrors,
		c.loadsFinished,
		c.recordsLoaded,
		c.outcomesTotal,
		c.tasksInflight,
	)

	return c
}

// ObserveRequest records one signed request. A zero status code means the
// request never got a response.
func (c *Collector) ObserveRequest(category signer.Category, method string, statusCode int, duration time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	c.requestsTotal.WithLabelValues(category.String(), method, code).Inc()
	c.requestDuration.WithLabelValues(category.String(), method).Observe(duration.Seconds())
}

// ObserveStatus records one decoded status document. Per-load series are
// dropped once the load reaches a terminal status.
func (c *Collector) ObserveStatus(loadID string, status *loader.BulkLoadStatus) {
	c.pollsTotal.WithLabelValues(status.Status.String()).Inc()
	if status.Status.Terminal() {
		c.finish(loadID, status)
		return
	}
	c.records.WithLabelValues(loadID).Set(float64(status.TotalRecords))
	c.loadErrors.WithLabelValues(loadID, "parsing").Set(float64(status.ParsingErrors))
	c.loadErrors.WithLabelValues(loadID, "datatype_mismatch").Set(float64(status.DatatypeMismatchErrors))
	c.loadErrors.WithLabelValues(loadID, "insert").Set(float64(status.InsertErrors))
}

// finish counts a load seen running that has now finished. Polling an
// already finished load again counts nothing.
func (c *Collector) finish(loadID string, status *loader.BulkLoadStatus) {
	c.loadErrors.DeletePartialMatch(prometheus.Labels{"load_id": loadID})
	if !c.records.DeleteLabelValues(loadID) {
		return
	}
	c.loadsFinished.WithLabelValues(status.Status.String()).Inc()
	c.recordsLoaded.Add(float64(status.TotalRecords))
}

// IncOutcome counts a finished per-load task.
func (c *Collector) IncOutcome(action string, err error) {
	result := "success"
	if err != nil {
		result = "failed"
	}
	c.outcomesTotal.WithLabelValues(action, result).Inc()
}

// SetInflightTasks sets the number of per-load tasks in progress
func (c *Collector) SetInflightTasks(count int) {
	c.tasksInflight.Set(float64(count))
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server. It blocks until the server
// stops.
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return http.ListenAndServe(addr, mux)
}
