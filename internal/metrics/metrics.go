package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "image_analyzer"

// Metrics holds every collector the analyzer records into, bound to a
// private registry.
type Metrics struct {
	Registry *prometheus.Registry

	// Batch metrics
	BatchRunning      prometheus.Gauge
	BatchLastDuration prometheus.Gauge
	ItemsTotal        prometheus.Gauge
	ItemsCompleted    prometheus.Gauge
	ItemsFailed       prometheus.Gauge
	FilesTotal        *prometheus.CounterVec
	FileDuration      prometheus.Histogram

	// Analyzer metrics
	AnalyzerCalls    *prometheus.CounterVec
	AnalyzerDuration *prometheus.HistogramVec

	// Retry metrics
	RetryAttempts *prometheus.CounterVec
	RetrySuccess  *prometheus.CounterVec
	RetryFailures *prometheus.CounterVec

	// Store metrics
	StoreWrites        *prometheus.CounterVec
	StoreWriteDuration *prometheus.HistogramVec

	// Status server metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Memory metrics
	MemoryUsageRatio prometheus.Gauge
	MemoryPaused     prometheus.Gauge

	AppInfo *prometheus.GaugeVec
}

// New creates a Metrics value with a fresh registry. Go runtime and
// process collectors are registered alongside the analyzer metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		BatchRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_running",
			Help:      "Whether a batch is currently running (1 = running, 0 = idle)",
		}),
		BatchLastDuration: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_last_duration_seconds",
			Help:      "Duration of the last batch in seconds",
		}),
		ItemsTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Number of files discovered for the current batch",
		}),
		ItemsCompleted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_completed",
			Help:      "Number of files finished successfully in the current batch",
		}),
		ItemsFailed: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "items_failed",
			Help:      "Number of files that failed in the current batch",
		}),
		FilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Total number of files handled by result",
		}, []string{"result"}), // "complete", "failed", "skipped"
		FileDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "file_duration_seconds",
			Help:      "Per-file pipeline duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		AnalyzerCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyzer_calls_total",
			Help:      "Total number of analyzer invocations by outcome",
		}, []string{"analyzer", "status"}),
		AnalyzerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analyzer_duration_seconds",
			Help:      "Analyzer duration in seconds, including retries",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"analyzer"}),

		RetryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retries scheduled",
		}, []string{"category"}),
		RetrySuccess: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_success_total",
			Help:      "Total number of operations that succeeded after at least one retry",
		}, []string{"category"}),
		RetryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_failures_total",
			Help:      "Total number of operations that exhausted their retries",
		}, []string{"category"}),

		StoreWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Total number of record store writes by sink and status",
		}, []string{"sink", "status"}),
		StoreWriteDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_duration_seconds",
			Help:      "Record store write duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"sink"}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Status server requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status server request duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"method", "route"}),

		MemoryUsageRatio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_usage_ratio",
			Help:      "Heap allocation as a ratio of the configured memory limit",
		}),
		MemoryPaused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_paused",
			Help:      "Whether file dispatch is paused for memory pressure (1 = paused)",
		}),

		AppInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_info",
			Help:      "Build information",
		}, []string{"version", "commit", "go_version"}),
	}
}

// SetAppInfo publishes build information.
func (m *Metrics) SetAppInfo(version, commit, goVersion string) {
	m.AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

// ObserveAnalyzer records one analyzer invocation.
func (m *Metrics) ObserveAnalyzer(analyzer string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.AnalyzerCalls.WithLabelValues(analyzer, status).Inc()
	m.AnalyzerDuration.WithLabelValues(analyzer).Observe(d.Seconds())
}

// ObserveFile records the outcome of one file.
func (m *Metrics) ObserveFile(result string, d time.Duration) {
	m.FilesTotal.WithLabelValues(result).Inc()
	m.FileDuration.Observe(d.Seconds())
}

// ObserveProgress mirrors progress counters into gauges.
func (m *Metrics) ObserveProgress(total, completed, failed int) {
	m.ItemsTotal.Set(float64(total))
	m.ItemsCompleted.Set(float64(completed))
	m.ItemsFailed.Set(float64(failed))
}

// ObserveRequest records one status server request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveMemory records a heap sample from the memory monitor.
func (m *Metrics) ObserveMemory(usage float64, paused bool) {
	m.MemoryUsageRatio.Set(usage)
	if paused {
		m.MemoryPaused.Set(1)
	} else {
		m.MemoryPaused.Set(0)
	}
}

// BatchStarted marks a batch as running.
func (m *Metrics) BatchStarted() {
	m.BatchRunning.Set(1)
}

// BatchFinished marks the batch as idle and records its duration.
func (m *Metrics) BatchFinished(d time.Duration) {
	m.BatchRunning.Set(0)
	m.BatchLastDuration.Set(d.Seconds())
}

// InitializeLabels pre-populates the expected label combinations so that
// every series is exported from the first scrape.
func (m *Metrics) InitializeLabels(analyzers []string, categories []string) {
	for _, r := range []string{"complete", "failed", "skipped"} {
		m.FilesTotal.WithLabelValues(r)
	}
	for _, a := range analyzers {
		m.AnalyzerCalls.WithLabelValues(a, "success")
		m.AnalyzerCalls.WithLabelValues(a, "error")
		m.AnalyzerDuration.WithLabelValues(a)
	}
	for _, c := range categories {
		m.RetryAttempts.WithLabelValues(c)
		m.RetrySuccess.WithLabelValues(c)
		m.RetryFailures.WithLabelValues(c)
	}
	for _, sink := range []string{"json", "catalog"} {
		m.StoreWrites.WithLabelValues(sink, "success")
		m.StoreWrites.WithLabelValues(sink, "error")
		m.StoreWriteDuration.WithLabelValues(sink)
	}
}
