// Package metrics provides Prometheus instrumentation for the image analyzer.
//
// Unlike a process-global registry, every [Metrics] value owns its own
// prometheus.Registry. One value is created per process (or per test) and
// passed to the components that record into it, so concurrent tests never
// share counters.
//
// All metrics are prefixed with "image_analyzer_".
//
// # Metric Categories
//
// ## Batch Metrics
//   - BatchRunning: Gauge indicating if a batch is active
//   - BatchLastDuration: Gauge of the last batch duration
//   - ItemsTotal, ItemsCompleted, ItemsFailed: Gauges mirroring the progress reporter
//   - FilesTotal: Counter of files by result (complete, failed, skipped)
//   - FileDuration: Histogram of per-file pipeline time
//
// ## Analyzer Metrics
//   - AnalyzerCalls: Counter by analyzer and status (success/error)
//   - AnalyzerDuration: Histogram by analyzer, including retries
//
// ## Retry Metrics
//   - RetryAttempts, RetrySuccess, RetryFailures: Counters by category
//
// ## Store Metrics
//   - StoreWrites: Counter by sink (json/catalog) and status
//   - StoreWriteDuration: Histogram by sink
//
// # Exposing Metrics
//
// [Server] mounts the registry on /metrics next to /healthz and a JSON
// /progress snapshot:
//
//	srv := metrics.NewServer(":9090", m, progressFn, log)
//	srv.Start()
//	defer srv.Shutdown(ctx)
//
// # Prometheus Queries
//
// Analyzer error rate:
//
//	sum(rate(image_analyzer_analyzer_calls_total{status="error"}[5m])) by (analyzer)
//
// Retries per category:
//
//	sum(rate(image_analyzer_retry_attempts_total[5m])) by (category)
package metrics
