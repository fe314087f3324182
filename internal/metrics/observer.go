package metrics

import (
	"time"

	"image-analyzer/internal/retry"
	"image-analyzer/internal/store"
)

// retryObserver implements retry.Observer using the Prometheus counters
// declared in metrics.go.
type retryObserver struct {
	m *Metrics
}

// NewRetryObserver creates an observer that records retry metrics into m.
func NewRetryObserver(m *Metrics) retry.Observer {
	return &retryObserver{m: m}
}

func (o *retryObserver) ObserveRetryAttempt(c retry.Category) {
	o.m.RetryAttempts.WithLabelValues(string(c)).Inc()
}

func (o *retryObserver) ObserveRetrySuccess(c retry.Category) {
	o.m.RetrySuccess.WithLabelValues(string(c)).Inc()
}

func (o *retryObserver) ObserveRetryFailure(c retry.Category) {
	o.m.RetryFailures.WithLabelValues(string(c)).Inc()
}

// storeObserver implements store.Observer.
type storeObserver struct {
	m *Metrics
}

// NewStoreObserver creates an observer for record store writes.
func NewStoreObserver(m *Metrics) store.Observer {
	return &storeObserver{m: m}
}

func (o *storeObserver) ObserveWrite(sink string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	o.m.StoreWrites.WithLabelValues(sink, status).Inc()
	o.m.StoreWriteDuration.WithLabelValues(sink).Observe(d.Seconds())
}
