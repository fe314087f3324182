// Package runenv holds the per-run context object handed to every
// component: the logger, the metrics sink and the run identifier.
//
// An Env is built once in main and passed down explicitly. Nothing in the
// module keeps logging or metrics state in package variables.
package runenv

import (
	"github.com/google/uuid"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/metrics"
	"image-analyzer/internal/retry"
	"image-analyzer/internal/store"
)

// Env is the explicit run context.
type Env struct {
	Log     *logging.Logger
	Metrics *metrics.Metrics
	RunID   string
}

// New builds an Env with a fresh run ID. A nil logger is replaced by a
// discarding one and nil metrics by a fresh private registry.
func New(log *logging.Logger, m *metrics.Metrics) *Env {
	if log == nil {
		log = logging.Discard()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Env{
		Log:     log,
		Metrics: m,
		RunID:   uuid.NewString(),
	}
}

// ForTest returns a quiet Env with its own registry.
func ForTest() *Env {
	return New(logging.Discard(), metrics.New())
}

// RetryObserver adapts the metrics sink for the retry executor.
func (e *Env) RetryObserver() retry.Observer {
	return metrics.NewRetryObserver(e.Metrics)
}

// StoreObserver adapts the metrics sink for the record store.
func (e *Env) StoreObserver() store.Observer {
	return metrics.NewStoreObserver(e.Metrics)
}

// ShortRunID returns the first eight characters of the run ID for log lines.
func (e *Env) ShortRunID() string {
	if len(e.RunID) > 8 {
		return e.RunID[:8]
	}
	return e.RunID
}
