package pipeline

import (
	"context"
	"errors"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/record"
	"image-analyzer/internal/store"
)

// Lookup finds a stored record by fingerprint.
type Lookup interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*record.Record, error)
}

// Gate decides whether a fingerprint needs processing.
type Gate struct {
	lookup Lookup
	log    *logging.Logger
}

// NewGate creates a Gate over lookup.
func NewGate(lookup Lookup, log *logging.Logger) *Gate {
	return &Gate{lookup: lookup, log: log}
}

// ShouldProcess reports whether fingerprint must be (re)processed. Only a
// complete record skips work, and only without force. Lookup failures
// fail open.
func (g *Gate) ShouldProcess(ctx context.Context, fingerprint string, force bool) bool {
	if force {
		return true
	}

	existing, err := g.lookup.GetByFingerprint(ctx, fingerprint)
	if errors.Is(err, store.ErrNotFound) {
		return true
	}
	if err != nil {
		g.log.Warn("Could not read stored record for %s, reprocessing: %v", fingerprint, err)
		return true
	}

	if existing.Status != record.StatusComplete {
		g.log.Debug("Stored record for %s is %s, reprocessing", fingerprint, existing.Status)
		return true
	}
	return false
}
