package pipeline

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/logging"
	"image-analyzer/internal/record"
	"image-analyzer/internal/store"
)

// SummaryFileName returns the roll-up file name for an analyzer kind.
func SummaryFileName(kind string) string {
	return kind + "_analysis" + store.SummarySuffix
}

// RecordSource lists every stored record.
type RecordSource interface {
	GetAll(ctx context.Context) ([]*record.Record, error)
}

// GenerateSummaries writes one roll-up per analyzer kind into dir and
// returns the entry count per kind. Existing roll-ups are overwritten; a
// roll-up whose kind no longer has any payload is removed.
func GenerateSummaries(ctx context.Context, src RecordSource, dir string, log *logging.Logger) (map[string]int, error) {
	records, err := src.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	slices.SortFunc(records, func(a, b *record.Record) int {
		return cmp.Or(
			cmp.Compare(a.Directory, b.Directory),
			cmp.Compare(a.Filename, b.Filename),
			cmp.Compare(a.Fingerprint, b.Fingerprint),
		)
	})

	kinds := slices.Clone(analyzer.Order)
	for _, r := range records {
		for _, name := range r.AnalyzerNames() {
			if !slices.Contains(kinds, name) {
				kinds = append(kinds, name)
			}
		}
	}

	counts := make(map[string]int)
	var errs []error
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return counts, err
		}

		var entries []map[string]any
		for _, r := range records {
			payload := r.Payload(kind)
			if payload == nil {
				continue
			}
			entries = append(entries, map[string]any{
				"filename":         r.Filename,
				"directory":        r.Directory,
				"md5":              r.Fingerprint,
				kind + "_analysis": payload,
			})
		}

		path := filepath.Join(dir, SummaryFileName(kind))
		if len(entries) == 0 {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("removing stale %s summary: %w", kind, err))
			}
			continue
		}

		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding %s summary: %w", kind, err))
			continue
		}
		if err := store.WriteFileAtomic(path, data); err != nil {
			errs = append(errs, fmt.Errorf("writing %s summary: %w", kind, err))
			continue
		}
		counts[kind] = len(entries)
		log.Debug("Wrote %s (%d entries)", filepath.Base(path), len(entries))
	}

	return counts, errors.Join(errs...)
}
