package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/record"
)

// ErrNotFound is returned when no record exists for a fingerprint.
var ErrNotFound = errors.New("record not found")

// Sink is one persistence backend.
type Sink interface {
	Name() string
	Put(ctx context.Context, r *record.Record) error
	Get(ctx context.Context, fingerprint string) (*record.Record, error)
	All(ctx context.Context) ([]*record.Record, error)
	Delete(ctx context.Context, fingerprint string) error
	Clear(ctx context.Context) error
	Close() error
}

// Observer records sink write metrics. Implemented by the metrics package.
type Observer interface {
	ObserveWrite(sink string, d time.Duration, err error)
}

// Config selects the sinks opened by Open.
type Config struct {
	// OutputDir receives one JSON document per image. Required.
	OutputDir string
	// CatalogPath is the SQLite catalog file. Empty disables the catalog.
	CatalogPath string
}

// Store fans records out to a primary and an optional secondary sink.
type Store struct {
	mu        sync.Mutex
	primary   Sink
	secondary Sink
	log       *logging.Logger
	observer  Observer
}

// Option customizes a Store.
type Option func(*Store)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		s.observer = o
	}
}

// Open opens the sinks described by cfg.
func Open(ctx context.Context, cfg Config, log *logging.Logger, opts ...Option) (*Store, error) {
	primary, err := OpenJSONSink(cfg.OutputDir, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSON sink: %w", err)
	}

	var secondary Sink
	if cfg.CatalogPath != "" {
		catalog, err := OpenCatalog(ctx, cfg.CatalogPath, log)
		if err != nil {
			if closeErr := primary.Close(); closeErr != nil {
				log.Error("failed to close JSON sink after catalog failure: %v", closeErr)
			}
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		secondary = catalog
	}

	return New(primary, secondary, log, opts...), nil
}

// New builds a Store from already opened sinks. secondary may be nil.
func New(primary, secondary Sink, log *logging.Logger, opts ...Option) *Store {
	s := &Store{
		primary:   primary,
		secondary: secondary,
		log:       log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert writes r to both sinks, replacing any record with the same
// fingerprint. A primary failure is returned; a secondary failure after a
// successful primary write is logged and swallowed.
func (s *Store) Upsert(ctx context.Context, r *record.Record) error {
	if r.Fingerprint == "" {
		return errors.New("record has no fingerprint")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.put(ctx, s.primary, r); err != nil {
		return fmt.Errorf("%s sink: %w", s.primary.Name(), err)
	}

	if s.secondary != nil {
		if err := s.put(ctx, s.secondary, r); err != nil {
			s.log.Warn("Failed to write %s to %s sink (continuing, %s is authoritative): %v",
				r.Filename, s.secondary.Name(), s.primary.Name(), err)
		}
	}
	return nil
}

func (s *Store) put(ctx context.Context, sink Sink, r *record.Record) error {
	start := time.Now()
	err := sink.Put(ctx, r)
	if s.observer != nil {
		s.observer.ObserveWrite(sink.Name(), time.Since(start), err)
	}
	return err
}

// GetByFingerprint returns the authoritative record for fingerprint, or
// ErrNotFound.
func (s *Store) GetByFingerprint(ctx context.Context, fingerprint string) (*record.Record, error) {
	return s.primary.Get(ctx, fingerprint)
}

// GetAll returns every authoritative record.
func (s *Store) GetAll(ctx context.Context) ([]*record.Record, error) {
	return s.primary.All(ctx)
}

// Delete removes the record for fingerprint so the next run analyzes it
// again. ErrNotFound is returned when the primary sink has no such record,
// after the secondary row, if any, has been removed. A secondary failure is
// logged.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.primary.Delete(ctx, fingerprint)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	// A catalog row without a document is still removed.
	if s.secondary != nil {
		if serr := s.secondary.Delete(ctx, fingerprint); serr != nil && !errors.Is(serr, ErrNotFound) {
			s.log.Warn("Failed to delete %s from %s sink: %v", fingerprint, s.secondary.Name(), serr)
		}
	}
	return err
}

// Clear deletes every record from both sinks.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.primary.Clear(ctx); err != nil {
		errs = append(errs, fmt.Errorf("%s sink: %w", s.primary.Name(), err))
	}
	if s.secondary != nil {
		if err := s.secondary.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s sink: %w", s.secondary.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Catalog returns the SQLite catalog when one is configured.
func (s *Store) Catalog() (*Catalog, bool) {
	c, ok := s.secondary.(*Catalog)
	return c, ok
}

// Close closes both sinks.
func (s *Store) Close() error {
	var errs []error
	if err := s.primary.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.secondary != nil {
		if err := s.secondary.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
