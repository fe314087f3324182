package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"image-analyzer/internal/logging"
	"image-analyzer/internal/record"
)

// DocumentSuffix is appended to the source stem to name a record document.
const DocumentSuffix = "_analysis.json"

// SummarySuffix marks roll-up files, which the sink ignores when indexing.
const SummarySuffix = "_summary.json"

// JSONSink stores one JSON document per fingerprint in a directory.
type JSONSink struct {
	dir string
	log *logging.Logger

	mu      sync.RWMutex
	paths   map[string]string // fingerprint -> document path
	owner   map[string]string // document path -> fingerprint
	sources map[string]string // fingerprint -> source image path
}

// OpenJSONSink creates dir if needed, removes temp files left by interrupted
// writes and indexes the documents already in it. The caller must hold the
// output directory lock.
func OpenJSONSink(dir string, log *logging.Logger) (*JSONSink, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	s := &JSONSink{
		dir:   dir,
		log:   log,
		paths:   make(map[string]string),
		owner:   make(map[string]string),
		sources: make(map[string]string),
	}
	if err := s.reindex(); err != nil {
		return nil, err
	}
	log.Debug("JSON sink opened at %s with %d existing documents", dir, len(s.paths))
	return s, nil
}

// Name implements Sink.
func (s *JSONSink) Name() string { return "json" }

// Dir returns the output directory.
func (s *JSONSink) Dir() string { return s.dir }

func (s *JSONSink) documentPaths() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+DocumentSuffix))
	if err != nil {
		return nil, err
	}
	slices.Sort(matches)
	return matches, nil
}

// tempPattern matches files left behind by WriteFileAtomic.
const tempPattern = ".tmp-*"

func (s *JSONSink) reindex() error {
	temps, err := filepath.Glob(filepath.Join(s.dir, tempPattern))
	if err != nil {
		return fmt.Errorf("failed to list temp files: %w", err)
	}
	for _, tmp := range temps {
		if err := os.Remove(tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("Failed to remove stale temp file %s: %v", tmp, err)
			continue
		}
		s.log.Debug("Removed stale temp file %s", filepath.Base(tmp))
	}

	matches, err := s.documentPaths()
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	for _, path := range matches {
		r, err := readDocument(path)
		if err != nil {
			s.log.Warn("Skipping unreadable document %s: %v", path, err)
			continue
		}
		if existing, ok := s.paths[r.Fingerprint]; ok {
			s.log.Warn("Duplicate document for %s: %s (keeping %s)", r.Fingerprint, path, existing)
			continue
		}
		s.paths[r.Fingerprint] = path
		s.owner[path] = r.Fingerprint
		s.sources[r.Fingerprint] = sourcePath(r)
	}
	return nil
}

func sourcePath(r *record.Record) string {
	return filepath.ToSlash(filepath.Join(r.Directory, r.Filename))
}

func shortFingerprint(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}

func (s *JSONSink) documentName(stem, fp string, suffixed bool) string {
	if suffixed {
		stem += "_" + shortFingerprint(fp)
	}
	return filepath.Join(s.dir, stem+DocumentSuffix)
}

func readDocument(path string) (*record.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r record.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return &r, nil
}

// pathFor returns the document path for r, named after its current source
// file. When two fingerprints share a stem, the plain name goes to the one
// with the lexically smallest source path and the other gets a fingerprint
// suffix; a displaced holder is renamed on the spot. The caller must hold
// s.mu for writing.
func (s *JSONSink) pathFor(r *record.Record) (string, error) {
	stem := strings.TrimSuffix(r.Filename, filepath.Ext(r.Filename))
	if stem == "" {
		stem = r.Fingerprint
	}
	plain := s.documentName(stem, r.Fingerprint, false)

	holder, taken := s.owner[plain]
	if !taken || holder == r.Fingerprint {
		return plain, nil
	}
	if sourcePath(r) >= s.sources[holder] {
		return s.documentName(stem, r.Fingerprint, true), nil
	}

	moved := s.documentName(stem, holder, true)
	if err := os.Rename(plain, moved); err != nil {
		return "", fmt.Errorf("failed to move %s aside: %w", filepath.Base(plain), err)
	}
	delete(s.owner, plain)
	s.paths[holder] = moved
	s.owner[moved] = holder
	s.log.Debug("Renamed %s to %s", filepath.Base(plain), filepath.Base(moved))
	return plain, nil
}

// Put implements Sink. The document is replaced atomically; when the source
// file was renamed the old document is removed after the new one is written.
func (s *JSONSink) Put(ctx context.Context, r *record.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, hadPrevious := s.paths[r.Fingerprint]
	if hadPrevious {
		// Release the old name first so the record does not collide with itself.
		delete(s.owner, previous)
	}
	path, err := s.pathFor(r)
	if err != nil {
		if hadPrevious {
			s.owner[previous] = r.Fingerprint
		}
		return err
	}
	if err := WriteFileAtomic(path, data); err != nil {
		if hadPrevious {
			s.owner[previous] = r.Fingerprint
		}
		return err
	}
	if hadPrevious && previous != path {
		if err := os.Remove(previous); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("Failed to remove old document %s: %v", filepath.Base(previous), err)
		}
	}
	s.paths[r.Fingerprint] = path
	s.owner[path] = r.Fingerprint
	s.sources[r.Fingerprint] = sourcePath(r)
	return nil
}

// WriteFileAtomic replaces path with data via a synced temp file and rename,
// so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("failed to chmod %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Get implements Sink.
func (s *JSONSink) Get(ctx context.Context, fingerprint string) (*record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	path, ok := s.paths[fingerprint]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	r, err := readDocument(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return r, err
}

// All implements Sink. Records are ordered by document path.
func (s *JSONSink) All(ctx context.Context) ([]*record.Record, error) {
	s.mu.RLock()
	paths := make([]string, 0, len(s.paths))
	for _, p := range s.paths {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	slices.Sort(paths)

	records := make([]*record.Record, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := readDocument(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// Delete implements Sink.
func (s *JSONSink) Delete(ctx context.Context, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, ok := s.paths[fingerprint]
	if !ok {
		return ErrNotFound
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", filepath.Base(path), err)
	}
	delete(s.paths, fingerprint)
	delete(s.owner, path)
	delete(s.sources, fingerprint)
	return nil
}

// Clear implements Sink. Only record documents are removed; roll-ups and
// unrelated files stay.
func (s *JSONSink) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	matches, err := s.documentPaths()
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	var errs []error
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	clear(s.paths)
	clear(s.owner)
	clear(s.sources)
	return errors.Join(errs...)
}

// Close implements Sink.
func (s *JSONSink) Close() error { return nil }
