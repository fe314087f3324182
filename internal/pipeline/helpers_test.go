package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/record"
	"image-analyzer/internal/retry"
	"image-analyzer/internal/store"
)

// memoryStore is a RecordStore kept in memory.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]*record.Record
	history []record.Status
	failPut error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*record.Record)}
}

func (m *memoryStore) Upsert(_ context.Context, r *record.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut != nil {
		return m.failPut
	}
	m.records[r.Fingerprint] = r.Clone()
	m.history = append(m.history, r.Status)
	return nil
}

func (m *memoryStore) GetByFingerprint(_ context.Context, fp string) (*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[fp]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memoryStore) GetAll(_ context.Context) ([]*record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*record.Record, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memoryStore) get(fp string) *record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[fp]
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// countingAnalyzer counts calls and returns a payload naming the file.
type countingAnalyzer struct {
	name     string
	category retry.Category
	calls    atomic.Int64
	fail     func(path string, call int64) error
}

func newCounting(name string) *countingAnalyzer {
	return &countingAnalyzer{name: name, category: retry.CategoryStorage}
}

func (c *countingAnalyzer) Name() string             { return c.name }
func (c *countingAnalyzer) Category() retry.Category { return c.category }

func (c *countingAnalyzer) Analyze(_ context.Context, path string) (record.Payload, error) {
	n := c.calls.Add(1)
	if c.fail != nil {
		if err := c.fail(path, n); err != nil {
			return nil, err
		}
	}
	return record.Payload{"source": filepath.Base(path)}, nil
}

var _ analyzer.Analyzer = (*countingAnalyzer)(nil)

func noSleep(context.Context, time.Duration) error { return nil }

// writeImages creates files under dir with the given contents, keyed by
// relative path.
func writeImages(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

var errBoom = errors.New("boom")
