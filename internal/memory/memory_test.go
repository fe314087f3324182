package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"image-analyzer/internal/logging"
)

type recordingObserver struct {
	mu      sync.Mutex
	samples []bool
}

func (o *recordingObserver) ObserveMemory(_ float64, paused bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, paused)
}

func newTestMonitor(alloc *atomic.Uint64, opts ...Option) *Monitor {
	cfg := DefaultConfig()
	cfg.LimitBytes = 1000
	cfg.CheckInterval = 20 * time.Millisecond
	opts = append([]Option{WithAllocReader(alloc.Load), WithCollector(func() {})}, opts...)
	return NewMonitor(cfg, logging.Discard(), opts...)
}

// admit takes one in-flight slot so a later pause has work to wait on.
func admit(t *testing.T, m *Monitor) {
	t.Helper()
	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestMonitorThresholds(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	obs := &recordingObserver{}
	m := newTestMonitor(&alloc, WithObserver(obs))

	steps := []struct {
		alloc  uint64
		paused bool
	}{
		{alloc: 500, paused: false},
		{alloc: 860, paused: true},
		{alloc: 750, paused: true}, // between the marks: stays paused
		{alloc: 690, paused: false},
		{alloc: 800, paused: false}, // between the marks: stays running
	}
	for i, s := range steps {
		alloc.Store(s.alloc)
		m.Check()
		if m.Paused() != s.paused {
			t.Fatalf("step %d (alloc %d): Paused() = %v, want %v", i, s.alloc, m.Paused(), s.paused)
		}
	}

	if got := m.Usage(); got != 0.8 {
		t.Errorf("Usage() = %v, want 0.8", got)
	}
	if len(obs.samples) != len(steps) {
		t.Errorf("observer saw %d samples, want %d", len(obs.samples), len(steps))
	}
}

func TestMonitorWaitReleasedOnResume(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)
	admit(t, m)
	alloc.Store(900)
	m.Check()

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	alloc.Store(100)
	m.Check()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after resume")
	}
}

func TestMonitorWaitHonorsContext(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)
	admit(t, m)
	alloc.Store(990)
	m.Check()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}
}

func TestMonitorCollectsOnEveryPausedCheck(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	var collections atomic.Int32
	m := newTestMonitor(&alloc, WithCollector(func() { collections.Add(1) }))

	alloc.Store(900)
	m.Check()
	alloc.Store(750)
	for range 3 {
		m.Check()
	}
	if !m.Paused() {
		t.Fatal("monitor resumed between the water marks")
	}
	// The pause itself collects asynchronously; each paused check collects
	// synchronously.
	deadline := time.Now().Add(time.Second)
	for collections.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := collections.Load(); got != 4 {
		t.Errorf("collections = %d, want 4", got)
	}
}

func TestMonitorWaitResumesWhenNothingInFlight(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)
	admit(t, m)
	alloc.Store(900)
	m.Check()
	alloc.Store(750) // stays between the water marks from here on

	done := make(chan error, 1)
	go func() { done <- m.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned while a file was still in flight")
	case <-time.After(60 * time.Millisecond):
	}

	m.Done()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait stayed blocked with no work in flight")
	}
	if m.Paused() {
		t.Error("monitor still paused after resuming with nothing in flight")
	}
}

func TestMonitorRunReleasesOnExit(t *testing.T) {
	t.Parallel()

	var alloc atomic.Uint64
	m := newTestMonitor(&alloc)
	alloc.Store(990)
	m.Check()

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(finished)
	}()
	cancel()
	<-finished

	if m.Paused() {
		t.Fatal("monitor still paused after Run returned")
	}
	if err := m.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestMonitorDisabledWithoutLimit(t *testing.T) {
	t.Parallel()

	m := &Monitor{log: logging.Discard(), resume: make(chan struct{})}
	m.Check()
	if m.Enabled() || m.Paused() || m.Usage() != 0 {
		t.Fatalf("disabled monitor: enabled=%v paused=%v usage=%v", m.Enabled(), m.Paused(), m.Usage())
	}
	m.Run(context.Background()) // returns immediately
}
