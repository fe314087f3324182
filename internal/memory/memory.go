package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"image-analyzer/internal/logging"
)

// Config holds the thresholds for heap backpressure.
type Config struct {
	// LimitBytes is the reference limit. Zero means use GOMEMLIMIT.
	LimitBytes int64

	// HighWaterMark is the usage ratio below which a paused monitor resumes.
	HighWaterMark float64

	// CriticalWaterMark is the usage ratio at which new files stop being
	// dispatched.
	CriticalWaterMark float64

	CheckInterval time.Duration
}

// DefaultConfig returns the thresholds used by the run command.
func DefaultConfig() Config {
	return Config{
		HighWaterMark:     0.7,
		CriticalWaterMark: 0.85,
		CheckInterval:     2 * time.Second,
	}
}

// Observer receives every sample taken by a Monitor.
type Observer interface {
	ObserveMemory(usage float64, paused bool)
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithObserver attaches an observer, normally the metrics registry.
func WithObserver(o Observer) Option {
	return func(m *Monitor) { m.observer = o }
}

// WithAllocReader replaces the heap reader. Tests use it to drive the
// monitor through its thresholds.
func WithAllocReader(fn func() uint64) Option {
	return func(m *Monitor) { m.readAlloc = fn }
}

// WithCollector replaces the forced collection run while paused.
func WithCollector(fn func()) Option {
	return func(m *Monitor) { m.collect = fn }
}

// minPoll is the first re-check interval of a blocked Wait.
const minPoll = 50 * time.Millisecond

// Monitor samples heap usage and holds back new work while usage is above
// the critical water mark. The zero limit disables it.
//
// While paused every sample forces a collection first. A paused monitor
// with no work in flight resumes: nothing is left to release memory.
type Monitor struct {
	cfg       Config
	limit     int64
	log       *logging.Logger
	observer  Observer
	readAlloc func() uint64
	collect   func()

	mu       sync.RWMutex
	current  uint64
	paused   bool
	inflight int
	resume   chan struct{}
}

// NewMonitor creates a monitor. It does not sample until Run or Check is
// called.
func NewMonitor(cfg Config, log *logging.Logger, opts ...Option) *Monitor {
	limit := cfg.LimitBytes
	if limit == 0 {
		if l := debug.SetMemoryLimit(-1); l > 0 && l < 1<<62 {
			limit = l
		}
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = DefaultConfig().CheckInterval
	}

	m := &Monitor{
		cfg:       cfg,
		limit:     limit,
		log:       log,
		readAlloc: heapAlloc,
		collect:   runtime.GC,
		resume:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if limit > 0 {
		log.Debug("Memory backpressure enabled at %s (pause at %.0f%%, resume below %.0f%%)",
			humanize.IBytes(uint64(limit)), cfg.CriticalWaterMark*100, cfg.HighWaterMark*100)
	}
	return m
}

func heapAlloc() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.Alloc
}

// Enabled reports whether a limit is known.
func (m *Monitor) Enabled() bool {
	return m.limit > 0
}

// Run samples until ctx is done. A paused monitor is released on return so
// that no caller of Wait stays blocked.
func (m *Monitor) Run(ctx context.Context) {
	if !m.Enabled() {
		return
	}

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	defer m.release()

	for {
		select {
		case <-ticker.C:
			m.Check()
		case <-ctx.Done():
			return
		}
	}
}

// Check takes one sample and updates the paused state.
func (m *Monitor) Check() {
	if !m.Enabled() {
		return
	}

	if m.Paused() {
		m.collect()
	}
	alloc := m.readAlloc()
	usage := float64(alloc) / float64(m.limit)

	m.mu.Lock()
	m.current = alloc
	switch {
	case usage >= m.cfg.CriticalWaterMark && !m.paused:
		m.paused = true
		m.log.Warn("Heap at %.1f%% of limit, pausing dispatch of new files", usage*100)
		go m.collect()
	case usage < m.cfg.HighWaterMark && m.paused:
		m.resumeLocked()
		m.log.Info("Heap back to %.1f%% of limit, resuming", usage*100)
	}
	paused := m.paused
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.ObserveMemory(usage, paused)
	}
}

func (m *Monitor) resumeLocked() {
	if !m.paused {
		return
	}
	m.paused = false
	close(m.resume)
	m.resume = make(chan struct{})
}

func (m *Monitor) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resumeLocked()
}

// Wait blocks while the monitor is paused and then counts the caller as
// in flight until Done. A blocked Wait re-checks the heap with a back-off
// capped at the check interval. It returns ctx.Err() if the context ends
// first.
func (m *Monitor) Wait(ctx context.Context) error {
	poll := min(minPoll, m.cfg.CheckInterval)
	for {
		m.mu.Lock()
		if m.paused && m.inflight == 0 {
			m.resumeLocked()
			m.log.Warn("Heap still at %.1f%% of limit with no files in flight, resuming",
				float64(m.current)/float64(m.limit)*100)
		}
		if !m.paused {
			m.inflight++
			m.mu.Unlock()
			return nil
		}
		resume := m.resume
		m.mu.Unlock()

		timer := time.NewTimer(poll)
		select {
		case <-resume:
		case <-timer.C:
			m.Check()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		timer.Stop()
		poll = min(poll*2, m.cfg.CheckInterval)
	}
}

// Done marks one unit of work admitted by Wait as finished.
func (m *Monitor) Done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inflight > 0 {
		m.inflight--
	}
}

// Paused reports whether dispatch is currently held back.
func (m *Monitor) Paused() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused
}

// Usage returns the last sampled heap size as a ratio of the limit.
func (m *Monitor) Usage() float64 {
	if !m.Enabled() {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return float64(m.current) / float64(m.limit)
}
