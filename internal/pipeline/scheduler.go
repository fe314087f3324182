package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"image-analyzer/internal/scanner"
	"image-analyzer/internal/workers"
)

// Mode selects a scheduling strategy.
type Mode string

// Scheduling modes.
const (
	ModeSequential Mode = "sequential"
	ModePool       Mode = "pool"
)

// ParseMode parses a configured mode. Empty input is sequential; the
// aliases "parallel" and "concurrent" select the pool.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sequential", "serial":
		return ModeSequential, nil
	case "pool", "parallel", "concurrent":
		return ModePool, nil
	default:
		return "", fmt.Errorf("unknown concurrency mode %q", s)
	}
}

// FileFunc handles one file. It must not panic out and must not return
// errors; outcomes are recorded by the function itself.
type FileFunc func(ctx context.Context, f scanner.SourceFile)

// Scheduler drives FileFunc over a file list.
type Scheduler interface {
	Run(ctx context.Context, files []scanner.SourceFile, fn FileFunc)
	Workers(n int) int
}

// NewScheduler returns the scheduler for mode.
func NewScheduler(mode Mode, maxWorkers int) Scheduler {
	if mode == ModePool {
		return &Pool{MaxWorkers: maxWorkers}
	}
	return Sequential{}
}

// Sequential processes files one at a time in discovery order.
type Sequential struct{}

// Run implements Scheduler. Cancellation stops dispatch of further files.
func (Sequential) Run(ctx context.Context, files []scanner.SourceFile, fn FileFunc) {
	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		fn(ctx, f)
	}
}

// Workers implements Scheduler.
func (Sequential) Workers(int) int { return 1 }

// Pool processes files on a bounded set of goroutines.
type Pool struct {
	MaxWorkers int
}

// Workers implements Scheduler.
func (p *Pool) Workers(n int) int {
	return workers.PoolSize(p.MaxWorkers, n)
}

// Run implements Scheduler. A file's failure never cancels its siblings;
// only ctx does.
func (p *Pool) Run(ctx context.Context, files []scanner.SourceFile, fn FileFunc) {
	var g errgroup.Group
	g.SetLimit(p.Workers(len(files)))

	for _, f := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			fn(ctx, f)
			return nil
		})
	}
	_ = g.Wait()
}
