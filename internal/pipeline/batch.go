package pipeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/hasher"
	"image-analyzer/internal/progress"
	"image-analyzer/internal/retry"
	"image-analyzer/internal/runenv"
	"image-analyzer/internal/scanner"
	"image-analyzer/internal/store"
)

// LockFileName is created in the output directory while a batch runs.
const LockFileName = ".image-analyzer.lock"

// Startup errors. Any of these stops a batch before a file is touched.
var (
	ErrInputMissing     = errors.New("input directory does not exist")
	ErrNoAnalyzers      = errors.New("no analyzers enabled")
	ErrOutputUnwritable = errors.New("output directory is not writable")
	ErrOutputLocked     = errors.New("output directory is locked by another run")
)

// Exit codes returned by ExitCode.
const (
	ExitOK       = 0
	ExitFailures = 1
	ExitStartup  = 2
)

// Options configures a batch.
type Options struct {
	InputDir    string
	OutputDir   string
	CatalogPath string

	Analyzers         []analyzer.Analyzer
	Mode              Mode
	MaxWorkers        int
	ForceReprocess    bool
	GenerateSummaries bool
	HashAlgorithm     hasher.Algorithm
	Scan              scanner.Config

	// Policies overrides the retry table; nil uses retry.DefaultPolicies.
	Policies retry.Policies
	// Sleeper overrides retry sleeps.
	Sleeper retry.Sleeper
	// ProgressOut receives progress rendering; nil discards it.
	ProgressOut io.Writer
	// ProgressOptions are passed through to the reporter.
	ProgressOptions []progress.Option
	// Store replaces the store Open would build from OutputDir and
	// CatalogPath. The caller keeps ownership.
	Store RecordStore
	// Throttle, when set, admits each file before it is dispatched.
	Throttle Throttle
}

// Throttle holds back dispatch, normally while the heap is under pressure.
// Every successful Wait is paired with one Done when the file finishes.
type Throttle interface {
	Wait(ctx context.Context) error
	Done()
}

// Failure names a file that ended in failed.
type Failure struct {
	Path  string
	Error string
}

// BatchResult summarizes a finished batch.
type BatchResult struct {
	RunID     string
	Total     int
	Completed int
	Failed    int
	Skipped   int
	// AnalyzerErrors counts final analyzer failures per analyzer.
	AnalyzerErrors map[string]int
	Failures       []Failure
	Summaries      map[string]int
	// Interrupted is set when ctx ended before every file was dispatched.
	Interrupted bool
	Duration    time.Duration
	Progress    progress.Snapshot
}

// TotalAnalyzerErrors sums AnalyzerErrors.
func (r BatchResult) TotalAnalyzerErrors() int {
	n := 0
	for _, c := range r.AnalyzerErrors {
		n += c
	}
	return n
}

func (r *BatchResult) add(out Outcome) {
	switch out.Result {
	case ResultSkipped:
		r.Completed++
		r.Skipped++
	case ResultComplete:
		r.Completed++
	default:
		r.Failed++
		msg := "unknown error"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		r.Failures = append(r.Failures, Failure{Path: out.File.AbsPath, Error: msg})
	}
	if out.Shared {
		return
	}
	for name := range out.AnalyzerErrors {
		if r.AnalyzerErrors == nil {
			r.AnalyzerErrors = make(map[string]int)
		}
		r.AnalyzerErrors[name]++
	}
}

// ExitCode maps a batch outcome to a process exit code.
func ExitCode(res BatchResult, err error) int {
	switch {
	case err != nil:
		return ExitStartup
	case res.Failed > 0 || res.Interrupted:
		return ExitFailures
	default:
		return ExitOK
	}
}

// Batch is one run over an input directory.
type Batch struct {
	env  *runenv.Env
	opts Options

	mu       sync.Mutex
	reporter *progress.Reporter
}

// NewBatch prepares a batch. Nothing is touched until Run.
func NewBatch(env *runenv.Env, opts Options) *Batch {
	return &Batch{env: env, opts: opts}
}

// RunBatch is NewBatch followed by Run.
func RunBatch(ctx context.Context, env *runenv.Env, opts Options) (BatchResult, error) {
	return NewBatch(env, opts).Run(ctx)
}

// Snapshot returns live progress. It is safe to call from another
// goroutine, including before Run has scanned.
func (b *Batch) Snapshot() progress.Snapshot {
	b.mu.Lock()
	rep := b.reporter
	b.mu.Unlock()
	if rep == nil {
		return progress.Snapshot{}
	}
	return rep.Snapshot()
}

// Run executes the batch. A returned error is a startup error; per-file
// problems are reported in the BatchResult.
func (b *Batch) Run(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	log := b.env.Log
	res := BatchResult{RunID: b.env.RunID}

	if err := b.validate(); err != nil {
		return res, err
	}

	lock, err := LockOutput(b.opts.OutputDir)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("Failed to release output lock: %v", err)
		}
	}()

	st := b.opts.Store
	if st == nil {
		opened, err := store.Open(ctx, store.Config{
			OutputDir:   b.opts.OutputDir,
			CatalogPath: b.opts.CatalogPath,
		}, log, store.WithObserver(b.env.StoreObserver()))
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
		}
		defer func() {
			if err := opened.Close(); err != nil {
				log.Warn("Failed to close record store: %v", err)
			}
		}()
		st = opened
	}

	files, _, err := scanner.New(b.opts.Scan, log).Scan(ctx, b.opts.InputDir)
	if err != nil {
		return res, fmt.Errorf("scanning %s: %w", b.opts.InputDir, err)
	}
	res.Total = len(files)

	m := b.env.Metrics
	m.InitializeLabels(analyzer.Names(b.opts.Analyzers), categoryNames())

	repOpts := append([]progress.Option{
		progress.WithOnChange(func(s progress.Snapshot) {
			m.ObserveProgress(s.Total, s.Completed, s.Failed)
		}),
	}, b.opts.ProgressOptions...)
	rep := progress.New(len(files), b.opts.ProgressOut, repOpts...)
	b.mu.Lock()
	b.reporter = rep
	b.mu.Unlock()

	executor := retry.NewExecutor(b.opts.Policies,
		retry.WithSleeper(b.opts.Sleeper),
		retry.WithObserver(b.env.RetryObserver()),
		retry.WithLogger(log),
	)
	proc := NewProcessor(b.env, st, ProcessorConfig{
		Analyzers:      b.opts.Analyzers,
		Executor:       executor,
		Algorithm:      b.opts.HashAlgorithm,
		ForceReprocess: b.opts.ForceReprocess,
		Progress:       rep,
	})
	sched := NewScheduler(b.opts.Mode, b.opts.MaxWorkers)

	log.Info("Run %s: %s files, analyzers %v, %s mode with %d worker(s)",
		b.env.ShortRunID(), humanize.Comma(int64(len(files))),
		analyzer.Names(b.opts.Analyzers), cmp.Or(b.opts.Mode, ModeSequential), sched.Workers(len(files)))

	m.BatchStarted()
	var resMu sync.Mutex
	sched.Run(ctx, files, func(ctx context.Context, f scanner.SourceFile) {
		if b.opts.Throttle != nil {
			if err := b.opts.Throttle.Wait(ctx); err != nil {
				return
			}
			defer b.opts.Throttle.Done()
		}
		out := proc.Process(ctx, f)

		switch out.Result {
		case ResultSkipped:
			rep.Skip()
		case ResultComplete:
			rep.Update(true)
		default:
			rep.Update(false)
			log.Error("Failed to process %s: %v", f.AbsPath, out.Err)
		}
		m.ObserveFile(string(out.Result), out.Duration)

		resMu.Lock()
		res.add(out)
		resMu.Unlock()
	})

	res.Progress = rep.Finish()
	res.Interrupted = ctx.Err() != nil
	slices.SortFunc(res.Failures, func(a, b Failure) int {
		return cmp.Compare(a.Path, b.Path)
	})

	if res.Interrupted {
		log.Warn("Run interrupted: %d of %d files were not dispatched",
			res.Total-res.Completed-res.Failed, res.Total)
	} else if b.opts.GenerateSummaries {
		counts, err := GenerateSummaries(ctx, st, b.opts.OutputDir, log)
		if err != nil {
			log.Error("Failed to generate summaries: %v", err)
		}
		res.Summaries = counts
	}

	res.Duration = time.Since(start)
	m.BatchFinished(res.Duration)
	return res, nil
}

func (b *Batch) validate() error {
	info, err := os.Stat(b.opts.InputDir)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInputMissing, b.opts.InputDir)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrInputMissing, b.opts.InputDir)
	}

	if len(b.opts.Analyzers) == 0 {
		return ErrNoAnalyzers
	}

	if err := b.opts.Scan.Validate(); err != nil {
		return err
	}
	if b.opts.HashAlgorithm != "" {
		if _, err := hasher.ParseAlgorithm(string(b.opts.HashAlgorithm)); err != nil {
			return err
		}
	}

	if b.opts.OutputDir == "" {
		return fmt.Errorf("%w: no output directory configured", ErrOutputUnwritable)
	}
	if err := os.MkdirAll(b.opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}
	check, err := os.CreateTemp(b.opts.OutputDir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}
	_ = check.Close()
	_ = os.Remove(check.Name())
	return nil
}

// LockOutput takes the exclusive lock on an output directory. ErrOutputLocked
// is returned when another process holds it.
func LockOutput(dir string) (*flock.Flock, error) {
	lock := flock.New(filepath.Join(dir, LockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutputUnwritable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrOutputLocked, dir)
	}
	return lock, nil
}

func categoryNames() []string {
	cats := retry.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return names
}
