package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/singleflight"

	"image-analyzer/internal/analyzer"
	"image-analyzer/internal/hasher"
	"image-analyzer/internal/progress"
	"image-analyzer/internal/record"
	"image-analyzer/internal/retry"
	"image-analyzer/internal/runenv"
	"image-analyzer/internal/scanner"
)

// RecordStore is the part of the record store the pipeline needs.
type RecordStore interface {
	Lookup
	Upsert(ctx context.Context, r *record.Record) error
	GetAll(ctx context.Context) ([]*record.Record, error)
}

// Result is the outcome class of one file.
type Result string

// File outcomes.
const (
	ResultComplete Result = "complete"
	ResultFailed   Result = "failed"
	ResultSkipped  Result = "skipped"
)

// Outcome describes what happened to one file.
type Outcome struct {
	File        scanner.SourceFile
	Fingerprint string
	Result      Result
	// Err is the file-level error for failed files.
	Err error
	// AnalyzerErrors maps analyzer name to its final error message.
	AnalyzerErrors map[string]string
	// Shared is set when the work was done for another file with the same
	// content in flight at the same time.
	Shared   bool
	Duration time.Duration
}

// Succeeded reports whether the file counts as completed.
func (o Outcome) Succeeded() bool {
	return o.Result != ResultFailed
}

// Processor runs the per-file pipeline.
type Processor struct {
	env       *runenv.Env
	store     RecordStore
	gate      *Gate
	analyzers []analyzer.Analyzer
	executor  *retry.Executor
	algorithm hasher.Algorithm
	settings  record.Settings
	force     bool
	progress  *progress.Reporter

	inflight singleflight.Group
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Analyzers      []analyzer.Analyzer
	Executor       *retry.Executor
	Algorithm      hasher.Algorithm
	ForceReprocess bool
	Progress       *progress.Reporter
}

// NewProcessor creates a Processor writing to st.
func NewProcessor(env *runenv.Env, st RecordStore, cfg ProcessorConfig) *Processor {
	analyzers := analyzer.SortByOrder(cfg.Analyzers)
	executor := cfg.Executor
	if executor == nil {
		executor = retry.NewExecutor(nil, retry.WithLogger(env.Log), retry.WithObserver(env.RetryObserver()))
	}
	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = hasher.Default
	}
	rep := cfg.Progress
	if rep == nil {
		rep = progress.New(0, nil)
	}
	return &Processor{
		env:       env,
		store:     st,
		gate:      NewGate(st, env.Log),
		analyzers: analyzers,
		executor:  executor,
		algorithm: algorithm,
		settings:  analyzer.Settings(analyzers, string(algorithm)),
		force:     cfg.ForceReprocess,
		progress:  rep,
	}
}

// Process runs one file through the pipeline. It never panics and never
// returns an error; everything is described by the Outcome.
func (p *Processor) Process(ctx context.Context, f scanner.SourceFile) Outcome {
	start := time.Now()
	out := p.guard(f, func() Outcome {
		p.progress.UpdateStatus(f.Name(), "hashing")
		sum, _, err := retry.Execute(ctx, p.executor, retry.CategoryStorage, "hash "+f.Name(),
			func(ctx context.Context) (hasher.Sum, error) {
				return p.algorithm.File(ctx, f.AbsPath)
			})
		if err != nil {
			return Outcome{File: f, Result: ResultFailed, Err: fmt.Errorf("fingerprinting: %w", err)}
		}

		v, _, shared := p.inflight.Do(sum.Fingerprint, func() (any, error) {
			return p.guard(f, func() Outcome { return p.processContent(ctx, f, sum) }), nil
		})
		res := v.(Outcome)
		res.Shared = shared && res.File.AbsPath != f.AbsPath
		res.File = f
		return res
	})
	out.Duration = time.Since(start)
	return out
}

// guard converts a panic in fn into a failed Outcome for f.
func (p *Processor) guard(f scanner.SourceFile, fn func() Outcome) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.env.Log.Error("Panic while processing %s: %v\n%s", f.AbsPath, r, debug.Stack())
			out = Outcome{File: f, Result: ResultFailed, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return fn()
}

// processContent handles one distinct fingerprint.
func (p *Processor) processContent(ctx context.Context, f scanner.SourceFile, sum hasher.Sum) Outcome {
	log := p.env.Log
	out := Outcome{File: f, Fingerprint: sum.Fingerprint}

	if !p.gate.ShouldProcess(ctx, sum.Fingerprint, p.force) {
		log.Debug("Skipping %s: already analyzed (%s)", f.Name(), sum.Fingerprint)
		out.Result = ResultSkipped
		return out
	}

	start := time.Now()
	rec := record.New(sum.Fingerprint, f.AbsPath, sum.Size, p.settings)
	rec.RunID = p.env.RunID
	if err := rec.Advance(record.StatusProcessing); err != nil {
		out.Result = ResultFailed
		out.Err = err
		return out
	}
	if err := p.store.Upsert(ctx, rec); err != nil {
		out.Result = ResultFailed
		out.Err = fmt.Errorf("persisting processing record: %w", err)
		return out
	}

	for _, a := range p.analyzers {
		if ctx.Err() != nil {
			// Leave the record at processing; the next run retries it.
			out.Result = ResultFailed
			out.Err = ctx.Err()
			return out
		}

		res, err := p.runAnalyzer(ctx, a, f)
		rec.SetResult(res)
		if err == nil {
			continue
		}

		if out.AnalyzerErrors == nil {
			out.AnalyzerErrors = make(map[string]string)
		}
		out.AnalyzerErrors[a.Name()] = res.Error
		p.progress.AnalyzerError()

		if k := retry.KindOf(err); k == retry.KindFileIO || k == retry.KindStale {
			// The source became unreadable; later analyzers would fail the same way.
			rec.AddFileError(fmt.Errorf("%s: %w", a.Name(), err))
			break
		}
		if ctx.Err() != nil {
			out.Result = ResultFailed
			out.Err = ctx.Err()
			return out
		}
	}

	rec.ProcessedAt = record.Now()
	rec.ProcessingTime = time.Since(start).Round(time.Millisecond)
	final := record.StatusComplete
	if rec.HasFileError() {
		final = record.StatusFailed
	}
	if err := rec.Advance(final); err != nil {
		out.Result = ResultFailed
		out.Err = err
		return out
	}

	if err := p.store.Upsert(ctx, rec); err != nil {
		out.Result = ResultFailed
		out.Err = fmt.Errorf("persisting record: %w", err)
		return out
	}

	if final == record.StatusFailed {
		out.Result = ResultFailed
		out.Err = errors.New(rec.Errors[len(rec.Errors)-1].Error)
		return out
	}
	out.Result = ResultComplete
	return out
}

func (p *Processor) runAnalyzer(ctx context.Context, a analyzer.Analyzer, f scanner.SourceFile) (*record.Result, error) {
	p.progress.UpdateStatus(f.Name(), a.Name())

	attempted := record.Now()
	start := time.Now()
	payload, stats, err := retry.Execute(ctx, p.executor, a.Category(), a.Name()+" "+f.Name(),
		func(ctx context.Context) (record.Payload, error) {
			return a.Analyze(ctx, f.AbsPath)
		})
	p.env.Metrics.ObserveAnalyzer(a.Name(), time.Since(start), err)

	res := &record.Result{
		Analyzer:    a.Name(),
		AttemptedAt: attempted,
		Attempts:    stats.Attempts,
	}
	if err != nil {
		res.Error = err.Error()
		res.ErrorKind = string(retry.KindOf(err))
		p.env.Log.Warn("%s failed for %s after %d attempt(s): %v", a.Name(), f.Name(), stats.Attempts, err)
		return res, err
	}
	if payload == nil {
		payload = record.Payload{}
	}
	res.Payload = payload
	return res, nil
}
