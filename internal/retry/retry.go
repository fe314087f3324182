package retry

import (
	"context"
	"time"

	"image-analyzer/internal/logging"
)

// Observer records retry metrics. Implementations are provided by the
// metrics package to break the import cycle between retry and metrics.
type Observer interface {
	ObserveRetryAttempt(category Category)
	ObserveRetrySuccess(category Category)
	ObserveRetryFailure(category Category)
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Operation is a unit of work that may be retried.
type Operation[T any] func(ctx context.Context) (T, error)

// Stats describes what happened during a retried call.
type Stats struct {
	Attempts int
	Delays   []time.Duration
	Elapsed  time.Duration
}

// Hooks customise a single WithRetry call.
type Hooks struct {
	Category Category
	Label    string
	Sleep    Sleeper
	Observer Observer
	Log      *logging.Logger
}

// WithRetry runs op under policy p. Retryable failures are retried with
// exponential delay until the policy is exhausted, at which point an
// *ExhaustedError wrapping the last failure is returned. Non-retryable
// failures are returned immediately without consuming a retry.
func WithRetry[T any](ctx context.Context, p Policy, op Operation[T], hooks Hooks) (T, Stats, error) {
	var zero T
	var stats Stats
	start := time.Now()
	sleep := hooks.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			stats.Elapsed = time.Since(start)
			return zero, stats, Mark(KindCanceled, err)
		}

		stats.Attempts++
		value, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				hooks.Log.Info("%s succeeded on retry %d", hooks.Label, attempt)
				if hooks.Observer != nil {
					hooks.Observer.ObserveRetrySuccess(hooks.Category)
				}
			}
			stats.Elapsed = time.Since(start)
			return value, stats, nil
		}

		kind := KindOf(err)
		if !p.IsRetryable(kind) {
			stats.Elapsed = time.Since(start)
			return zero, stats, err
		}

		// Don't sleep after the last attempt
		if attempt >= p.MaxRetries {
			hooks.Log.Warn("%s failed after %d retries: %v", hooks.Label, p.MaxRetries, err)
			if hooks.Observer != nil {
				hooks.Observer.ObserveRetryFailure(hooks.Category)
			}
			stats.Elapsed = time.Since(start)
			return zero, stats, &ExhaustedError{Attempts: stats.Attempts, Err: err}
		}

		delay := p.Delay(attempt)
		stats.Delays = append(stats.Delays, delay)
		if hooks.Observer != nil {
			hooks.Observer.ObserveRetryAttempt(hooks.Category)
		}
		hooks.Log.Debug("%s failed (%s), retrying in %v (attempt %d/%d)",
			hooks.Label, kind, delay, attempt+1, p.MaxRetries)

		if err := sleep(ctx, delay); err != nil {
			stats.Elapsed = time.Since(start)
			return zero, stats, Mark(KindCanceled, err)
		}
	}
}

// Executor binds a policy table to shared hooks.
type Executor struct {
	policies Policies
	sleep    Sleeper
	observer Observer
	log      *logging.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Executor) {
		e.log = l
	}
}

// NewExecutor creates an Executor. A nil policy table uses DefaultPolicies.
func NewExecutor(policies Policies, opts ...Option) *Executor {
	if policies == nil {
		policies = DefaultPolicies()
	}
	e := &Executor{
		policies: policies,
		sleep:    SleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy used for category c.
func (e *Executor) Policy(c Category) Policy {
	return e.policies.Get(c)
}

// Execute runs op under the executor's policy for category c.
func Execute[T any](ctx context.Context, e *Executor, c Category, label string, op Operation[T]) (T, Stats, error) {
	return WithRetry(ctx, e.Policy(c), op, Hooks{
		Category: c,
		Label:    label,
		Sleep:    e.sleep,
		Observer: e.observer,
		Log:      e.log,
	})
}
