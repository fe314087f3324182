package retry

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// Category groups operations that share a retry policy.
type Category string

const (
	// CategoryNetwork covers transport-level calls to remote services.
	CategoryNetwork Category = "network"
	// CategoryStorage covers local file reads and writes.
	CategoryStorage Category = "storage"
	// CategoryUpstream covers calls whose failures originate in the
	// remote service itself.
	CategoryUpstream Category = "upstream"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{CategoryNetwork, CategoryStorage, CategoryUpstream}
}

// Policy configures retry behavior for one category.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
	// MaxDelay caps a single sleep. Zero means uncapped.
	MaxDelay  time.Duration
	Retryable []Kind
}

// Delay returns the sleep before retry number attempt (zero based).
func (p Policy) Delay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// IsRetryable reports whether failures of kind may be retried.
func (p Policy) IsRetryable(kind Kind) bool {
	return slices.Contains(p.Retryable, kind)
}

// Validate rejects nonsensical policies.
func (p Policy) Validate() error {
	var errs []error
	if p.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must be >= 0, got %d", p.MaxRetries))
	}
	if p.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("base delay must be >= 0, got %v", p.BaseDelay))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("backoff multiplier must be >= 1, got %v", p.Multiplier))
	}
	return errors.Join(errs...)
}

// Policies maps each category to its policy.
type Policies map[Category]Policy

// DefaultPolicies returns the per-category defaults.
func DefaultPolicies() Policies {
	return Policies{
		CategoryNetwork: {
			MaxRetries: 3,
			BaseDelay:  1 * time.Second,
			Multiplier: 2,
			MaxDelay:   30 * time.Second,
			Retryable:  []Kind{KindTransport, KindTimeout, KindUpstream},
		},
		CategoryStorage: {
			MaxRetries: 2,
			BaseDelay:  500 * time.Millisecond,
			Multiplier: 1.5,
			MaxDelay:   5 * time.Second,
			Retryable:  []Kind{KindStale},
		},
		CategoryUpstream: {
			MaxRetries: 3,
			BaseDelay:  1 * time.Second,
			Multiplier: 2,
			MaxDelay:   30 * time.Second,
			Retryable:  []Kind{KindTransport, KindTimeout, KindUpstream, KindMalformed},
		},
	}
}

// Get returns the policy for c, falling back to a no-retry policy.
func (ps Policies) Get(c Category) Policy {
	if p, ok := ps[c]; ok {
		return p
	}
	return Policy{Multiplier: 1}
}

// Validate checks every policy in the table.
func (ps Policies) Validate() error {
	var errs []error
	for c, p := range ps {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s policy: %w", c, err))
		}
	}
	return errors.Join(errs...)
}
