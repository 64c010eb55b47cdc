// Package retry provides exponential backoff with jitter for agent
// invocations, capped at a configurable attempt count (§4.3: "exponential
// backoff with jitter, capped attempts (default 3)").
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// retryableError is implemented by agentadapter.Error via duck typing.
// This package can't import agentadapter directly: agentadapter imports
// retry to build the Adapter's middleware stack, and a direct import
// back would be a cycle.
type retryableError interface {
	Retryable() bool
}

// Config defines retry behavior.
type Config struct {
	MaxAttempts   int           // maximum number of attempts, including the first
	InitialDelay  time.Duration // delay before the first retry
	MaxDelay      time.Duration // delay cap
	BackoffFactor float64       // multiplier applied per attempt
	Jitter        bool          // randomize delay by ±10% to avoid thundering herd
}

// DefaultConfig matches §4.3's default of 3 attempts.
//
//nolint:gochecknoglobals // sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:   3,
	InitialDelay:  500 * time.Millisecond,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 2.0,
	Jitter:        true,
}

// Classifier determines whether an error should be retried.
type Classifier func(error) bool

// ShouldRetry is the default classifier: an agentadapter.Error retries
// according to its Kind's Retryable() rule (§4.3: "the first three are
// retryable; the remainder are terminal"); context cancellation never
// retries; anything else unclassified is treated as Internal and not
// retried, since an unclassified failure is more likely a programming
// error than a transient one.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// Policy encapsulates retry configuration and the error classifier.
//
//nolint:govet // logical field grouping preferred over alignment
type Policy struct {
	Config     Config
	Classifier Classifier
}

// NewPolicy constructs a Policy, defaulting Classifier to ShouldRetry.
func NewPolicy(config Config, classifier Classifier) *Policy {
	if classifier == nil {
		classifier = ShouldRetry
	}
	return &Policy{Config: config, Classifier: classifier}
}

// CalculateDelay computes the backoff delay before the given attempt
// number (1-indexed; attempt 1 is the first try and never delays).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if delay > p.Config.MaxDelay {
		delay = p.Config.MaxDelay
	}

	if p.Config.Jitter && delay > 0 {
		jitter := time.Duration((rand.Float64()*2 - 1) * 0.1 * float64(delay)) //nolint:gosec // jitter timing, not security-sensitive
		delay += jitter
		if delay < 0 {
			delay = p.Config.InitialDelay
		}
	}

	return delay
}

// ShouldRetry applies the configured classifier to err.
func (p *Policy) ShouldRetry(err error) bool {
	return p.Classifier(err)
}
