// Package retry provides retry logic with exponential backoff shared by
// every backend that talks to a remote endpoint.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ShouldRetry decides whether err warrants another attempt. Backends supply
// their own predicate (matching native SDK error types, HTTP status codes,
// or io errors) rather than relying on a fixed error-code list, since what
// counts as transient differs per protocol.
type ShouldRetry func(err error) bool

// Config defines retry behavior configuration.
type Config struct {
	// MaxAttempts is the maximum number of retry attempts (including the
	// initial attempt).
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration `yaml:"initial_delay" json:"initial_delay"`

	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay" json:"max_delay"`

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`

	// Jitter adds randomness to delay to prevent thundering herd.
	Jitter bool `yaml:"jitter" json:"jitter"`

	// ShouldRetry decides whether a given error should trigger another
	// attempt. Defaults to retrying nothing if unset, so callers must
	// supply a backend-specific predicate.
	ShouldRetry ShouldRetry `yaml:"-" json:"-"`

	// RewindBody, if set, is invoked before each retry attempt after the
	// first so a request body consumed by a prior attempt can be
	// replayed. An error from it ends the retry loop with that error. None
	// of the backends in this module sets it.
	RewindBody func() error `yaml:"-" json:"-"`

	// OnRetry is called before each retry attempt, after the delay has
	// been computed but before it is slept.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultConfig returns 5 attempts and a backoff starting at 0.1s, doubling
// per retry and capped at 30s: the n-th retry (n = 1, 2, ...) waits
// min(0.1 * 2^(n-1), 30s), varied by up to ±20% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer handles retry logic with exponential backoff.
type Retryer struct {
	config Config
}

// New creates a new Retryer with the given configuration, filling in
// defaults for zero values.
func New(config Config) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = func(error) bool { return false }
	}

	return &Retryer{config: config}
}

// Do executes fn with retry logic using a background context.
func (r *Retryer) Do(fn func() error) error {
	return r.DoWithContext(context.Background(), func(ctx context.Context) error {
		return fn()
	})
}

// DoWithContext executes fn with retry logic and context support.
func (r *Retryer) DoWithContext(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		default:
		}

		if attempt > 1 && r.config.RewindBody != nil {
			if err := r.config.RewindBody(); err != nil {
				return fmt.Errorf("rewind body before retry %d: %w", attempt, err)
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt >= r.config.MaxAttempts || !r.config.ShouldRetry(err) {
			return err
		}

		delay := r.calculateDelay(attempt)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

// calculateDelay implements delay = min(initialDelay * multiplier^(attempt-1), maxDelay),
// which for the defaults (0.1s, x2, 30s) is min(0.1 * 2^(attempt-1), 30s)
// before jitter: 0.1s after the first attempt, 0.2s after the second.
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		jitter := delay * 0.2 * (rand.Float64()*2 - 1)
		delay += jitter
	}

	return time.Duration(delay)
}

// WithMaxAttempts returns a new Retryer with modified max attempts.
func (r *Retryer) WithMaxAttempts(attempts int) *Retryer {
	newConfig := r.config
	newConfig.MaxAttempts = attempts
	return New(newConfig)
}

// WithMaxDelay returns a new Retryer with a modified backoff cap.
func (r *Retryer) WithMaxDelay(maxDelay time.Duration) *Retryer {
	newConfig := r.config
	newConfig.MaxDelay = maxDelay
	return New(newConfig)
}

// WithShouldRetry returns a new Retryer using the given predicate.
func (r *Retryer) WithShouldRetry(should ShouldRetry) *Retryer {
	newConfig := r.config
	newConfig.ShouldRetry = should
	return New(newConfig)
}

// WithRewindBody returns a new Retryer that rewinds the request body before
// each retry attempt.
func (r *Retryer) WithRewindBody(rewind func() error) *Retryer {
	newConfig := r.config
	newConfig.RewindBody = rewind
	return New(newConfig)
}

// WithOnRetry returns a new Retryer with a retry callback.
func (r *Retryer) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Retryer {
	newConfig := r.config
	newConfig.OnRetry = callback
	return New(newConfig)
}

// Stats tracks retry statistics, collected by callers via OnRetry.
type Stats struct {
	TotalAttempts   int           `json:"total_attempts"`
	SuccessfulRetry int           `json:"successful_retry"`
	FailedRetry     int           `json:"failed_retry"`
	TotalDelay      time.Duration `json:"total_delay"`
	MaxAttemptsUsed int           `json:"max_attempts_used"`
}

// StatsCollector accumulates Stats across calls to a Retryer.
type StatsCollector struct {
	stats Stats
}

// NewStatsCollector creates a new stats collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{}
}

// RecordAttempt records one retry attempt.
func (sc *StatsCollector) RecordAttempt(attempts int, success bool, delay time.Duration) {
	sc.stats.TotalAttempts++
	if success {
		sc.stats.SuccessfulRetry++
	} else {
		sc.stats.FailedRetry++
	}

	sc.stats.TotalDelay += delay
	if attempts > sc.stats.MaxAttemptsUsed {
		sc.stats.MaxAttemptsUsed = attempts
	}
}

// GetStats returns current statistics.
func (sc *StatsCollector) GetStats() Stats {
	return sc.stats
}

// Reset clears accumulated statistics.
func (sc *StatsCollector) Reset() {
	sc.stats = Stats{}
}
