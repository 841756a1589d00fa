// Package ratelimit fairly shares backend capacity between callers. Every
// (caller, operation) pair owns a token bucket; exhausted buckets queue the
// caller instead of rejecting, and transient downstream failures are
// retried under exponential backoff with a fresh token per attempt.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	dispatcherrors "github.com/felixgeelhaar/dispatch/internal/errors"
	"github.com/felixgeelhaar/dispatch/internal/log"
	"github.com/felixgeelhaar/dispatch/internal/metrics"
)

// Rule sizes one bucket: Capacity tokens per Window, refilled continuously.
// Capacity doubles as the burst.
type Rule struct {
	Capacity int
	Window   time.Duration
}

// Validate checks the rule is usable.
func (r Rule) Validate() error {
	if r.Capacity <= 0 {
		return fmt.Errorf("rate rule capacity must be positive, got %d", r.Capacity)
	}
	if r.Window <= 0 {
		return fmt.Errorf("rate rule window must be positive, got %s", r.Window)
	}
	return nil
}

func (r Rule) limit() rate.Limit {
	return rate.Limit(float64(r.Capacity) / r.Window.Seconds())
}

// DefaultRule is used for operations without an explicit rule.
func DefaultRule() Rule {
	return Rule{Capacity: 10, Window: time.Minute}
}

// RetryPolicy shapes the exponential backoff applied to transient failures.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultRetryPolicy returns the standard backoff shape.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		Multiplier:      2.0,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     4,
	}
}

type bucketKey struct {
	caller    string
	operation string
}

// Balancer owns the bucket map. The mutex guards only map access; waiting
// on a bucket happens outside it, so unrelated pairs never contend.
type Balancer struct {
	mu       sync.Mutex
	limiters map[bucketKey]*rate.Limiter

	rules    map[string]Rule
	fallback Rule
	retry    RetryPolicy
	metrics  *metrics.Metrics
	logger   *log.Logger
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithRule installs a per-operation rule.
func WithRule(operation string, rule Rule) Option {
	return func(b *Balancer) { b.rules[operation] = rule }
}

// WithRules installs a batch of per-operation rules.
func WithRules(rules map[string]Rule) Option {
	return func(b *Balancer) {
		for op, rule := range rules {
			b.rules[op] = rule
		}
	}
}

// WithRetryPolicy replaces the default backoff shape.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(b *Balancer) { b.retry = p }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Balancer) { b.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) Option {
	return func(b *Balancer) { b.logger = l }
}

// NewBalancer creates a balancer with the given fallback rule.
func NewBalancer(fallback Rule, opts ...Option) *Balancer {
	b := &Balancer{
		limiters: make(map[bucketKey]*rate.Limiter),
		rules:    make(map[string]Rule),
		fallback: fallback,
		retry:    DefaultRetryPolicy(),
		logger:   log.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// limiter returns the bucket for a key, creating it on first use. Buckets
// live for the process lifetime.
func (b *Balancer) limiter(key bucketKey) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if lim, ok := b.limiters[key]; ok {
		return lim
	}

	rule, ok := b.rules[key.operation]
	if !ok {
		rule = b.fallback
	}
	lim := rate.NewLimiter(rule.limit(), rule.Capacity)
	b.limiters[key] = lim
	return lim
}

// acquire blocks until the bucket grants a token. A context the bucket
// cannot satisfy in time surfaces as a resource-exhausted error, which is
// a distinct condition from a transient downstream failure.
func (b *Balancer) acquire(ctx context.Context, key bucketKey) error {
	lim := b.limiter(key)

	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		if b.metrics != nil {
			b.metrics.RateRejects.WithLabelValues(key.operation).Inc()
		}
		return dispatcherrors.NewRateDeadlineError(key.caller, key.operation, err)
	}
	waited := time.Since(start)

	if b.metrics != nil {
		b.metrics.RateQueueWait.WithLabelValues(key.operation).Observe(waited.Seconds())
		b.metrics.RateGrants.WithLabelValues(key.operation).Inc()
	}
	if waited > time.Second {
		b.logger.Debug("rate bucket queued caller",
			"caller", key.caller,
			"operation", key.operation,
			"waited", waited.String())
	}
	return nil
}

// Do runs fn under the (caller, operation) bucket. Transient failures are
// retried with exponential backoff, re-acquiring a token for each attempt
// so retries stay fair under contention. Permanent and resource-exhausted
// failures surface immediately.
func (b *Balancer) Do(ctx context.Context, caller, operation string, fn func(context.Context) error) error {
	key := bucketKey{caller: caller, operation: operation}

	attempt := 0
	run := func() (struct{}, error) {
		if err := b.acquire(ctx, key); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}

		attempt++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}

		if !dispatcherrors.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}

		if attempt < b.retry.MaxAttempts {
			if b.metrics != nil {
				b.metrics.InvocationRetries.WithLabelValues(caller, operation).Inc()
			}
			b.logger.Warn("transient failure, will retry",
				"caller", caller,
				"operation", operation,
				"attempt", attempt,
				"error", err.Error())
		}
		return struct{}{}, err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = b.retry.InitialInterval
	expo.Multiplier = b.retry.Multiplier
	expo.MaxInterval = b.retry.MaxInterval

	_, err := backoff.Retry(ctx, run,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(b.retry.MaxAttempts)))
	return err
}
