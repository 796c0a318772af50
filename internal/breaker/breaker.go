// Package breaker implements a per-endpoint circuit breaker and a wall-clock
// timeout harness for LLM and subprocess calls.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Matthieu5555/IsoCrates-sub000/internal/metrics"
)

// State of a breaker.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

const (
	// DefaultThreshold is the number of consecutive failures that opens a breaker.
	DefaultThreshold = 3
	// DefaultCooldown is how long an open breaker rejects before probing.
	DefaultCooldown = 60 * time.Second
)

// OpenError is returned by Check when the breaker rejects a request.
type OpenError struct {
	Endpoint   string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Endpoint, e.RetryAfter.Round(time.Second))
}

// TimeoutError is returned by Do when fn exceeds its wall-clock deadline.
// It is distinct from any error fn itself returns.
type TimeoutError struct {
	Label   string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Label, e.Timeout)
}

// Breaker is a three-state circuit breaker for one endpoint.
// All state transitions are mutex-guarded; scouts and writers share instances.
type Breaker struct {
	endpoint  string
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

func newBreaker(endpoint string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{endpoint: endpoint, threshold: threshold, cooldown: cooldown}
}

// Check reports whether a request may proceed. In the Open state the
// cooldown gates a single transition to HalfOpen; until then it returns
// *OpenError with the remaining wait.
func (b *Breaker) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed, HalfOpen:
		return nil
	default: // Open
		elapsed := time.Since(b.lastFailure)
		if elapsed >= b.cooldown {
			b.setState(HalfOpen)
			return nil
		}
		return &OpenError{Endpoint: b.endpoint, RetryAfter: b.cooldown - elapsed}
	}
}

// RecordSuccess resets the failure counter and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state == HalfOpen {
		b.setState(Closed)
	}
}

// RecordFailure counts one failure. A half-open probe failure reopens
// immediately; otherwise the threshold applies.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == HalfOpen {
		b.lastFailure = time.Now()
		b.setState(Open)
		return
	}
	if b.failures >= b.threshold {
		b.lastFailure = time.Now()
		b.setState(Open)
	}
}

// StateNow returns the current state without side effects.
func (b *Breaker) StateNow() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState mutates state and mirrors it to the gauge. Caller holds b.mu.
func (b *Breaker) setState(s State) {
	b.state = s
	var v float64
	switch s {
	case HalfOpen:
		v = 1
	case Open:
		v = 2
	}
	metrics.BreakerState.WithLabelValues(b.endpoint).Set(v)
}

// Registry holds one breaker per endpoint label. Process-global via Default.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry returns an empty registry. Most callers use Default.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*Breaker)}
}

var defaultRegistry = NewRegistry()

// Default returns the process-global registry.
func Default() *Registry { return defaultRegistry }

// Get returns the breaker for endpoint, creating it with defaults on first use.
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[endpoint]
	if !ok {
		b = newBreaker(endpoint, DefaultThreshold, DefaultCooldown)
		r.breakers[endpoint] = b
	}
	return b
}

// ResetAll drops every breaker. Intended for tests.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers = make(map[string]*Breaker)
}

// Do consults the endpoint's breaker, runs fn with a wall-clock deadline,
// and records the outcome. A rejected request (breaker open) does not count
// as a new failure. Timeouts yield *TimeoutError; fn's own errors pass
// through unchanged. When the deadline fires, fn's goroutine is abandoned
// and will unwind at its next suspension point via ctx.
func Do[T any](ctx context.Context, r *Registry, label string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	b := r.Get(label)
	if err := b.Check(); err != nil {
		return zero, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			b.RecordFailure()
			return zero, res.err
		}
		b.RecordSuccess()
		return res.value, nil
	case <-ctx.Done():
		b.RecordFailure()
		return zero, &TimeoutError{Label: label, Timeout: timeout}
	}
}
