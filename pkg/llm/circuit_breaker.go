package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// CircuitState is the breaker's current mode.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before one probe is let through.
	ResetAfter time.Duration
}

// DefaultCircuitBreakerConfig trips after 5 failures and probes after 30s.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{Threshold: 5, ResetAfter: 30 * time.Second}
}

// CircuitBreaker stops calling a provider that keeps failing.
type CircuitBreaker struct {
	mu               sync.Mutex
	threshold        int
	resetAfter       time.Duration
	consecutiveFails int
	lastFailure      time.Time
	state            CircuitState
	now              func() time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold <= 0 {
		config.Threshold = 1
	}
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		state:      CircuitClosed,
		now:        time.Now,
	}
}

// Allow reports whether a request may proceed. An open circuit moves to
// half-open once ResetAfter has elapsed and admits a single probe.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		since := cb.now().Sub(cb.lastFailure)
		if since >= cb.resetAfter {
			cb.state = CircuitHalfOpen
			return nil
		}
		return NewError(ErrorTypeCircuitOpen,
			fmt.Sprintf("provider unavailable after %d consecutive failures; retry in %v", cb.consecutiveFails, (cb.resetAfter-since).Round(time.Second)),
			false, nil)
	default:
		return NewError(ErrorTypeCircuitOpen, "provider recovery probe in flight", false, nil)
	}
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure, tripping the circuit at the threshold or
// when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails++
	cb.lastFailure = cb.now()
	if cb.state == CircuitHalfOpen || cb.consecutiveFails >= cb.threshold {
		cb.state = CircuitOpen
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

// BreakerGenerator guards a TextGenerator with a CircuitBreaker. Only
// retryable provider failures count against the circuit; a malformed prompt
// or bad key is not an outage.
type BreakerGenerator struct {
	next    TextGenerator
	breaker *CircuitBreaker
}

// WithCircuitBreaker wraps next.
func WithCircuitBreaker(next TextGenerator, breaker *CircuitBreaker) *BreakerGenerator {
	return &BreakerGenerator{next: next, breaker: breaker}
}

// Complete implements TextGenerator.
func (g *BreakerGenerator) Complete(ctx context.Context, prompt Prompt) (string, error) {
	if err := g.breaker.Allow(); err != nil {
		return "", err
	}
	out, err := g.next.Complete(ctx, prompt)
	switch {
	case err == nil:
		g.breaker.RecordSuccess()
	case IsRetryable(ClassifyError(err)):
		g.breaker.RecordFailure()
	default:
		// A non-outage failure still ends a half-open probe.
		g.breaker.RecordSuccess()
	}
	return out, err
}

// GetModel implements TextGenerator.
func (g *BreakerGenerator) GetModel() string { return g.next.GetModel() }

// Breaker exposes the breaker for health reporting.
func (g *BreakerGenerator) Breaker() *CircuitBreaker { return g.breaker }

var _ TextGenerator = (*BreakerGenerator)(nil)
