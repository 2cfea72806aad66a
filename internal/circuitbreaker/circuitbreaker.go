// Package circuitbreaker implements the per-symbol circuit breaker state
// machine (spec §3 CircuitBreakerState, §4.5, §9). It is one of the few
// legitimate process-wide shared mutable singletons the spec calls out,
// so it is held behind a typed registry with an explicit constructor
// rather than a package-level map.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/riskforge/engine/internal/domain"
	"github.com/riskforge/engine/internal/telemetry"
)

// Registry holds one CircuitBreakerState per symbol.
type Registry struct {
	mu    sync.Mutex
	state map[string]domain.CircuitBreakerState
}

func NewRegistry() *Registry {
	return &Registry{state: make(map[string]domain.CircuitBreakerState)}
}

func (r *Registry) get(symbol string, failureThreshold int, retryDelaySeconds int64) domain.CircuitBreakerState {
	s, ok := r.state[symbol]
	if !ok {
		s = domain.CircuitBreakerState{
			Symbol:            symbol,
			State:             domain.CircuitClosed,
			FailureThreshold:  failureThreshold,
			RetryDelaySeconds: retryDelaySeconds,
		}
		r.state[symbol] = s
	}
	return s
}

// Check returns the current state for symbol, transitioning OPEN ->
// HALF_OPEN if the retry deadline has passed (§4.5 guard 3).
func (r *Registry) Check(symbol string, now time.Time, failureThreshold int, retryDelaySeconds int64) domain.CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(symbol, failureThreshold, retryDelaySeconds)
	if s.State == domain.CircuitOpen && !now.Before(s.WillRetryAt) {
		s.State = domain.CircuitHalfOpen
		r.state[symbol] = s
	}
	publishGauge(s)
	return s
}

// RecordSuccess resets the breaker to CLOSED with zero failures (§4.5:
// "On a successful execution in HALF_OPEN, reset to CLOSED").
func (r *Registry) RecordSuccess(symbol string) domain.CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(symbol, 3, 300)
	s.State = domain.CircuitClosed
	s.FailureCount = 0
	r.state[symbol] = s
	publishGauge(s)
	return s
}

// Seed loads persisted breaker state into the registry, used at startup so
// a restart doesn't silently re-close a tripped symbol back to CLOSED.
func (r *Registry) Seed(states []domain.CircuitBreakerState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range states {
		r.state[s.Symbol] = s
		publishGauge(s)
	}
}

// RecordFailure increments the failure count and opens the breaker once
// the threshold is reached, or re-opens immediately from HALF_OPEN (§4.5).
func (r *Registry) RecordFailure(symbol string, now time.Time) domain.CircuitBreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.get(symbol, 3, 300)
	s.FailureCount++
	s.LastFailureAt = now

	if s.State == domain.CircuitHalfOpen {
		s.State = domain.CircuitOpen
		s.OpenedAt = now
		s.WillRetryAt = now.Add(time.Duration(s.RetryDelaySeconds) * time.Second)
	} else if s.FailureCount >= s.FailureThreshold {
		s.State = domain.CircuitOpen
		s.OpenedAt = now
		s.WillRetryAt = now.Add(time.Duration(s.RetryDelaySeconds) * time.Second)
	}
	r.state[symbol] = s
	publishGauge(s)
	return s
}

func publishGauge(s domain.CircuitBreakerState) {
	var v float64
	switch s.State {
	case domain.CircuitHalfOpen:
		v = 1
	case domain.CircuitOpen:
		v = 2
	}
	telemetry.CircuitBreakerState.WithLabelValues(s.Symbol).Set(v)
}
