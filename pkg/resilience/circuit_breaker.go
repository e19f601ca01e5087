package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/alG-N/alterGoldenBot-sub006/pkg/errors"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/logging"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests fail fast
	StateOpen
	// StateHalfOpen - circuit is probing, limited requests are allowed
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// FallbackFunc produces an alternative result when the wrapped call
// fails or is rejected. The cause is the error being recovered from.
type FallbackFunc func(ctx context.Context, cause error) (interface{}, error)

// Config holds configuration for a circuit breaker
type Config struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that trips
	// the breaker from CLOSED to OPEN
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in
	// HALF_OPEN required to close the breaker again
	SuccessThreshold int
	// Timeout is the per-call budget the wrapped operation races against
	Timeout time.Duration
	// ResetTimeout is how long the breaker stays OPEN before the next
	// call is allowed through as a probe
	ResetTimeout time.Duration
	// IsFailure decides whether an error counts as a circuit failure.
	// Errors it rejects (e.g. rate-limit responses) are returned to the
	// caller without touching the failure counter. Nil counts every error.
	IsFailure func(error) bool
	// Fallback is the breaker-configured fallback, tried after any
	// per-call fallback
	Fallback FallbackFunc
}

// Counters holds cumulative request accounting for a breaker
type Counters struct {
	TotalRequests      uint64 `json:"total_requests"`
	SuccessfulRequests uint64 `json:"successful_requests"`
	FailedRequests     uint64 `json:"failed_requests"`
	RejectedRequests   uint64 `json:"rejected_requests"`
	Timeouts           uint64 `json:"timeouts"`
	FallbackExecutions uint64 `json:"fallback_executions"`
}

// StateChange records one breaker transition
type StateChange struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// historyLimit bounds the state-change history; oldest entries drop first
const historyLimit = 20

// Stats is a point-in-time snapshot of a breaker
type Stats struct {
	Name         string        `json:"name"`
	State        State         `json:"state"`
	FailureCount int           `json:"failure_count"`
	SuccessCount int           `json:"success_count"`
	NextAttempt  time.Time     `json:"next_attempt,omitempty"`
	Counters     Counters      `json:"counters"`
	SuccessRate  string        `json:"success_rate"`
	History      []StateChange `json:"history"`
}

// CircuitBreaker wraps one asynchronous call type and fails fast once
// the dependency is judged unhealthy. OPEN to HALF_OPEN is lazy: it is
// evaluated only when a call arrives after the reset deadline, so an
// idle breaker never self-heals.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	resetTimeout     time.Duration
	isFailure        func(error) bool
	fallback         FallbackFunc

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	nextAttempt  time.Time
	counters     Counters
	history      []StateChange

	obsMu     sync.RWMutex
	observers []BreakerObserver

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		successThreshold: config.SuccessThreshold,
		timeout:          config.Timeout,
		resetTimeout:     config.ResetTimeout,
		isFailure:        config.IsFailure,
		fallback:         config.Fallback,
		state:            StateClosed,
		logger:           logging.GetLogger(),
	}
}

// Subscribe registers an observer for state changes and rejections
func (cb *CircuitBreaker) Subscribe(obs BreakerObserver) {
	cb.obsMu.Lock()
	defer cb.obsMu.Unlock()
	cb.observers = append(cb.observers, obs)
}

// Execute runs op through the breaker, racing it against the configured
// timeout. On failure or rejection the breaker-configured fallback is
// consulted before the error is returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	return cb.ExecuteWithFallback(ctx, op, nil)
}

// ExecuteWithFallback runs op through the breaker with a per-call
// fallback that takes precedence over the configured one.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, op func(context.Context) (interface{}, error), fallback FallbackFunc) (interface{}, error) {
	if !cb.allowRequest() {
		cb.notifyRejection()
		rejection := &CircuitBreakerError{Name: cb.name, State: StateOpen}
		return cb.runFallbacks(ctx, fallback, rejection)
	}

	result, err := cb.run(ctx, op)
	if err == nil {
		cb.recordSuccess()
		return result, nil
	}

	if cb.countsAsFailure(err) {
		cb.recordFailure(err)
	}
	return cb.runFallbacks(ctx, fallback, err)
}

// Trip forces the breaker OPEN
func (cb *CircuitBreaker) Trip(reason string) {
	cb.mu.Lock()
	change := cb.transitionLocked(StateOpen, reason)
	cb.mu.Unlock()
	cb.notifyChange(change)
}

// Reset returns the breaker to a pristine CLOSED state, clearing all
// counters and history. Intended for recovery tooling and test isolation.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	change := cb.transitionLocked(StateClosed, "manual reset")
	cb.counters = Counters{}
	cb.history = nil
	cb.mu.Unlock()
	cb.notifyChange(change)
}

// State returns the stored state without evaluating the reset deadline.
// An OPEN breaker reports OPEN until a call arrives and probes it.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Counters returns a copy of the cumulative counters
func (cb *CircuitBreaker) Counters() Counters {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counters
}

// SuccessRate returns successfulRequests/totalRequests as a two-decimal
// percentage, or "N/A" before any request has been made.
func (cb *CircuitBreaker) SuccessRate() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return successRateLocked(cb.counters)
}

func successRateLocked(c Counters) string {
	if c.TotalRequests == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", float64(c.SuccessfulRequests)/float64(c.TotalRequests)*100)
}

// Stats returns a snapshot of the breaker
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	history := make([]StateChange, len(cb.history))
	copy(history, cb.history)

	return Stats{
		Name:         cb.name,
		State:        cb.state,
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
		NextAttempt:  cb.nextAttempt,
		Counters:     cb.counters,
		SuccessRate:  successRateLocked(cb.counters),
		History:      history,
	}
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	cb.counters.TotalRequests++

	switch cb.state {
	case StateOpen:
		if time.Now().Before(cb.nextAttempt) {
			cb.counters.RejectedRequests++
			cb.mu.Unlock()
			return false
		}
		// Reset deadline passed; this call becomes the probe
		change := cb.transitionLocked(StateHalfOpen, "reset timeout elapsed")
		cb.mu.Unlock()
		cb.notifyChange(change)
		return true
	default:
		cb.mu.Unlock()
		return true
	}
}

func (cb *CircuitBreaker) run(ctx context.Context, op func(context.Context) (interface{}, error)) (interface{}, error) {
	if cb.timeout <= 0 {
		return op(ctx)
	}

	type callResult struct {
		value interface{}
		err   error
	}
	done := make(chan callResult, 1)
	go func() {
		value, err := op(ctx)
		done <- callResult{value, err}
	}()

	timer := time.NewTimer(cb.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		// The wrapped call may still complete in the background;
		// its result is discarded.
		cb.mu.Lock()
		cb.counters.Timeouts++
		cb.mu.Unlock()
		return nil, apperrors.NewTimeoutError(cb.name)
	}
}

func (cb *CircuitBreaker) countsAsFailure(err error) bool {
	if cb.isFailure == nil {
		return true
	}
	return cb.isFailure(err)
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	cb.counters.SuccessfulRequests++

	var change *StateChange
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			change = cb.transitionLocked(StateClosed, "success threshold reached")
		}
	}
	cb.mu.Unlock()
	cb.notifyChange(change)
}

func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	cb.counters.FailedRequests++

	var change *StateChange
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		cb.successCount = 0
		if cb.failureCount >= cb.failureThreshold {
			change = cb.transitionLocked(StateOpen, fmt.Sprintf("failure threshold reached: %v", err))
		}
	case StateHalfOpen:
		change = cb.transitionLocked(StateOpen, fmt.Sprintf("failure while half-open: %v", err))
	}
	cb.mu.Unlock()
	cb.notifyChange(change)
}

// transitionLocked applies a state change. nextAttempt is set iff the
// new state is OPEN. Returns nil when the state did not actually change.
func (cb *CircuitBreaker) transitionLocked(to State, reason string) *StateChange {
	if cb.state == to {
		return nil
	}

	change := StateChange{From: cb.state, To: to, At: time.Now(), Reason: reason}
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0

	if to == StateOpen {
		cb.nextAttempt = change.At.Add(cb.resetTimeout)
	} else {
		cb.nextAttempt = time.Time{}
	}

	cb.history = append(cb.history, change)
	if len(cb.history) > historyLimit {
		cb.history = cb.history[len(cb.history)-historyLimit:]
	}

	return &change
}

func (cb *CircuitBreaker) notifyChange(change *StateChange) {
	if change == nil {
		return
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", change.From.String(),
		"to", change.To.String(),
		"reason", change.Reason,
	)

	cb.obsMu.RLock()
	observers := make([]BreakerObserver, len(cb.observers))
	copy(observers, cb.observers)
	cb.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnBreakerStateChange(cb.name, change.From, change.To, change.Reason)
	}
}

func (cb *CircuitBreaker) notifyRejection() {
	cb.obsMu.RLock()
	observers := make([]BreakerObserver, len(cb.observers))
	copy(observers, cb.observers)
	cb.obsMu.RUnlock()

	for _, obs := range observers {
		obs.OnBreakerRejection(cb.name)
	}
}

func (cb *CircuitBreaker) runFallbacks(ctx context.Context, perCall FallbackFunc, cause error) (interface{}, error) {
	for _, fb := range []FallbackFunc{perCall, cb.fallback} {
		if fb == nil {
			continue
		}
		cb.mu.Lock()
		cb.counters.FallbackExecutions++
		cb.mu.Unlock()

		if value, err := fb(ctx, cause); err == nil {
			return value, nil
		}
	}
	return nil, cause
}

// CircuitBreakerError is the capacity-protection rejection returned when
// a breaker is OPEN. It is distinct from the wrapped call's own errors.
type CircuitBreakerError struct {
	Name  string
	State State
}

// Code identifies breaker rejections in error reporting
const CircuitOpenCode = "CIRCUIT_OPEN"

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("%s: circuit breaker '%s' is %s", CircuitOpenCode, e.Name, e.State.String())
}

// IsCircuitBreakerError checks if an error is a circuit breaker rejection
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
