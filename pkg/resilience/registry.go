package resilience

import (
	"context"
	"sync"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/config"
	apperrors "github.com/alG-N/alterGoldenBot-sub006/pkg/errors"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/logging"
)

// HealthStatus is the aggregate health of the registry, worst-of across
// all breakers.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Summary counts breakers by state
type Summary struct {
	Closed   int `json:"closed"`
	Open     int `json:"open"`
	HalfOpen int `json:"half_open"`
}

// Registry is a named collection of circuit breakers with pre-tuned
// policies per well-known dependency class. Protection is opportunistic:
// executing through an unknown name degrades to a direct call.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	obsMu     sync.RWMutex
	observers []BreakerObserver

	warnedMu sync.Mutex
	warned   map[string]bool

	logger *logging.Logger
}

// NewRegistry creates a registry pre-populated with breakers for the
// well-known dependency classes. Nil policies fall back to the defaults.
func NewRegistry(policies map[string]config.BreakerConfig) *Registry {
	if policies == nil {
		policies = config.DefaultBreakers()
	}

	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		warned:   make(map[string]bool),
		logger:   logging.GetLogger(),
	}

	for name, policy := range policies {
		cfg := Config{
			Name:             name,
			FailureThreshold: policy.FailureThreshold,
			SuccessThreshold: policy.SuccessThreshold,
			Timeout:          policy.Timeout,
			ResetTimeout:     policy.ResetTimeout,
		}
		// The chat API rate-limits aggressively under load; a 429 means
		// back off, not that the dependency is down.
		if name == config.BreakerChatAPI {
			cfg.IsFailure = notRateLimited
		}
		r.register(cfg)
	}

	return r
}

func notRateLimited(err error) bool {
	return !apperrors.IsType(err, apperrors.ErrorTypeRateLimit)
}

// Register creates a breaker under the given name, or returns the
// existing one: registration is idempotent.
func (r *Registry) Register(cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.breakers[cfg.Name]; ok {
		return existing
	}
	return r.registerLocked(cfg)
}

func (r *Registry) register(cfg Config) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(cfg)
}

func (r *Registry) registerLocked(cfg Config) *CircuitBreaker {
	cb := NewCircuitBreaker(cfg)

	r.obsMu.RLock()
	for _, obs := range r.observers {
		cb.Subscribe(obs)
	}
	r.obsMu.RUnlock()

	r.breakers[cfg.Name] = cb
	return cb
}

// Get returns the breaker registered under name
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// Subscribe registers an observer on every current and future breaker
func (r *Registry) Subscribe(obs BreakerObserver) {
	r.obsMu.Lock()
	r.observers = append(r.observers, obs)
	r.obsMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Subscribe(obs)
	}
}

// Execute runs op through the breaker registered under name. An unknown
// name runs op directly, unprotected; that is logged once per name and
// is not an error.
func (r *Registry) Execute(ctx context.Context, name string, op func(context.Context) (interface{}, error)) (interface{}, error) {
	cb, ok := r.Get(name)
	if !ok {
		r.warnUnknown(name)
		return op(ctx)
	}
	return cb.Execute(ctx, op)
}

// ExecuteWithFallback is Execute with a per-call fallback
func (r *Registry) ExecuteWithFallback(ctx context.Context, name string, op func(context.Context) (interface{}, error), fallback FallbackFunc) (interface{}, error) {
	cb, ok := r.Get(name)
	if !ok {
		r.warnUnknown(name)
		return op(ctx)
	}
	return cb.ExecuteWithFallback(ctx, op, fallback)
}

func (r *Registry) warnUnknown(name string) {
	r.warnedMu.Lock()
	seen := r.warned[name]
	r.warned[name] = true
	r.warnedMu.Unlock()

	if !seen {
		r.logger.Warn("No circuit breaker registered, executing unprotected", "name", name)
	}
}

// Health returns worst-of health across all breakers: any OPEN breaker
// makes the registry unhealthy, any HALF_OPEN makes it degraded.
func (r *Registry) Health() HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := HealthHealthy
	for _, cb := range r.breakers {
		switch cb.State() {
		case StateOpen:
			return HealthUnhealthy
		case StateHalfOpen:
			status = HealthDegraded
		}
	}
	return status
}

// Summary returns breaker counts by state
func (r *Registry) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Summary
	for _, cb := range r.breakers {
		switch cb.State() {
		case StateClosed:
			s.Closed++
		case StateOpen:
			s.Open++
		case StateHalfOpen:
			s.HalfOpen++
		}
	}
	return s
}

// Metrics returns a stats snapshot per breaker
func (r *Registry) Metrics() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.Stats()
	}
	return out
}

// ResetAll returns every breaker to pristine CLOSED. Intended for
// recovery tooling and test isolation.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// DefaultPolicies returns the built-in per-dependency breaker tuning,
// for callers constructing a registry without the config loader.
func DefaultPolicies() map[string]config.BreakerConfig {
	return config.DefaultBreakers()
}
