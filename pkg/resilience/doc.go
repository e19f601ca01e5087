// Package resilience provides the circuit breaker, graceful degradation,
// retry, and alerting machinery the bot layers over its flaky external
// dependencies.
//
// This package implements the following patterns:
//
// # Circuit Breaker Pattern
//
// A breaker wraps one asynchronous call type and fails fast once the
// dependency is judged unhealthy. Breakers trip after a run of
// consecutive failures and probe lazily: the OPEN to HALF_OPEN
// transition happens only when a call arrives after the reset deadline,
// never on a background timer.
//
//	cb := resilience.NewCircuitBreaker(resilience.Config{
//		Name:             "external-api",
//		FailureThreshold: 5,
//		SuccessThreshold: 2,
//		Timeout:          10 * time.Second,
//		ResetTimeout:     30 * time.Second,
//	})
//
//	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
//		return externalService.Call(ctx, data)
//	})
//
// Most callers go through the Registry instead, which ships pre-tuned
// policies per dependency class and degrades to unprotected execution
// for unknown names:
//
//	reg := resilience.NewRegistry(nil)
//	result, err := reg.Execute(ctx, config.BreakerSearchAPI, op)
//
// # Graceful Degradation
//
// The Coordinator tracks per-service health and resolves every call to
// a tagged Result instead of an error. On failure it walks a fallback
// chain: per-call fallback, registered handler, last cached value
// (flagged stale), static fallback value.
//
//	coord := resilience.NewCoordinator(1000)
//	coord.RegisterService("cache", false)
//
//	res := coord.Execute(ctx, "cache", op, resilience.ExecuteOptions{
//		CacheKey: "guild:1234",
//	})
//	if res.Success { ... }
//
// # Retry with Exponential Backoff
//
// The retrier retries transient failures with exponential backoff and
// jitter to avoid thundering herd problems.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Alerting
//
// AlertManager routes alerts to registered handlers with per-source
// rate limiting; SystemHealthMonitor feeds it from coordinator state.
//
// The package is thread-safe. Registry and Coordinator are built once
// at startup and passed to collaborators explicitly; ResetAll and
// Shutdown exist for test isolation.
package resilience
