package resilience

import "github.com/alG-N/alterGoldenBot-sub006/pkg/logging"

// BreakerObserver receives circuit breaker notifications. Delivery is
// at-least-once per transition; observers must tolerate duplicates.
type BreakerObserver interface {
	OnBreakerStateChange(name string, from, to State, reason string)
	OnBreakerRejection(name string)
}

// CoordinatorObserver receives degradation coordinator notifications.
type CoordinatorObserver interface {
	OnServiceStateChange(service string, from, to ServiceState, reason string)
	OnLevelChange(from, to DegradationLevel)
	OnWriteQueued(service string, depth int)
	OnWriteReplayed(service, operation string)
	OnWriteDropped(service, operation, reason string)
}

// LoggingBreakerObserver logs breaker transitions and rejections.
type LoggingBreakerObserver struct{}

func (LoggingBreakerObserver) OnBreakerStateChange(name string, from, to State, reason string) {
	logging.GetLogger().Info("Circuit breaker state changed",
		"name", name,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
}

func (LoggingBreakerObserver) OnBreakerRejection(name string) {
	logging.GetLogger().Debug("Circuit breaker rejected request", "name", name)
}

// LoggingCoordinatorObserver logs coordinator transitions.
type LoggingCoordinatorObserver struct{}

func (LoggingCoordinatorObserver) OnServiceStateChange(service string, from, to ServiceState, reason string) {
	logging.GetLogger().Info("Service state changed",
		"service", service,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
}

func (LoggingCoordinatorObserver) OnLevelChange(from, to DegradationLevel) {
	logging.GetLogger().Warn("Degradation level changed",
		"from", from.String(),
		"to", to.String(),
	)
}

func (LoggingCoordinatorObserver) OnWriteQueued(service string, depth int) {
	logging.GetLogger().Info("Write queued for deferred replay",
		"service", service,
		"queue_depth", depth,
	)
}

func (LoggingCoordinatorObserver) OnWriteReplayed(service, operation string) {
	logging.GetLogger().Info("Queued write replayed",
		"service", service,
		"operation", operation,
	)
}

func (LoggingCoordinatorObserver) OnWriteDropped(service, operation, reason string) {
	logging.GetLogger().Warn("Queued write dropped",
		"service", service,
		"operation", operation,
		"reason", reason,
	)
}
