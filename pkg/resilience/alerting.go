package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/logging"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be sent
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager manages alert generation and routing
type AlertManager struct {
	handlers []AlertHandler
	mutex    sync.RWMutex
	logger   *logging.Logger

	// Per-source rate limiting
	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager() *AlertManager {
	return &AlertManager{
		handlers:      make([]AlertHandler, 0),
		logger:        logging.GetLogger(),
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100,
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	allowed := am.checkRateLimitLocked(alert.Source)
	handlers := make([]AlertHandler, len(am.handlers))
	copy(handlers, am.handlers)
	am.mutex.Unlock()

	if !allowed {
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = fmt.Sprintf("%s-%d", alert.Source, alert.Timestamp.UnixNano())
	}

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

func (am *AlertManager) checkRateLimitLocked(source string) bool {
	now := time.Now()

	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler() *LoggingAlertHandler {
	return &LoggingAlertHandler{
		logger: logging.GetLogger(),
	}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}
	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	case SeverityError:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	case SeverityCritical:
		h.logger.Error("CRITICAL ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// SystemHealthMonitor alerts on degradation level changes and keeps
// re-alerting while services stay unhealthy. It consumes the
// coordinator's notifications and runs a periodic sweep on top, so a
// service that degrades and then goes quiet is not forgotten.
type SystemHealthMonitor struct {
	alertManager *AlertManager
	coordinator  *Coordinator
	logger       *logging.Logger

	checkInterval time.Duration
	stopChan      chan struct{}
	running       bool
	mutex         sync.Mutex
}

// NewSystemHealthMonitor creates a new system health monitor and
// subscribes it to the coordinator.
func NewSystemHealthMonitor(alertManager *AlertManager, coordinator *Coordinator) *SystemHealthMonitor {
	shm := &SystemHealthMonitor{
		alertManager:  alertManager,
		coordinator:   coordinator,
		logger:        logging.GetLogger(),
		checkInterval: 30 * time.Second,
		stopChan:      make(chan struct{}),
	}
	coordinator.Subscribe(shm)
	return shm
}

// Start starts the periodic unhealthy-service sweep
func (shm *SystemHealthMonitor) Start(ctx context.Context) {
	shm.mutex.Lock()
	defer shm.mutex.Unlock()

	if shm.running {
		return
	}

	shm.running = true
	go shm.monitorLoop(ctx)
	shm.logger.Info("System health monitor started")
}

// Stop stops the periodic sweep
func (shm *SystemHealthMonitor) Stop() {
	shm.mutex.Lock()
	defer shm.mutex.Unlock()

	if !shm.running {
		return
	}

	close(shm.stopChan)
	shm.running = false
	shm.logger.Info("System health monitor stopped")
}

func (shm *SystemHealthMonitor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(shm.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-shm.stopChan:
			return
		case <-ticker.C:
			shm.sweep(ctx)
		}
	}
}

func (shm *SystemHealthMonitor) sweep(ctx context.Context) {
	for name, info := range shm.coordinator.Services() {
		if info.State == ServiceHealthy {
			continue
		}
		shm.sendServiceAlert(ctx, name, info)
	}
}

// OnLevelChange implements CoordinatorObserver
func (shm *SystemHealthMonitor) OnLevelChange(from, to DegradationLevel) {
	var severity AlertSeverity
	switch to {
	case LevelNormal:
		severity = SeverityInfo
	case LevelDegraded:
		severity = SeverityWarning
	case LevelCritical:
		severity = SeverityError
	case LevelOffline:
		severity = SeverityCritical
	}

	alert := Alert{
		Severity:    severity,
		Title:       "System Degradation Level Changed",
		Description: fmt.Sprintf("System degradation level changed from %s to %s", from.String(), to.String()),
		Source:      "system_health_monitor",
		Tags: map[string]string{
			"previous_level": from.String(),
			"current_level":  to.String(),
		},
	}

	if err := shm.alertManager.SendAlert(context.Background(), alert); err != nil {
		shm.logger.Error("Failed to send degradation alert", "error", err)
	}
}

// OnServiceStateChange implements CoordinatorObserver
func (shm *SystemHealthMonitor) OnServiceStateChange(service string, from, to ServiceState, reason string) {
	if to == ServiceHealthy {
		return
	}
	shm.sendServiceAlert(context.Background(), service, ServiceInfo{Name: service, State: to})
}

// OnWriteQueued implements CoordinatorObserver
func (shm *SystemHealthMonitor) OnWriteQueued(service string, depth int) {}

// OnWriteReplayed implements CoordinatorObserver
func (shm *SystemHealthMonitor) OnWriteReplayed(service, operation string) {}

// OnWriteDropped implements CoordinatorObserver
func (shm *SystemHealthMonitor) OnWriteDropped(service, operation, reason string) {
	alert := Alert{
		Severity:    SeverityError,
		Title:       "Deferred Write Dropped",
		Description: fmt.Sprintf("Queued write %q for service %q was dropped: %s", operation, service, reason),
		Source:      "system_health_monitor",
		Tags: map[string]string{
			"service":   service,
			"operation": operation,
		},
	}
	if err := shm.alertManager.SendAlert(context.Background(), alert); err != nil {
		shm.logger.Error("Failed to send dropped-write alert", "error", err)
	}
}

func (shm *SystemHealthMonitor) sendServiceAlert(ctx context.Context, name string, info ServiceInfo) {
	alert := Alert{
		Severity:    SeverityError,
		Title:       "Service Health Alert",
		Description: fmt.Sprintf("Service '%s' is %s", name, info.State.String()),
		Source:      "system_health_monitor",
		Tags: map[string]string{
			"service_name": name,
			"state":        info.State.String(),
		},
		Metadata: map[string]interface{}{
			"failure_count":  info.FailureCount,
			"degraded_since": info.DegradedSince,
			"critical":       info.Critical,
		},
	}

	if err := shm.alertManager.SendAlert(ctx, alert); err != nil {
		shm.logger.Error("Failed to send service health alert", "error", err)
	}
}
