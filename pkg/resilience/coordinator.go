package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/logging"
)

// ServiceState represents the health of one registered service
type ServiceState int

const (
	// ServiceHealthy - the dependency is operating normally
	ServiceHealthy ServiceState = iota
	// ServiceDegraded - the dependency is failing intermittently
	ServiceDegraded
	// ServiceUnavailable - the dependency is considered down
	ServiceUnavailable
)

func (s ServiceState) String() string {
	switch s {
	case ServiceHealthy:
		return "HEALTHY"
	case ServiceDegraded:
		return "DEGRADED"
	case ServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// DegradationLevel is the system-wide aggregate health classification,
// recomputed from the full service set on every state change.
type DegradationLevel int

const (
	// LevelNormal - all services healthy
	LevelNormal DegradationLevel = iota
	// LevelDegraded - at least one service is not healthy
	LevelDegraded
	// LevelCritical - a critical service is unavailable
	LevelCritical
	// LevelOffline - no service is healthy
	LevelOffline
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "NORMAL"
	case LevelDegraded:
		return "DEGRADED"
	case LevelCritical:
		return "CRITICAL"
	case LevelOffline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// ServiceInfo holds the tracked state of one registered service
type ServiceInfo struct {
	Name          string       `json:"name"`
	State         ServiceState `json:"state"`
	Critical      bool         `json:"critical"`
	LastHealthy   time.Time    `json:"last_healthy"`
	DegradedSince time.Time    `json:"degraded_since,omitempty"`
	FailureCount  int          `json:"failure_count"`
}

// Result is what Coordinator.Execute resolves to. It is always returned
// without a Go error; callers branch on Success.
type Result struct {
	Success  bool          `json:"success"`
	Data     interface{}   `json:"data"`
	Degraded bool          `json:"degraded"`
	Stale    bool          `json:"stale,omitempty"`
	CacheAge time.Duration `json:"cache_age,omitempty"`
	Err      error         `json:"-"`
}

// ExecuteOptions controls the fallback chain for one Execute call
type ExecuteOptions struct {
	// Fallback is tried first when the primary operation cannot succeed
	Fallback func(context.Context) (interface{}, error)
	// FallbackValue is the static last-resort value. HasFallbackValue
	// distinguishes an intentional nil value from an absent one.
	FallbackValue    interface{}
	HasFallbackValue bool
	// CacheKey, when set, stores successful results for later stale
	// fallback under "service:cacheKey"
	CacheKey string
}

// FallbackHandler is a per-service registered fallback
type FallbackHandler func(ctx context.Context) (interface{}, error)

// QueuedWrite is one deferred mutation awaiting service recovery
type QueuedWrite struct {
	Service   string      `json:"service"`
	Operation string      `json:"operation"`
	Payload   interface{} `json:"payload"`
	QueuedAt  time.Time   `json:"queued_at"`
	Retries   int         `json:"retries"`
}

// ReplayFunc executes one queued write against the recovered service
type ReplayFunc func(ctx context.Context, write QueuedWrite) error

type fallbackCacheEntry struct {
	value    interface{}
	storedAt time.Time
}

// maxReplayAttempts bounds replay retries per queued entry; entries
// failing this many times are dropped (accepted data-loss tradeoff).
const maxReplayAttempts = 3

// DefaultWriteQueueMax bounds the write queue when no size is configured
const DefaultWriteQueueMax = 1000

// Coordinator tracks per-service health, computes the system-wide
// degradation level, runs fallback chains, and queues deferred writes.
// It is the "soft" layer above the breaker/store layer: Execute never
// fails with an error, it resolves to a tagged Result.
type Coordinator struct {
	mu        sync.Mutex
	services  map[string]*ServiceInfo
	level     DegradationLevel
	fallbacks map[string]FallbackHandler
	replays   map[string]ReplayFunc
	cache     map[string]fallbackCacheEntry
	queue     []QueuedWrite
	queueMax  int

	obsMu     sync.RWMutex
	observers []CoordinatorObserver

	logger *logging.Logger
}

// NewCoordinator creates a degradation coordinator. queueMax bounds the
// deferred-write queue; non-positive values use DefaultWriteQueueMax.
func NewCoordinator(queueMax int) *Coordinator {
	if queueMax <= 0 {
		queueMax = DefaultWriteQueueMax
	}
	return &Coordinator{
		services:  make(map[string]*ServiceInfo),
		level:     LevelNormal,
		fallbacks: make(map[string]FallbackHandler),
		replays:   make(map[string]ReplayFunc),
		cache:     make(map[string]fallbackCacheEntry),
		queueMax:  queueMax,
		logger:    logging.GetLogger(),
	}
}

// Subscribe registers an observer for coordinator notifications
func (c *Coordinator) Subscribe(obs CoordinatorObserver) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, obs)
}

// RegisterService starts tracking a service. Critical services escalate
// the aggregate level to CRITICAL when unavailable.
func (c *Coordinator) RegisterService(name string, critical bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.services[name]; exists {
		return
	}
	c.services[name] = &ServiceInfo{
		Name:        name,
		State:       ServiceHealthy,
		Critical:    critical,
		LastHealthy: time.Now(),
	}
}

// RegisterFallback registers a per-service fallback handler, consulted
// after any per-call fallback.
func (c *Coordinator) RegisterFallback(service string, handler FallbackHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[service] = handler
}

// RegisterReplay registers the write executor that consumes queued
// writes for a service once it recovers.
func (c *Coordinator) RegisterReplay(service string, replay ReplayFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replays[service] = replay
}

// MarkHealthy marks a service healthy and replays its queued writes
func (c *Coordinator) MarkHealthy(service, reason string) {
	c.markService(service, ServiceHealthy, reason)
	c.replayQueued(service)
}

// MarkDegraded marks a service as failing intermittently
func (c *Coordinator) MarkDegraded(service, reason string) {
	c.markService(service, ServiceDegraded, reason)
}

// MarkUnavailable marks a service as down; subsequent Execute calls
// skip the operation entirely and go straight to fallbacks.
func (c *Coordinator) MarkUnavailable(service, reason string) {
	c.markService(service, ServiceUnavailable, reason)
}

func (c *Coordinator) markService(service string, state ServiceState, reason string) {
	c.mu.Lock()

	info, exists := c.services[service]
	if !exists {
		c.mu.Unlock()
		c.logger.Warn("Attempted to mark unregistered service", "service", service)
		return
	}

	prev := info.State
	if prev == state {
		// No-op transitions are silent
		if state != ServiceHealthy {
			info.FailureCount++
		}
		c.mu.Unlock()
		return
	}

	now := time.Now()
	info.State = state
	switch state {
	case ServiceHealthy:
		info.LastHealthy = now
		info.DegradedSince = time.Time{}
		info.FailureCount = 0
	default:
		if info.DegradedSince.IsZero() {
			info.DegradedSince = now
		}
		info.FailureCount++
	}

	prevLevel := c.level
	c.level = c.computeLevelLocked()
	newLevel := c.level
	c.mu.Unlock()

	c.notifyServiceChange(service, prev, state, reason)
	if newLevel != prevLevel {
		c.notifyLevelChange(prevLevel, newLevel)
	}
}

// computeLevelLocked derives the aggregate level from the service set:
// OFFLINE iff all services non-healthy, else CRITICAL iff any critical
// service unavailable, else DEGRADED iff any service non-healthy.
func (c *Coordinator) computeLevelLocked() DegradationLevel {
	if len(c.services) == 0 {
		return LevelNormal
	}

	healthy := 0
	anyNonHealthy := false
	criticalDown := false
	for _, info := range c.services {
		if info.State == ServiceHealthy {
			healthy++
		} else {
			anyNonHealthy = true
			if info.Critical && info.State == ServiceUnavailable {
				criticalDown = true
			}
		}
	}

	switch {
	case healthy == 0:
		return LevelOffline
	case criticalDown:
		return LevelCritical
	case anyNonHealthy:
		return LevelDegraded
	default:
		return LevelNormal
	}
}

// Level returns the current aggregate degradation level
func (c *Coordinator) Level() DegradationLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// ServiceState returns the tracked state of a service
func (c *Coordinator) ServiceState(service string) (ServiceState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.services[service]
	if !ok {
		return ServiceHealthy, false
	}
	return info.State, true
}

// Services returns a snapshot of all registered services
func (c *Coordinator) Services() map[string]ServiceInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]ServiceInfo, len(c.services))
	for name, info := range c.services {
		out[name] = *info
	}
	return out
}

// Execute runs op for a service with graceful degradation. It never
// returns a Go error: on any failure the fallback chain runs, in order
// per-call fallback, registered handler, last cached value, static
// fallback value, and finally a plain unsuccessful Result.
func (c *Coordinator) Execute(ctx context.Context, service string, op func(context.Context) (interface{}, error), opts ExecuteOptions) Result {
	state, _ := c.ServiceState(service)
	if state == ServiceUnavailable {
		// Known-dead dependency: don't waste latency on the call
		return c.runFallbacks(ctx, service, opts, fmt.Errorf("service %s is unavailable", service))
	}

	data, err := op(ctx)
	if err != nil {
		c.MarkDegraded(service, err.Error())
		return c.runFallbacks(ctx, service, opts, err)
	}

	if opts.CacheKey != "" {
		c.storeFallbackValue(service, opts.CacheKey, data)
	}
	// A successful call is the sole recovery signal; there is no polling
	if state != ServiceHealthy {
		c.MarkHealthy(service, "operation succeeded")
	}

	return Result{Success: true, Data: data}
}

func (c *Coordinator) runFallbacks(ctx context.Context, service string, opts ExecuteOptions, cause error) Result {
	if opts.Fallback != nil {
		if data, err := opts.Fallback(ctx); err == nil {
			return Result{Success: true, Data: data, Degraded: true}
		}
	}

	c.mu.Lock()
	handler := c.fallbacks[service]
	c.mu.Unlock()
	if handler != nil {
		if data, err := handler(ctx); err == nil {
			return Result{Success: true, Data: data, Degraded: true}
		}
	}

	if opts.CacheKey != "" {
		if entry, ok := c.loadFallbackValue(service, opts.CacheKey); ok {
			return Result{
				Success:  true,
				Data:     entry.value,
				Degraded: true,
				Stale:    true,
				CacheAge: time.Since(entry.storedAt),
			}
		}
	}

	if opts.HasFallbackValue {
		return Result{Success: true, Data: opts.FallbackValue, Degraded: true}
	}

	return Result{Success: false, Degraded: true, Err: cause}
}

func cacheKeyFor(service, key string) string {
	return service + ":" + key
}

func (c *Coordinator) storeFallbackValue(service, key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cacheKeyFor(service, key)] = fallbackCacheEntry{value: value, storedAt: time.Now()}
}

func (c *Coordinator) loadFallbackValue(service, key string) (fallbackCacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[cacheKeyFor(service, key)]
	return entry, ok
}

// QueueWrite appends a deferred mutation to the bounded FIFO queue.
// Overflow drops the oldest entry.
func (c *Coordinator) QueueWrite(service, operation string, payload interface{}) {
	c.mu.Lock()

	var dropped *QueuedWrite
	c.queue = append(c.queue, QueuedWrite{
		Service:   service,
		Operation: operation,
		Payload:   payload,
		QueuedAt:  time.Now(),
	})
	if len(c.queue) > c.queueMax {
		d := c.queue[0]
		dropped = &d
		c.queue = c.queue[1:]
	}
	depth := len(c.queue)
	c.mu.Unlock()

	if dropped != nil {
		c.notifyWriteDropped(dropped.Service, dropped.Operation, "queue overflow")
	}
	c.notifyWriteQueued(service, depth)
}

// QueueDepth returns the current number of queued writes
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// replayQueued drains queued writes for a recovered service through its
// registered replay executor. An entry that fails maxReplayAttempts
// times is dropped.
func (c *Coordinator) replayQueued(service string) {
	c.mu.Lock()
	replay := c.replays[service]
	var pending []QueuedWrite
	var rest []QueuedWrite
	for _, w := range c.queue {
		if w.Service == service {
			pending = append(pending, w)
		} else {
			rest = append(rest, w)
		}
	}
	c.queue = rest
	c.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if replay == nil {
		for _, w := range pending {
			c.notifyWriteDropped(w.Service, w.Operation, "no replay executor registered")
		}
		return
	}

	ctx := context.Background()
	for _, w := range pending {
		if err := replay(ctx, w); err != nil {
			w.Retries++
			if w.Retries >= maxReplayAttempts {
				c.notifyWriteDropped(w.Service, w.Operation, fmt.Sprintf("replay failed %d times: %v", w.Retries, err))
				continue
			}
			c.mu.Lock()
			c.queue = append(c.queue, w)
			c.mu.Unlock()
			continue
		}
		c.notifyWriteReplayed(w.Service, w.Operation)
	}
}

// Shutdown clears all tracked state. Intended for test isolation and
// process teardown; queued writes and cached fallbacks are discarded.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.services = make(map[string]*ServiceInfo)
	c.fallbacks = make(map[string]FallbackHandler)
	c.replays = make(map[string]ReplayFunc)
	c.cache = make(map[string]fallbackCacheEntry)
	c.queue = nil
	c.level = LevelNormal
}

func (c *Coordinator) notifyServiceChange(service string, from, to ServiceState, reason string) {
	c.logger.Info("Service state changed",
		"service", service,
		"from", from.String(),
		"to", to.String(),
		"reason", reason,
	)
	for _, obs := range c.snapshotObservers() {
		obs.OnServiceStateChange(service, from, to, reason)
	}
}

func (c *Coordinator) notifyLevelChange(from, to DegradationLevel) {
	c.logger.Warn("Degradation level changed",
		"from", from.String(),
		"to", to.String(),
	)
	for _, obs := range c.snapshotObservers() {
		obs.OnLevelChange(from, to)
	}
}

func (c *Coordinator) notifyWriteQueued(service string, depth int) {
	for _, obs := range c.snapshotObservers() {
		obs.OnWriteQueued(service, depth)
	}
}

func (c *Coordinator) notifyWriteReplayed(service, operation string) {
	for _, obs := range c.snapshotObservers() {
		obs.OnWriteReplayed(service, operation)
	}
}

func (c *Coordinator) notifyWriteDropped(service, operation, reason string) {
	for _, obs := range c.snapshotObservers() {
		obs.OnWriteDropped(service, operation, reason)
	}
}

func (c *Coordinator) snapshotObservers() []CoordinatorObserver {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	out := make([]CoordinatorObserver, len(c.observers))
	copy(out, c.observers)
	return out
}
