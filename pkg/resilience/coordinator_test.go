package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator() *Coordinator {
	return NewCoordinator(10)
}

func TestCoordinatorLevelDerivation(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(c *Coordinator)
		expected DegradationLevel
	}{
		{
			name:     "all healthy",
			setup:    func(c *Coordinator) {},
			expected: LevelNormal,
		},
		{
			name: "one non-critical degraded",
			setup: func(c *Coordinator) {
				c.MarkDegraded("cache", "slow")
			},
			expected: LevelDegraded,
		},
		{
			name: "non-critical unavailable",
			setup: func(c *Coordinator) {
				c.MarkUnavailable("cache", "down")
			},
			expected: LevelDegraded,
		},
		{
			name: "critical unavailable",
			setup: func(c *Coordinator) {
				c.MarkUnavailable("database", "down")
			},
			expected: LevelCritical,
		},
		{
			name: "critical degraded but reachable",
			setup: func(c *Coordinator) {
				c.MarkDegraded("database", "flaky")
			},
			expected: LevelDegraded,
		},
		{
			name: "everything down",
			setup: func(c *Coordinator) {
				c.MarkUnavailable("database", "down")
				c.MarkDegraded("cache", "down")
				c.MarkUnavailable("chat", "down")
			},
			expected: LevelOffline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator()
			c.RegisterService("database", true)
			c.RegisterService("cache", false)
			c.RegisterService("chat", false)

			tt.setup(c)
			assert.Equal(t, tt.expected, c.Level())
		})
	}
}

func TestCoordinatorRecoveryRestoresLevel(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("database", true)
	c.RegisterService("cache", false)

	c.MarkUnavailable("database", "down")
	require.Equal(t, LevelCritical, c.Level())

	c.MarkHealthy("database", "reconnected")
	assert.Equal(t, LevelNormal, c.Level())
}

func TestCoordinatorNoOpTransitionIsSilent(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("cache", false)
	obs := &recordingCoordObserver{}
	c.Subscribe(obs)

	c.MarkDegraded("cache", "first")
	c.MarkDegraded("cache", "second")
	c.MarkDegraded("cache", "third")

	// Only the actual transition notifies
	assert.Equal(t, 1, obs.serviceChanges)

	// Repeated failure reports still accumulate
	info := c.Services()["cache"]
	assert.Equal(t, 3, info.FailureCount)
}

func TestCoordinatorExecuteSuccess(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("api", false)

	res := c.Execute(context.Background(), "api", func(ctx context.Context) (interface{}, error) {
		return "value", nil
	}, ExecuteOptions{})

	assert.True(t, res.Success)
	assert.Equal(t, "value", res.Data)
	assert.False(t, res.Degraded)
	assert.NoError(t, res.Err)
}

func TestCoordinatorExecuteNeverReturnsError(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("api", false)

	res := c.Execute(context.Background(), "api", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("hard failure")
	}, ExecuteOptions{})

	assert.False(t, res.Success)
	assert.True(t, res.Degraded)
	assert.Error(t, res.Err)

	// The failure degraded the service
	state, ok := c.ServiceState("api")
	require.True(t, ok)
	assert.Equal(t, ServiceDegraded, state)
}

func TestCoordinatorFallbackChainOrder(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("api", false)
	c.RegisterFallback("api", func(ctx context.Context) (interface{}, error) {
		return "registered", nil
	})
	failing := func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("nope")
	}

	// Per-call fallback wins
	res := c.Execute(context.Background(), "api", failing, ExecuteOptions{
		Fallback: func(ctx context.Context) (interface{}, error) {
			return "per-call", nil
		},
	})
	assert.True(t, res.Success)
	assert.Equal(t, "per-call", res.Data)
	assert.True(t, res.Degraded)

	// Without one, the registered handler answers
	res = c.Execute(context.Background(), "api", failing, ExecuteOptions{})
	assert.True(t, res.Success)
	assert.Equal(t, "registered", res.Data)
}

func TestCoordinatorStaleCacheFallback(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("api", false)

	// Prime the cache with a successful call
	res := c.Execute(context.Background(), "api", func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	}, ExecuteOptions{CacheKey: "profile:1"})
	require.True(t, res.Success)

	// Same key fails later; the cached value comes back flagged stale
	res = c.Execute(context.Background(), "api", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("down")
	}, ExecuteOptions{CacheKey: "profile:1"})

	assert.True(t, res.Success)
	assert.Equal(t, "fresh", res.Data)
	assert.True(t, res.Degraded)
	assert.True(t, res.Stale)
	assert.True(t, res.CacheAge >= 0)
}

func TestCoordinatorCacheKeysAreServiceScoped(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("a", false)
	c.RegisterService("b", false)

	res := c.Execute(context.Background(), "a", func(ctx context.Context) (interface{}, error) {
		return "from-a", nil
	}, ExecuteOptions{CacheKey: "k"})
	require.True(t, res.Success)

	// Service b shares the literal key but not the cache entry
	res = c.Execute(context.Background(), "b", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("down")
	}, ExecuteOptions{CacheKey: "k"})
	assert.False(t, res.Success)
}

func TestCoordinatorNilFallbackValueIsIntentional(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("api", false)

	res := c.Execute(context.Background(), "api", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("down")
	}, ExecuteOptions{FallbackValue: nil, HasFallbackValue: true})

	// An explicit nil fallback still counts as a successful resolution
	assert.True(t, res.Success)
	assert.Nil(t, res.Data)
	assert.True(t, res.Degraded)
}

func TestCoordinatorUnavailableSkipsOperation(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("api", false)
	c.MarkUnavailable("api", "down")

	calls := 0
	res := c.Execute(context.Background(), "api", func(ctx context.Context) (interface{}, error) {
		calls++
		return "never", nil
	}, ExecuteOptions{FallbackValue: "fallback", HasFallbackValue: true})

	assert.Equal(t, 0, calls)
	assert.True(t, res.Success)
	assert.Equal(t, "fallback", res.Data)
}

func TestCoordinatorSuccessMarksHealthy(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("api", false)
	c.MarkDegraded("api", "flaky")

	res := c.Execute(context.Background(), "api", func(ctx context.Context) (interface{}, error) {
		return "ok", nil
	}, ExecuteOptions{})
	require.True(t, res.Success)

	state, _ := c.ServiceState("api")
	assert.Equal(t, ServiceHealthy, state)
}

func TestCoordinatorQueueOverflowDropsOldest(t *testing.T) {
	c := NewCoordinator(3)
	c.RegisterService("db", true)
	obs := &recordingCoordObserver{}
	c.Subscribe(obs)

	for i := 0; i < 5; i++ {
		c.QueueWrite("db", fmt.Sprintf("write-%d", i), i)
	}

	assert.Equal(t, 3, c.QueueDepth())
	require.Len(t, obs.dropped, 2)
	assert.Equal(t, "write-0", obs.dropped[0].operation)
	assert.Equal(t, "write-1", obs.dropped[1].operation)
	assert.Equal(t, "queue overflow", obs.dropped[0].reason)
}

func TestCoordinatorReplayOnRecovery(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("db", true)

	var replayed []string
	c.RegisterReplay("db", func(ctx context.Context, w QueuedWrite) error {
		replayed = append(replayed, w.Operation)
		return nil
	})

	c.MarkUnavailable("db", "down")
	c.QueueWrite("db", "insert:users", map[string]interface{}{"id": 1})
	c.QueueWrite("db", "update:guilds", map[string]interface{}{"id": 2})

	c.MarkHealthy("db", "reconnected")

	assert.Equal(t, []string{"insert:users", "update:guilds"}, replayed)
	assert.Equal(t, 0, c.QueueDepth())
}

func TestCoordinatorReplayDropsAfterRepeatedFailure(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("db", true)
	obs := &recordingCoordObserver{}
	c.Subscribe(obs)

	attempts := 0
	c.RegisterReplay("db", func(ctx context.Context, w QueuedWrite) error {
		attempts++
		return errors.New("still broken")
	})

	c.MarkUnavailable("db", "down")
	c.QueueWrite("db", "insert:users", nil)

	// Each recovery replays once; the entry survives two failures and
	// is dropped on the third.
	for i := 0; i < 3; i++ {
		c.MarkHealthy("db", "up")
		c.MarkUnavailable("db", "down again")
	}

	assert.Equal(t, 3, attempts)
	assert.Equal(t, 0, c.QueueDepth())
	require.Len(t, obs.dropped, 1)
	assert.Contains(t, obs.dropped[0].reason, "replay failed")
}

func TestCoordinatorReplayLeavesOtherServicesQueued(t *testing.T) {
	c := newTestCoordinator()
	c.RegisterService("db", true)
	c.RegisterService("cache", false)
	c.RegisterReplay("db", func(ctx context.Context, w QueuedWrite) error {
		return nil
	})

	c.QueueWrite("db", "insert:users", nil)
	c.QueueWrite("cache", "set:key", nil)

	c.MarkDegraded("db", "blip")
	c.MarkHealthy("db", "recovered")

	assert.Equal(t, 1, c.QueueDepth())
}

func TestCoordinatorUnregisteredServiceIgnored(t *testing.T) {
	c := newTestCoordinator()
	obs := &recordingCoordObserver{}
	c.Subscribe(obs)

	c.MarkDegraded("ghost", "whatever")

	assert.Equal(t, 0, obs.serviceChanges)
	assert.Equal(t, LevelNormal, c.Level())
}

type droppedWrite struct {
	operation string
	reason    string
}

type recordingCoordObserver struct {
	serviceChanges int
	levelChanges   int
	queued         int
	replayed       int
	dropped        []droppedWrite
}

func (r *recordingCoordObserver) OnServiceStateChange(service string, from, to ServiceState, reason string) {
	r.serviceChanges++
}

func (r *recordingCoordObserver) OnLevelChange(from, to DegradationLevel) {
	r.levelChanges++
}

func (r *recordingCoordObserver) OnWriteQueued(service string, depth int) {
	r.queued++
}

func (r *recordingCoordObserver) OnWriteReplayed(service, operation string) {
	r.replayed++
}

func (r *recordingCoordObserver) OnWriteDropped(service, operation, reason string) {
	r.dropped = append(r.dropped, droppedWrite{operation: operation, reason: reason})
}
