package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/config"
	apperrors "github.com/alG-N/alterGoldenBot-sub006/pkg/errors"
)

func TestRegistryDefaultPolicies(t *testing.T) {
	reg := NewRegistry(nil)

	for _, name := range []string{
		config.BreakerStreaming,
		config.BreakerExternalAPI,
		config.BreakerDatabase,
		config.BreakerRedis,
		config.BreakerChatAPI,
		config.BreakerSearchAPI,
	} {
		cb, ok := reg.Get(name)
		require.True(t, ok, "expected breaker for %s", name)
		assert.Equal(t, name, cb.Name())
		assert.Equal(t, StateClosed, cb.State())
	}
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)

	first := reg.Register(Config{Name: "custom", FailureThreshold: 2})
	second := reg.Register(Config{Name: "custom", FailureThreshold: 99})

	assert.Same(t, first, second)
}

func TestRegistryUnknownNameExecutesUnprotected(t *testing.T) {
	reg := NewRegistry(nil)

	calls := 0
	result, err := reg.Execute(context.Background(), "never-registered", func(ctx context.Context) (interface{}, error) {
		calls++
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestRegistryChatAPIIgnoresRateLimits(t *testing.T) {
	reg := NewRegistry(nil)
	cb, ok := reg.Get(config.BreakerChatAPI)
	require.True(t, ok)
	ctx := context.Background()

	// Far more rate limit errors than the failure threshold
	for i := 0; i < 50; i++ {
		_, err := reg.Execute(ctx, config.BreakerChatAPI, func(ctx context.Context) (interface{}, error) {
			return nil, apperrors.NewRateLimitError("429")
		})
		require.Error(t, err)
	}

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint64(0), cb.Counters().FailedRequests)
}

func TestRegistryHealthWorstOf(t *testing.T) {
	reg := NewRegistry(nil)
	assert.Equal(t, HealthHealthy, reg.Health())

	cb, _ := reg.Get(config.BreakerRedis)
	cb.Trip("test")
	assert.Equal(t, HealthUnhealthy, reg.Health())

	summary := reg.Summary()
	assert.Equal(t, 1, summary.Open)
	assert.Equal(t, 5, summary.Closed)

	reg.ResetAll()
	assert.Equal(t, HealthHealthy, reg.Health())
	assert.Equal(t, 6, reg.Summary().Closed)
}

func TestRegistrySubscribeCoversFutureBreakers(t *testing.T) {
	reg := NewRegistry(map[string]config.BreakerConfig{})
	obs := &recordingObserver{}
	reg.Subscribe(obs)

	reg.Register(Config{Name: "late", FailureThreshold: 1, ResetTimeout: time.Minute})

	_, _ = reg.Execute(context.Background(), "late", failingOp)
	require.Len(t, obs.changes, 1)
	assert.Equal(t, StateOpen, obs.changes[0].To)
}

func TestRegistryMetricsSnapshot(t *testing.T) {
	reg := NewRegistry(nil)
	ctx := context.Background()

	_, _ = reg.Execute(ctx, config.BreakerDatabase, succeedingOp)

	stats := reg.Metrics()
	require.Contains(t, stats, config.BreakerDatabase)
	assert.Equal(t, uint64(1), stats[config.BreakerDatabase].Counters.TotalRequests)
	assert.Equal(t, "100.00%", stats[config.BreakerDatabase].SuccessRate)
}
