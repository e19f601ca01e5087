package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout)
	assert.Nil(t, cfg.Database.Replica)
	assert.Equal(t, 1000, cfg.Resilience.WriteQueueMax)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadBreakerDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Breakers, 6)

	db := cfg.Breakers[BreakerDatabase]
	assert.Equal(t, 5, db.FailureThreshold)
	assert.Equal(t, 3, db.SuccessThreshold)
	assert.Equal(t, 15*time.Second, db.ResetTimeout)

	chat := cfg.Breakers[BreakerChatAPI]
	assert.Equal(t, 10, chat.FailureThreshold)
}

func TestLoadBreakerEnvOverride(t *testing.T) {
	t.Setenv("BREAKER_EXTERNAL_API_FAILURE_THRESHOLD", "9")
	t.Setenv("BREAKER_EXTERNAL_API_RESET_TIMEOUT", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	api := cfg.Breakers[BreakerExternalAPI]
	assert.Equal(t, 9, api.FailureThreshold)
	assert.Equal(t, 90*time.Second, api.ResetTimeout)

	// Untouched fields keep their defaults
	assert.Equal(t, 2, api.SuccessThreshold)
	// Other classes are unaffected
	assert.Equal(t, 5, cfg.Breakers[BreakerDatabase].FailureThreshold)
}

func TestLoadReplicaRequiresHost(t *testing.T) {
	t.Setenv("DB_REPLICA_HOST", "replica.internal")

	cfg, err := Load()
	require.NoError(t, err)

	require.NotNil(t, cfg.Database.Replica)
	assert.Equal(t, "replica.internal", cfg.Database.Replica.Host)
	// Port and credentials fall back to the primary's
	assert.Equal(t, cfg.Database.Port, cfg.Database.Replica.Port)
	assert.Equal(t, cfg.Database.User, cfg.Database.Replica.User)
}

func TestValidateRejectsBadPool(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns + 1
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadBreaker(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg.Breakers[BreakerRedis]
	bad.FailureThreshold = 0
	cfg.Breakers[BreakerRedis] = bad
	assert.Error(t, cfg.Validate())
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("DB_PORT", "not-a-number")
	t.Setenv("DB_QUERY_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 30*time.Second, cfg.Database.QueryTimeout)
}
