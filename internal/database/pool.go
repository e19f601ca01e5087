package database

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/resilience"
)

// poolUtilizationWarn is the in-use fraction above which the sampler
// logs a saturation warning.
const poolUtilizationWarn = 0.8

// StartPoolSampler starts a background goroutine that samples pool
// statistics every interval, exports them as metrics, and raises an
// alert when connections had to wait (the pool exhaustion signal).
func (s *Store) StartPoolSampler(interval time.Duration) {
	if s.stopSampler != nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	s.stopSampler = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopSampler:
				return
			case <-ticker.C:
				s.samplePools()
			}
		}
	}()
}

// StopPoolSampler stops the sampler goroutine. Safe to call twice.
func (s *Store) StopPoolSampler() {
	if s.stopSampler == nil {
		return
	}
	close(s.stopSampler)
	s.stopSampler = nil
}

func (s *Store) samplePools() {
	s.samplePool(poolPrimary, s.primary, true)
	if s.replica != nil {
		s.samplePool(poolReplica, s.replica, false)
	}
}

func (s *Store) samplePool(name string, db *sqlx.DB, alertOnWait bool) {
	stats := db.Stats()

	if s.metrics != nil {
		s.metrics.ObservePool(name, stats.OpenConnections, stats.Idle, stats.InUse, stats.WaitCount)
	}

	if stats.MaxOpenConnections > 0 {
		utilization := float64(stats.InUse) / float64(stats.MaxOpenConnections)
		if utilization > poolUtilizationWarn {
			s.logger.Warn("Database pool nearing saturation",
				"pool", name,
				"in_use", stats.InUse,
				"max_open", stats.MaxOpenConnections,
			)
		}
	}

	// WaitCount is cumulative; a delta since the last sample means
	// callers blocked waiting for a connection during this window.
	if alertOnWait {
		delta := stats.WaitCount - s.lastWaitCount
		s.lastWaitCount = stats.WaitCount
		if delta > 0 && s.alerts != nil {
			_ = s.alerts.SendAlert(context.Background(), resilience.Alert{
				Severity:    resilience.SeverityWarning,
				Title:       "Database Pool Exhaustion",
				Description: "Callers blocked waiting for a database connection",
				Source:      "database_pool",
				Metadata: map[string]interface{}{
					"pool":          name,
					"waits":         delta,
					"wait_duration": stats.WaitDuration.String(),
					"in_use":        stats.InUse,
					"max_open":      stats.MaxOpenConnections,
				},
			})
		}
	}
}
