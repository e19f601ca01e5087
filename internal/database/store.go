package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/alG-N/alterGoldenBot-sub006/pkg/config"
	apperrors "github.com/alG-N/alterGoldenBot-sub006/pkg/errors"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/logging"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/metrics"
	"github.com/alG-N/alterGoldenBot-sub006/pkg/resilience"
)

// ServiceName is the identity this store reports to the coordinator
const ServiceName = "database"

// connFailureLimit is how many consecutive connection errors we
// tolerate before declaring the database unavailable.
const connFailureLimit = 3

const (
	poolPrimary = "primary"
	poolReplica = "replica"
)

// WriteAck is the outcome of a Safe* write. When Queued is set the
// statement did not run; it was deferred for replay and Result is nil.
type WriteAck struct {
	Queued bool
	Result sql.Result
}

// queuedPayload carries a deferred write through the coordinator queue.
// It round-trips through JSON so replay does not depend on in-memory
// pointer identity.
type queuedPayload struct {
	Table  string                 `json:"table"`
	Record map[string]interface{} `json:"record"`
	Where  map[string]interface{} `json:"where,omitempty"`
}

// Store is the resilient database access layer. Reads route to a
// replica when one is configured and the query qualifies, writes always
// hit the primary, transient failures retry with backoff, and Safe*
// writes degrade to the coordinator's deferred-write queue instead of
// failing.
type Store struct {
	primary *sqlx.DB
	replica *sqlx.DB

	cfg     config.DatabaseConfig
	coord   *resilience.Coordinator
	retrier *resilience.Retrier
	alerts  *resilience.AlertManager
	metrics *metrics.Metrics
	logger  *logging.Logger

	healthMu     sync.Mutex
	connFailures int

	lastWaitCount int64
	stopSampler   chan struct{}
}

// New connects to the primary (and optionally a read replica) and wires
// the store into the coordinator as the critical "database" service.
func New(cfg config.DatabaseConfig, res config.ResilienceConfig, coord *resilience.Coordinator, alerts *resilience.AlertManager, m *metrics.Metrics) (*Store, error) {
	logger := logging.GetLogger()

	primary, err := connect(cfg, cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if err != nil {
		return nil, apperrors.NewUnavailableError("database").WithCause(err)
	}

	s := &Store{
		primary: primary,
		cfg:     cfg,
		coord:   coord,
		alerts:  alerts,
		metrics: m,
		logger:  logger,
	}

	s.retrier = resilience.NewRetrier(resilience.RetryConfig{
		MaxAttempts:     res.MaxRetries + 1,
		InitialDelay:    res.RetryInitialDelay,
		MaxDelay:        res.RetryMaxDelay,
		RetryableErrors: IsTransient,
	})

	// The replica is best-effort. A failed probe at startup disables it
	// for the life of the process; all reads then go to the primary.
	if cfg.Replica != nil {
		replica, err := connect(cfg, cfg.Replica.Host, cfg.Replica.Port, cfg.Replica.User, cfg.Replica.Password)
		if err != nil {
			logger.Warn("Read replica unreachable, falling back to primary for all reads",
				"host", cfg.Replica.Host,
				"error", err.Error(),
			)
		} else {
			s.replica = replica
			logger.Info("Read replica connected", "host", cfg.Replica.Host)
		}
	}

	if coord != nil {
		coord.RegisterService(ServiceName, true)
		coord.RegisterReplay(ServiceName, s.replayWrite)
		coord.MarkHealthy(ServiceName, "connected")
	}

	return s, nil
}

func connect(cfg config.DatabaseConfig, host string, port int, user, password string) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		host, port, cfg.Name, user, password, cfg.SSLMode, int(cfg.ConnectTimeout.Seconds()),
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// Primary exposes the primary handle for migrations and tests
func (s *Store) Primary() *sqlx.DB {
	return s.primary
}

// ReplicaEnabled reports whether reads can be routed to a replica
func (s *Store) ReplicaEnabled() bool {
	return s.replica != nil
}

// routeFor picks the pool for a read. Only replica-eligible queries on
// a connected replica leave the primary.
func (s *Store) routeFor(query string) (*sqlx.DB, string) {
	if s.replica != nil && replicaEligible(query) {
		return s.replica, poolReplica
	}
	return s.primary, poolPrimary
}

// GetOne scans a single row into dest, routing to the replica when the
// query qualifies.
func (s *Store) GetOne(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	db, pool := s.routeFor(query)
	return s.withRetry(ctx, "get_one", pool, func(ctx context.Context) error {
		err := db.GetContext(ctx, dest, query, args...)
		if err == sql.ErrNoRows {
			return apperrors.NewNotFoundError("row")
		}
		return err
	})
}

// GetOnePrimary is GetOne pinned to the primary, for read-after-write paths
func (s *Store) GetOnePrimary(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return s.withRetry(ctx, "get_one", poolPrimary, func(ctx context.Context) error {
		err := s.primary.GetContext(ctx, dest, query, args...)
		if err == sql.ErrNoRows {
			return apperrors.NewNotFoundError("row")
		}
		return err
	})
}

// GetMany scans all rows into dest, routing to the replica when the
// query qualifies.
func (s *Store) GetMany(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	db, pool := s.routeFor(query)
	return s.withRetry(ctx, "get_many", pool, func(ctx context.Context) error {
		return db.SelectContext(ctx, dest, query, args...)
	})
}

// GetManyPrimary is GetMany pinned to the primary
func (s *Store) GetManyPrimary(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return s.withRetry(ctx, "get_many", poolPrimary, func(ctx context.Context) error {
		return s.primary.SelectContext(ctx, dest, query, args...)
	})
}

// Query runs a read and returns the raw rows. The caller owns Close.
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	db, pool := s.routeFor(query)
	var rows *sqlx.Rows
	err := s.withRetry(ctx, "query", pool, func(ctx context.Context) error {
		var err error
		rows, err = db.QueryxContext(ctx, query, args...)
		return err
	})
	return rows, err
}

// QueryPrimary is Query pinned to the primary
func (s *Store) QueryPrimary(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error) {
	var rows *sqlx.Rows
	err := s.withRetry(ctx, "query", poolPrimary, func(ctx context.Context) error {
		var err error
		rows, err = s.primary.QueryxContext(ctx, query, args...)
		return err
	})
	return rows, err
}

// Exec runs a statement on the primary
func (s *Store) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	err := s.withRetry(ctx, "exec", poolPrimary, func(ctx context.Context) error {
		var err error
		result, err = s.primary.ExecContext(ctx, query, args...)
		return err
	})
	return result, err
}

// withRetry applies the query timeout, retries transient failures, and
// feeds connection health and metrics from the outcome.
func (s *Store) withRetry(ctx context.Context, operation, pool string, op func(context.Context) error) error {
	if s.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
		defer cancel()
	}

	if s.metrics != nil {
		s.metrics.QueriesRouted.WithLabelValues(pool).Inc()
		start := time.Now()
		defer func() {
			s.metrics.QueryDuration.WithLabelValues(operation, pool).Observe(time.Since(start).Seconds())
		}()
	}

	attempts := 0
	err := s.retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return op(ctx)
	})

	if s.metrics != nil && attempts > 1 {
		s.metrics.QueryRetries.WithLabelValues(operation).Add(float64(attempts - 1))
	}

	s.trackConnHealth(err)
	return err
}

// trackConnHealth turns raw query outcomes into coordinator signals.
// Consecutive connection errors mark the database unavailable; the
// first success afterwards marks it healthy again and triggers replay.
func (s *Store) trackConnHealth(err error) {
	if s.coord == nil {
		return
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	if err == nil {
		if s.connFailures > 0 {
			s.connFailures = 0
			s.coord.MarkHealthy(ServiceName, "query succeeded")
		}
		return
	}

	if !isConnectionError(err) {
		return
	}

	s.connFailures++
	if s.connFailures >= connFailureLimit {
		s.coord.MarkUnavailable(ServiceName, err.Error())
	} else {
		s.coord.MarkDegraded(ServiceName, err.Error())
	}
}

// Insert inserts one record built from a column map
func (s *Store) Insert(ctx context.Context, table string, record map[string]interface{}) (sql.Result, error) {
	query, args, err := buildInsert(table, record)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, query, args...)
}

// Upsert inserts a record, resolving conflicts on the given columns by
// updating every non-conflict column.
func (s *Store) Upsert(ctx context.Context, table string, record map[string]interface{}, conflictColumns []string) (sql.Result, error) {
	query, args, err := buildUpsert(table, record, conflictColumns)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, query, args...)
}

// Update updates rows matching the where map
func (s *Store) Update(ctx context.Context, table string, record, where map[string]interface{}) (sql.Result, error) {
	query, args, err := buildUpdate(table, record, where)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, query, args...)
}

// Delete deletes rows matching the where map
func (s *Store) Delete(ctx context.Context, table string, where map[string]interface{}) (sql.Result, error) {
	query, args, err := buildDelete(table, where)
	if err != nil {
		return nil, err
	}
	return s.Exec(ctx, query, args...)
}

// SafeInsert inserts a record, deferring it to the write queue when the
// database is down instead of failing. A known-unavailable database is
// not even attempted; the write queues straight away.
func (s *Store) SafeInsert(ctx context.Context, table string, record map[string]interface{}) (WriteAck, error) {
	if s.isUnavailable() {
		if _, _, err := buildInsert(table, record); err != nil {
			return WriteAck{}, err
		}
		s.queueWrite("insert:"+table, queuedPayload{Table: table, Record: record})
		return WriteAck{Queued: true}, nil
	}

	result, err := s.Insert(ctx, table, record)
	if err == nil {
		return WriteAck{Result: result}, nil
	}
	if s.shouldQueue(err) {
		s.queueWrite("insert:"+table, queuedPayload{Table: table, Record: record})
		return WriteAck{Queued: true}, nil
	}
	return WriteAck{}, err
}

// SafeUpdate updates rows, deferring the write when the database is down
func (s *Store) SafeUpdate(ctx context.Context, table string, record, where map[string]interface{}) (WriteAck, error) {
	if s.isUnavailable() {
		if _, _, err := buildUpdate(table, record, where); err != nil {
			return WriteAck{}, err
		}
		s.queueWrite("update:"+table, queuedPayload{Table: table, Record: record, Where: where})
		return WriteAck{Queued: true}, nil
	}

	result, err := s.Update(ctx, table, record, where)
	if err == nil {
		return WriteAck{Result: result}, nil
	}
	if s.shouldQueue(err) {
		s.queueWrite("update:"+table, queuedPayload{Table: table, Record: record, Where: where})
		return WriteAck{Queued: true}, nil
	}
	return WriteAck{}, err
}

// SafeDelete deletes rows, deferring the write when the database is down
func (s *Store) SafeDelete(ctx context.Context, table string, where map[string]interface{}) (WriteAck, error) {
	if s.isUnavailable() {
		if _, _, err := buildDelete(table, where); err != nil {
			return WriteAck{}, err
		}
		s.queueWrite("delete:"+table, queuedPayload{Table: table, Where: where})
		return WriteAck{Queued: true}, nil
	}

	result, err := s.Delete(ctx, table, where)
	if err == nil {
		return WriteAck{Result: result}, nil
	}
	if s.shouldQueue(err) {
		s.queueWrite("delete:"+table, queuedPayload{Table: table, Where: where})
		return WriteAck{Queued: true}, nil
	}
	return WriteAck{}, err
}

func (s *Store) isUnavailable() bool {
	if s.coord == nil {
		return false
	}
	state, ok := s.coord.ServiceState(ServiceName)
	return ok && state == resilience.ServiceUnavailable
}

// shouldQueue decides whether a failed write is worth deferring.
// Validation errors and constraint violations would fail again on
// replay, so only infrastructure failures queue.
func (s *Store) shouldQueue(err error) bool {
	if s.coord == nil {
		return false
	}
	if apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		return false
	}
	return IsTransient(err) || isConnectionError(err)
}

func (s *Store) queueWrite(operation string, payload queuedPayload) {
	s.coord.QueueWrite(ServiceName, operation, payload)
	s.logger.Warn("Write deferred to queue",
		"operation", operation,
		"table", payload.Table,
		"queue_depth", s.coord.QueueDepth(),
	)
}

// replayWrite executes one queued write once the database recovers
func (s *Store) replayWrite(ctx context.Context, write resilience.QueuedWrite) error {
	payload, err := decodePayload(write.Payload)
	if err != nil {
		return err
	}

	var query string
	var args []interface{}
	switch {
	case len(payload.Record) > 0 && len(payload.Where) > 0:
		query, args, err = buildUpdate(payload.Table, payload.Record, payload.Where)
	case len(payload.Record) > 0:
		query, args, err = buildInsert(payload.Table, payload.Record)
	case len(payload.Where) > 0:
		query, args, err = buildDelete(payload.Table, payload.Where)
	default:
		return apperrors.NewValidationError("queued write has no record or where clause")
	}
	if err != nil {
		return err
	}

	_, err = s.primary.ExecContext(ctx, query, args...)
	return err
}

// decodePayload accepts the payload either as the original struct or,
// after a JSON round trip, as a generic map.
func decodePayload(raw interface{}) (queuedPayload, error) {
	switch p := raw.(type) {
	case queuedPayload:
		return p, nil
	case *queuedPayload:
		return *p, nil
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return queuedPayload{}, apperrors.NewValidationError("unrecognized queued write payload")
		}
		var payload queuedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return queuedPayload{}, apperrors.NewValidationError("unrecognized queued write payload")
		}
		return payload, nil
	}
}

// Transaction runs fn inside a transaction on the primary. The
// transaction is rolled back on error or panic, committed otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := s.primary.BeginTxx(ctx, nil)
	if err != nil {
		s.trackConnHealth(err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Transaction rollback failed",
				"error", rbErr.Error(),
				"original_error", err.Error(),
			)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Ping verifies connectivity to the primary
func (s *Store) Ping(ctx context.Context) error {
	return s.primary.PingContext(ctx)
}

// Close stops the pool sampler and closes both connection pools
func (s *Store) Close() error {
	s.StopPoolSampler()

	var firstErr error
	if err := s.primary.Close(); err != nil {
		firstErr = err
	}
	if s.replica != nil {
		if err := s.replica.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
