// Package pgexec applies generated SQL to PostgreSQL and invokes the
// generated wrapper functions.
package pgexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/roach88/actionc/internal/ir"
)

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Executor runs SQL against a pgxpool connection pool.
type Executor struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Caller identifies who an action runs as. A zero TenantID is passed as
// NULL, which tenant-scoped wrappers reject.
type Caller struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// Open creates a connection pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Executor, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 4
	}
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool, logger), nil
}

// New wraps an existing pool. The caller keeps ownership of the pool only
// if it does not call Close.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Executor{
		pool:    pool,
		logger:  logger,
		entropy: ulid.Monotonic(src, 0),
	}
}

// Close closes the connection pool.
func (x *Executor) Close() {
	x.pool.Close()
}

// Pool returns the underlying pool.
func (x *Executor) Pool() *pgxpool.Pool {
	return x.pool
}

// newID returns a correlation id for log lines of one operation.
func (x *Executor) newID() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), x.entropy).String()
}

// Apply runs scripts in order inside one transaction. Either every script
// takes effect or none does.
func (x *Executor) Apply(ctx context.Context, scripts ...string) error {
	id := x.newID()
	start := time.Now()

	tx, err := x.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, script := range scripts {
		// No arguments: pgx uses the simple protocol, which accepts
		// multiple statements and dollar-quoted bodies.
		if _, err := tx.Exec(ctx, script); err != nil {
			x.logger.Warn("apply failed",
				zap.String("apply_id", id),
				zap.Int("script", i),
				zap.Error(err))
			return fmt.Errorf("script %d: %w", i, asSQLError(err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	x.logger.Info("applied SQL",
		zap.String("apply_id", id),
		zap.Int("scripts", len(scripts)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Invoke calls app.<action>(tenant, user, payload) and decodes the
// mutation result. Business failures come back as a result with error
// status; only driver and SQL errors are returned as errors.
func (x *Executor) Invoke(ctx context.Context, action string, caller Caller, input map[string]any) (*ir.MutationResult, error) {
	if !ir.IsIdentifier(action) {
		return nil, fmt.Errorf("invalid action name %q", action)
	}
	if input == nil {
		input = map[string]any{}
	}
	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	id := x.newID()
	start := time.Now()
	query := fmt.Sprintf(
		"SELECT id::TEXT, status, code, message, data, impacts FROM app.%s($1::UUID, $2::UUID, $3::JSONB)",
		action)

	var (
		rowID, message *string
		data, impacts  []byte
		res            ir.MutationResult
	)
	err = x.pool.QueryRow(ctx, query, nullableUUID(caller.TenantID), nullableUUID(caller.UserID), string(payload)).
		Scan(&rowID, &res.Status, &res.Code, &message, &data, &impacts)
	if err != nil {
		x.logger.Warn("invoke failed",
			zap.String("invocation_id", id),
			zap.String("action", action),
			zap.Error(err))
		return nil, fmt.Errorf("invoke %s: %w", action, asSQLError(err))
	}

	if rowID != nil {
		res.ID = *rowID
	}
	if message != nil {
		res.Message = *message
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &res.Data); err != nil {
			// Scalar data (a bare string or number) has no map form.
			res.Data = map[string]any{"value": json.RawMessage(data)}
		}
	}
	res.Impacts = []ir.Impact{}
	if len(impacts) > 0 {
		if err := json.Unmarshal(impacts, &res.Impacts); err != nil {
			return nil, fmt.Errorf("decode impacts of %s: %w", action, err)
		}
	}

	x.logger.Debug("invoked action",
		zap.String("invocation_id", id),
		zap.String("action", action),
		zap.String("status", res.Status),
		zap.String("code", res.Code),
		zap.Duration("elapsed", time.Since(start)))
	return &res, nil
}

// QueryRows runs query and returns every row keyed by column name.
func (x *Executor) QueryRows(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := x.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", asSQLError(err))
	}
	out, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("collect rows: %w", asSQLError(err))
	}
	return out, nil
}

// Exec runs statements outside any explicit transaction.
func (x *Executor) Exec(ctx context.Context, sql string) error {
	if _, err := x.pool.Exec(ctx, sql); err != nil {
		return asSQLError(err)
	}
	return nil
}

func nullableUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}

// SQLError is a server-side error with its SQLSTATE.
type SQLError struct {
	Code    string
	Message string
	Detail  string
	Where   string
}

func (e *SQLError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (SQLSTATE %s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
}

// asSQLError converts a *pgconn.PgError into *SQLError and passes other
// errors through.
func asSQLError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &SQLError{Code: pgErr.Code, Message: pgErr.Message, Detail: pgErr.Detail, Where: pgErr.Where}
	}
	return err
}
