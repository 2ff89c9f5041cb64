package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// typeMap resolves result column OIDs to type names. Read-only after init.
var typeMap = pgtype.NewMap()

// Pool adapts *pgxpool.Pool to datasource.ConnectionPool.
type Pool struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPool opens a pgx pool bounded by cfg.PoolMaxConns and verifies it with a ping.
func NewPool(ctx context.Context, cfg *Config, logger *zap.Logger) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.PoolMaxConns
	// Generated SQL must never write, whatever reaches the driver.
	poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, classify(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify(err)
	}
	return &Pool{pool: pool, logger: logger.Named("postgres")}, nil
}

// WrapPool adapts an existing pgx pool. The caller keeps ownership of
// closing it through the returned Pool.
func WrapPool(pool *pgxpool.Pool, logger *zap.Logger) *Pool {
	return &Pool{pool: pool, logger: logger.Named("postgres")}
}

// Acquire implements datasource.ConnectionPool.
func (p *Pool) Acquire(ctx context.Context) (datasource.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return &poolConn{conn: conn, raw: conn.Conn()}, nil
}

// Stats implements datasource.ConnectionPool.
func (p *Pool) Stats() datasource.PoolStats {
	s := p.pool.Stat()
	return datasource.PoolStats{
		MaxConns:   s.MaxConns(),
		InUse:      s.AcquiredConns(),
		Idle:       s.IdleConns(),
		Acquired:   s.AcquireCount(),
		WaitCount:  s.EmptyAcquireCount(),
		TotalConns: s.TotalConns(),
	}
}

// Dialect implements datasource.ConnectionPool.
func (p *Pool) Dialect() sql.Dialect { return sql.DialectPostgres }

// Ping implements datasource.ConnectionPool.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close implements datasource.ConnectionPool.
func (p *Pool) Close() error {
	p.pool.Close()
	return nil
}

// PGX exposes the underlying pool to the introspector.
func (p *Pool) PGX() *pgxpool.Pool { return p.pool }

// poolConn keeps the *pgx.Conn from checkout so RunQuery never touches the
// pool resource that Discard hijacks.
type poolConn struct {
	conn *pgxpool.Conn
	raw  *pgx.Conn
	done atomic.Bool
}

func (c *poolConn) RunQuery(ctx context.Context, sqlQuery string) (datasource.RowIterator, error) {
	// Simple protocol keeps the statement a single round trip and avoids
	// server-side prepared statement state on pooled connections.
	rows, err := c.raw.Query(ctx, sqlQuery, pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		return nil, classify(err)
	}
	return newRowIterator(rows), nil
}

func (c *poolConn) Release() {
	if c.done.Swap(true) {
		return
	}
	c.conn.Release()
}

// Discard takes the connection out of the pool and closes its socket, which
// fails any query still reading from it.
func (c *poolConn) Discard() {
	if c.done.Swap(true) {
		return
	}
	c.conn.Hijack()
	_ = c.raw.PgConn().Conn().Close()
}

type rowIterator struct {
	rows    pgx.Rows
	columns []models.ColumnInfo
}

func newRowIterator(rows pgx.Rows) *rowIterator {
	fields := rows.FieldDescriptions()
	columns := make([]models.ColumnInfo, len(fields))
	for i, fd := range fields {
		columns[i] = models.ColumnInfo{Name: fd.Name, Type: typeName(fd.DataTypeOID)}
	}
	return &rowIterator{rows: rows, columns: columns}
}

func (r *rowIterator) Columns() []models.ColumnInfo { return r.columns }
func (r *rowIterator) Next() bool                   { return r.rows.Next() }
func (r *rowIterator) Close()                       { r.rows.Close() }

func (r *rowIterator) Values() ([]any, error) {
	values, err := r.rows.Values()
	if err != nil {
		return nil, classify(err)
	}
	return values, nil
}

func (r *rowIterator) Err() error {
	if err := r.rows.Err(); err != nil {
		return classify(err)
	}
	return nil
}

func typeName(oid uint32) string {
	if t, ok := typeMap.TypeForOID(oid); ok {
		return strings.ToUpper(t.Name)
	}
	return fmt.Sprintf("OID_%d", oid)
}

// classify maps pgx errors onto datasource.DriverError using SQLSTATE.
// Context errors pass through untouched so the execution stage can tell
// its own timeout apart from a driver failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return datasource.NewDriverError(reasonForSQLState(pgErr.Code), pgErr.Code, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return datasource.NewDriverError(apperrors.ReasonConnection, "", err)
	}
	return datasource.NewDriverError(apperrors.ReasonUnknown, "", err)
}

func reasonForSQLState(code string) apperrors.SubReason {
	switch {
	case code == "57014": // query_canceled, including statement_timeout
		return apperrors.ReasonTimeout
	case code == "42501", code == "28000", code == "28P01", code == "25006": // insufficient_privilege, auth, read_only_sql_transaction
		return apperrors.ReasonPermission
	case strings.HasPrefix(code, "42"): // syntax error or access rule violation
		return apperrors.ReasonSyntax
	case strings.HasPrefix(code, "08"), strings.HasPrefix(code, "57P"): // connection exception, operator intervention
		return apperrors.ReasonConnection
	default:
		return apperrors.ReasonUnknown
	}
}

var _ datasource.ConnectionPool = (*Pool)(nil)
