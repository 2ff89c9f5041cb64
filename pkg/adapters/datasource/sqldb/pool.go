// Package sqldb adapts a database/sql handle to datasource.ConnectionPool for
// drivers that only ship a database/sql interface.
package sqldb

import (
	"context"
	dbsql "database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// Classifier turns a driver error into a *datasource.DriverError. Context
// errors should be returned unchanged.
type Classifier func(err error) error

const defaultMaxConns = 10

// Pool wraps *sql.DB. Each Acquire takes one of maxConns slots and checks out
// a dedicated *sql.Conn so the statement runs on one session.
//
// database/sql cannot drop a connection while a driver call is running on it,
// so a discarded connection drains in the background. The handle is allowed
// twice maxConns open connections so that draining ones do not starve the
// slots that were handed back.
type Pool struct {
	db       *dbsql.DB
	dialect  sql.Dialect
	classify Classifier
	slots    chan struct{}
	inUse    atomic.Int32
	acquired atomic.Int64
}

// New wraps db with maxConns slots. Zero or less means defaultMaxConns.
func New(db *dbsql.DB, dialect sql.Dialect, maxConns int, classify Classifier) *Pool {
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	db.SetMaxOpenConns(2 * maxConns)
	db.SetMaxIdleConns(maxConns)
	if classify == nil {
		classify = DefaultClassifier
	}
	return &Pool{db: db, dialect: dialect, classify: classify, slots: make(chan struct{}, maxConns)}
}

// DefaultClassifier classifies by message text only.
func DefaultClassifier(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var de *datasource.DriverError
	if errors.As(err, &de) {
		return err
	}
	return datasource.NewDriverError(apperrors.ReasonUnknown, "", err)
}

// DB exposes the handle for introspection queries.
func (p *Pool) DB() *dbsql.DB { return p.db }

// Acquire implements datasource.ConnectionPool.
func (p *Pool) Acquire(ctx context.Context) (datasource.Conn, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		<-p.slots
		return nil, p.classify(err)
	}
	p.inUse.Add(1)
	p.acquired.Add(1)
	return &poolConn{pool: p, conn: conn, classify: p.classify}, nil
}

func (p *Pool) freeSlot() {
	p.inUse.Add(-1)
	<-p.slots
}

// Stats implements datasource.ConnectionPool. MaxConns and InUse count slots;
// Idle and TotalConns come from the database/sql handle.
func (p *Pool) Stats() datasource.PoolStats {
	s := p.db.Stats()
	return datasource.PoolStats{
		MaxConns:   int32(cap(p.slots)),
		InUse:      p.inUse.Load(),
		Idle:       int32(s.Idle),
		Acquired:   p.acquired.Load(),
		WaitCount:  s.WaitCount,
		TotalConns: int32(s.OpenConnections),
	}
}

// Dialect implements datasource.ConnectionPool.
func (p *Pool) Dialect() sql.Dialect { return p.dialect }

// Ping implements datasource.ConnectionPool.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return p.classify(err)
	}
	return nil
}

// Close implements datasource.ConnectionPool.
func (p *Pool) Close() error {
	return p.db.Close()
}

type poolConn struct {
	pool     *Pool
	conn     *dbsql.Conn
	classify Classifier
	released atomic.Bool
}

func (c *poolConn) RunQuery(ctx context.Context, sqlQuery string) (datasource.RowIterator, error) {
	rows, err := c.conn.QueryContext(ctx, sqlQuery)
	if err != nil {
		return nil, c.classify(err)
	}
	it, err := newRowIterator(rows, c.classify)
	if err != nil {
		rows.Close()
		return nil, err
	}
	return it, nil
}

func (c *poolConn) Release() {
	if c.released.Swap(true) {
		return
	}
	_ = c.conn.Close()
	c.pool.freeSlot()
}

// Discard hands the slot back now. Raw blocks until any running driver call
// returns; reporting driver.ErrBadConn then makes database/sql close the
// connection instead of pooling it.
func (c *poolConn) Discard() {
	if c.released.Swap(true) {
		return
	}
	c.pool.freeSlot()
	go func() {
		_ = c.conn.Raw(func(any) error { return driver.ErrBadConn })
		_ = c.conn.Close()
	}()
}

type rowIterator struct {
	rows     *dbsql.Rows
	columns  []models.ColumnInfo
	classify Classifier
}

func newRowIterator(rows *dbsql.Rows, classify Classifier) (*rowIterator, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, classify(err)
	}
	columns := make([]models.ColumnInfo, len(types))
	for i, ct := range types {
		columns[i] = models.ColumnInfo{Name: ct.Name(), Type: strings.ToUpper(ct.DatabaseTypeName())}
	}
	return &rowIterator{rows: rows, columns: columns, classify: classify}, nil
}

func (r *rowIterator) Columns() []models.ColumnInfo { return r.columns }
func (r *rowIterator) Next() bool                   { return r.rows.Next() }
func (r *rowIterator) Close()                       { _ = r.rows.Close() }

func (r *rowIterator) Values() ([]any, error) {
	values := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, r.classify(err)
	}
	for i, v := range values {
		// Drivers hand text back as []byte; it is only valid until the next Scan.
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

func (r *rowIterator) Err() error {
	if err := r.rows.Err(); err != nil {
		return r.classify(err)
	}
	return nil
}

var _ datasource.ConnectionPool = (*Pool)(nil)
