package datasource

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// MockPool is a bounded in-memory pool for tests. Set RunQueryFunc to control
// what each checked-out connection returns.
type MockPool struct {
	// RunQueryFunc is called for every Conn.RunQuery. If nil, an empty result is returned.
	RunQueryFunc func(ctx context.Context, sqlQuery string) (RowIterator, error)
	// PingFunc is called by Ping. If nil, Ping succeeds.
	PingFunc func(ctx context.Context) error

	PoolDialect sql.Dialect

	slots     chan struct{}
	maxConns  int32
	inUse     atomic.Int32
	acquired  atomic.Int64
	discarded atomic.Int64
	closed    atomic.Bool

	mu      sync.Mutex
	Queries []string
}

// NewMockPool creates a mock pool with maxConns slots.
func NewMockPool(maxConns int) *MockPool {
	if maxConns <= 0 {
		maxConns = 1
	}
	return &MockPool{
		PoolDialect: sql.DialectPostgres,
		slots:       make(chan struct{}, maxConns),
		maxConns:    int32(maxConns),
	}
}

// Acquire implements ConnectionPool. Blocks while all slots are taken.
func (p *MockPool) Acquire(ctx context.Context) (Conn, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	p.inUse.Add(1)
	p.acquired.Add(1)
	return &mockConn{pool: p}, nil
}

// Stats implements ConnectionPool.
func (p *MockPool) Stats() PoolStats {
	inUse := p.inUse.Load()
	return PoolStats{
		MaxConns:   p.maxConns,
		InUse:      inUse,
		Idle:       p.maxConns - inUse,
		Acquired:   p.acquired.Load(),
		TotalConns: p.maxConns,
	}
}

// Dialect implements ConnectionPool.
func (p *MockPool) Dialect() sql.Dialect { return p.PoolDialect }

// Ping implements ConnectionPool.
func (p *MockPool) Ping(ctx context.Context) error {
	if p.PingFunc != nil {
		return p.PingFunc(ctx)
	}
	return nil
}

// Close implements ConnectionPool.
func (p *MockPool) Close() error {
	p.closed.Store(true)
	return nil
}

// Discarded is how many connections were destroyed through Discard.
func (p *MockPool) Discarded() int64 { return p.discarded.Load() }

// Closed reports whether Close was called.
func (p *MockPool) Closed() bool { return p.closed.Load() }

// RecordedQueries returns every SQL string run through the pool.
func (p *MockPool) RecordedQueries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.Queries...)
}

type mockConn struct {
	pool     *MockPool
	released atomic.Bool
}

func (c *mockConn) RunQuery(ctx context.Context, sqlQuery string) (RowIterator, error) {
	c.pool.mu.Lock()
	c.pool.Queries = append(c.pool.Queries, sqlQuery)
	c.pool.mu.Unlock()
	if c.pool.RunQueryFunc != nil {
		return c.pool.RunQueryFunc(ctx, sqlQuery)
	}
	return NewMockRows(nil, nil), nil
}

func (c *mockConn) Release() {
	if c.released.Swap(true) {
		return
	}
	c.pool.inUse.Add(-1)
	<-c.pool.slots
}

func (c *mockConn) Discard() {
	if c.released.Swap(true) {
		return
	}
	c.pool.discarded.Add(1)
	c.pool.inUse.Add(-1)
	<-c.pool.slots
}

// MockRows iterates over fixed rows.
type MockRows struct {
	columns []models.ColumnInfo
	rows    [][]any
	pos     int
	// FailAt makes Next return false with Err set once pos reaches it (when > 0).
	FailAt  int
	FailErr error
	err     error
	closed  bool
}

// NewMockRows builds an iterator over rows with the given columns.
func NewMockRows(columns []models.ColumnInfo, rows [][]any) *MockRows {
	return &MockRows{columns: columns, rows: rows}
}

func (r *MockRows) Columns() []models.ColumnInfo { return r.columns }

func (r *MockRows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if r.FailAt > 0 && r.pos >= r.FailAt {
		r.err = r.FailErr
		return false
	}
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *MockRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

func (r *MockRows) Err() error { return r.err }

func (r *MockRows) Close() { r.closed = true }

// Consumed is the number of rows handed out by Next.
func (r *MockRows) Consumed() int { return r.pos }

// IsClosed reports whether Close was called.
func (r *MockRows) IsClosed() bool { return r.closed }

// MockIntrospector returns a configured snapshot and counts calls.
type MockIntrospector struct {
	IntrospectFunc func(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error)
	calls          atomic.Int32
}

// Introspect implements SchemaIntrospector.
func (m *MockIntrospector) Introspect(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	m.calls.Add(1)
	if m.IntrospectFunc != nil {
		return m.IntrospectFunc(ctx, databaseID)
	}
	return &models.SchemaSnapshot{DatabaseID: databaseID}, nil
}

// Calls returns how many times Introspect ran.
func (m *MockIntrospector) Calls() int { return int(m.calls.Load()) }

var (
	_ ConnectionPool     = (*MockPool)(nil)
	_ RowIterator        = (*MockRows)(nil)
	_ SchemaIntrospector = (*MockIntrospector)(nil)
)
