// Package datasource defines the narrow interfaces the pipeline uses to reach
// customer databases, plus a registry that concrete adapters join from init().
package datasource

import (
	"context"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// SchemaIntrospector captures a snapshot of a database's tables, columns and
// relationships. Implementations fail with a *DriverError for connection or
// permission problems.
type SchemaIntrospector interface {
	Introspect(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error)
}

// RowIterator streams result rows. Callers must Close it.
type RowIterator interface {
	// Columns is available before the first call to Next.
	Columns() []models.ColumnInfo
	Next() bool
	Values() ([]any, error)
	Err() error
	Close()
}

// Conn is a connection checked out of a ConnectionPool. Exactly one of
// Release or Discard takes effect; later calls are no-ops. After either the
// Conn must not be used.
type Conn interface {
	RunQuery(ctx context.Context, sqlQuery string) (RowIterator, error)
	// Release returns a healthy connection to the pool.
	Release()
	// Discard frees the pool slot at once and destroys the connection. It may
	// be called while RunQuery is still running on another goroutine; that
	// call then fails or returns into nothing.
	Discard()
}

// ConnectionPool is a bounded pool of database connections.
type ConnectionPool interface {
	Acquire(ctx context.Context) (Conn, error)
	Stats() PoolStats
	Dialect() sql.Dialect
	Ping(ctx context.Context) error
	Close() error
}

// PoolStats is a point-in-time view of pool occupancy.
type PoolStats struct {
	MaxConns   int32 `json:"max_conns"`
	InUse      int32 `json:"in_use"`
	Idle       int32 `json:"idle"`
	Acquired   int64 `json:"acquired_total"`
	WaitCount  int64 `json:"wait_count"`
	TotalConns int32 `json:"total_conns"`
}

// Available is the number of connections that could be checked out now
// without waiting.
func (s PoolStats) Available() int32 {
	return s.MaxConns - s.InUse
}

// Datasource bundles the pool and introspector for one configured database.
type Datasource struct {
	ID           string
	Type         string
	Pool         ConnectionPool
	Introspector SchemaIntrospector
}

// Close releases the pool.
func (d *Datasource) Close() error {
	if d == nil || d.Pool == nil {
		return nil
	}
	return d.Pool.Close()
}
