//go:build duckdb || all_adapters

// Package duckdb registers DuckDB files as a datasource. It needs cgo and is
// compiled only with the duckdb or all_adapters build tag.
package duckdb

import (
	"context"
	dbsql "database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource/sqldb"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// NewPool opens the database and verifies it with a ping.
func NewPool(ctx context.Context, cfg *Config) (*sqldb.Pool, error) {
	db, err := dbsql.Open("duckdb", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	pool := sqldb.New(db, sql.DialectDuckDB, cfg.PoolMaxConns, sqldb.DefaultClassifier)
	if err := pool.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return pool, nil
}
