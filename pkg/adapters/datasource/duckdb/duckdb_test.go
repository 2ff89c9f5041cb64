//go:build duckdb || all_adapters

package duckdb

import (
	"context"
	dbsql "database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

func seedDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.duckdb")
	db, err := dbsql.Open("duckdb", path)
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range []string{
		`CREATE TABLE customers (id INTEGER PRIMARY KEY, name VARCHAR NOT NULL, region VARCHAR)`,
		`CREATE TABLE orders (id INTEGER PRIMARY KEY, customer_id INTEGER REFERENCES customers(id), amount DECIMAL(10,2))`,
		`COMMENT ON TABLE customers IS 'People who buy things'`,
		`INSERT INTO customers VALUES (1, 'Ada', 'EMEA'), (2, 'Grace', 'AMER'), (3, 'Linus', 'EMEA')`,
		`INSERT INTO orders VALUES (10, 1, 12.50), (11, 1, 3.00), (12, 2, 99.99)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return path
}

func openPool(t *testing.T, path string) (*Config, datasource.ConnectionPool) {
	t.Helper()
	cfg, err := FromMap(map[string]any{"path": path})
	require.NoError(t, err)
	pool, err := NewPool(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })
	return cfg, pool
}

func TestIntrospect(t *testing.T) {
	cfg, pool := openPool(t, seedDatabase(t))
	reg, ok := datasource.GetRegistration("duckdb")
	require.True(t, ok)

	in, err := reg.IntrospectorFactory(pool, map[string]any{"path": cfg.Path}, zap.NewNop())
	require.NoError(t, err)

	snap, err := in.Introspect(context.Background(), "local")
	require.NoError(t, err)
	assert.Equal(t, []string{"customers", "orders"}, snap.TableNames())

	customers, ok := snap.Table("customers")
	require.True(t, ok)
	assert.Equal(t, "People who buy things", customers.Description)
	assert.True(t, customers.Columns[0].IsPrimaryKey)
	assert.False(t, customers.Columns[1].Nullable)
	assert.True(t, customers.Columns[2].Nullable)

	orders, ok := snap.Table("orders")
	require.True(t, ok)
	assert.Equal(t, []models.Relationship{
		{Column: "customer_id", ReferencedTable: "customers", ReferencedColumn: "id"},
	}, orders.Relationships)
}

func TestRunQueryAndReadOnly(t *testing.T) {
	_, pool := openPool(t, seedDatabase(t))
	ctx := context.Background()

	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)
	defer conn.Release()

	rows, err := conn.RunQuery(ctx, "SELECT region, count(*) AS n FROM customers GROUP BY region ORDER BY region")
	require.NoError(t, err)
	assert.Equal(t, "region", rows.Columns()[0].Name)
	var got [][]any
	for rows.Next() {
		v, err := rows.Values()
		require.NoError(t, err)
		got = append(got, v)
	}
	require.NoError(t, rows.Err())
	rows.Close()
	assert.Equal(t, [][]any{{"AMER", int64(1)}, {"EMEA", int64(2)}}, got)

	_, err = conn.RunQuery(ctx, "DELETE FROM customers")
	require.Error(t, err)
	pe := datasource.ToPipelineError(err)
	assert.Equal(t, apperrors.ReasonPermission, pe.SubReason)
}

func TestFromMap(t *testing.T) {
	cfg, err := FromMap(map[string]any{"path": "/data/a.duckdb", "threads": 2})
	require.NoError(t, err)
	assert.Equal(t, "/data/a.duckdb?access_mode=READ_ONLY&threads=2", cfg.DSN())

	cfg, err = FromMap(map[string]any{})
	require.NoError(t, err)
	assert.False(t, cfg.ReadOnly)
	assert.Equal(t, "", cfg.DSN())

	_, err = FromMap(map[string]any{"pool_max_conns": 0})
	assert.Error(t, err)
}
