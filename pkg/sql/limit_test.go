package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatement_Limit(t *testing.T) {
	tests := []struct {
		sql         string
		wantFound   bool
		wantStyle   LimitStyle
		wantValue   int64
		wantNumeric bool
	}{
		{"SELECT * FROM t", false, "", 0, false},
		{"SELECT * FROM t LIMIT 5", true, LimitKeyword, 5, true},
		{"SELECT * FROM t limit 5 offset 10", true, LimitKeyword, 5, true},
		{"SELECT * FROM t LIMIT 10, 20", true, LimitKeyword, 20, true},
		{"SELECT * FROM t LIMIT ALL", true, LimitKeyword, 0, false},
		{"SELECT * FROM t LIMIT $1", true, LimitKeyword, 0, false},
		{"SELECT * FROM (SELECT * FROM t LIMIT 3) s", false, "", 0, false},
		{"SELECT TOP 50 * FROM t", true, LimitTop, 50, true},
		{"SELECT DISTINCT TOP (25) name FROM t", true, LimitTop, 25, true},
		{"SELECT TOP 10 PERCENT * FROM t", true, LimitTop, 10, false},
		{"SELECT * FROM t ORDER BY a OFFSET 0 ROWS FETCH NEXT 7 ROWS ONLY", true, LimitFetch, 7, true},
		{"SELECT * FROM t FETCH FIRST ROW ONLY", true, LimitFetch, 1, true},
		{"WITH c AS (SELECT TOP 5 * FROM t) SELECT * FROM c", false, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			lc, ok := mustParse(t, tt.sql).Limit()
			assert.Equal(t, tt.wantFound, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantStyle, lc.Style)
			assert.Equal(t, tt.wantNumeric, lc.Numeric)
			if tt.wantNumeric {
				assert.Equal(t, tt.wantValue, lc.Value)
			}
		})
	}
}

func TestEnforceLimit(t *testing.T) {
	tests := []struct {
		name        string
		sql         string
		dialect     Dialect
		max         int64
		wantSQL     string
		wantChanged bool
	}{
		{
			name: "appends when missing", sql: "SELECT * FROM orders", dialect: DialectPostgres, max: 100,
			wantSQL: "SELECT * FROM orders LIMIT 100", wantChanged: true,
		},
		{
			name: "keeps smaller limit", sql: "SELECT * FROM orders LIMIT 5", dialect: DialectPostgres, max: 100,
			wantSQL: "SELECT * FROM orders LIMIT 5",
		},
		{
			name: "keeps equal limit", sql: "SELECT * FROM orders LIMIT 100", dialect: DialectDuckDB, max: 100,
			wantSQL: "SELECT * FROM orders LIMIT 100",
		},
		{
			name: "lowers larger limit", sql: "SELECT * FROM orders LIMIT 50000 OFFSET 10", dialect: DialectPostgres, max: 100,
			wantSQL: "SELECT * FROM orders LIMIT 100 OFFSET 10", wantChanged: true,
		},
		{
			name: "inner limit does not count", sql: "SELECT * FROM (SELECT * FROM t LIMIT 3) s", dialect: DialectPostgres, max: 10,
			wantSQL: "SELECT * FROM (SELECT * FROM t LIMIT 3) s LIMIT 10", wantChanged: true,
		},
		{
			name: "limit all is wrapped", sql: "SELECT * FROM t LIMIT ALL", dialect: DialectPostgres, max: 10,
			wantSQL: "SELECT * FROM (SELECT * FROM t LIMIT ALL\n) AS _limited LIMIT 10", wantChanged: true,
		},
		{
			name: "new line after trailing line comment", sql: "SELECT * FROM t -- every row", dialect: DialectPostgres, max: 10,
			wantSQL: "SELECT * FROM t -- every row\nLIMIT 10", wantChanged: true,
		},
		{
			name: "mssql inserts top", sql: "SELECT name FROM dbo.customers", dialect: DialectMSSQL, max: 10,
			wantSQL: "SELECT TOP (10) name FROM dbo.customers", wantChanged: true,
		},
		{
			name: "mssql inserts top after distinct", sql: "SELECT DISTINCT name FROM dbo.customers", dialect: DialectMSSQL, max: 10,
			wantSQL: "SELECT DISTINCT TOP (10) name FROM dbo.customers", wantChanged: true,
		},
		{
			name: "mssql lowers top", sql: "SELECT TOP 500 * FROM t", dialect: DialectMSSQL, max: 10,
			wantSQL: "SELECT TOP 10 * FROM t", wantChanged: true,
		},
		{
			name: "mssql offset gets fetch", sql: "SELECT * FROM t ORDER BY id OFFSET 5 ROWS", dialect: DialectMSSQL, max: 10,
			wantSQL: "SELECT * FROM t ORDER BY id OFFSET 5 ROWS FETCH NEXT 10 ROWS ONLY", wantChanged: true,
		},
		{
			name: "mssql cte inserts top on body", sql: "WITH c AS (SELECT * FROM t) SELECT * FROM c", dialect: DialectMSSQL, max: 10,
			wantSQL: "WITH c AS (SELECT * FROM t) SELECT TOP (10) * FROM c", wantChanged: true,
		},
		{
			name: "mssql union is wrapped", sql: "SELECT a FROM t UNION SELECT a FROM u", dialect: DialectMSSQL, max: 10,
			wantSQL: "SELECT TOP (10) * FROM (SELECT a FROM t UNION SELECT a FROM u\n) AS _limited", wantChanged: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EnforceLimit(mustParse(t, tt.sql), tt.max, tt.dialect)
			assert.Equal(t, tt.wantSQL, got.SQL)
			assert.Equal(t, tt.wantChanged, got.Changed)
			if tt.wantChanged {
				assert.NotEmpty(t, got.Reason)
			}
		})
	}
}

func TestEnforceLimit_RewrittenFormStaysBounded(t *testing.T) {
	// Rewriting twice is a no-op and the result always carries a limit <= max.
	for _, q := range []string{
		"SELECT * FROM t",
		"SELECT * FROM t LIMIT 999999",
		"SELECT * FROM t LIMIT ALL",
		"WITH x AS (SELECT 1) SELECT * FROM x",
	} {
		first := EnforceLimit(mustParse(t, q), 25, DialectPostgres)
		stmt := mustParse(t, first.SQL)
		lc, ok := stmt.Limit()
		require.True(t, ok, q)
		require.True(t, lc.Numeric, q)
		assert.LessOrEqual(t, lc.Value, int64(25), q)

		second := EnforceLimit(stmt, 25, DialectPostgres)
		assert.False(t, second.Changed, q)
	}
}
