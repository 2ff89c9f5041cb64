package sql

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, sqlText string) *Statement {
	t.Helper()
	stmt, err := Parse(sqlText)
	require.NoError(t, err)
	return stmt
}

func TestValidateAndNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantSQL string
		wantErr error
	}{
		{name: "simple select", input: "SELECT * FROM users", wantSQL: "SELECT * FROM users"},
		{name: "trailing semicolon stripped", input: "SELECT * FROM users;", wantSQL: "SELECT * FROM users"},
		{name: "trailing semicolon with whitespace", input: "  SELECT 1 ;  \n", wantSQL: "SELECT 1"},
		{name: "semicolon in string literal", input: "SELECT * FROM t WHERE x = 'a;b'", wantSQL: "SELECT * FROM t WHERE x = 'a;b'"},
		{name: "semicolon in comment", input: "SELECT 1 /* a; b */ FROM t", wantSQL: "SELECT 1 /* a; b */ FROM t"},
		{name: "stacked statements", input: "SELECT 1; DROP TABLE users", wantErr: ErrMultipleStatements},
		{name: "stacked after terminator", input: "SELECT 1;; ", wantErr: ErrMultipleStatements},
		{name: "empty", input: "   ", wantErr: ErrEmptyStatement},
		{name: "only comment", input: "-- nothing here", wantErr: ErrEmptyStatement},
		{name: "not sql", input: "Here is your query: SELECT 1", wantErr: ErrUnrecognizedStatement},
		{name: "unterminated literal", input: "SELECT 'abc FROM t", wantErr: ErrUnterminatedString},
		{name: "unbalanced", input: "SELECT count(* FROM t", wantErr: ErrUnbalancedParens},
		{name: "parenthesized select", input: "(SELECT 1) UNION (SELECT 2)", wantSQL: "(SELECT 1) UNION (SELECT 2)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			if tt.wantErr != nil {
				require.Error(t, result.Error)
				assert.True(t, errors.Is(result.Error, tt.wantErr), "got %v", result.Error)
				return
			}
			require.NoError(t, result.Error)
			assert.Equal(t, tt.wantSQL, result.NormalizedSQL)
			assert.NotNil(t, result.Statement)
		})
	}
}

func TestStatement_Verbs(t *testing.T) {
	tests := []struct {
		sql      string
		verb     string
		mainVerb string
	}{
		{"select 1", "SELECT", "SELECT"},
		{"WITH x AS (SELECT 1) SELECT * FROM x", "WITH", "SELECT"},
		{"WITH RECURSIVE x(n) AS (SELECT 1 UNION ALL SELECT n+1 FROM x) SELECT * FROM x", "WITH", "SELECT"},
		{"WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", "WITH", "SELECT"},
		{"WITH x AS (SELECT 1) DELETE FROM t", "WITH", "DELETE"},
		{"(SELECT 1)", "SELECT", "SELECT"},
		{"DrOp TABLE x", "DROP", "DROP"},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			stmt := mustParse(t, tt.sql)
			assert.Equal(t, tt.verb, stmt.Verb())
			assert.Equal(t, tt.mainVerb, stmt.MainVerb())
		})
	}
}

func TestStatement_CTENamesAndNestedVerbs(t *testing.T) {
	stmt := mustParse(t, "WITH recent AS (SELECT * FROM orders), gone AS (DELETE FROM carts RETURNING id) SELECT * FROM recent JOIN gone USING (id)")
	assert.Equal(t, []string{"recent", "gone"}, stmt.CTENames())
	assert.Equal(t, []string{"DELETE"}, stmt.NestedVerbs())
	assert.Equal(t, []string{"orders", "carts"}, stmt.Tables())
}

func TestStatement_Tables(t *testing.T) {
	tests := []struct {
		sql  string
		want []string
	}{
		{"SELECT * FROM orders", []string{"orders"}},
		{"SELECT * FROM public.orders o JOIN customers AS c ON c.id = o.customer_id", []string{"public.orders", "customers"}},
		{"SELECT * FROM a, b x, \"C\"", []string{"a", "b", "c"}},
		{"SELECT * FROM (SELECT * FROM inner_t) s", []string{"inner_t"}},
		{"SELECT * FROM generate_series(1, 10) g", nil},
		{"SELECT * FROM [dbo].[Sales] WHERE x IN (SELECT y FROM lookups)", []string{"dbo.sales", "lookups"}},
		{"SELECT extract(year FROM created_at) FROM orders", []string{"orders"}},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, mustParse(t, tt.sql).Tables())
		})
	}
}

func TestStatement_HasPhrase(t *testing.T) {
	stmt := mustParse(t, "SELECT a, count(*) FROM t GROUP  BY a ORDER\nBY a")
	assert.True(t, stmt.HasPhrase("GROUP", "BY"))
	assert.True(t, stmt.HasPhrase("ORDER", "BY"))
	assert.False(t, stmt.HasPhrase("PARTITION", "BY"))
}
