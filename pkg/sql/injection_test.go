package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckLiteralForInjection(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"empty", "", false},
		{"plain number", "12345", false},
		{"email", "user@example.com", false},
		{"date", "2024-01-15", false},
		{"apostrophe name", "O'Brien", false},
		{"prose with dashes", "This is a note -- with dashes", false},
		{"tautology payload", "' OR '1'='1", true},
		{"stacked drop", "'; DROP TABLE users--", true},
		{"comment truncation", "admin'--", true},
		{"union probe", "' UNION SELECT NULL, NULL--", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckLiteralForInjection(tt.value)
			if !tt.want {
				assert.Nil(t, result)
				return
			}
			require.NotNil(t, result)
			assert.True(t, result.IsSQLi)
			assert.NotEmpty(t, result.Fingerprint)
			assert.Equal(t, tt.value, result.Value)
		})
	}
}

func TestCheckLiterals(t *testing.T) {
	clean := mustParse(t, "SELECT * FROM customers WHERE last_name = 'O''Brien'")
	assert.Empty(t, CheckLiterals(clean))

	dirty := mustParse(t, "SELECT * FROM customers WHERE last_name = '''; DROP TABLE users--'")
	results := CheckLiterals(dirty)
	require.Len(t, results, 1)
	assert.Equal(t, "'; DROP TABLE users--", results[0].Value)
}

func TestTruncatingComments(t *testing.T) {
	tests := []struct {
		sql  string
		want int
	}{
		{"SELECT * FROM t", 0},
		{"SELECT * FROM t -- trailing", 1},
		{"SELECT * FROM t /* trailing */", 1},
		{"-- header\nSELECT * FROM t", 0},
		{"SELECT a, -- the a column\n b FROM t", 0},
		{"SELECT * FROM users WHERE name = 'admin'-- AND active\n AND 1 = 1", 1},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Len(t, TruncatingComments(mustParse(t, tt.sql)), tt.want)
		})
	}
}

func TestDangerousCalls(t *testing.T) {
	assert.Empty(t, DangerousCalls(mustParse(t, "SELECT sleep_hours FROM staff")))
	assert.Equal(t, []string{"PG_SLEEP"}, DangerousCalls(mustParse(t, "SELECT pg_sleep(10)")))
	assert.Equal(t, []string{"XP_CMDSHELL"}, DangerousCalls(mustParse(t, "SELECT * FROM t WHERE 1 = (SELECT xp_cmdshell('dir'))")))
	assert.Equal(t, []string{"READ_CSV_AUTO"}, DangerousCalls(mustParse(t, "SELECT * FROM read_csv_auto('/etc/passwd')")))
	assert.Equal(t, []string{"INTO OUTFILE"}, DangerousCalls(mustParse(t, "SELECT * FROM t INTO OUTFILE '/tmp/x'")))
}

func TestUnionProbes(t *testing.T) {
	known := func(table string) bool {
		return table == "orders" || table == "returns"
	}

	assert.Empty(t, UnionProbes(mustParse(t, "SELECT id FROM orders"), known))
	assert.Empty(t, UnionProbes(mustParse(t, "SELECT id FROM orders UNION ALL SELECT id FROM returns"), known))

	probes := UnionProbes(mustParse(t, "SELECT id FROM orders UNION SELECT password FROM admin_users"), known)
	require.Len(t, probes, 1)
	assert.Contains(t, probes[0], "admin_users")

	probes = UnionProbes(mustParse(t, "SELECT id, amount FROM orders UNION SELECT NULL, NULL"), known)
	require.Len(t, probes, 1)
	assert.Contains(t, probes[0], "padding")

	probes = UnionProbes(mustParse(t, "SELECT id FROM orders UNION SELECT table_name FROM information_schema.tables"), nil)
	require.Len(t, probes, 1)
	assert.Contains(t, probes[0], "system catalog")
}

func TestTautologies(t *testing.T) {
	tests := []struct {
		sql  string
		want []string
	}{
		{"SELECT * FROM t WHERE a = 1", nil},
		{"SELECT * FROM t WHERE 1=1 AND a = 2", nil},
		{"SELECT * FROM t WHERE a = 1 OR b = 2", nil},
		{"SELECT * FROM t WHERE a = 1 OR 1=1", []string{"OR 1=1"}},
		{"SELECT * FROM t WHERE a = 1 or 'x' = 'x'", []string{"OR 'x'='x'"}},
		{"SELECT * FROM t WHERE a = 1 OR TRUE", []string{"OR TRUE"}},
		{"SELECT * FROM t WHERE a = 1 OR (2 > 1)", []string{"OR 2>1"}},
		{"SELECT * FROM t WHERE a = 1 OR b = b", []string{"OR b=b"}},
		{"SELECT * FROM t WHERE a = 1 OR 1 = 1 + x", nil},
		{"SELECT * FROM t WHERE a = 1 OR 'x' = 'y'", nil},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			assert.Equal(t, tt.want, Tautologies(mustParse(t, tt.sql)))
		})
	}
}

func TestDetectSQLTypeAndReadOnlyViolations(t *testing.T) {
	tests := []struct {
		sql      string
		wantType SQLStatementType
		want     []string
	}{
		{"SELECT * FROM t", SQLTypeSelect, nil},
		{"with x as (select 1) select * from x", SQLTypeSelect, nil},
		{"drop table x", SQLTypeDDL, []string{"DROP"}},
		{"DrOp TABLE x", SQLTypeDDL, []string{"DROP"}},
		{"DELETE FROM customers", SQLTypeDelete, []string{"DELETE"}},
		{"TRUNCATE customers", SQLTypeDDL, []string{"TRUNCATE"}},
		{"UPDATE t SET a = 1", SQLTypeUpdate, []string{"UPDATE"}},
		{"INSERT INTO t VALUES (1)", SQLTypeInsert, []string{"INSERT"}},
		{"ALTER TABLE t ADD c int", SQLTypeDDL, []string{"ALTER"}},
		{"GRANT SELECT ON t TO bob", SQLTypeDCL, []string{"GRANT"}},
		{"WITH d AS (DELETE FROM t RETURNING *) SELECT * FROM d", SQLTypeSelect, []string{"DELETE"}},
		{"SELECT * INTO backup FROM t", SQLTypeSelect, []string{"SELECT INTO"}},
		{"EXEC sp_who", SQLTypeCall, []string{"EXEC"}},
		{"SELECT * FROM orders FOR UPDATE", SQLTypeSelect, []string{"FOR UPDATE"}},
		{"select * from orders for no key update skip locked", SQLTypeSelect, []string{"FOR NO KEY UPDATE"}},
		{"SELECT * FROM orders FOR SHARE", SQLTypeSelect, []string{"FOR SHARE"}},
		{"SELECT * FROM orders FOR KEY SHARE NOWAIT", SQLTypeSelect, []string{"FOR KEY SHARE"}},
		{"SELECT * FROM orders WITH (UPDLOCK, ROWLOCK)", SQLTypeSelect, []string{"UPDLOCK"}},
		{"SELECT * FROM orders WITH (NOLOCK)", SQLTypeSelect, nil},
		{"SELECT name FROM orders FOR JSON PATH", SQLTypeSelect, nil},
		{"SELECT 'for update' AS note FROM t", SQLTypeSelect, nil},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			stmt := mustParse(t, tt.sql)
			assert.Equal(t, tt.wantType, DetectSQLType(stmt))
			assert.Equal(t, tt.want, ReadOnlyViolations(stmt))
		})
	}
}
