package sql

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the row-limiting syntax the rewriter emits.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectDuckDB   Dialect = "duckdb"
	DialectMSSQL    Dialect = "mssql"
)

// DialectForType maps a datasource type name to its dialect. Unknown types
// get the postgres LIMIT syntax.
func DialectForType(dsType string) Dialect {
	switch strings.ToLower(dsType) {
	case "mssql", "sqlserver":
		return DialectMSSQL
	case "duckdb":
		return DialectDuckDB
	default:
		return DialectPostgres
	}
}

// LimitStyle identifies which clause bounds a statement.
type LimitStyle string

const (
	LimitKeyword LimitStyle = "LIMIT"
	LimitTop     LimitStyle = "TOP"
	LimitFetch   LimitStyle = "FETCH"
)

// LimitClause describes the outermost row limit of a statement.
type LimitClause struct {
	Style LimitStyle
	// Value is the row count when Numeric is true.
	Value   int64
	Numeric bool
	// count is the token holding the row count, used for in-place rewrites.
	count Token
}

// Limit finds the top-level limiting clause. LIMIT n, LIMIT offset, n,
// SELECT TOP n / TOP (n) and FETCH FIRST|NEXT n ROWS ONLY are recognized.
func (s *Statement) Limit() (LimitClause, bool) {
	code := s.code
	for i, t := range code {
		if t.Depth != 0 || t.Kind != TokenWord {
			continue
		}
		switch t.Upper() {
		case "LIMIT":
			if i+1 >= len(code) {
				return LimitClause{Style: LimitKeyword}, true
			}
			count := code[i+1]
			// MySQL style LIMIT offset, count
			if i+3 < len(code) && count.Kind == TokenNumber && code[i+2].IsPunct(",") {
				count = code[i+3]
			}
			return numericClause(LimitKeyword, count), true

		case "FETCH":
			if i+1 < len(code) && (code[i+1].IsKeyword("FIRST") || code[i+1].IsKeyword("NEXT")) {
				if i+2 < len(code) && code[i+2].Kind == TokenNumber {
					return numericClause(LimitFetch, code[i+2]), true
				}
				return LimitClause{Style: LimitFetch, Value: 1, Numeric: true}, true
			}
		}
	}

	if i := s.mainVerbIndex(); i >= 0 && code[i].IsKeyword("SELECT") {
		j := i + 1
		if j < len(code) && (code[j].IsKeyword("DISTINCT") || code[j].IsKeyword("ALL")) {
			j++
		}
		if j < len(code) && code[j].IsKeyword("TOP") {
			k := j + 1
			if k < len(code) && code[k].IsPunct("(") {
				k++
			}
			if k >= len(code) {
				return LimitClause{Style: LimitTop}, true
			}
			lc := numericClause(LimitTop, code[k])
			// TOP (n) PERCENT is not a row count
			for p := k + 1; p < len(code) && p <= k+2; p++ {
				if code[p].IsKeyword("PERCENT") {
					lc.Numeric = false
				}
			}
			return lc, true
		}
	}
	return LimitClause{}, false
}

func numericClause(style LimitStyle, count Token) LimitClause {
	lc := LimitClause{Style: style, count: count}
	if count.Kind == TokenNumber {
		if v, err := strconv.ParseInt(count.Text, 10, 64); err == nil {
			lc.Value = v
			lc.Numeric = true
		}
	}
	return lc
}

// LimitRewrite is the outcome of EnforceLimit.
type LimitRewrite struct {
	SQL     string
	Changed bool
	// Reason is a short human description of the applied change.
	Reason string
}

// EnforceLimit bounds the statement to max rows. A missing limit is added, a
// larger one is lowered, a smaller one is left alone. Non-numeric limits
// (LIMIT ALL, LIMIT $1, TOP 5 PERCENT) are wrapped in an outer bounded query.
func EnforceLimit(s *Statement, max int64, dialect Dialect) LimitRewrite {
	maxText := strconv.FormatInt(max, 10)

	if lc, ok := s.Limit(); ok {
		switch {
		case lc.Numeric && lc.Value <= max:
			return LimitRewrite{SQL: s.SQL}
		case lc.Numeric && lc.count.End > 0:
			return LimitRewrite{
				SQL:     s.SQL[:lc.count.Start] + maxText + s.SQL[lc.count.End:],
				Changed: true,
				Reason:  fmt.Sprintf("%s %d lowered to %d", lc.Style, lc.Value, max),
			}
		default:
			return LimitRewrite{
				SQL:     wrapWithLimit(s.SQL, maxText, dialect),
				Changed: true,
				Reason:  fmt.Sprintf("non-numeric %s bounded to %d", lc.Style, max),
			}
		}
	}

	reason := fmt.Sprintf("added row limit of %d", max)
	if dialect != DialectMSSQL {
		return LimitRewrite{SQL: s.appendClause("LIMIT " + maxText), Changed: true, Reason: reason}
	}

	if s.HasKeyword("OFFSET", true) {
		return LimitRewrite{SQL: s.appendClause("FETCH NEXT " + maxText + " ROWS ONLY"), Changed: true, Reason: reason}
	}
	i := s.mainVerbIndex()
	if i < 0 || !s.code[i].IsKeyword("SELECT") || s.hasSetOperator() {
		return LimitRewrite{SQL: wrapWithLimit(s.SQL, maxText, dialect), Changed: true, Reason: reason}
	}
	insertAt := s.code[i].End
	if i+1 < len(s.code) && (s.code[i+1].IsKeyword("DISTINCT") || s.code[i+1].IsKeyword("ALL")) {
		insertAt = s.code[i+1].End
	}
	return LimitRewrite{
		SQL:     s.SQL[:insertAt] + " TOP (" + maxText + ")" + s.SQL[insertAt:],
		Changed: true,
		Reason:  reason,
	}
}

// appendClause adds clause at the end, starting a new line when the
// statement ends in a line comment.
func (s *Statement) appendClause(clause string) string {
	if n := len(s.Tokens); n > 0 && s.Tokens[n-1].Kind == TokenLineComment {
		return s.SQL + "\n" + clause
	}
	return s.SQL + " " + clause
}

func (s *Statement) hasSetOperator() bool {
	return s.HasKeyword("UNION", true) || s.HasKeyword("INTERSECT", true) || s.HasKeyword("EXCEPT", true)
}

func wrapWithLimit(sqlText, maxText string, dialect Dialect) string {
	if dialect == DialectMSSQL {
		return "SELECT TOP (" + maxText + ") * FROM (" + sqlText + "\n) AS _limited"
	}
	return "SELECT * FROM (" + strings.TrimSpace(sqlText) + "\n) AS _limited LIMIT " + maxText
}
