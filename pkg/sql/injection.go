package sql

import (
	"fmt"
	"strconv"
	"strings"

	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a literal.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	Value       string // The literal content that was checked
}

// CheckLiteralForInjection uses libinjection to detect SQL injection
// payloads smuggled inside a string literal.
//
// Returns nil if no injection is detected.
//
// Example:
//
//	CheckLiteralForInjection("O'Brien")               // nil
//	CheckLiteralForInjection("'; DROP TABLE users--") // IsSQLi == true
func CheckLiteralForInjection(value string) *InjectionCheckResult {
	if value == "" {
		return nil
	}
	isSQLi, fingerprint := libinjection.IsSQLi(value)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		Value:       value,
	}
}

// CheckLiterals runs CheckLiteralForInjection over every string literal in the
// statement.
func CheckLiterals(s *Statement) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for _, t := range s.code {
		if t.Kind != TokenString {
			continue
		}
		if r := CheckLiteralForInjection(t.Value()); r != nil {
			results = append(results, r)
		}
	}
	return results
}

// TruncatingComments returns comments that could strip a trailing clause:
// a comment with no code after it, or a line comment directly closing a
// string literal (the classic 'admin'-- payload).
func TruncatingComments(s *Statement) []Token {
	var out []Token
	lastCode := -1
	for i, t := range s.Tokens {
		if !t.IsComment() {
			lastCode = i
		}
	}
	for i, t := range s.Tokens {
		if !t.IsComment() {
			continue
		}
		switch {
		case i > lastCode:
			out = append(out, t)
		case t.Kind == TokenLineComment && i > 0 && s.Tokens[i-1].Kind == TokenString && s.Tokens[i-1].End == t.Start:
			out = append(out, t)
		}
	}
	return out
}

// dangerousFunctions are calls that reach outside the query result: command
// execution, file access, sleeps used for blind probing, dynamic SQL.
var dangerousFunctions = map[string]bool{
	"XP_CMDSHELL": true, "SP_EXECUTESQL": true, "SP_OACREATE": true, "OPENROWSET": true, "OPENDATASOURCE": true,
	"XP_DIRTREE": true, "XP_REGREAD": true,
	"PG_SLEEP": true, "PG_READ_FILE": true, "PG_READ_BINARY_FILE": true, "PG_LS_DIR": true,
	"LO_IMPORT": true, "LO_EXPORT": true, "DBLINK": true, "DBLINK_EXEC": true, "PG_TERMINATE_BACKEND": true,
	"SLEEP": true, "BENCHMARK": true, "LOAD_FILE": true, "WAITFOR": true,
	"READ_CSV": true, "READ_CSV_AUTO": true, "READ_PARQUET": true, "READ_JSON": true, "READ_JSON_AUTO": true,
	"READ_TEXT": true, "READ_BLOB": true, "GLOB": true,
}

// DangerousCalls lists dangerous function names and statement fragments
// (INTO OUTFILE, WAITFOR DELAY, EXEC) present anywhere in the statement.
func DangerousCalls(s *Statement) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for i, t := range s.code {
		if t.Kind != TokenWord {
			continue
		}
		up := t.Upper()
		switch {
		case dangerousFunctions[up] && (up == "WAITFOR" || (i+1 < len(s.code) && s.code[i+1].IsPunct("("))):
			add(up)
		case (up == "EXEC" || up == "EXECUTE") && i > 0:
			add(up)
		case up == "OUTFILE" || up == "DUMPFILE":
			add("INTO " + up)
		}
	}
	return out
}

var systemCatalogs = []string{
	"information_schema.", "pg_catalog.", "sys.", "mysql.", "sqlite_master", "duckdb_",
	"pg_shadow", "pg_authid", "pg_user", "pg_roles",
}

// IsSystemCatalog reports whether a table name refers to engine metadata.
func IsSystemCatalog(table string) bool {
	for _, c := range systemCatalogs {
		if strings.HasPrefix(table, c) || strings.Contains(table, "."+c) {
			return true
		}
	}
	return false
}

// UnionProbes reports UNION branches that look like probing: branches that
// select only NULL or constant padding, or statements that UNION in tables
// the caller does not know about or system catalogs.
func UnionProbes(s *Statement, known func(table string) bool) []string {
	var unions []int
	for i, t := range s.code {
		if t.IsKeyword("UNION") {
			unions = append(unions, i)
		}
	}
	if len(unions) == 0 {
		return nil
	}

	var out []string
	for _, i := range unions {
		if s.isPaddingBranch(i) {
			out = append(out, "UNION branch selects only NULL or constant padding")
			break
		}
	}
	for _, table := range s.Tables() {
		if IsSystemCatalog(table) {
			out = append(out, fmt.Sprintf("UNION query reads system catalog %q", table))
			continue
		}
		if known != nil && !known(table) {
			out = append(out, fmt.Sprintf("UNION query references undeclared table %q", table))
		}
	}
	return out
}

// isPaddingBranch checks the select list following the UNION at code[i].
func (s *Statement) isPaddingBranch(i int) bool {
	j := i + 1
	if j < len(s.code) && (s.code[j].IsKeyword("ALL") || s.code[j].IsKeyword("DISTINCT")) {
		j++
	}
	for j < len(s.code) && s.code[j].IsPunct("(") {
		j++
	}
	if j >= len(s.code) || !s.code[j].IsKeyword("SELECT") {
		return false
	}
	depth := s.code[j].Depth
	items := 0
	for j++; j < len(s.code); j++ {
		t := s.code[j]
		if t.Depth < depth || (t.Depth == depth && (t.IsKeyword("FROM") || t.IsKeyword("UNION") || t.IsKeyword("WHERE") || t.IsPunct(")"))) {
			break
		}
		if t.Depth > depth {
			return false
		}
		if t.IsPunct(",") {
			continue
		}
		if !(t.IsKeyword("NULL") || t.Kind == TokenNumber) {
			return false
		}
		items++
	}
	return items > 0
}

// Tautologies returns always-true predicates joined with OR: OR 1=1,
// OR 'a'='a', OR TRUE, OR 1, OR 2>1, OR x=x.
func Tautologies(s *Statement) []string {
	var out []string
	code := s.code
	for i, t := range code {
		if !t.IsKeyword("OR") {
			continue
		}
		j := i + 1
		for j < len(code) && code[j].IsPunct("(") {
			j++
		}
		if j >= len(code) {
			continue
		}
		first := code[j]

		if (first.IsKeyword("TRUE") || (first.Kind == TokenNumber && first.Text == "1")) && !followedByOperator(code, j+1) {
			out = append(out, "OR "+first.Text)
			continue
		}
		if j+2 >= len(code) || code[j+1].Kind != TokenOperator || followedByOperator(code, j+3) {
			continue
		}
		op, second := code[j+1].Text, code[j+2]
		if comparisonAlwaysTrue(first, op, second) {
			out = append(out, fmt.Sprintf("OR %s%s%s", first.Text, op, second.Text))
		}
	}
	return out
}

// followedByOperator reports whether the first non-")" token at or after i
// continues an expression, e.g. OR 1 = x or OR 1 + 1.
func followedByOperator(code []Token, i int) bool {
	for i < len(code) && code[i].IsPunct(")") {
		i++
	}
	if i >= len(code) {
		return false
	}
	return code[i].Kind == TokenOperator || code[i].IsPunct(".")
}

func comparisonAlwaysTrue(a Token, op string, b Token) bool {
	switch {
	case a.Kind == TokenString && b.Kind == TokenString:
		return op == "=" && a.Value() == b.Value()
	case a.Kind == TokenNumber && b.Kind == TokenNumber:
		x, errA := strconv.ParseFloat(a.Text, 64)
		y, errB := strconv.ParseFloat(b.Text, 64)
		if errA != nil || errB != nil {
			return false
		}
		switch op {
		case "=":
			return x == y
		case "<>", "!=":
			return x != y
		case ">=":
			return x >= y
		case "<=":
			return x <= y
		case "<":
			return x < y
		case ">":
			return x > y
		}
	case a.Kind == TokenWord && b.Kind == TokenWord:
		return (op == "=" || op == ">=" || op == "<=") && strings.EqualFold(a.Text, b.Text) && !isLiteralKeyword(a)
	}
	return false
}

func isLiteralKeyword(t Token) bool {
	switch t.Upper() {
	case "NULL", "FALSE":
		return true
	}
	return false
}
