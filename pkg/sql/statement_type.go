package sql

import "strings"

// SQLStatementType represents the type of SQL statement.
type SQLStatementType string

const (
	SQLTypeSelect  SQLStatementType = "SELECT"
	SQLTypeInsert  SQLStatementType = "INSERT"
	SQLTypeUpdate  SQLStatementType = "UPDATE"
	SQLTypeDelete  SQLStatementType = "DELETE"
	SQLTypeMerge   SQLStatementType = "MERGE"
	SQLTypeCall    SQLStatementType = "CALL"
	SQLTypeDDL     SQLStatementType = "DDL" // CREATE, ALTER, DROP, TRUNCATE, RENAME
	SQLTypeDCL     SQLStatementType = "DCL" // GRANT, REVOKE, DENY
	SQLTypeUnknown SQLStatementType = "UNKNOWN"
)

// DetectSQLType classifies the statement by its leading verb. WITH statements
// are classified by their body verb.
func DetectSQLType(s *Statement) SQLStatementType {
	switch s.MainVerb() {
	case "SELECT", "VALUES", "TABLE":
		return SQLTypeSelect
	case "INSERT", "UPSERT", "REPLACE":
		return SQLTypeInsert
	case "UPDATE":
		return SQLTypeUpdate
	case "DELETE":
		return SQLTypeDelete
	case "MERGE":
		return SQLTypeMerge
	case "CALL", "EXEC", "EXECUTE", "DO":
		return SQLTypeCall
	case "CREATE", "ALTER", "DROP", "TRUNCATE", "RENAME", "COMMENT":
		return SQLTypeDDL
	case "GRANT", "REVOKE", "DENY":
		return SQLTypeDCL
	default:
		return SQLTypeUnknown
	}
}

// ReadOnlyViolations returns every verb that makes the statement something
// other than a pure read: the leading verb when it is not a SELECT and any
// data-modifying sub-statement such as WITH d AS (DELETE ...).
func ReadOnlyViolations(s *Statement) []string {
	var out []string
	seen := map[string]bool{}
	add := func(v string) {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}

	if DetectSQLType(s) != SQLTypeSelect {
		verb := s.MainVerb()
		if verb == "" {
			verb = s.Verb()
		}
		add(verb)
	}
	for _, v := range s.NestedVerbs() {
		add(v)
	}
	// SELECT ... INTO new_table creates a table in PostgreSQL and SQL Server
	if s.MainVerb() == "SELECT" && s.HasKeyword("INTO", true) {
		add("SELECT INTO")
	}
	for _, c := range LockingClauses(s) {
		add(c)
	}
	return out
}

// lockingHints are SQL Server table hints that take update or exclusive locks.
var lockingHints = map[string]bool{"UPDLOCK": true, "XLOCK": true, "TABLOCKX": true, "HOLDLOCK": true}

// LockingClauses returns row-locking clauses such as FOR UPDATE, FOR NO KEY
// UPDATE, FOR SHARE and FOR KEY SHARE, and SQL Server lock hints. A read that
// locks rows blocks writers and is not treated as a pure read.
func LockingClauses(s *Statement) []string {
	var out []string
	code := s.code
	for i, t := range code {
		if t.Kind != TokenWord {
			continue
		}
		if lockingHints[t.Upper()] && i > 0 && (code[i-1].IsPunct("(") || code[i-1].IsPunct(",")) {
			out = append(out, t.Upper())
			continue
		}
		if !t.IsKeyword("FOR") {
			continue
		}
		words := []string{"FOR"}
		for j := i + 1; j < len(code) && j <= i+3 && code[j].Kind == TokenWord; j++ {
			w := code[j].Upper()
			if w != "NO" && w != "KEY" && w != "UPDATE" && w != "SHARE" {
				break
			}
			words = append(words, w)
			if w == "UPDATE" || w == "SHARE" {
				out = append(out, strings.Join(words, " "))
				break
			}
		}
	}
	return out
}
