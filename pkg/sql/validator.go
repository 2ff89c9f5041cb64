package sql

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyStatement indicates there is no SQL to validate.
	ErrEmptyStatement = errors.New("empty SQL statement")

	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrUnrecognizedStatement indicates the text does not start with a SQL verb.
	ErrUnrecognizedStatement = errors.New("text does not start with a recognized SQL statement")
)

// knownVerbs are leading keywords accepted as the start of a statement.
// Classification of which of these may run happens in DetectSQLType.
var knownVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "VALUES": true, "TABLE": true,
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "UPSERT": true, "REPLACE": true,
	"CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true, "RENAME": true, "COMMENT": true,
	"GRANT": true, "REVOKE": true, "DENY": true,
	"EXEC": true, "EXECUTE": true, "CALL": true, "DO": true,
	"BEGIN": true, "COMMIT": true, "ROLLBACK": true, "SAVEPOINT": true, "START": true,
	"SET": true, "RESET": true, "USE": true, "DECLARE": true, "LOCK": true,
	"SHOW": true, "EXPLAIN": true, "DESCRIBE": true, "DESC": true, "PRAGMA": true,
	"COPY": true, "VACUUM": true, "ANALYZE": true, "REINDEX": true, "CLUSTER": true, "REFRESH": true,
	"ATTACH": true, "DETACH": true, "INSTALL": true, "LOAD": true, "IMPORT": true, "EXPORT": true,
	"BACKUP": true, "RESTORE": true, "SHUTDOWN": true, "KILL": true,
}

// Statement is a single tokenized SQL statement with any trailing terminator
// removed.
type Statement struct {
	SQL    string
	Tokens []Token
	code   []Token
}

// ValidationResult contains the normalized SQL and any validation errors.
type ValidationResult struct {
	NormalizedSQL string
	Statement     *Statement
	Error         error
}

// ValidateAndNormalize checks SQL is exactly one well-formed statement and
// strips the trailing terminator.
//
// The validation order is:
// 1. Trim whitespace and tokenize (rejects unterminated literals/comments, unbalanced parentheses)
// 2. Strip one trailing semicolon
// 3. Reject any semicolon left outside literals and comments
// 4. Require a recognized leading verb
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	stmt, err := Parse(sqlQuery)
	if err != nil {
		return ValidationResult{Error: err}
	}
	return ValidationResult{NormalizedSQL: stmt.SQL, Statement: stmt}
}

// Parse tokenizes sqlQuery as a single statement.
func Parse(sqlQuery string) (*Statement, error) {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return nil, ErrEmptyStatement
	}

	tokens, err := Tokenize(sqlQuery)
	if err != nil {
		return nil, err
	}

	normalized, tokens := stripTrailingSemicolon(sqlQuery, tokens)
	if hasSemicolon(tokens) {
		return nil, ErrMultipleStatements
	}

	stmt := &Statement{SQL: normalized, Tokens: tokens}
	for _, t := range tokens {
		if !t.IsComment() {
			stmt.code = append(stmt.code, t)
		}
	}
	if len(stmt.code) == 0 {
		return nil, ErrEmptyStatement
	}

	verb := stmt.Verb()
	if verb == "" || !knownVerbs[verb] {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedStatement, firstWord(stmt.code))
	}
	return stmt, nil
}

// stripTrailingSemicolon removes a trailing terminator (and whitespace around
// it) when it is the final token.
func stripTrailingSemicolon(sqlQuery string, tokens []Token) (string, []Token) {
	if n := len(tokens); n > 0 && tokens[n-1].IsPunct(";") {
		return strings.TrimRight(sqlQuery[:tokens[n-1].Start], " \t\n\r"), tokens[:n-1]
	}
	return sqlQuery, tokens
}

func hasSemicolon(tokens []Token) bool {
	for _, t := range tokens {
		if t.IsPunct(";") {
			return true
		}
	}
	return false
}

func firstWord(code []Token) string {
	for _, t := range code {
		if t.Kind == TokenWord {
			return t.Text
		}
	}
	if len(code) > 0 {
		return code[0].Text
	}
	return ""
}

// Code returns the non-comment tokens.
func (s *Statement) Code() []Token {
	return s.code
}

// Comments returns the comment tokens in source order.
func (s *Statement) Comments() []Token {
	var out []Token
	for _, t := range s.Tokens {
		if t.IsComment() {
			out = append(out, t)
		}
	}
	return out
}

// Verb returns the upper-cased leading keyword, skipping opening parentheses.
func (s *Statement) Verb() string {
	for _, t := range s.code {
		if t.IsPunct("(") {
			continue
		}
		if t.Kind == TokenWord {
			return t.Upper()
		}
		return ""
	}
	return ""
}

var mainVerbs = map[string]bool{
	"SELECT": true, "INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true, "VALUES": true, "TABLE": true,
}

// MainVerb returns the verb of the statement body. For WITH statements that
// is the first top-level verb after the CTE list.
func (s *Statement) MainVerb() string {
	verb := s.Verb()
	if verb != "WITH" {
		return verb
	}
	if i := s.mainVerbIndex(); i >= 0 {
		return s.code[i].Upper()
	}
	return ""
}

// mainVerbIndex is the index into code of the body verb.
func (s *Statement) mainVerbIndex() int {
	withSeen := false
	for i, t := range s.code {
		if t.Kind != TokenWord {
			continue
		}
		if !withSeen {
			if t.IsKeyword("WITH") {
				withSeen = true
				continue
			}
			if mainVerbs[t.Upper()] {
				return i
			}
			continue
		}
		if t.Depth == 0 && mainVerbs[t.Upper()] {
			return i
		}
	}
	return -1
}

// CTENames returns the names declared in a leading WITH clause.
func (s *Statement) CTENames() []string {
	if s.Verb() != "WITH" {
		return nil
	}
	end := s.mainVerbIndex()
	if end < 0 {
		end = len(s.code)
	}
	var names []string
	for i := 0; i < end; i++ {
		t := s.code[i]
		if t.Depth != 0 || (t.Kind != TokenWord && t.Kind != TokenQuotedIdent) {
			continue
		}
		switch t.Upper() {
		case "WITH", "RECURSIVE", "AS", "NOT", "MATERIALIZED":
			continue
		}
		names = append(names, strings.ToLower(t.Value()))
	}
	return names
}

// NestedVerbs returns verbs that open a parenthesised sub-statement other
// than SELECT, e.g. the DELETE in WITH d AS (DELETE FROM t RETURNING *) ...
func (s *Statement) NestedVerbs() []string {
	var out []string
	for i := 1; i < len(s.code); i++ {
		t := s.code[i]
		if t.Kind != TokenWord || t.Depth == 0 || !s.code[i-1].IsPunct("(") {
			continue
		}
		switch v := t.Upper(); v {
		case "INSERT", "UPDATE", "DELETE", "MERGE", "DROP", "TRUNCATE", "ALTER", "CREATE", "GRANT", "REVOKE":
			out = append(out, v)
		}
	}
	return out
}

// HasKeyword reports whether any code token is the given keyword.
// With topLevel set only depth-0 tokens are considered.
func (s *Statement) HasKeyword(kw string, topLevel bool) bool {
	return s.findKeyword(kw, topLevel, 0) >= 0
}

// CountKeyword counts code tokens equal to kw at any depth.
func (s *Statement) CountKeyword(kw string) int {
	n := 0
	for _, t := range s.code {
		if t.IsKeyword(kw) {
			n++
		}
	}
	return n
}

// HasPhrase reports whether consecutive code tokens spell the given keywords.
func (s *Statement) HasPhrase(kws ...string) bool {
	for i := 0; i+len(kws) <= len(s.code); i++ {
		match := true
		for j, kw := range kws {
			if !s.code[i+j].IsKeyword(kw) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func (s *Statement) findKeyword(kw string, topLevel bool, from int) int {
	for i := from; i < len(s.code); i++ {
		t := s.code[i]
		if topLevel && t.Depth != 0 {
			continue
		}
		if t.IsKeyword(kw) {
			return i
		}
	}
	return -1
}

// tableStopWords end a FROM list or mark the token after a table as a clause
// keyword rather than an alias.
var tableStopWords = map[string]bool{
	"WHERE": true, "JOIN": true, "INNER": true, "LEFT": true, "RIGHT": true, "FULL": true, "OUTER": true,
	"CROSS": true, "NATURAL": true, "ON": true, "USING": true, "GROUP": true, "ORDER": true, "HAVING": true,
	"LIMIT": true, "OFFSET": true, "FETCH": true, "UNION": true, "INTERSECT": true, "EXCEPT": true,
	"WINDOW": true, "QUALIFY": true, "FOR": true, "AS": true, "SELECT": true, "LATERAL": true,
	"TABLESAMPLE": true, "WITH": true, "SET": true, "VALUES": true, "RETURNING": true, "OPTION": true,
}

// Tables returns the lower-cased names referenced after FROM, JOIN, UPDATE and
// INTO, excluding CTE names. Qualified names keep their qualifier.
func (s *Statement) Tables() []string {
	ctes := map[string]bool{}
	for _, n := range s.CTENames() {
		ctes[n] = true
	}

	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if name == "" || ctes[name] || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, name)
	}

	enclosing := s.enclosingCalls()
	for i := 0; i < len(s.code); i++ {
		t := s.code[i]
		if t.IsKeyword("FROM") && keywordArgFunctions[enclosing[i]] {
			continue
		}
		if !(t.IsKeyword("FROM") || t.IsKeyword("JOIN") || t.IsKeyword("INTO") ||
			(t.IsKeyword("UPDATE") && (i == 0 || s.code[i-1].IsPunct("(")))) {
			continue
		}
		j := i + 1
		for {
			name, next := s.readName(j)
			if name == "" {
				break
			}
			add(name)
			j = s.skipAlias(next)
			if j < len(s.code) && s.code[j].IsPunct(",") && t.IsKeyword("FROM") && s.code[j].Depth == t.Depth {
				j++
				continue
			}
			break
		}
	}
	return out
}

// keywordArgFunctions take FROM inside their argument list.
var keywordArgFunctions = map[string]bool{
	"EXTRACT": true, "SUBSTRING": true, "TRIM": true, "POSITION": true, "OVERLAY": true,
}

// enclosingCalls maps each code index to the upper-cased word before the
// innermost parenthesis containing it ("" when none).
func (s *Statement) enclosingCalls() []string {
	out := make([]string, len(s.code))
	var stack []string
	for i, t := range s.code {
		switch {
		case t.IsPunct("("):
			name := ""
			if i > 0 && s.code[i-1].Kind == TokenWord {
				name = s.code[i-1].Upper()
			}
			stack = append(stack, name)
		case t.IsPunct(")"):
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
		if len(stack) > 0 {
			out[i] = stack[len(stack)-1]
		}
	}
	return out
}

// readName reads a possibly qualified identifier at code[i]. Function calls
// and subqueries return "".
func (s *Statement) readName(i int) (string, int) {
	var parts []string
	for i < len(s.code) {
		t := s.code[i]
		if t.Kind == TokenWord && tableStopWords[t.Upper()] && len(parts) == 0 {
			return "", i
		}
		if t.Kind != TokenWord && t.Kind != TokenQuotedIdent {
			break
		}
		parts = append(parts, strings.ToLower(t.Value()))
		i++
		if i < len(s.code) && s.code[i].IsPunct(".") {
			i++
			continue
		}
		break
	}
	if len(parts) == 0 {
		return "", i
	}
	if i < len(s.code) && s.code[i].IsPunct("(") {
		return "", i
	}
	return strings.Join(parts, "."), i
}

func (s *Statement) skipAlias(i int) int {
	if i < len(s.code) && s.code[i].IsKeyword("AS") {
		i++
	}
	if i < len(s.code) {
		t := s.code[i]
		if (t.Kind == TokenWord && !tableStopWords[t.Upper()]) || t.Kind == TokenQuotedIdent {
			i++
		}
	}
	return i
}
