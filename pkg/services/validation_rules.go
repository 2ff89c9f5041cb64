package services

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// Rule names, used in ValidationIssue.Rule.
const (
	RuleIntent        = "intent"
	RuleSyntax        = "syntax"
	RuleStatementType = "statement_type"
	RuleInjection     = "injection"
	RuleRowLimit      = "row_limit"
	RuleCost          = "cost"
)

// ValidationInput is what each rule sees. Statement is set once the syntax
// rule has parsed SQL; rules that rewrite SQL update both fields.
type ValidationInput struct {
	SQL       string
	Statement *sql.Statement
	Candidate *models.CandidateQuery
	Question  string
	// Schema is the full snapshot, used to tell declared tables from probes.
	Schema  *models.SchemaSnapshot
	Dialect sql.Dialect
}

// RuleResult is one rule's findings. A rule reports every error it finds.
type RuleResult struct {
	Errors        []string
	Warnings      []string
	RewrittenSQL  string
	EstimatedCost *float64
}

// ValidationRule is one step of the validation gate.
type ValidationRule interface {
	Name() string
	// Reason classifies a rejection caused by this rule.
	Reason() apperrors.SubReason
	Check(in *ValidationInput) RuleResult
}

// DefaultValidationRules returns the built-in rules in gate order.
func DefaultValidationRules(cfg ValidationConfig) []ValidationRule {
	return []ValidationRule{
		IntentRule{AllowDestructive: cfg.AllowDestructiveQueries},
		SyntaxRule{},
		StatementTypeRule{AllowDestructive: cfg.AllowDestructiveQueries},
		InjectionRule{},
		RowLimitRule{MaxRows: int64(cfg.MaxRows)},
		CostRule{LargeTableRows: cfg.LargeTableRowThreshold, LowConfidence: cfg.LowConfidenceThreshold},
	}
}

// IntentRule rejects questions that ask for a change to the data, whatever
// SQL the generator produced for them. Only imperative requests count: "delete
// all customers" is rejected, "how many customers were deleted" is not.
type IntentRule struct {
	AllowDestructive bool
}

func (IntentRule) Name() string                { return RuleIntent }
func (IntentRule) Reason() apperrors.SubReason { return apperrors.ReasonForbiddenVerb }

func (r IntentRule) Check(in *ValidationInput) RuleResult {
	if r.AllowDestructive {
		return RuleResult{}
	}
	verb, ok := destructiveIntent(in.Question)
	if !ok {
		return RuleResult{}
	}
	return RuleResult{Errors: []string{fmt.Sprintf("The question asks for a %s; only read queries may run.", verb)}}
}

// destructiveVerbs maps imperative question verbs to the statement they ask for.
var destructiveVerbs = map[string]string{
	"delete": "DELETE", "remove": "DELETE", "erase": "DELETE", "purge": "DELETE", "wipe": "DELETE",
	"drop": "DROP", "truncate": "TRUNCATE",
	"update": "UPDATE", "insert": "INSERT", "alter": "ALTER",
	"grant": "GRANT", "revoke": "REVOKE",
}

// politeLead are words that may precede the imperative verb.
var politeLead = map[string]bool{
	"please": true, "kindly": true, "just": true, "now": true, "can": true, "could": true, "would": true,
	"will": true, "you": true, "i": true, "we": true, "want": true, "need": true, "to": true,
	"go": true, "ahead": true, "and": true, "lets": true, "let's": true, "let": true, "us": true,
}

func destructiveIntent(question string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	for _, w := range words {
		if verb, ok := destructiveVerbs[w]; ok {
			return verb, true
		}
		if !politeLead[w] {
			return "", false
		}
	}
	return "", false
}

// SyntaxRule requires exactly one well-formed statement starting with a SQL verb.
type SyntaxRule struct{}

func (SyntaxRule) Name() string                { return RuleSyntax }
func (SyntaxRule) Reason() apperrors.SubReason { return apperrors.ReasonParseFailure }

func (SyntaxRule) Check(in *ValidationInput) RuleResult {
	stmt, err := sql.Parse(in.SQL)
	if err != nil {
		return RuleResult{Errors: []string{syntaxMessage(err)}}
	}
	in.Statement = stmt
	in.SQL = stmt.SQL
	return RuleResult{}
}

func syntaxMessage(err error) string {
	var lexErr *sql.LexError
	switch {
	case errors.Is(err, sql.ErrEmptyStatement):
		return "The generated query is empty."
	case errors.Is(err, sql.ErrMultipleStatements):
		return "The generated query contains more than one statement."
	case errors.Is(err, sql.ErrUnrecognizedStatement):
		return "The generated text is not a SQL statement."
	case errors.As(err, &lexErr):
		return fmt.Sprintf("The generated query is malformed: %v at position %d.", lexErr.Err, lexErr.Pos)
	default:
		return "The generated query could not be parsed: " + err.Error()
	}
}

// StatementTypeRule allows only read queries unless destructive queries are
// enabled.
type StatementTypeRule struct {
	AllowDestructive bool
}

func (StatementTypeRule) Name() string                { return RuleStatementType }
func (StatementTypeRule) Reason() apperrors.SubReason { return apperrors.ReasonForbiddenVerb }

func (r StatementTypeRule) Check(in *ValidationInput) RuleResult {
	if r.AllowDestructive || in.Statement == nil {
		return RuleResult{}
	}
	var res RuleResult
	nested := map[string]bool{}
	for _, v := range in.Statement.NestedVerbs() {
		nested[v] = true
	}
	locks := map[string]bool{}
	for _, c := range sql.LockingClauses(in.Statement) {
		locks[c] = true
	}
	for _, verb := range sql.ReadOnlyViolations(in.Statement) {
		if locks[verb] {
			res.Errors = append(res.Errors, fmt.Sprintf("%s locks rows; only plain read queries may run.", verb))
			continue
		}
		if nested[verb] && verb != in.Statement.MainVerb() {
			res.Errors = append(res.Errors, fmt.Sprintf("%s inside a sub-statement is not allowed; only read queries may run.", verb))
			continue
		}
		res.Errors = append(res.Errors, fmt.Sprintf("%s statements are not allowed; only read queries may run.", verb))
	}
	return res
}

// InjectionRule flags shapes typical of SQL injection rather than of a
// legitimate analytical query.
type InjectionRule struct{}

func (InjectionRule) Name() string                { return RuleInjection }
func (InjectionRule) Reason() apperrors.SubReason { return apperrors.ReasonInjectionPattern }

func (InjectionRule) Check(in *ValidationInput) RuleResult {
	stmt := in.Statement
	if stmt == nil {
		return RuleResult{}
	}
	var res RuleResult

	for _, c := range sql.TruncatingComments(stmt) {
		res.Errors = append(res.Errors, fmt.Sprintf("Comment at position %d could truncate the query.", c.Start))
	}
	for _, call := range sql.DangerousCalls(stmt) {
		res.Errors = append(res.Errors, fmt.Sprintf("Use of %s is not allowed.", call))
	}
	res.Errors = append(res.Errors, sql.UnionProbes(stmt, knownTables(in.Schema, stmt))...)
	for _, taut := range sql.Tautologies(stmt) {
		if questionMentions(in.Question, taut) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("Always-true condition %q kept because the question asks for it.", taut))
			continue
		}
		res.Errors = append(res.Errors, fmt.Sprintf("Always-true condition %q looks like an injection.", taut))
	}
	for _, lit := range sql.CheckLiterals(stmt) {
		res.Errors = append(res.Errors, fmt.Sprintf("String literal matches injection fingerprint %s.", lit.Fingerprint))
	}
	return res
}

func knownTables(schema *models.SchemaSnapshot, stmt *sql.Statement) func(string) bool {
	ctes := map[string]bool{}
	for _, n := range stmt.CTENames() {
		ctes[n] = true
	}
	return func(table string) bool {
		if ctes[table] {
			return true
		}
		if schema == nil {
			return false
		}
		_, ok := schema.Table(table)
		return ok
	}
}

// questionMentions reports whether the user's own question contains the
// condition, ignoring case and spacing.
func questionMentions(question, tautology string) bool {
	squash := func(s string) string {
		return strings.Join(strings.Fields(strings.ToLower(s)), "")
	}
	q := squash(question)
	cond := squash(tautology)
	if strings.Contains(q, cond) {
		return true
	}
	return strings.Contains(q, strings.TrimPrefix(cond, "or")) && strings.Contains(cond, "=")
}

// RowLimitRule bounds result size by adding or lowering the query's limit.
type RowLimitRule struct {
	MaxRows int64
}

func (RowLimitRule) Name() string                { return RuleRowLimit }
func (RowLimitRule) Reason() apperrors.SubReason { return apperrors.ReasonNone }

func (r RowLimitRule) Check(in *ValidationInput) RuleResult {
	if in.Statement == nil || r.MaxRows <= 0 {
		return RuleResult{}
	}
	rw := sql.EnforceLimit(in.Statement, r.MaxRows, in.Dialect)
	if !rw.Changed {
		return RuleResult{}
	}
	return RuleResult{
		RewrittenSQL: rw.SQL,
		Warnings:     []string{fmt.Sprintf("Row limit applied: %s.", rw.Reason)},
	}
}

// CostRule is advisory. It never produces errors.
type CostRule struct {
	LargeTableRows int64
	LowConfidence  float64
}

func (CostRule) Name() string                { return RuleCost }
func (CostRule) Reason() apperrors.SubReason { return apperrors.ReasonNone }

func (r CostRule) Check(in *ValidationInput) RuleResult {
	var res RuleResult
	if in.Candidate != nil && in.Candidate.Confidence < r.LowConfidence {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"The generator is not confident in this query (confidence %.2f); check the result carefully.", in.Candidate.Confidence))
	}
	if in.Statement == nil {
		return res
	}

	est := sql.EstimateCost(in.Statement)
	score := est.Score
	res.EstimatedCost = &score
	if score >= 0.7 {
		res.Warnings = append(res.Warnings, fmt.Sprintf(
			"This query may be expensive (score %.2f: %s).", score, strings.Join(est.Factors, ", ")))
	}

	if r.LargeTableRows > 0 && in.Schema != nil && !in.Statement.HasFilter() {
		for _, name := range in.Statement.Tables() {
			t, ok := in.Schema.Table(name)
			if !ok || t.RowCountEstimate == nil || *t.RowCountEstimate <= r.LargeTableRows {
				continue
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"Full scan of %s (about %d rows) without a WHERE clause.", t.QualifiedName(), *t.RowCountEstimate))
		}
	}
	return res
}
