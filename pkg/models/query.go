package models

import "github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"

// CandidateQuery is the generator's proposal. Produced once per run.
type CandidateQuery struct {
	SQL              string   `json:"sql"`
	Explanation      string   `json:"explanation"`
	Confidence       float64  `json:"confidence"`
	ReferencedTables []string `json:"referenced_tables,omitempty"`
}

// ValidationIssue is a single error or warning raised by a validation rule.
type ValidationIssue struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationVerdict is the gate's decision about a candidate query.
// SafeToExecute is false whenever Errors is non-empty. Warnings never block.
type ValidationVerdict struct {
	SafeToExecute bool                `json:"safe_to_execute"`
	Errors        []ValidationIssue   `json:"errors,omitempty"`
	Warnings      []ValidationIssue   `json:"warnings,omitempty"`
	RewrittenSQL  string              `json:"rewritten_sql,omitempty"`
	EstimatedCost *float64            `json:"estimated_cost,omitempty"`
	RejectReason  apperrors.SubReason `json:"reject_reason,omitempty"`
	OriginalSQL   string              `json:"original_sql"`
}

// ExecutableSQL returns the SQL that should reach the database.
func (v *ValidationVerdict) ExecutableSQL() string {
	if v.RewrittenSQL != "" {
		return v.RewrittenSQL
	}
	return v.OriginalSQL
}

// ErrorMessages flattens Errors for user display.
func (v *ValidationVerdict) ErrorMessages() []string {
	out := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		out[i] = e.Message
	}
	return out
}

// ColumnInfo describes a result column.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExecutionOutcome holds the rows returned by the execution stage.
// Truncated is true iff the database had at least one row beyond the cap.
type ExecutionOutcome struct {
	Columns   []ColumnInfo     `json:"columns"`
	Rows      []map[string]any `json:"rows"`
	RowCount  int              `json:"row_count"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Truncated bool             `json:"truncated"`
}

// ArtifactKind is the shape of a rendered result.
type ArtifactKind string

const (
	ArtifactChart ArtifactKind = "chart"
	ArtifactTable ArtifactKind = "table"
)

// RenderedArtifact is the visualization output.
type RenderedArtifact struct {
	Kind      ArtifactKind `json:"kind"`
	ChartType string       `json:"chart_type,omitempty"`
	Markup    string       `json:"markup"`
	Degraded  bool         `json:"degraded,omitempty"`
}
