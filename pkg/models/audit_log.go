package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditRecord is written for every run that reaches a terminal state.
// Stored in askdb_audit_log.
type AuditRecord struct {
	ID          uuid.UUID `json:"id"`
	QuestionID  uuid.UUID `json:"question_id"`
	UserID      string    `json:"user_id"`
	DatabaseID  string    `json:"database_id"`
	Question    string    `json:"question"`
	SQLExecuted string    `json:"sql_executed,omitempty"`
	RowCount    int       `json:"row_count"`
	ElapsedMs   int64     `json:"elapsed_ms"`
	Outcome     string    `json:"outcome"`              // terminal state: SUCCEEDED or FAILED
	FailedAt    string    `json:"failed_at,omitempty"`  // state reached before failing
	ErrorKind   string    `json:"error_kind,omitempty"` // apperrors.KindName
	CreatedAt   time.Time `json:"created_at"`
}

// AuditFilters narrows audit queries.
type AuditFilters struct {
	UserID string
	Since  *time.Time
	Limit  int
}
