// Package audit provides security audit logging for SIEM consumption.
// Security-relevant pipeline events are logged as structured JSON under a
// dedicated logger namespace.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when generated SQL trips an injection heuristic.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventForbiddenStatement is logged when generated SQL uses a disallowed verb.
	EventForbiddenStatement SecurityEventType = "forbidden_statement"
	// EventParseFailure is logged when generated SQL cannot be parsed.
	EventParseFailure SecurityEventType = "parse_failure"
	// EventQueryExecution is logged for each executed query (can be high volume).
	EventQueryExecution SecurityEventType = "query_execution"
)

// SecurityEvent is an auditable security event.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	RunID      uuid.UUID         `json:"run_id"`
	UserID     string            `json:"user_id,omitempty"`
	DatabaseID string            `json:"database_id,omitempty"`
	Details    any               `json:"details"`
	Severity   string            `json:"severity"` // info, warning, critical
}

// RejectionDetails describes a rejected candidate query.
type RejectionDetails struct {
	Reason   string   `json:"reason"`
	Messages []string `json:"messages"`
	SQL      string   `json:"sql"`
	Question string   `json:"question"`
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewSecurityAuditor creates a security auditor under the "security_audit" namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{
		logger: logger.Named("security_audit"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LogRejection records a validation gate rejection. Injection and forbidden
// verbs are critical; parse failures are usually model mistakes and log as warnings.
func (a *SecurityAuditor) LogRejection(
	ctx context.Context,
	runID uuid.UUID,
	userID, databaseID string,
	reason apperrors.SubReason,
	details RejectionDetails,
) {
	eventType := EventParseFailure
	severity := "warning"
	switch reason {
	case apperrors.ReasonInjectionPattern:
		eventType, severity = EventSQLInjectionAttempt, "critical"
	case apperrors.ReasonForbiddenVerb:
		eventType, severity = EventForbiddenStatement, "critical"
	}

	details.Reason = string(reason)
	details.SQL = logging.SanitizeQuery(details.SQL)
	details.Question = logging.TruncateString(details.Question, logging.MaxQueryLogLength)

	event := a.event(eventType, runID, userID, databaseID, details, severity)
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("run_id", runID.String()),
		zap.String("user_id", userID),
		zap.String("database_id", databaseID),
		zap.String("reason", string(reason)),
		zap.String("severity", severity),
	}
	if severity == "critical" {
		a.logger.Error("Generated SQL rejected", fields...)
		return
	}
	a.logger.Warn("Generated SQL rejected", fields...)
}

// LogQueryExecution records an executed query for the audit trail.
func (a *SecurityAuditor) LogQueryExecution(
	ctx context.Context,
	runID uuid.UUID,
	userID, databaseID, sql string,
	rowCount int,
) {
	event := a.event(EventQueryExecution, runID, userID, databaseID, map[string]any{
		"sql":       logging.SanitizeQuery(sql),
		"row_count": rowCount,
	}, "info")
	eventJSON, _ := json.Marshal(event)

	a.logger.Info("Query executed",
		zap.String("event_json", string(eventJSON)),
		zap.String("run_id", runID.String()),
		zap.String("user_id", userID),
		zap.String("database_id", databaseID),
		zap.Int("row_count", rowCount),
		zap.String("severity", "info"),
	)
}

func (a *SecurityAuditor) event(t SecurityEventType, runID uuid.UUID, userID, databaseID string, details any, severity string) SecurityEvent {
	return SecurityEvent{
		Timestamp:  a.now(),
		EventType:  t,
		RunID:      runID,
		UserID:     userID,
		DatabaseID: databaseID,
		Details:    details,
		Severity:   severity,
	}
}
