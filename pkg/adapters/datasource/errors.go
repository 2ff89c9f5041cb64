package datasource

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
)

// Detail refines a driver error beyond its sub-reason so the user message can
// be more specific.
type Detail string

const (
	DetailNone          Detail = ""
	DetailMissingObject Detail = "missing-object"
	DetailAmbiguous     Detail = "ambiguous"
	DetailDivideByZero  Detail = "divide-by-zero"
)

// DriverError is what adapters return when the database rejects a call.
// Message is the raw driver text and may contain sensitive detail; it is only
// surfaced after sanitizing.
type DriverError struct {
	Reason  apperrors.SubReason
	Detail  Detail
	Code    string // SQLSTATE or engine error number
	Message string
	Err     error
}

func (e *DriverError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Reason, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// NewDriverError builds a DriverError, classifying by message when reason is
// unknown.
func NewDriverError(reason apperrors.SubReason, code string, err error) *DriverError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	de := &DriverError{Reason: reason, Code: code, Message: msg, Err: err}
	textReason, detail := classifyText(msg)
	if de.Reason == apperrors.ReasonNone || de.Reason == apperrors.ReasonUnknown {
		de.Reason = textReason
	}
	if textReason == de.Reason {
		de.Detail = detail
	}
	return de
}

// ToPipelineError normalizes any error produced while talking to a database
// into the pipeline taxonomy with a user-safe message.
func ToPipelineError(err error) *apperrors.PipelineError {
	if err == nil {
		return nil
	}
	var pe *apperrors.PipelineError
	if errors.As(err, &pe) {
		return pe
	}

	var de *DriverError
	if !errors.As(err, &de) {
		de = classifyGeneric(err)
	}

	if errors.Is(err, context.Canceled) {
		return apperrors.New(apperrors.ErrCanceled, "The request was canceled.", err)
	}
	if de.Reason == apperrors.ReasonTimeout {
		return apperrors.WithReason(apperrors.ErrQueryTimeout, apperrors.ReasonTimeout,
			"The query took too long and was stopped.", err)
	}
	return apperrors.WithReason(apperrors.ErrDriver, de.Reason, userMessage(de), err)
}

func classifyGeneric(err error) *DriverError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &DriverError{Reason: apperrors.ReasonTimeout, Message: err.Error(), Err: err}
	case errors.Is(err, driver.ErrBadConn):
		return &DriverError{Reason: apperrors.ReasonConnection, Message: err.Error(), Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &DriverError{Reason: apperrors.ReasonTimeout, Message: err.Error(), Err: err}
		}
		return &DriverError{Reason: apperrors.ReasonConnection, Message: err.Error(), Err: err}
	}
	return NewDriverError(apperrors.ReasonUnknown, "", err)
}

var textRules = []struct {
	patterns []string
	reason   apperrors.SubReason
	detail   Detail
}{
	{[]string{"statement timeout", "canceling statement", "query timeout", "timed out", "timeout expired"}, apperrors.ReasonTimeout, DetailNone},
	{[]string{"permission denied", "access denied", "not authorized", "insufficient privilege", "login failed", "read-only mode", "read-only transaction"}, apperrors.ReasonPermission, DetailNone},
	{[]string{"ambiguous"}, apperrors.ReasonSyntax, DetailAmbiguous},
	{[]string{"does not exist", "invalid object name", "invalid column name", "catalog error", "binder error", "no such table", "no such column"}, apperrors.ReasonSyntax, DetailMissingObject},
	{[]string{"syntax error", "parser error", "incorrect syntax"}, apperrors.ReasonSyntax, DetailNone},
	{[]string{"division by zero", "divide by zero"}, apperrors.ReasonUnknown, DetailDivideByZero},
	{[]string{"connection refused", "connection reset", "broken pipe", "no such host", "bad connection", "unexpected eof", "server closed", "network is unreachable"}, apperrors.ReasonConnection, DetailNone},
}

func classifyText(msg string) (apperrors.SubReason, Detail) {
	lower := strings.ToLower(msg)
	for _, rule := range textRules {
		for _, p := range rule.patterns {
			if strings.Contains(lower, p) {
				return rule.reason, rule.detail
			}
		}
	}
	return apperrors.ReasonUnknown, DetailNone
}

func userMessage(de *DriverError) string {
	safe := logging.UserSafeMessage(de.Message)
	switch {
	case de.Detail == DetailMissingObject:
		return "The query references a table or column that does not exist: " + safe
	case de.Detail == DetailAmbiguous:
		return "A column name in the query is ambiguous; it exists in more than one table: " + safe
	case de.Detail == DetailDivideByZero:
		return "The query divided by zero."
	case de.Reason == apperrors.ReasonSyntax:
		return "The database could not parse the query: " + safe
	case de.Reason == apperrors.ReasonPermission:
		return "The database user is not allowed to read one of the referenced objects."
	case de.Reason == apperrors.ReasonConnection:
		return "Could not reach the database. Try again shortly."
	default:
		return "The database returned an error: " + safe
	}
}
