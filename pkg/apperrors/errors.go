package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every terminal pipeline failure wraps exactly one of these.
var (
	ErrSchemaUnavailable   = errors.New("schema unavailable")
	ErrGenerationMalformed = errors.New("generation malformed")
	ErrProvider            = errors.New("provider error")
	ErrValidationRejected  = errors.New("validation rejected")
	ErrQueryTimeout        = errors.New("query timeout")
	ErrDriver              = errors.New("driver error")
	ErrRenderingDegraded   = errors.New("rendering degraded")
	ErrCanceled            = errors.New("canceled")

	ErrNotFound = errors.New("not found")
)

// SubReason refines ErrValidationRejected and ErrDriver.
type SubReason string

const (
	ReasonNone             SubReason = ""
	ReasonForbiddenVerb    SubReason = "forbidden-verb"
	ReasonInjectionPattern SubReason = "injection-pattern"
	ReasonParseFailure     SubReason = "parse-failure"

	ReasonConnection SubReason = "connection"
	ReasonPermission SubReason = "permission"
	ReasonSyntax     SubReason = "syntax"
	ReasonTimeout    SubReason = "timeout"
	ReasonUnknown    SubReason = "unknown"
)

// PipelineError is the error surfaced to callers when a run stops.
// Message is safe to show to end users; Cause is for logs only.
type PipelineError struct {
	Kind      error
	SubReason SubReason
	State     string
	Message   string
	Cause     error
}

func (e *PipelineError) Error() string {
	msg := e.Kind.Error()
	if e.SubReason != ReasonNone {
		msg += " (" + string(e.SubReason) + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is matches against the sentinel kind.
func (e *PipelineError) Is(target error) bool {
	return e.Kind == target
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// New builds a PipelineError of the given kind.
func New(kind error, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, Message: message, Cause: cause}
}

// WithReason builds a PipelineError carrying a sub-reason.
func WithReason(kind error, reason SubReason, message string, cause error) *PipelineError {
	return &PipelineError{Kind: kind, SubReason: reason, Message: message, Cause: cause}
}

// AsPipelineError extracts a *PipelineError from err. Errors that are not
// already classified are wrapped with the fallback kind.
func AsPipelineError(err error, fallback error) *PipelineError {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	return &PipelineError{Kind: fallback, Message: fallback.Error(), Cause: err}
}

// KindName returns a stable label for the error kind, used in audit rows and metrics.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSchemaUnavailable):
		return "schema_unavailable"
	case errors.Is(err, ErrGenerationMalformed):
		return "generation_malformed"
	case errors.Is(err, ErrProvider):
		return "provider_error"
	case errors.Is(err, ErrValidationRejected):
		return "validation_rejected"
	case errors.Is(err, ErrQueryTimeout):
		return "query_timeout"
	case errors.Is(err, ErrDriver):
		return "driver_error"
	case errors.Is(err, ErrRenderingDegraded):
		return "rendering_degraded"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return fmt.Sprintf("unclassified: %T", err)
	}
}
