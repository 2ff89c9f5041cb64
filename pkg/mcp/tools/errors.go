package tools

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// ErrorResponse represents a structured error in tool results.
// Errors are returned as tool results with IsError set so the model sees
// the details instead of a bare protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for errors the caller can act on (bad parameters, unknown
// database, rejected query). Server faults should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	jsonBytes, _ := json.Marshal(ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	})
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewRunErrorResult reports a failed pipeline run. The run's partial
// artifacts (generated SQL, fetched rows) travel in Details.
func NewRunErrorResult(run *models.PipelineRun, err error) *mcp.CallToolResult {
	code := apperrors.KindName(err)
	message := err.Error()
	if pe := apperrors.AsPipelineError(err, apperrors.ErrDriver); pe != nil && pe.Message != "" {
		message = pe.Message
	}
	var details any
	if run != nil {
		details = run.Result(apperrors.KindName)
	}
	return NewErrorResultWithDetails(code, message, details)
}
