// Package llm wraps text-generation providers behind one narrow interface.
package llm

import "context"

// Prompt is a single-shot request to a text generator.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	// MaxTokens caps the completion. Zero uses the client default.
	MaxTokens int
	// JSON asks the provider for a JSON object when it supports that mode.
	JSON bool
}

// TextGenerator produces a completion for a prompt. Errors are *Error values
// classified by ClassifyError.
type TextGenerator interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
	GetModel() string
}
