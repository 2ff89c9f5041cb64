package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
)

// PipelineState is a step in the ask pipeline.
type PipelineState string

const (
	StatePending        PipelineState = "PENDING"
	StateSchemaResolved PipelineState = "SCHEMA_RESOLVED"
	StateGenerated      PipelineState = "GENERATED"
	StateValidated      PipelineState = "VALIDATED"
	StateExecuted       PipelineState = "EXECUTED"
	StateVisualized     PipelineState = "VISUALIZED"
	StateSucceeded      PipelineState = "SUCCEEDED"
	StateFailed         PipelineState = "FAILED"
)

var stateOrder = map[PipelineState]int{
	StatePending:        0,
	StateSchemaResolved: 1,
	StateGenerated:      2,
	StateValidated:      3,
	StateExecuted:       4,
	StateVisualized:     5,
	StateSucceeded:      6,
}

// IsTerminal reports whether no further transitions are allowed.
func (s PipelineState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// StageTransition records one state change.
type StageTransition struct {
	From    PipelineState `json:"from"`
	To      PipelineState `json:"to"`
	At      time.Time     `json:"at"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// PipelineRun is the record of a single question's trip through the pipeline.
// Artifacts are attached as each stage completes and are kept on failure.
type PipelineRun struct {
	ID         uuid.UUID     `json:"id"`
	UserID     string        `json:"user_id"`
	DatabaseID string        `json:"database_id"`
	Question   string        `json:"question"`
	State      PipelineState `json:"state"`

	// FailedAt is the last non-terminal state reached before FAILED.
	FailedAt PipelineState `json:"failed_at,omitempty"`

	StartedAt   time.Time         `json:"started_at"`
	Transitions []StageTransition `json:"transitions"`

	Schema    *SchemaResolution  `json:"-"`
	Candidate *CandidateQuery    `json:"candidate,omitempty"`
	Verdict   *ValidationVerdict `json:"verdict,omitempty"`
	Outcome   *ExecutionOutcome  `json:"outcome,omitempty"`
	Rendered  *RenderedArtifact  `json:"rendered,omitempty"`

	Warnings []string                 `json:"warnings,omitempty"`
	Failure  *apperrors.PipelineError `json:"-"`
}

// NewPipelineRun starts a run in PENDING.
func NewPipelineRun(userID, databaseID, question string, now time.Time) *PipelineRun {
	return &PipelineRun{
		ID:         uuid.New(),
		UserID:     userID,
		DatabaseID: databaseID,
		Question:   question,
		State:      StatePending,
		StartedAt:  now,
	}
}

// Advance moves the run to the next state. Only the immediate successor is
// accepted; skipping or going backwards is an error.
func (r *PipelineRun) Advance(to PipelineState, now time.Time) error {
	if r.State.IsTerminal() {
		return fmt.Errorf("run %s already terminal in %s", r.ID, r.State)
	}
	if to == StateFailed {
		return fmt.Errorf("use Fail to move run %s to %s", r.ID, StateFailed)
	}
	next, ok := stateOrder[to]
	if !ok || next != stateOrder[r.State]+1 {
		return fmt.Errorf("illegal transition %s -> %s", r.State, to)
	}
	r.record(to, now)
	return nil
}

// Fail moves the run to FAILED from any non-terminal state.
func (r *PipelineRun) Fail(err *apperrors.PipelineError, now time.Time) {
	if r.State.IsTerminal() {
		return
	}
	if err != nil && err.State == "" {
		err.State = string(r.State)
	}
	r.Failure = err
	r.FailedAt = r.State
	r.record(StateFailed, now)
}

// Warn attaches a non-fatal warning.
func (r *PipelineRun) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Elapsed returns the time from start to the last transition.
func (r *PipelineRun) Elapsed() time.Duration {
	if len(r.Transitions) == 0 {
		return 0
	}
	return r.Transitions[len(r.Transitions)-1].At.Sub(r.StartedAt)
}

// SQLExecuted is the SQL that reached the database, if any.
func (r *PipelineRun) SQLExecuted() string {
	if r.Outcome == nil || r.Verdict == nil {
		return ""
	}
	return r.Verdict.ExecutableSQL()
}

func (r *PipelineRun) record(to PipelineState, now time.Time) {
	prev := r.StartedAt
	if n := len(r.Transitions); n > 0 {
		prev = r.Transitions[n-1].At
	}
	r.Transitions = append(r.Transitions, StageTransition{
		From:    r.State,
		To:      to,
		At:      now,
		Elapsed: now.Sub(prev),
	})
	r.State = to
}

// RunError is the user-facing description of a failed run.
type RunError struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// RunResult is what callers of the ask surfaces receive: the final state, the
// SQL that ran, the rows and the rendered artifact, with partial artifacts
// kept on failure.
type RunResult struct {
	RunID       string            `json:"run_id"`
	State       PipelineState     `json:"state"`
	FailedAt    PipelineState     `json:"failed_at,omitempty"`
	SQL         string            `json:"sql,omitempty"`
	Explanation string            `json:"explanation,omitempty"`
	Confidence  float64           `json:"confidence,omitempty"`
	Outcome     *ExecutionOutcome `json:"outcome,omitempty"`
	Rendered    *RenderedArtifact `json:"rendered,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	ElapsedMs   int64             `json:"elapsed_ms"`
	Error       *RunError         `json:"error,omitempty"`
}

// Result summarizes the run. kindName labels the failure kind.
func (r *PipelineRun) Result(kindName func(error) string) *RunResult {
	res := &RunResult{
		RunID:     r.ID.String(),
		State:     r.State,
		FailedAt:  r.FailedAt,
		Outcome:   r.Outcome,
		Rendered:  r.Rendered,
		Warnings:  r.Warnings,
		ElapsedMs: r.Elapsed().Milliseconds(),
	}
	switch {
	case r.Verdict != nil:
		res.SQL = r.Verdict.ExecutableSQL()
	case r.Candidate != nil:
		res.SQL = r.Candidate.SQL
	}
	if r.Candidate != nil {
		res.Explanation = r.Candidate.Explanation
		res.Confidence = r.Candidate.Confidence
	}
	if r.Failure != nil {
		res.Error = &RunError{
			Kind:    kindName(r.Failure),
			Reason:  string(r.Failure.SubReason),
			Message: r.Failure.Message,
		}
	}
	return res
}
