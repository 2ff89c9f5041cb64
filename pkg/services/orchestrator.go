package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// AskRequest is one natural-language question from a user.
type AskRequest struct {
	UserID     string `json:"user_id"`
	DatabaseID string `json:"database_id"`
	Question   string `json:"question"`
}

// Orchestrator drives a question through schema resolution, generation,
// validation, execution and rendering.
type Orchestrator interface {
	// Ask always returns the run, including on failure, so callers can show
	// the partial artifacts. The error is the run's *apperrors.PipelineError.
	Ask(ctx context.Context, req AskRequest) (*models.PipelineRun, error)
}

// OrchestratorConfig bounds each run.
type OrchestratorConfig struct {
	MaxRows       int
	QueryTimeout  time.Duration
	MaxPriorTurns int
}

// OrchestratorDeps are the stages and sinks a run passes through.
// Metrics, Audit, SecurityAuditor, Dialect and Clock are optional.
type OrchestratorDeps struct {
	Schema        SchemaCache
	Filter        SchemaFilter
	Generator     QueryGenerator
	Gate          ValidationGate
	Executor      ExecutionStage
	Renderer      Renderer
	Conversations ConversationStore

	Audit           AuditSink
	Metrics         PipelineMetrics
	SecurityAuditor *audit.SecurityAuditor
	Dialect         func(databaseID string) sql.Dialect
	Clock           func() time.Time
}

type orchestrator struct {
	OrchestratorDeps
	cfg    OrchestratorConfig
	logger *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig, logger *zap.Logger) Orchestrator {
	if deps.Audit == nil {
		deps.Audit = NopAuditSink{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Dialect == nil {
		deps.Dialect = func(string) sql.Dialect { return sql.DialectPostgres }
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if cfg.MaxPriorTurns < 0 {
		cfg.MaxPriorTurns = 0
	}
	return &orchestrator{
		OrchestratorDeps: deps,
		cfg:              cfg,
		logger:           logger.Named("orchestrator"),
	}
}

var _ Orchestrator = (*orchestrator)(nil)

func (o *orchestrator) Ask(ctx context.Context, req AskRequest) (*models.PipelineRun, error) {
	run := models.NewPipelineRun(req.UserID, req.DatabaseID, strings.TrimSpace(req.Question), o.Clock())
	o.logger.Debug("Pipeline run started",
		zap.String("run_id", run.ID.String()),
		zap.String("user_id", run.UserID),
		zap.String("database_id", run.DatabaseID))

	unlock, err := o.Conversations.Lock(ctx, run.UserID)
	if err != nil {
		return o.finish(ctx, run, canceled(err))
	}
	defer unlock()

	return o.finish(ctx, run, o.execute(ctx, run))
}

// execute runs the stages in order and returns the failure that stopped the
// run, or nil once it has SUCCEEDED.
func (o *orchestrator) execute(ctx context.Context, run *models.PipelineRun) *apperrors.PipelineError {
	if ctx.Err() != nil {
		return canceled(ctx.Err())
	}

	resolution, err := o.Schema.Get(ctx, run.DatabaseID)
	if err != nil {
		return apperrors.AsPipelineError(err, apperrors.ErrSchemaUnavailable)
	}
	run.Schema = resolution
	if resolution.Stale {
		run.Warn(fmt.Sprintf("Schema metadata could not be refreshed; using the snapshot captured at %s.",
			resolution.Snapshot.CapturedAt.UTC().Format(time.RFC3339)))
	}
	if pe := o.advance(ctx, run, models.StateSchemaResolved); pe != nil {
		return pe
	}

	filtered := o.Filter.Filter(resolution.Snapshot, run.Question)
	turns := o.Conversations.Get(run.UserID).LastTurns(o.cfg.MaxPriorTurns)
	candidate, err := o.Generator.Generate(ctx, filtered, run.Question, turns)
	if err != nil {
		return apperrors.AsPipelineError(err, apperrors.ErrProvider)
	}
	run.Candidate = candidate
	if pe := o.advance(ctx, run, models.StateGenerated); pe != nil {
		return pe
	}

	verdict := o.Gate.Validate(ctx, ValidationRequest{
		RunID:      run.ID,
		UserID:     run.UserID,
		DatabaseID: run.DatabaseID,
		Question:   run.Question,
		Candidate:  candidate,
		Schema:     resolution.Snapshot,
		Dialect:    o.Dialect(run.DatabaseID),
	})
	run.Verdict = verdict
	for _, w := range verdict.Warnings {
		run.Warn(w.Message)
	}
	if !verdict.SafeToExecute {
		o.Metrics.ValidationRejected(verdict.RejectReason)
		return apperrors.WithReason(apperrors.ErrValidationRejected, verdict.RejectReason,
			strings.Join(verdict.ErrorMessages(), " "), nil)
	}
	if pe := o.advance(ctx, run, models.StateValidated); pe != nil {
		return pe
	}

	outcome, err := o.Executor.Execute(ctx, run.DatabaseID, verdict.ExecutableSQL(), o.cfg.MaxRows, o.cfg.QueryTimeout)
	if err != nil {
		return apperrors.AsPipelineError(err, apperrors.ErrDriver)
	}
	run.Outcome = outcome
	o.Metrics.RowsReturned(outcome.RowCount, outcome.Truncated)
	if outcome.Truncated {
		run.Warn(fmt.Sprintf("Showing the first %d rows; the query matched more.", outcome.RowCount))
	}
	if pe := o.advance(ctx, run, models.StateExecuted); pe != nil {
		return pe
	}

	artifact, err := o.Renderer.Render(ctx, outcome, run.Question)
	if err != nil || artifact == nil {
		o.logger.Warn("Rendering failed, falling back to table",
			zap.String("run_id", run.ID.String()),
			zap.Error(errors.Join(apperrors.ErrRenderingDegraded, err)))
		artifact = TabularFallback(outcome)
		run.Warn("The chart could not be drawn; showing the results as a table.")
	}
	run.Rendered = artifact
	if pe := o.advance(ctx, run, models.StateVisualized); pe != nil {
		return pe
	}

	o.transition(run, models.StateSucceeded)
	o.Conversations.Append(run.UserID, run.Question, *candidate, snapshotRef(resolution.Snapshot))
	return nil
}

// advance moves run forward and then checks for cancellation, so a run
// canceled after a stage completes keeps that stage's artifact.
func (o *orchestrator) advance(ctx context.Context, run *models.PipelineRun, to models.PipelineState) *apperrors.PipelineError {
	o.transition(run, to)
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}
	return nil
}

func (o *orchestrator) transition(run *models.PipelineRun, to models.PipelineState) {
	if err := run.Advance(to, o.Clock()); err != nil {
		o.logger.Error("Illegal pipeline transition",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
		return
	}
	o.Metrics.StageCompleted(to, run.Transitions[len(run.Transitions)-1].Elapsed)
}

// finish moves run to its terminal state, writes the audit record and
// reports metrics. It returns Failure as a plain error, or nil.
func (o *orchestrator) finish(ctx context.Context, run *models.PipelineRun, failure *apperrors.PipelineError) (*models.PipelineRun, error) {
	if failure != nil {
		run.Fail(failure, o.Clock())
	}

	// The record is written even when the caller has gone away.
	auditCtx := context.WithoutCancel(ctx)
	rec := auditRecord(run)
	if err := o.Audit.Record(auditCtx, rec); err != nil {
		o.logger.Error("Failed to record audit entry",
			zap.String("run_id", run.ID.String()),
			zap.Error(err))
	}
	if o.SecurityAuditor != nil && run.Outcome != nil {
		o.SecurityAuditor.LogQueryExecution(auditCtx, run.ID, run.UserID, run.DatabaseID, run.SQLExecuted(), run.Outcome.RowCount)
	}
	o.Metrics.RunFinished(run.State, run.FailedAt, rec.ErrorKind, run.Elapsed())

	if run.Failure == nil {
		o.logger.Info("Pipeline run succeeded",
			zap.String("run_id", run.ID.String()),
			zap.Int("row_count", rec.RowCount),
			zap.Duration("elapsed", run.Elapsed()))
		return run, nil
	}
	o.logger.Info("Pipeline run failed",
		zap.String("run_id", run.ID.String()),
		zap.String("failed_at", string(run.FailedAt)),
		zap.String("error_kind", rec.ErrorKind),
		zap.Duration("elapsed", run.Elapsed()))
	return run, run.Failure
}

func auditRecord(run *models.PipelineRun) *models.AuditRecord {
	rec := &models.AuditRecord{
		ID:          uuid.New(),
		QuestionID:  run.ID,
		UserID:      run.UserID,
		DatabaseID:  run.DatabaseID,
		Question:    run.Question,
		SQLExecuted: run.SQLExecuted(),
		ElapsedMs:   run.Elapsed().Milliseconds(),
		Outcome:     string(run.State),
		FailedAt:    string(run.FailedAt),
		CreatedAt:   run.StartedAt.UTC(),
	}
	if run.Outcome != nil {
		rec.RowCount = run.Outcome.RowCount
	}
	if run.Failure != nil {
		rec.ErrorKind = apperrors.KindName(run.Failure)
	}
	return rec
}

func canceled(cause error) *apperrors.PipelineError {
	return apperrors.New(apperrors.ErrCanceled, "The request was canceled before it finished.", cause)
}

// snapshotRef identifies the snapshot a turn was answered against.
func snapshotRef(snap *models.SchemaSnapshot) string {
	return snap.DatabaseID + "@" + snap.CapturedAt.UTC().Format(time.RFC3339Nano)
}
