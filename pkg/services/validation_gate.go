package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/audit"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// ValidationGate decides whether a candidate query may reach the database.
type ValidationGate interface {
	Validate(ctx context.Context, req ValidationRequest) *models.ValidationVerdict
}

// ValidationRequest carries a candidate and what the gate needs to judge it.
type ValidationRequest struct {
	RunID      uuid.UUID
	UserID     string
	DatabaseID string
	Question   string
	Candidate  *models.CandidateQuery
	Schema     *models.SchemaSnapshot
	Dialect    sql.Dialect
}

// ValidationConfig configures the built-in rules.
type ValidationConfig struct {
	MaxRows                 int
	AllowDestructiveQueries bool
	LargeTableRowThreshold  int64
	LowConfidenceThreshold  float64
}

// ValidationGateOption configures a gate.
type ValidationGateOption func(*validationGate)

// WithRules appends custom rules after the built-in ones.
func WithRules(rules ...ValidationRule) ValidationGateOption {
	return func(g *validationGate) { g.rules = append(g.rules, rules...) }
}

// WithSecurityAuditor reports rejections to the security audit log.
func WithSecurityAuditor(a *audit.SecurityAuditor) ValidationGateOption {
	return func(g *validationGate) { g.auditor = a }
}

type validationGate struct {
	rules   []ValidationRule
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewValidationGate creates a gate running DefaultValidationRules(cfg) then
// any rules added by options.
func NewValidationGate(cfg ValidationConfig, logger *zap.Logger, opts ...ValidationGateOption) ValidationGate {
	g := &validationGate{
		rules:  DefaultValidationRules(cfg),
		logger: logger.Named("validation-gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ ValidationGate = (*validationGate)(nil)

// Validate runs rules in order, stopping after the first rule that reports
// errors. Warnings from every executed rule are kept.
func (g *validationGate) Validate(ctx context.Context, req ValidationRequest) *models.ValidationVerdict {
	verdict := &models.ValidationVerdict{}
	if req.Candidate != nil {
		verdict.OriginalSQL = req.Candidate.SQL
	}
	in := &ValidationInput{
		SQL:       verdict.OriginalSQL,
		Candidate: req.Candidate,
		Question:  req.Question,
		Schema:    req.Schema,
		Dialect:   req.Dialect,
	}

	for _, rule := range g.rules {
		res := rule.Check(in)
		for _, w := range res.Warnings {
			verdict.Warnings = append(verdict.Warnings, models.ValidationIssue{Rule: rule.Name(), Message: w})
		}
		if res.EstimatedCost != nil {
			verdict.EstimatedCost = res.EstimatedCost
		}
		if res.RewrittenSQL != "" {
			g.applyRewrite(in, verdict, res.RewrittenSQL)
		}
		if len(res.Errors) > 0 {
			for _, e := range res.Errors {
				verdict.Errors = append(verdict.Errors, models.ValidationIssue{Rule: rule.Name(), Message: e})
			}
			verdict.RejectReason = rule.Reason()
			break
		}
	}

	verdict.SafeToExecute = len(verdict.Errors) == 0
	if !verdict.SafeToExecute {
		g.reject(ctx, req, verdict)
	}
	return verdict
}

func (g *validationGate) applyRewrite(in *ValidationInput, verdict *models.ValidationVerdict, rewritten string) {
	stmt, err := sql.Parse(rewritten)
	if err != nil {
		// keep the original statement for later rules; the rewrite still stands
		g.logger.Warn("Rewritten SQL did not re-parse",
			zap.String("sql", logging.SanitizeQuery(rewritten)),
			zap.Error(err))
		verdict.RewrittenSQL = rewritten
		return
	}
	in.Statement = stmt
	in.SQL = stmt.SQL
	verdict.RewrittenSQL = stmt.SQL
}

func (g *validationGate) reject(ctx context.Context, req ValidationRequest, verdict *models.ValidationVerdict) {
	g.logger.Info("Candidate query rejected",
		zap.String("run_id", req.RunID.String()),
		zap.String("reason", string(verdict.RejectReason)),
		zap.Strings("errors", verdict.ErrorMessages()))
	if g.auditor == nil {
		return
	}
	g.auditor.LogRejection(ctx, req.RunID, req.UserID, req.DatabaseID, verdict.RejectReason, audit.RejectionDetails{
		Messages: verdict.ErrorMessages(),
		SQL:      verdict.OriginalSQL,
		Question: req.Question,
	})
}
