package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/repositories"
)

// AuditSink receives one record per run that reaches a terminal state.
type AuditSink interface {
	Record(ctx context.Context, rec *models.AuditRecord) error
}

// AuditService writes audit records and answers audit queries.
type AuditService interface {
	AuditSink
	List(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error)
}

type auditService struct {
	repo   repositories.AuditRepository
	logger *zap.Logger
}

// NewAuditService creates an AuditService backed by repo.
func NewAuditService(repo repositories.AuditRepository, logger *zap.Logger) AuditService {
	return &auditService{repo: repo, logger: logger.Named("audit")}
}

var _ AuditService = (*auditService)(nil)

func (s *auditService) Record(ctx context.Context, rec *models.AuditRecord) error {
	if err := s.repo.Create(ctx, rec); err != nil {
		s.logger.Error("Failed to write audit record",
			zap.String("question_id", rec.QuestionID.String()),
			zap.String("outcome", rec.Outcome),
			zap.Error(err))
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

func (s *auditService) List(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error) {
	records, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return records, nil
}

// logAuditSink writes audit records to the log only.
type logAuditSink struct {
	logger *zap.Logger
}

// NewLogAuditSink creates a sink that emits each record as a structured log line.
func NewLogAuditSink(logger *zap.Logger) AuditSink {
	return &logAuditSink{logger: logger.Named("audit")}
}

func (s *logAuditSink) Record(ctx context.Context, rec *models.AuditRecord) error {
	s.logger.Info("Pipeline run finished",
		zap.String("question_id", rec.QuestionID.String()),
		zap.String("user_id", rec.UserID),
		zap.String("database_id", rec.DatabaseID),
		zap.String("outcome", rec.Outcome),
		zap.String("failed_at", rec.FailedAt),
		zap.String("error_kind", rec.ErrorKind),
		zap.Int("row_count", rec.RowCount),
		zap.Int64("elapsed_ms", rec.ElapsedMs),
		zap.Bool("sql_executed", rec.SQLExecuted != ""))
	return nil
}

// NopAuditSink discards records. Used when auditing is disabled.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, *models.AuditRecord) error { return nil }
