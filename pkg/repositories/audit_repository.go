package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-askdb/pkg/database"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

const defaultAuditListLimit = 100

// AuditRepository provides data access for the askdb audit log.
type AuditRepository interface {
	// Create inserts a new audit record. ID and CreatedAt are filled when zero.
	Create(ctx context.Context, rec *models.AuditRecord) error

	// List returns records matching filters, newest first.
	List(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error)
}

type postgresAuditRepository struct {
	db *database.DB
}

// NewPostgresAuditRepository creates an AuditRepository backed by Postgres.
func NewPostgresAuditRepository(db *database.DB) AuditRepository {
	return &postgresAuditRepository{db: db}
}

var _ AuditRepository = (*postgresAuditRepository)(nil)

func (r *postgresAuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	prepareRecord(rec)

	query := `
		INSERT INTO askdb_audit_log (
			id, question_id, user_id, database_id, question, sql_executed,
			row_count, elapsed_ms, outcome, failed_at, error_kind, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.QuestionID,
		rec.UserID,
		rec.DatabaseID,
		rec.Question,
		rec.SQLExecuted,
		rec.RowCount,
		rec.ElapsedMs,
		rec.Outcome,
		rec.FailedAt,
		rec.ErrorKind,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

func (r *postgresAuditRepository) List(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error) {
	query, args := buildListQuery(filters, func(n int) string { return fmt.Sprintf("$%d", n) })

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.AuditRecord, error) {
		var rec models.AuditRecord
		err := row.Scan(
			&rec.ID, &rec.QuestionID, &rec.UserID, &rec.DatabaseID, &rec.Question, &rec.SQLExecuted,
			&rec.RowCount, &rec.ElapsedMs, &rec.Outcome, &rec.FailedAt, &rec.ErrorKind, &rec.CreatedAt,
		)
		return &rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit records: %w", err)
	}
	return records, nil
}

// prepareRecord fills ID and CreatedAt when the caller left them zero.
func prepareRecord(rec *models.AuditRecord) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
}

// buildListQuery renders the List query with the store's placeholder style.
func buildListQuery(filters models.AuditFilters, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filters.UserID != "" {
		args = append(args, filters.UserID)
		where = append(where, "user_id = "+placeholder(len(args)))
	}
	if filters.Since != nil {
		args = append(args, filters.Since.UTC())
		where = append(where, "created_at >= "+placeholder(len(args)))
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	args = append(args, limit)

	var sb strings.Builder
	sb.WriteString(`SELECT id, question_id, user_id, database_id, question, sql_executed,
		row_count, elapsed_ms, outcome, failed_at, error_kind, created_at
		FROM askdb_audit_log`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC LIMIT " + placeholder(len(args)))
	return sb.String(), args
}
