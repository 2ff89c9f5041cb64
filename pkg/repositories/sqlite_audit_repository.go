package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// sqliteTimeLayout is fixed width so stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteAuditRepository struct {
	db *sql.DB
}

// OpenSQLite opens a local SQLite file for the audit log.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteAuditRepository creates an AuditRepository backed by a local SQLite file.
func NewSQLiteAuditRepository(db *sql.DB) AuditRepository {
	return &sqliteAuditRepository{db: db}
}

var _ AuditRepository = (*sqliteAuditRepository)(nil)

func (r *sqliteAuditRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	prepareRecord(rec)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO askdb_audit_log (
			id, question_id, user_id, database_id, question, sql_executed,
			row_count, elapsed_ms, outcome, failed_at, error_kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(),
		rec.QuestionID.String(),
		rec.UserID,
		rec.DatabaseID,
		rec.Question,
		rec.SQLExecuted,
		rec.RowCount,
		rec.ElapsedMs,
		rec.Outcome,
		rec.FailedAt,
		rec.ErrorKind,
		rec.CreatedAt.UTC().Format(sqliteTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit record: %w", err)
	}
	return nil
}

func (r *sqliteAuditRepository) List(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error) {
	if filters.Since != nil {
		since := filters.Since.UTC()
		filters.Since = &since
	}
	query, args := buildListQuery(filters, func(int) string { return "?" })
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			args[i] = t.Format(sqliteTimeLayout)
		}
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		var (
			rec                models.AuditRecord
			id, qid, createdAt string
		)
		if err := rows.Scan(
			&id, &qid, &rec.UserID, &rec.DatabaseID, &rec.Question, &rec.SQLExecuted,
			&rec.RowCount, &rec.ElapsedMs, &rec.Outcome, &rec.FailedAt, &rec.ErrorKind, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid audit id %q: %w", id, err)
		}
		if rec.QuestionID, err = uuid.Parse(qid); err != nil {
			return nil, fmt.Errorf("invalid question id %q: %w", qid, err)
		}
		if rec.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("invalid created_at %q: %w", createdAt, err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit records: %w", err)
	}
	return records, nil
}
