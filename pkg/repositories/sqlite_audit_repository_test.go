package repositories

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/database"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

var auditColumns = []string{
	"id", "question_id", "user_id", "database_id", "question", "sql_executed",
	"row_count", "elapsed_ms", "outcome", "failed_at", "error_kind", "created_at",
}

func TestSQLiteAuditRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)
	rec := &models.AuditRecord{
		QuestionID:  uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		UserID:      "alice",
		DatabaseID:  "sales",
		Question:    "how many orders?",
		SQLExecuted: "SELECT count(*) FROM orders LIMIT 1000",
		RowCount:    1,
		ElapsedMs:   12,
		Outcome:     string(models.StateSucceeded),
		CreatedAt:   created,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO askdb_audit_log")).
		WithArgs(sqlmock.AnyArg(), rec.QuestionID.String(), "alice", "sales", "how many orders?",
			rec.SQLExecuted, 1, int64(12), "SUCCEEDED", "", "", "2026-03-04T05:06:07.000000008Z").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, NewSQLiteAuditRepository(db).Create(context.Background(), rec))
	assert.NotEqual(t, uuid.Nil, rec.ID, "id is assigned")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAuditRepository_CreateError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO askdb_audit_log").WillReturnError(errors.New("database is locked"))

	err = NewSQLiteAuditRepository(db).Create(context.Background(), &models.AuditRecord{UserID: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
}

func TestSQLiteAuditRepository_ListFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := uuid.New()
	qid := uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("FROM askdb_audit_log WHERE user_id = ? AND created_at >= ? ORDER BY created_at DESC LIMIT ?")).
		WithArgs("alice", "2026-01-01T00:00:00.000000000Z", 5).
		WillReturnRows(sqlmock.NewRows(auditColumns).AddRow(
			id.String(), qid.String(), "alice", "sales", "q", "", 0, 3, "FAILED", "GENERATED", "validation_rejected",
			"2026-01-02T03:04:05.000000000Z",
		))

	got, err := NewSQLiteAuditRepository(db).List(context.Background(), models.AuditFilters{UserID: "alice", Since: &since, Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, qid, got[0].QuestionID)
	assert.Equal(t, "GENERATED", got[0].FailedAt)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), got[0].CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAuditRepository_ListDefaultLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM askdb_audit_log ORDER BY created_at DESC LIMIT ?")).
		WithArgs(defaultAuditListLimit).
		WillReturnRows(sqlmock.NewRows(auditColumns))

	got, err := NewSQLiteAuditRepository(db).List(context.Background(), models.AuditFilters{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAuditRepository_RejectsCorruptRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM askdb_audit_log").
		WillReturnRows(sqlmock.NewRows(auditColumns).AddRow(
			"not-a-uuid", uuid.NewString(), "u", "db", "q", "", 0, 0, "SUCCEEDED", "", "", "2026-01-02T03:04:05.000000000Z",
		))

	_, err = NewSQLiteAuditRepository(db).List(context.Background(), models.AuditFilters{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid audit id")
}

func TestSQLiteAuditRepository_RoundTripWithMigrations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	migrateDB, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(migrateDB, database.DialectSQLite, filepath.Join("..", "..", "migrations"), zap.NewNop()))

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()
	repo := NewSQLiteAuditRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, user := range []string{"alice", "bob", "alice"} {
		require.NoError(t, repo.Create(ctx, &models.AuditRecord{
			QuestionID: uuid.New(),
			UserID:     user,
			DatabaseID: "sales",
			Question:   "q",
			Outcome:    string(models.StateSucceeded),
			CreatedAt:  base.Add(time.Duration(i) * 500 * time.Millisecond),
		}))
	}

	got, err := repo.List(ctx, models.AuditFilters{UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].CreatedAt.After(got[1].CreatedAt), "newest first")

	since := base.Add(250 * time.Millisecond)
	got, err = repo.List(ctx, models.AuditFilters{Since: &since})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
