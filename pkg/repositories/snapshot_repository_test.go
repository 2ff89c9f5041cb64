//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/testhelpers"
)

func TestSnapshotRepository_SaveLoadDelete(t *testing.T) {
	repo := NewSnapshotRepository(testhelpers.GetRedis(t))
	ctx := context.Background()
	dbID := "sales-" + uuid.NewString()

	got, err := repo.Load(ctx, dbID)
	require.NoError(t, err)
	assert.Nil(t, got, "missing snapshot is not an error")

	rows := int64(42)
	snap := &models.SchemaSnapshot{
		DatabaseID:   dbID,
		DatabaseName: "sales",
		Tables: []models.TableMetadata{{
			Schema:           "public",
			Name:             "orders",
			RowCountEstimate: &rows,
			Columns:          []models.ColumnMetadata{{Name: "id", DataType: "integer", IsPrimaryKey: true}},
		}},
		CapturedAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}
	require.NoError(t, repo.Save(ctx, snap, time.Minute))

	got, err = repo.Load(ctx, dbID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, snap.CapturedAt, got.CapturedAt.UTC())
	assert.Equal(t, int64(42), *got.Tables[0].RowCountEstimate)

	ttl, err := testhelpers.GetRedis(t).TTL(ctx, snapshotKey(dbID)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, repo.Delete(ctx, dbID))
	got, err = repo.Load(ctx, dbID)
	require.NoError(t, err)
	assert.Nil(t, got)
}
