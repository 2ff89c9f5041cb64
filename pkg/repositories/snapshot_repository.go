package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

const snapshotKeyPrefix = "askdb:schema:"

// SnapshotRepository persists schema snapshots in Redis so a restart does not
// force a fresh introspection of every datasource.
type SnapshotRepository struct {
	client redis.Cmdable
}

// NewSnapshotRepository creates a Redis-backed snapshot repository.
func NewSnapshotRepository(client redis.Cmdable) *SnapshotRepository {
	return &SnapshotRepository{client: client}
}

func snapshotKey(databaseID string) string {
	return snapshotKeyPrefix + databaseID
}

// Load returns nil, nil when no snapshot is stored for databaseID.
func (r *SnapshotRepository) Load(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(databaseID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for %s: %w", databaseID, err)
	}

	var snap models.SchemaSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot for %s: %w", databaseID, err)
	}
	return &snap, nil
}

// Save stores snapshot with a Redis expiry of ttl.
func (r *SnapshotRepository) Save(ctx context.Context, snapshot *models.SchemaSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", snapshot.DatabaseID, err)
	}
	if err := r.client.Set(ctx, snapshotKey(snapshot.DatabaseID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snapshot.DatabaseID, err)
	}
	return nil
}

// Delete removes any stored snapshot for databaseID.
func (r *SnapshotRepository) Delete(ctx context.Context, databaseID string) error {
	if err := r.client.Del(ctx, snapshotKey(databaseID)).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot for %s: %w", databaseID, err)
	}
	return nil
}
