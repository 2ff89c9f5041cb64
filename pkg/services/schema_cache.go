package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

const defaultRefreshTimeout = 30 * time.Second

// SchemaCache serves schema snapshots per database, refreshing them from the
// introspector when missing or expired.
type SchemaCache interface {
	// Get returns a valid snapshot, refreshing synchronously if needed. When the
	// refresh fails and an expired entry exists it is returned with Stale set.
	Get(ctx context.Context, databaseID string) (*models.SchemaResolution, error)

	// Invalidate drops the cached and persisted snapshot for databaseID.
	Invalidate(ctx context.Context, databaseID string) error

	// Stats returns cumulative cache counters.
	Stats() CacheStats
}

// SnapshotStore persists snapshots across restarts. Load returns nil, nil when
// nothing is stored.
type SnapshotStore interface {
	Load(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error)
	Save(ctx context.Context, snapshot *models.SchemaSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, databaseID string) error
}

// CacheStats are cumulative schema cache counters.
type CacheStats struct {
	Hits            int64 `json:"hits"`
	Misses          int64 `json:"misses"`
	Refreshes       int64 `json:"refreshes"`
	RefreshFailures int64 `json:"refresh_failures"`
	StaleServes     int64 `json:"stale_serves"`
	StoreHits       int64 `json:"store_hits"`
}

// SchemaCacheOption configures a schema cache.
type SchemaCacheOption func(*schemaCache)

// WithSnapshotStore adds a second-level store consulted before introspection.
func WithSnapshotStore(store SnapshotStore) SchemaCacheOption {
	return func(c *schemaCache) { c.store = store }
}

// WithCacheClock overrides time.Now.
func WithCacheClock(now func() time.Time) SchemaCacheOption {
	return func(c *schemaCache) { c.now = now }
}

// WithRefreshTimeout bounds a single introspection call.
func WithRefreshTimeout(d time.Duration) SchemaCacheOption {
	return func(c *schemaCache) { c.refreshTimeout = d }
}

type cacheEntry struct {
	snapshot   *models.SchemaSnapshot
	capturedAt time.Time
	ttl        time.Duration
}

func (e *cacheEntry) valid(now time.Time) bool {
	return now.Sub(e.capturedAt) < e.ttl
}

type schemaCache struct {
	introspector   datasource.SchemaIntrospector
	store          SnapshotStore
	ttl            time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger

	mu      sync.RWMutex
	entries map[string]*cacheEntry
	group   singleflight.Group

	hits, misses, refreshes, refreshFailures, staleServes, storeHits atomic.Int64
}

// NewSchemaCache creates a cache over introspector with the given TTL.
func NewSchemaCache(introspector datasource.SchemaIntrospector, ttl time.Duration, logger *zap.Logger, opts ...SchemaCacheOption) SchemaCache {
	c := &schemaCache{
		introspector:   introspector,
		ttl:            ttl,
		refreshTimeout: defaultRefreshTimeout,
		now:            time.Now,
		logger:         logger.Named("schema-cache"),
		entries:        make(map[string]*cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ SchemaCache = (*schemaCache)(nil)

func (c *schemaCache) Get(ctx context.Context, databaseID string) (*models.SchemaResolution, error) {
	if entry, ok := c.lookup(databaseID); ok && entry.valid(c.now()) {
		c.hits.Add(1)
		return &models.SchemaResolution{Snapshot: entry.snapshot}, nil
	}
	c.misses.Add(1)

	// The refresh runs detached from any single caller so one caller giving up
	// does not fail the others waiting on the same key.
	ch := c.group.DoChan(databaseID, func() (any, error) {
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return c.refresh(refreshCtx, databaseID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.SchemaResolution), nil
	case <-ctx.Done():
		return nil, apperrors.New(apperrors.ErrCanceled, "request canceled while loading schema", ctx.Err())
	}
}

func (c *schemaCache) refresh(ctx context.Context, databaseID string) (*models.SchemaResolution, error) {
	now := c.now()
	entry, hasEntry := c.lookup(databaseID)
	if hasEntry && entry.valid(now) {
		return &models.SchemaResolution{Snapshot: entry.snapshot}, nil
	}

	if snap := c.loadPersisted(ctx, databaseID, now); snap != nil {
		c.storeHits.Add(1)
		c.install(databaseID, &cacheEntry{snapshot: snap, capturedAt: snap.CapturedAt, ttl: c.ttl})
		return &models.SchemaResolution{Snapshot: snap}, nil
	}

	c.refreshes.Add(1)
	snap, err := c.introspector.Introspect(ctx, databaseID)
	if err == nil && snap == nil {
		err = fmt.Errorf("introspector returned no snapshot")
	}
	if err != nil {
		c.refreshFailures.Add(1)
		if hasEntry {
			c.staleServes.Add(1)
			c.logger.Warn("Schema refresh failed, serving stale snapshot",
				zap.String("database_id", databaseID),
				zap.Time("captured_at", entry.capturedAt),
				zap.Error(err))
			return &models.SchemaResolution{Snapshot: entry.snapshot, Stale: true}, nil
		}
		c.logger.Error("Schema refresh failed with nothing cached",
			zap.String("database_id", databaseID),
			zap.Error(err))
		pe := datasource.ToPipelineError(err)
		return nil, apperrors.New(apperrors.ErrSchemaUnavailable,
			fmt.Sprintf("Schema metadata for %q is unavailable: %s", databaseID, pe.Message), err)
	}

	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = now
	}
	c.install(databaseID, &cacheEntry{snapshot: snap, capturedAt: now, ttl: c.ttl})
	c.persist(ctx, snap)

	c.logger.Info("Schema snapshot refreshed",
		zap.String("database_id", databaseID),
		zap.Int("tables", len(snap.Tables)))
	return &models.SchemaResolution{Snapshot: snap}, nil
}

func (c *schemaCache) loadPersisted(ctx context.Context, databaseID string, now time.Time) *models.SchemaSnapshot {
	if c.store == nil {
		return nil
	}
	snap, err := c.store.Load(ctx, databaseID)
	if err != nil {
		c.logger.Warn("Failed to load persisted schema snapshot",
			zap.String("database_id", databaseID),
			zap.Error(err))
		return nil
	}
	if snap == nil || now.Sub(snap.CapturedAt) >= c.ttl {
		return nil
	}
	return snap
}

func (c *schemaCache) persist(ctx context.Context, snap *models.SchemaSnapshot) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, snap, c.ttl); err != nil {
		c.logger.Warn("Failed to persist schema snapshot",
			zap.String("database_id", snap.DatabaseID),
			zap.Error(err))
	}
}

func (c *schemaCache) lookup(databaseID string) (*cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[databaseID]
	return e, ok
}

func (c *schemaCache) install(databaseID string, e *cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[databaseID] = e
}

func (c *schemaCache) Invalidate(ctx context.Context, databaseID string) error {
	c.mu.Lock()
	delete(c.entries, databaseID)
	c.mu.Unlock()
	c.group.Forget(databaseID)

	c.logger.Info("Schema cache invalidated", zap.String("database_id", databaseID))
	if c.store == nil {
		return nil
	}
	if err := c.store.Delete(ctx, databaseID); err != nil {
		return fmt.Errorf("delete persisted snapshot: %w", err)
	}
	return nil
}

func (c *schemaCache) Stats() CacheStats {
	return CacheStats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Refreshes:       c.refreshes.Load(),
		RefreshFailures: c.refreshFailures.Load(),
		StaleServes:     c.staleServes.Load(),
		StoreHits:       c.storeHits.Load(),
	}
}
