package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mockSnapshotStore struct {
	LoadFunc func(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error)
	SaveFunc func(ctx context.Context, snapshot *models.SchemaSnapshot, ttl time.Duration) error

	mu      sync.Mutex
	saved   []*models.SchemaSnapshot
	deleted []string
}

func (m *mockSnapshotStore) Load(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, databaseID)
	}
	return nil, nil
}

func (m *mockSnapshotStore) Save(ctx context.Context, snapshot *models.SchemaSnapshot, ttl time.Duration) error {
	m.mu.Lock()
	m.saved = append(m.saved, snapshot)
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, snapshot, ttl)
	}
	return nil
}

func (m *mockSnapshotStore) Delete(ctx context.Context, databaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, databaseID)
	return nil
}

func salesSnapshot(id string) *models.SchemaSnapshot {
	return &models.SchemaSnapshot{
		DatabaseID:   id,
		DatabaseName: "sales",
		Tables: []models.TableMetadata{
			{Name: "customers", Columns: []models.ColumnMetadata{{Name: "id", DataType: "INT4", IsPrimaryKey: true}}},
		},
	}
}

func TestSchemaCache_HitWithinTTL(t *testing.T) {
	clock := newFakeClock()
	intro := &datasource.MockIntrospector{
		IntrospectFunc: func(ctx context.Context, id string) (*models.SchemaSnapshot, error) {
			return salesSnapshot(id), nil
		},
	}
	cache := NewSchemaCache(intro, time.Minute, zap.NewNop(), WithCacheClock(clock.Now))

	first, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)
	assert.False(t, first.Stale)
	assert.Equal(t, clock.Now(), first.Snapshot.CapturedAt)

	clock.Advance(59 * time.Second)
	second, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)
	assert.Same(t, first.Snapshot, second.Snapshot)
	assert.Equal(t, 1, intro.Calls())

	stats := cache.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Refreshes)
}

func TestSchemaCache_ExpiredEntryRefreshes(t *testing.T) {
	clock := newFakeClock()
	intro := &datasource.MockIntrospector{}
	cache := NewSchemaCache(intro, time.Minute, zap.NewNop(), WithCacheClock(clock.Now))

	_, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	res, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)
	assert.False(t, res.Stale)
	assert.Equal(t, 2, intro.Calls())
}

func TestSchemaCache_ConcurrentRefreshIntrospectsOnce(t *testing.T) {
	release := make(chan struct{})
	var started atomic.Int32
	intro := &datasource.MockIntrospector{
		IntrospectFunc: func(ctx context.Context, id string) (*models.SchemaSnapshot, error) {
			started.Add(1)
			<-release
			return salesSnapshot(id), nil
		},
	}
	cache := NewSchemaCache(intro, time.Minute, zap.NewNop())

	const callers = 10
	var wg sync.WaitGroup
	results := make([]*models.SchemaResolution, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Get(context.Background(), "db1")
		}(i)
	}

	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	// let the remaining callers join the in-flight refresh before it completes
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, intro.Calls())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0].Snapshot, results[i].Snapshot)
	}
}

func TestSchemaCache_StaleFallbackOnRefreshFailure(t *testing.T) {
	clock := newFakeClock()
	var fail atomic.Bool
	intro := &datasource.MockIntrospector{
		IntrospectFunc: func(ctx context.Context, id string) (*models.SchemaSnapshot, error) {
			if fail.Load() {
				return nil, errors.New("connection refused")
			}
			return salesSnapshot(id), nil
		},
	}
	cache := NewSchemaCache(intro, time.Minute, zap.NewNop(), WithCacheClock(clock.Now))

	fresh, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)

	fail.Store(true)
	clock.Advance(2 * time.Minute)

	stale, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)
	assert.True(t, stale.Stale)
	assert.Same(t, fresh.Snapshot, stale.Snapshot)
	assert.Equal(t, int64(1), cache.Stats().StaleServes)
	assert.Equal(t, int64(1), cache.Stats().RefreshFailures)
}

func TestSchemaCache_UnavailableWithoutEntry(t *testing.T) {
	intro := &datasource.MockIntrospector{
		IntrospectFunc: func(ctx context.Context, id string) (*models.SchemaSnapshot, error) {
			return nil, datasource.NewDriverError(apperrors.ReasonPermission, "42501", errors.New("permission denied for schema sales"))
		},
	}
	cache := NewSchemaCache(intro, time.Minute, zap.NewNop())

	res, err := cache.Get(context.Background(), "db1")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSchemaUnavailable)

	pe := apperrors.AsPipelineError(err, apperrors.ErrSchemaUnavailable)
	assert.Contains(t, pe.Message, "not allowed")
}

func TestSchemaCache_CallerCancellationDoesNotAbortRefresh(t *testing.T) {
	release := make(chan struct{})
	intro := &datasource.MockIntrospector{
		IntrospectFunc: func(ctx context.Context, id string) (*models.SchemaSnapshot, error) {
			<-release
			return salesSnapshot(id), ctx.Err()
		},
	}
	cache := NewSchemaCache(intro, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx, "db1")
		done <- err
	}()
	cancel()
	err := <-done
	assert.ErrorIs(t, err, apperrors.ErrCanceled)

	close(release)
	res, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)
	assert.Equal(t, "db1", res.Snapshot.DatabaseID)
	assert.Equal(t, 1, intro.Calls())
}

func TestSchemaCache_PersistedSnapshot(t *testing.T) {
	clock := newFakeClock()
	intro := &datasource.MockIntrospector{}

	t.Run("fresh persisted snapshot is a hit", func(t *testing.T) {
		persisted := salesSnapshot("db1")
		persisted.CapturedAt = clock.Now().Add(-30 * time.Second)
		store := &mockSnapshotStore{
			LoadFunc: func(ctx context.Context, id string) (*models.SchemaSnapshot, error) { return persisted, nil },
		}
		cache := NewSchemaCache(intro, time.Minute, zap.NewNop(), WithCacheClock(clock.Now), WithSnapshotStore(store))

		res, err := cache.Get(context.Background(), "db1")
		require.NoError(t, err)
		assert.Same(t, persisted, res.Snapshot)
		assert.Equal(t, 0, intro.Calls())
		assert.Equal(t, int64(1), cache.Stats().StoreHits)
	})

	t.Run("store failure falls through to introspection", func(t *testing.T) {
		store := &mockSnapshotStore{
			LoadFunc: func(ctx context.Context, id string) (*models.SchemaSnapshot, error) {
				return nil, errors.New("redis: connection refused")
			},
			SaveFunc: func(ctx context.Context, s *models.SchemaSnapshot, ttl time.Duration) error {
				return errors.New("redis: connection refused")
			},
		}
		cache := NewSchemaCache(intro, time.Minute, zap.NewNop(), WithCacheClock(clock.Now), WithSnapshotStore(store))

		res, err := cache.Get(context.Background(), "db2")
		require.NoError(t, err)
		assert.Equal(t, "db2", res.Snapshot.DatabaseID)
		assert.Len(t, store.saved, 1)
	})
}

func TestSchemaCache_Invalidate(t *testing.T) {
	intro := &datasource.MockIntrospector{}
	store := &mockSnapshotStore{}
	cache := NewSchemaCache(intro, time.Hour, zap.NewNop(), WithSnapshotStore(store))

	_, err := cache.Get(context.Background(), "db1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(context.Background(), "db1"))
	_, err = cache.Get(context.Background(), "db1")
	require.NoError(t, err)

	assert.Equal(t, 2, intro.Calls())
	assert.Equal(t, []string{"db1"}, store.deleted)
}
