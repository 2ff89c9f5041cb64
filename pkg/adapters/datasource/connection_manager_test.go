package datasource

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

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/retry"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// registerMockAdapter installs a "mock-<name>" adapter whose pools are
// recorded in the returned slice.
func registerMockAdapter(t *testing.T, name string, failFirst int) (*[]*MockPool, *atomic.Int32) {
	t.Helper()
	var (
		mu    sync.Mutex
		pools []*MockPool
		opens atomic.Int32
	)
	Register(AdapterRegistration{
		Info: AdapterInfo{Type: "mock-" + name, DisplayName: "Mock", Dialect: sql.DialectDuckDB},
		PoolFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (ConnectionPool, error) {
			n := opens.Add(1)
			if int(n) <= failFirst {
				return nil, errors.New("connection refused")
			}
			p := NewMockPool(2)
			p.PoolDialect = sql.DialectDuckDB
			mu.Lock()
			pools = append(pools, p)
			mu.Unlock()
			return p, nil
		},
		IntrospectorFactory: func(pool ConnectionPool, config map[string]any, logger *zap.Logger) (SchemaIntrospector, error) {
			return &MockIntrospector{
				IntrospectFunc: func(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
					return &models.SchemaSnapshot{DatabaseID: databaseID, DatabaseName: config["database"].(string)}, nil
				},
			}, nil
		},
	})
	return &pools, &opens
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestConnectionManager_DialectBeforeOpen(t *testing.T) {
	registerMockAdapter(t, "dialect", 0)
	m := NewConnectionManager([]DatasourceConfig{
		{ID: "registered", Type: "mock-dialect"},
		{ID: "warehouse", Type: "mssql"},
	}, zap.NewNop())
	defer m.Close()

	assert.Equal(t, sql.DialectDuckDB, m.Dialect("registered"), "registration decides")
	assert.Equal(t, sql.DialectMSSQL, m.Dialect("warehouse"), "falls back to the type name")
	assert.Equal(t, sql.DialectPostgres, m.Dialect("unknown"))
}

func TestConnectionManager_OpensLazilyAndReuses(t *testing.T) {
	pools, opens := registerMockAdapter(t, "reuse", 0)
	m := NewConnectionManager([]DatasourceConfig{
		{ID: "sales", Type: "mock-reuse", Config: map[string]any{"database": "sales_db"}},
	}, zap.NewNop())
	defer m.Close()

	assert.Equal(t, sql.DialectDuckDB, m.Dialect("sales"), "dialect known from type before open")
	assert.Equal(t, int32(0), opens.Load())

	snap, err := m.Introspect(context.Background(), "sales")
	require.NoError(t, err)
	assert.Equal(t, "sales_db", snap.DatabaseName)

	p1, err := m.Pool(context.Background(), "sales")
	require.NoError(t, err)
	p2, err := m.Pool(context.Background(), "sales")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, int32(1), opens.Load())
	assert.Len(t, *pools, 1)
	assert.Equal(t, []string{"sales"}, m.DatabaseIDs())
	assert.Contains(t, m.GetStats(), "sales")
}

func TestConnectionManager_RetriesTransientOpenFailures(t *testing.T) {
	_, opens := registerMockAdapter(t, "flaky", 2)
	m := NewConnectionManager([]DatasourceConfig{
		{ID: "db", Type: "mock-flaky", Config: map[string]any{"database": "x"}},
	}, zap.NewNop())
	m.SetRetryConfig(fastRetry())
	defer m.Close()

	_, err := m.Pool(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, int32(3), opens.Load())
}

func TestConnectionManager_RecreatesUnhealthyPool(t *testing.T) {
	pools, opens := registerMockAdapter(t, "unhealthy", 0)
	m := NewConnectionManager([]DatasourceConfig{
		{ID: "db", Type: "mock-unhealthy", Config: map[string]any{"database": "x"}},
	}, zap.NewNop())
	defer m.Close()

	first, err := m.Pool(context.Background(), "db")
	require.NoError(t, err)
	(*pools)[0].PingFunc = func(ctx context.Context) error { return errors.New("broken pipe") }

	second, err := m.Pool(context.Background(), "db")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.True(t, (*pools)[0].Closed())
	assert.Equal(t, int32(2), opens.Load())
}

func TestConnectionManager_UnknownAndUnregistered(t *testing.T) {
	m := NewConnectionManager([]DatasourceConfig{{ID: "x", Type: "not-compiled-in"}}, zap.NewNop())
	defer m.Close()

	_, err := m.Pool(context.Background(), "missing")
	assert.ErrorContains(t, err, "unknown database")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = m.Pool(context.Background(), "x")
	assert.ErrorContains(t, err, "not compiled in")
}

func TestConnectionManager_CloseIsIdempotent(t *testing.T) {
	pools, _ := registerMockAdapter(t, "close", 0)
	m := NewConnectionManager([]DatasourceConfig{
		{ID: "db", Type: "mock-close", Config: map[string]any{"database": "x"}},
	}, zap.NewNop())

	_, err := m.Pool(context.Background(), "db")
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, (*pools)[0].Closed())

	_, err = m.Pool(context.Background(), "db")
	assert.Error(t, err)
}

func TestPoolStats_Available(t *testing.T) {
	pool := NewMockPool(3)
	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), pool.Stats().Available())
	conn.Release()
	conn.Release()
	assert.Equal(t, int32(3), pool.Stats().Available())
}
