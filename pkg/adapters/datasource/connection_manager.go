package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/retry"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

const healthCheckTimeout = 5 * time.Second

// DatasourceConfig names one database the service can answer questions about.
type DatasourceConfig struct {
	ID     string
	Type   string
	Config map[string]any
}

// ConnectionManager owns one pool per configured database. Pools are opened
// lazily on first use, health-checked on reuse and recreated when unhealthy.
// It implements SchemaIntrospector by delegating to the datasource's adapter.
type ConnectionManager struct {
	mu          sync.RWMutex
	configs     map[string]DatasourceConfig
	connections map[string]*Datasource
	retryCfg    *retry.Config
	stopped     bool
	logger      *zap.Logger
}

// NewConnectionManager creates a manager for the given datasources.
func NewConnectionManager(configs []DatasourceConfig, logger *zap.Logger) *ConnectionManager {
	m := &ConnectionManager{
		configs:     make(map[string]DatasourceConfig, len(configs)),
		connections: make(map[string]*Datasource),
		retryCfg:    retry.DefaultConfig(),
		logger:      logger.Named("connection-manager"),
	}
	for _, c := range configs {
		m.configs[c.ID] = c
	}
	return m
}

// SetRetryConfig overrides the backoff used when opening pools.
func (m *ConnectionManager) SetRetryConfig(cfg *retry.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCfg = cfg
}

// Attach registers an already-open datasource, replacing any previous one.
// Used by tests and by callers that build pools themselves.
func (m *ConnectionManager) Attach(ds *Datasource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.connections[ds.ID]; ok && old != ds {
		_ = old.Close()
	}
	if _, ok := m.configs[ds.ID]; !ok {
		m.configs[ds.ID] = DatasourceConfig{ID: ds.ID, Type: ds.Type}
	}
	m.connections[ds.ID] = ds
}

// DatabaseIDs returns the configured database IDs, sorted.
func (m *ConnectionManager) DatabaseIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.configs))
	for id := range m.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Get returns the open datasource for databaseID, opening it if needed.
func (m *ConnectionManager) Get(ctx context.Context, databaseID string) (*Datasource, error) {
	m.mu.RLock()
	ds, exists := m.connections[databaseID]
	stopped := m.stopped
	m.mu.RUnlock()

	if stopped {
		return nil, fmt.Errorf("connection manager closed")
	}

	if exists {
		healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
		defer cancel()
		err := ds.Pool.Ping(healthCtx)
		if err == nil {
			return ds, nil
		}
		m.logger.Warn("datasource unhealthy, recreating",
			zap.String("database_id", databaseID),
			zap.String("error", logging.SanitizeError(err)),
		)
		m.remove(databaseID, ds)
	}
	return m.open(ctx, databaseID)
}

// Pool returns the connection pool for databaseID.
func (m *ConnectionManager) Pool(ctx context.Context, databaseID string) (ConnectionPool, error) {
	ds, err := m.Get(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return ds.Pool, nil
}

// Dialect reports the SQL dialect of databaseID without opening it.
func (m *ConnectionManager) Dialect(databaseID string) sql.Dialect {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ds, ok := m.connections[databaseID]; ok {
		return ds.Pool.Dialect()
	}
	if c, ok := m.configs[databaseID]; ok {
		if reg, ok := GetRegistration(c.Type); ok && reg.Info.Dialect != "" {
			return reg.Info.Dialect
		}
		return sql.DialectForType(c.Type)
	}
	return sql.DialectPostgres
}

// Introspect implements SchemaIntrospector.
func (m *ConnectionManager) Introspect(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	ds, err := m.Get(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return ds.Introspector.Introspect(ctx, databaseID)
}

func (m *ConnectionManager) open(ctx context.Context, databaseID string) (*Datasource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another goroutine may have opened it while we waited for the lock.
	if ds, ok := m.connections[databaseID]; ok {
		return ds, nil
	}

	cfg, ok := m.configs[databaseID]
	if !ok {
		return nil, fmt.Errorf("unknown database %q: %w", databaseID, apperrors.ErrNotFound)
	}
	reg, ok := GetRegistration(cfg.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported datasource type: %s (not compiled in)", cfg.Type)
	}

	pool, err := retry.DoWithResult(ctx, m.retryCfg, func() (ConnectionPool, error) {
		return reg.PoolFactory(ctx, cfg.Config, m.logger)
	})
	if err != nil {
		m.logger.Error("failed to open datasource after retries",
			zap.String("database_id", databaseID),
			zap.String("type", cfg.Type),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("open datasource %s: %w", databaseID, err)
	}

	introspector, err := reg.IntrospectorFactory(pool, cfg.Config, m.logger)
	if err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("create introspector for %s: %w", databaseID, err)
	}

	ds := &Datasource{ID: databaseID, Type: cfg.Type, Pool: pool, Introspector: introspector}
	m.connections[databaseID] = ds

	m.logger.Info("opened datasource",
		zap.String("database_id", databaseID),
		zap.String("type", cfg.Type),
		zap.Int32("max_conns", pool.Stats().MaxConns),
	)
	return ds, nil
}

func (m *ConnectionManager) remove(databaseID string, ds *Datasource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.connections[databaseID]; ok && current == ds {
		delete(m.connections, databaseID)
		_ = ds.Close()
	}
}

// TestConnection opens (if needed) and pings databaseID.
func (m *ConnectionManager) TestConnection(ctx context.Context, databaseID string) error {
	ds, err := m.Get(ctx, databaseID)
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	return ds.Pool.Ping(pingCtx)
}

// Close closes every open pool. Idempotent.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true
	for id, ds := range m.connections {
		if err := ds.Close(); err != nil {
			m.logger.Warn("failed to close datasource", zap.String("database_id", id), zap.Error(err))
		}
	}
	m.connections = make(map[string]*Datasource)
	m.logger.Info("connection manager closed")
	return nil
}

// GetStats returns per-database pool statistics for open datasources.
func (m *ConnectionManager) GetStats() map[string]PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]PoolStats, len(m.connections))
	for id, ds := range m.connections {
		stats[id] = ds.Pool.Stats()
	}
	return stats
}
