package datasource

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

// AdapterInfo describes a registered adapter.
type AdapterInfo struct {
	Type        string `json:"type"`         // "postgres", "mssql", "duckdb"
	DisplayName string `json:"display_name"` // "PostgreSQL", "Microsoft SQL Server"
	Description string `json:"description"`
	// Dialect selects limit syntax and prompt wording for this engine.
	Dialect sql.Dialect `json:"dialect"`
}

// PoolFactory opens a connection pool from a generic config map.
type PoolFactory func(ctx context.Context, config map[string]any, logger *zap.Logger) (ConnectionPool, error)

// IntrospectorFactory builds a schema introspector over an open pool.
type IntrospectorFactory func(pool ConnectionPool, config map[string]any, logger *zap.Logger) (SchemaIntrospector, error)

// AdapterRegistration contains info + factories for one database type.
type AdapterRegistration struct {
	Info                AdapterInfo
	PoolFactory         PoolFactory
	IntrospectorFactory IntrospectorFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]AdapterRegistration)
)

// Register is called by each adapter's init() function.
func Register(reg AdapterRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[reg.Info.Type] = reg
}

// RegisteredAdapters returns info for all registered adapters, sorted by type.
func RegisteredAdapters() []AdapterInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]AdapterInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// GetRegistration returns the registration for a datasource type.
func GetRegistration(dsType string) (AdapterRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[dsType]
	return reg, ok
}

// IsRegistered checks if an adapter type is available.
func IsRegistered(dsType string) bool {
	_, ok := GetRegistration(dsType)
	return ok
}
