//go:build duckdb || all_adapters

package duckdb

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource/sqldb"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "duckdb",
			DisplayName: "DuckDB",
			Description: "Local DuckDB database files",
			Dialect:     sql.DialectDuckDB,
		},
		PoolFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.ConnectionPool, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewPool(ctx, cfg)
		},
		IntrospectorFactory: func(pool datasource.ConnectionPool, config map[string]any, logger *zap.Logger) (datasource.SchemaIntrospector, error) {
			p, ok := pool.(*sqldb.Pool)
			if !ok {
				return nil, fmt.Errorf("duckdb introspector needs a database/sql pool, got %T", pool)
			}
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewIntrospector(p.DB(), cfg, logger), nil
		},
	})
}
