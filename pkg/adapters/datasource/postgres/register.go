package postgres

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

func init() {
	datasource.Register(datasource.AdapterRegistration{
		Info: datasource.AdapterInfo{
			Type:        "postgres",
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+, Aurora PostgreSQL, Supabase",
			Dialect:     sql.DialectPostgres,
		},
		PoolFactory: func(ctx context.Context, config map[string]any, logger *zap.Logger) (datasource.ConnectionPool, error) {
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewPool(ctx, cfg, logger)
		},
		IntrospectorFactory: func(pool datasource.ConnectionPool, config map[string]any, logger *zap.Logger) (datasource.SchemaIntrospector, error) {
			pg, ok := pool.(*Pool)
			if !ok {
				return nil, fmt.Errorf("postgres introspector needs a postgres pool, got %T", pool)
			}
			cfg, err := FromMap(config)
			if err != nil {
				return nil, err
			}
			return NewIntrospector(pg.PGX(), cfg, logger), nil
		},
	})
}
