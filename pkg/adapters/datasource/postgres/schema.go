package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// Introspector reads tables, columns and foreign keys from the catalog.
type Introspector struct {
	pool     *pgxpool.Pool
	database string
	schema   string // optional filter; empty means every user schema
	logger   *zap.Logger
	now      func() time.Time
}

// NewIntrospector creates an introspector over an open pool.
func NewIntrospector(pool *pgxpool.Pool, cfg *Config, logger *zap.Logger) *Introspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Introspector{
		pool:     pool,
		database: cfg.Database,
		schema:   cfg.Schema,
		logger:   logger.Named("postgres-introspector"),
		now:      time.Now,
	}
}

type tableKey struct{ schema, name string }

// Introspect implements datasource.SchemaIntrospector.
func (d *Introspector) Introspect(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	tables, index, err := d.discoverTables(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.discoverColumns(ctx, tables, index); err != nil {
		return nil, err
	}
	if err := d.discoverForeignKeys(ctx, tables, index); err != nil {
		return nil, err
	}

	d.logger.Debug("Introspected schema",
		zap.String("database_id", databaseID),
		zap.Int("tables", len(tables)))

	return &models.SchemaSnapshot{
		DatabaseID:   databaseID,
		DatabaseName: d.database,
		Tables:       datasource.InferRelationships(tables),
		CapturedAt:   d.now().UTC(),
	}, nil
}

// schemaFilter returns a predicate on alias.table_schema and its argument.
func (d *Introspector) schemaFilter(alias string) (string, []any) {
	if d.schema != "" {
		return fmt.Sprintf("%s.table_schema = $1", alias), []any{d.schema}
	}
	return fmt.Sprintf("%s.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')", alias), nil
}

func (d *Introspector) discoverTables(ctx context.Context) ([]models.TableMetadata, map[tableKey]int, error) {
	where, args := d.schemaFilter("t")
	query := `
		SELECT
			t.table_schema,
			t.table_name,
			CASE WHEN c.reltuples < 0 THEN NULL ELSE c.reltuples::bigint END AS row_count,
			COALESCE(obj_description(c.oid, 'pg_class'), '') AS description
		FROM information_schema.tables t
		LEFT JOIN pg_namespace n ON n.nspname = t.table_schema
		LEFT JOIN pg_class c ON c.relname = t.table_name AND c.relnamespace = n.oid
		WHERE t.table_type IN ('BASE TABLE', 'VIEW')
		  AND ` + where + `
		ORDER BY t.table_schema, t.table_name`

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query tables: %w", classify(err))
	}
	defer rows.Close()

	var tables []models.TableMetadata
	index := make(map[tableKey]int)
	for rows.Next() {
		var t models.TableMetadata
		if err := rows.Scan(&t.Schema, &t.Name, &t.RowCountEstimate, &t.Description); err != nil {
			return nil, nil, fmt.Errorf("scan table: %w", err)
		}
		index[tableKey{t.Schema, t.Name}] = len(tables)
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tables: %w", classify(err))
	}
	return tables, index, nil
}

// discoverColumns uses pg_index for primary keys, which also catches keys
// created as unique indexes by ORMs.
func (d *Introspector) discoverColumns(ctx context.Context, tables []models.TableMetadata, index map[tableKey]int) error {
	where, args := d.schemaFilter("c")
	query := `
		SELECT
			c.table_schema,
			c.table_name,
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES' AS is_nullable,
			COALESCE(pk.is_pk, false) AS is_primary_key,
			COALESCE(col_description(pc.oid, c.ordinal_position::int), '') AS description
		FROM information_schema.columns c
		LEFT JOIN pg_namespace n ON n.nspname = c.table_schema
		LEFT JOIN pg_class pc ON pc.relname = c.table_name AND pc.relnamespace = n.oid
		LEFT JOIN (
			SELECT ix.indrelid, a.attname, true AS is_pk
			FROM pg_index ix
			JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = ANY(ix.indkey)
			WHERE ix.indisprimary
		) pk ON pk.indrelid = pc.oid AND pk.attname = c.column_name
		WHERE ` + where + `
		ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query columns: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schema, table string
			c             models.ColumnMetadata
		)
		if err := rows.Scan(&schema, &table, &c.Name, &c.DataType, &c.Nullable, &c.IsPrimaryKey, &c.Description); err != nil {
			return fmt.Errorf("scan column: %w", err)
		}
		if i, ok := index[tableKey{schema, table}]; ok {
			tables[i].Columns = append(tables[i].Columns, c)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns: %w", classify(err))
	}
	return nil
}

func (d *Introspector) discoverForeignKeys(ctx context.Context, tables []models.TableMetadata, index map[tableKey]int) error {
	where, args := d.schemaFilter("tc")
	query := `
		SELECT
			kcu.table_schema,
			kcu.table_name,
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND ` + where + `
		ORDER BY kcu.table_schema, kcu.table_name, kcu.ordinal_position`

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query foreign keys: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		var srcSchema, srcTable, srcCol, tgtSchema, tgtTable, tgtCol string
		if err := rows.Scan(&srcSchema, &srcTable, &srcCol, &tgtSchema, &tgtTable, &tgtCol); err != nil {
			return fmt.Errorf("scan foreign key: %w", err)
		}
		i, ok := index[tableKey{srcSchema, srcTable}]
		if !ok {
			continue
		}
		target := models.TableMetadata{Schema: tgtSchema, Name: tgtTable}
		tables[i].Relationships = append(tables[i].Relationships, models.Relationship{
			Column:           srcCol,
			ReferencedTable:  target.QualifiedName(),
			ReferencedColumn: tgtCol,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate foreign keys: %w", classify(err))
	}
	return nil
}

var _ datasource.SchemaIntrospector = (*Introspector)(nil)
