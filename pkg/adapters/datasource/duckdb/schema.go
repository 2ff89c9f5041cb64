//go:build duckdb || all_adapters

package duckdb

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource/sqldb"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

const tablesQuery = `
	SELECT schema_name, table_name, estimated_size, COALESCE(comment, '')
	FROM duckdb_tables()
	WHERE NOT internal AND NOT temporary
	  AND ($1 = '' OR schema_name = $1)
	ORDER BY schema_name, table_name`

const columnsQuery = `
	SELECT c.schema_name, c.table_name, c.column_name, c.data_type, c.is_nullable,
	       COALESCE(pk.is_pk, false), COALESCE(c.comment, '')
	FROM duckdb_columns() c
	LEFT JOIN (
	    SELECT schema_name, table_name, unnest(constraint_column_names) AS column_name, true AS is_pk
	    FROM duckdb_constraints()
	    WHERE constraint_type = 'PRIMARY KEY'
	) pk ON pk.schema_name = c.schema_name AND pk.table_name = c.table_name AND pk.column_name = c.column_name
	WHERE NOT c.internal
	  AND ($1 = '' OR c.schema_name = $1)
	ORDER BY c.schema_name, c.table_name, c.column_index`

const foreignKeysQuery = `
	SELECT schema_name, table_name,
	       unnest(constraint_column_names) AS source_column,
	       referenced_table,
	       unnest(referenced_column_names) AS target_column
	FROM duckdb_constraints()
	WHERE constraint_type = 'FOREIGN KEY'
	  AND ($1 = '' OR schema_name = $1)`

// Introspector reads DuckDB's catalog functions into a snapshot.
type Introspector struct {
	db     *dbsql.DB
	name   string
	schema string
	logger *zap.Logger
	now    func() time.Time
}

// NewIntrospector creates an introspector over db.
func NewIntrospector(db *dbsql.DB, cfg *Config, logger *zap.Logger) *Introspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Path
	if name == "" {
		name = "memory"
	}
	return &Introspector{db: db, name: name, schema: cfg.Schema, logger: logger.Named("duckdb-introspector"), now: time.Now}
}

type tableKey struct{ schema, name string }

// Introspect implements datasource.SchemaIntrospector.
func (d *Introspector) Introspect(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	rows, err := d.db.QueryContext(ctx, tablesQuery, d.schema)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", sqldb.DefaultClassifier(err))
	}
	var tables []models.TableMetadata
	index := make(map[tableKey]int)
	for rows.Next() {
		var (
			t    models.TableMetadata
			size dbsql.NullInt64
		)
		if err := rows.Scan(&t.Schema, &t.Name, &size, &t.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table: %w", err)
		}
		if size.Valid {
			n := size.Int64
			t.RowCountEstimate = &n
		}
		index[tableKey{t.Schema, t.Name}] = len(tables)
		tables = append(tables, t)
	}
	if err := finish(rows); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	rows, err = d.db.QueryContext(ctx, columnsQuery, d.schema)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", sqldb.DefaultClassifier(err))
	}
	for rows.Next() {
		var (
			schema, table string
			c             models.ColumnMetadata
		)
		if err := rows.Scan(&schema, &table, &c.Name, &c.DataType, &c.Nullable, &c.IsPrimaryKey, &c.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if i, ok := index[tableKey{schema, table}]; ok {
			tables[i].Columns = append(tables[i].Columns, c)
		}
	}
	if err := finish(rows); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}

	rows, err = d.db.QueryContext(ctx, foreignKeysQuery, d.schema)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", sqldb.DefaultClassifier(err))
	}
	for rows.Next() {
		var schema, table, srcCol, refTable, refCol string
		if err := rows.Scan(&schema, &table, &srcCol, &refTable, &refCol); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		if i, ok := index[tableKey{schema, table}]; ok {
			tables[i].Relationships = append(tables[i].Relationships, models.Relationship{
				Column:           srcCol,
				ReferencedTable:  refTable,
				ReferencedColumn: refCol,
			})
		}
	}
	if err := finish(rows); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}

	d.logger.Debug("Introspected schema", zap.String("database_id", databaseID), zap.Int("tables", len(tables)))
	return &models.SchemaSnapshot{
		DatabaseID:   databaseID,
		DatabaseName: d.name,
		Tables:       datasource.InferRelationships(tables),
		CapturedAt:   d.now().UTC(),
	}, nil
}

func finish(rows *dbsql.Rows) error {
	err := rows.Err()
	rows.Close()
	return sqldb.DefaultClassifier(err)
}

var _ datasource.SchemaIntrospector = (*Introspector)(nil)
