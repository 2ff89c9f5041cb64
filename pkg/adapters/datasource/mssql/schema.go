package mssql

import (
	"context"
	dbsql "database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

const tablesQuery = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    SUM(p.rows) AS row_count,
	    CAST(ISNULL(ep.value, '') AS NVARCHAR(4000)) AS description
	FROM sys.tables t
	INNER JOIN sys.partitions p ON t.object_id = p.object_id AND p.index_id IN (0, 1)
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = t.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
	WHERE t.is_ms_shipped = 0
	  AND (@schema = N'' OR SCHEMA_NAME(t.schema_id) = @schema)
	GROUP BY t.schema_id, t.name, ep.value
	ORDER BY table_schema, table_name`

const columnsQuery = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(t.schema_id) AS table_schema,
	    t.name AS table_name,
	    c.name AS column_name,
	    tp.name AS data_type,
	    CASE WHEN c.is_nullable = 1 THEN 1 ELSE 0 END AS is_nullable,
	    CASE WHEN pk.column_id IS NOT NULL THEN 1 ELSE 0 END AS is_primary_key,
	    CAST(ISNULL(ep.value, '') AS NVARCHAR(4000)) AS description
	FROM sys.columns c
	INNER JOIN sys.tables t ON t.object_id = c.object_id
	INNER JOIN sys.types tp ON c.user_type_id = tp.user_type_id
	LEFT JOIN (
	    SELECT ic.object_id, ic.column_id
	    FROM sys.index_columns ic
	    INNER JOIN sys.indexes i ON ic.object_id = i.object_id AND ic.index_id = i.index_id
	    WHERE i.is_primary_key = 1
	) pk ON c.object_id = pk.object_id AND c.column_id = pk.column_id
	LEFT JOIN sys.extended_properties ep
	    ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = 'MS_Description'
	WHERE t.is_ms_shipped = 0
	  AND (@schema = N'' OR SCHEMA_NAME(t.schema_id) = @schema)
	ORDER BY table_schema, table_name, c.column_id`

const foreignKeysQuery = `
	SET NOCOUNT ON;
	SELECT
	    SCHEMA_NAME(fk.schema_id) AS source_schema,
	    OBJECT_NAME(fk.parent_object_id) AS source_table,
	    COL_NAME(fkc.parent_object_id, fkc.parent_column_id) AS source_column,
	    SCHEMA_NAME(rt.schema_id) AS target_schema,
	    OBJECT_NAME(fk.referenced_object_id) AS target_table,
	    COL_NAME(fkc.referenced_object_id, fkc.referenced_column_id) AS target_column
	FROM sys.foreign_keys fk
	INNER JOIN sys.foreign_key_columns fkc ON fk.object_id = fkc.constraint_object_id
	INNER JOIN sys.tables rt ON fk.referenced_object_id = rt.object_id
	WHERE fk.is_ms_shipped = 0
	  AND (@schema = N'' OR SCHEMA_NAME(fk.schema_id) = @schema)
	ORDER BY source_schema, source_table, fk.name, fkc.constraint_column_id`

// Introspector reads SQL Server catalog views into a snapshot.
type Introspector struct {
	db       *dbsql.DB
	database string
	schema   string
	logger   *zap.Logger
	now      func() time.Time
}

// NewIntrospector creates an introspector over db.
func NewIntrospector(db *dbsql.DB, cfg *Config, logger *zap.Logger) *Introspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Introspector{
		db:       db,
		database: cfg.Database,
		schema:   cfg.Schema,
		logger:   logger.Named("mssql-introspector"),
		now:      time.Now,
	}
}

type tableKey struct{ schema, name string }

// Introspect implements datasource.SchemaIntrospector.
func (s *Introspector) Introspect(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	schemaArg := dbsql.Named("schema", s.schema)

	rows, err := s.db.QueryContext(ctx, tablesQuery, schemaArg)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", classify(err))
	}
	var tables []models.TableMetadata
	index := make(map[tableKey]int)
	for rows.Next() {
		var (
			t        models.TableMetadata
			rowCount int64
		)
		if err := rows.Scan(&t.Schema, &t.Name, &rowCount, &t.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		t.RowCountEstimate = &rowCount
		index[tableKey{t.Schema, t.Name}] = len(tables)
		tables = append(tables, t)
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, columnsQuery, schemaArg)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", classify(err))
	}
	for rows.Next() {
		var (
			schema, table         string
			c                     models.ColumnMetadata
			isNullable, isPrimary int
		)
		if err := rows.Scan(&schema, &table, &c.Name, &c.DataType, &isNullable, &isPrimary, &c.Description); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan column row: %w", err)
		}
		c.Nullable = isNullable == 1
		c.IsPrimaryKey = isPrimary == 1
		c.DataType = mapSQLServerType(c.DataType)
		if i, ok := index[tableKey{schema, table}]; ok {
			tables[i].Columns = append(tables[i].Columns, c)
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate column rows: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, foreignKeysQuery, schemaArg)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", classify(err))
	}
	for rows.Next() {
		var srcSchema, srcTable, srcCol, tgtSchema, tgtTable, tgtCol string
		if err := rows.Scan(&srcSchema, &srcTable, &srcCol, &tgtSchema, &tgtTable, &tgtCol); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan foreign key row: %w", err)
		}
		i, ok := index[tableKey{srcSchema, srcTable}]
		if !ok {
			continue
		}
		tables[i].Relationships = append(tables[i].Relationships, models.Relationship{
			Column:           srcCol,
			ReferencedTable:  tgtSchema + "." + tgtTable,
			ReferencedColumn: tgtCol,
		})
	}
	if err := closeRows(rows); err != nil {
		return nil, fmt.Errorf("iterate foreign key rows: %w", err)
	}

	s.logger.Debug("Introspected schema",
		zap.String("database_id", databaseID),
		zap.Int("tables", len(tables)))

	return &models.SchemaSnapshot{
		DatabaseID:   databaseID,
		DatabaseName: s.database,
		Tables:       datasource.InferRelationships(tables),
		CapturedAt:   s.now().UTC(),
	}, nil
}

func closeRows(rows *dbsql.Rows) error {
	err := rows.Err()
	rows.Close()
	if err != nil {
		return classify(err)
	}
	return nil
}

var _ datasource.SchemaIntrospector = (*Introspector)(nil)
