package models

import (
	"strings"
	"time"
)

// SchemaSnapshot is an immutable view of a database's structure captured at a
// point in time. Refreshes replace the whole snapshot; it is never mutated.
type SchemaSnapshot struct {
	DatabaseID    string            `json:"database_id"`
	DatabaseName  string            `json:"database_name"`
	Tables        []TableMetadata   `json:"tables"`
	BusinessTerms map[string]string `json:"business_terms,omitempty"`
	CapturedAt    time.Time         `json:"captured_at"`
}

// TableMetadata describes one table in a snapshot.
type TableMetadata struct {
	Schema           string           `json:"schema,omitempty"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Columns          []ColumnMetadata `json:"columns"`
	RowCountEstimate *int64           `json:"row_count_estimate,omitempty"`
	Relationships    []Relationship   `json:"relationships,omitempty"`
}

// ColumnMetadata describes a column.
type ColumnMetadata struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key,omitempty"`
	Description  string `json:"description,omitempty"`
}

// Relationship is a foreign-key style edge from Column in the owning table to
// ReferencedColumn in ReferencedTable.
type Relationship struct {
	Column           string `json:"column"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
	Inferred         bool   `json:"inferred,omitempty"`
}

// QualifiedName returns schema.name, or just name when no schema is set.
func (t *TableMetadata) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Table finds a table by name, matching either the bare or qualified name
// case-insensitively.
func (s *SchemaSnapshot) Table(name string) (*TableMetadata, bool) {
	for i := range s.Tables {
		t := &s.Tables[i]
		if strings.EqualFold(t.Name, name) || strings.EqualFold(t.QualifiedName(), name) {
			return t, true
		}
	}
	return nil, false
}

// TableNames returns the bare table names in snapshot order.
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, len(s.Tables))
	for i, t := range s.Tables {
		names[i] = t.Name
	}
	return names
}

// WithTables returns a copy of the snapshot restricted to the given tables.
func (s *SchemaSnapshot) WithTables(tables []TableMetadata) *SchemaSnapshot {
	return &SchemaSnapshot{
		DatabaseID:    s.DatabaseID,
		DatabaseName:  s.DatabaseName,
		Tables:        tables,
		BusinessTerms: s.BusinessTerms,
		CapturedAt:    s.CapturedAt,
	}
}

// SchemaResolution is what the schema cache hands back. Stale is set when the
// snapshot is past its TTL and a refresh attempt failed.
type SchemaResolution struct {
	Snapshot *SchemaSnapshot
	Stale    bool
}
