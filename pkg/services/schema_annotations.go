package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// SchemaAnnotations are curated descriptions and business vocabulary layered
// over introspected metadata. Loaded from YAML:
//
//	business_terms:
//	  ARR: annual recurring revenue, sum of active subscriptions.amount * 12
//	tables:
//	  orders:
//	    description: One row per checkout.
//	    columns:
//	      total: Order total in USD including tax.
type SchemaAnnotations struct {
	BusinessTerms map[string]string          `yaml:"business_terms"`
	Tables        map[string]TableAnnotation `yaml:"tables"`
}

// TableAnnotation describes one table and its columns.
type TableAnnotation struct {
	Description string            `yaml:"description"`
	Columns     map[string]string `yaml:"columns"`
}

// LoadSchemaAnnotations reads annotations from path.
func LoadSchemaAnnotations(path string) (*SchemaAnnotations, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read annotations %s: %w", path, err)
	}
	return ParseSchemaAnnotations(data)
}

// ParseSchemaAnnotations decodes annotation YAML.
func ParseSchemaAnnotations(data []byte) (*SchemaAnnotations, error) {
	var a SchemaAnnotations
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse annotations: %w", err)
	}
	return &a, nil
}

// Apply returns a copy of snapshot with annotation text filled in. Curated text
// replaces introspected comments. Table keys match bare or qualified names
// case-insensitively.
func (a *SchemaAnnotations) Apply(snapshot *models.SchemaSnapshot) *models.SchemaSnapshot {
	if a == nil || snapshot == nil {
		return snapshot
	}

	byName := make(map[string]TableAnnotation, len(a.Tables))
	for name, ann := range a.Tables {
		byName[strings.ToLower(name)] = ann
	}

	tables := make([]models.TableMetadata, len(snapshot.Tables))
	for i, t := range snapshot.Tables {
		t.Columns = append([]models.ColumnMetadata(nil), t.Columns...)
		ann, ok := byName[strings.ToLower(t.QualifiedName())]
		if !ok {
			ann, ok = byName[strings.ToLower(t.Name)]
		}
		if ok {
			if ann.Description != "" {
				t.Description = ann.Description
			}
			for j := range t.Columns {
				if desc := lookupFold(ann.Columns, t.Columns[j].Name); desc != "" {
					t.Columns[j].Description = desc
				}
			}
		}
		tables[i] = t
	}

	out := snapshot.WithTables(tables)
	if len(a.BusinessTerms) > 0 {
		terms := make(map[string]string, len(snapshot.BusinessTerms)+len(a.BusinessTerms))
		for k, v := range snapshot.BusinessTerms {
			terms[k] = v
		}
		for k, v := range a.BusinessTerms {
			terms[k] = v
		}
		out.BusinessTerms = terms
	}
	return out
}

func lookupFold(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

type annotatedIntrospector struct {
	next        datasource.SchemaIntrospector
	annotations *SchemaAnnotations
}

// NewAnnotatedIntrospector decorates next so every snapshot carries the
// annotations.
func NewAnnotatedIntrospector(next datasource.SchemaIntrospector, annotations *SchemaAnnotations) datasource.SchemaIntrospector {
	if annotations == nil {
		return next
	}
	return &annotatedIntrospector{next: next, annotations: annotations}
}

func (a *annotatedIntrospector) Introspect(ctx context.Context, databaseID string) (*models.SchemaSnapshot, error) {
	snap, err := a.next.Introspect(ctx, databaseID)
	if err != nil {
		return nil, err
	}
	return a.annotations.Apply(snap), nil
}
