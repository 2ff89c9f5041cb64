package datasource

import (
	"strings"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// InferRelationships adds relationships for columns named <entity>_id that
// point at a table named <entity> or its plural with an id column, when no
// declared relationship already covers the column. Inferred edges are marked
// Inferred. The input is not modified.
func InferRelationships(tables []models.TableMetadata) []models.TableMetadata {
	byName := make(map[string]int, len(tables))
	for i, t := range tables {
		byName[strings.ToLower(t.Name)] = i
	}

	out := make([]models.TableMetadata, len(tables))
	for i, t := range tables {
		declared := make(map[string]bool, len(t.Relationships))
		for _, r := range t.Relationships {
			declared[strings.ToLower(r.Column)] = true
		}
		rels := append([]models.Relationship(nil), t.Relationships...)

		for _, c := range t.Columns {
			col := strings.ToLower(c.Name)
			if c.IsPrimaryKey || declared[col] || !strings.HasSuffix(col, "_id") {
				continue
			}
			entity := strings.TrimSuffix(col, "_id")
			if entity == "" {
				continue
			}
			target, ok := findEntityTable(byName, entity)
			if !ok || target == i {
				continue
			}
			refCol, ok := idColumn(tables[target])
			if !ok {
				continue
			}
			rels = append(rels, models.Relationship{
				Column:           c.Name,
				ReferencedTable:  tables[target].QualifiedName(),
				ReferencedColumn: refCol,
				Inferred:         true,
			})
		}

		t.Relationships = rels
		out[i] = t
	}
	return out
}

func findEntityTable(byName map[string]int, entity string) (int, bool) {
	for _, candidate := range []string{entity, inflection.Plural(entity), inflection.Singular(entity)} {
		if idx, ok := byName[candidate]; ok {
			return idx, true
		}
	}
	return 0, false
}

func idColumn(t models.TableMetadata) (string, bool) {
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			return c.Name, true
		}
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, "id") {
			return c.Name, true
		}
	}
	return "", false
}
