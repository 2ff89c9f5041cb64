package services

import (
	"sort"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

const (
	defaultMaxTablesInContext = 10

	tableNameWeight   = 3
	columnNameWeight  = 2
	descriptionWeight = 1
)

// SchemaFilter picks the part of a snapshot relevant to a question so the
// prompt stays bounded.
type SchemaFilter interface {
	// Filter returns a snapshot restricted to the relevant tables, in the
	// original table order. The input is not modified.
	Filter(snapshot *models.SchemaSnapshot, question string) *models.SchemaSnapshot
}

type schemaFilter struct {
	maxTables int
}

// NewSchemaFilter creates a filter keeping at most maxTables scored tables
// (before adding directly related tables).
func NewSchemaFilter(maxTables int) SchemaFilter {
	if maxTables <= 0 {
		maxTables = defaultMaxTablesInContext
	}
	return &schemaFilter{maxTables: maxTables}
}

var _ SchemaFilter = (*schemaFilter)(nil)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true, "in": true, "on": true,
	"for": true, "to": true, "by": true, "with": true, "from": true, "at": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "what": true, "which": true, "who": true, "how": true,
	"many": true, "much": true, "me": true, "show": true, "list": true, "give": true, "get": true,
	"all": true, "each": true, "per": true, "do": true, "does": true, "did": true, "have": true,
	"has": true, "my": true, "our": true, "we": true, "i": true, "it": true, "this": true, "that": true,
	"last": true, "than": true, "top": true, "find": true, "tell": true, "there": true, "as": true,
	"id": true,
}

func (f *schemaFilter) Filter(snapshot *models.SchemaSnapshot, question string) *models.SchemaSnapshot {
	if snapshot == nil {
		return nil
	}
	terms := tokenSet(question)

	type scored struct {
		idx   int
		score int
	}
	scores := make([]scored, len(snapshot.Tables))
	for i := range snapshot.Tables {
		scores[i] = scored{idx: i, score: scoreTable(&snapshot.Tables[i], terms)}
	}
	sort.SliceStable(scores, func(a, b int) bool { return scores[a].score > scores[b].score })

	keep := make(map[int]bool, f.maxTables)
	for _, s := range scores {
		if len(keep) == f.maxTables || s.score <= 0 {
			break
		}
		keep[s.idx] = true
	}
	if len(keep) == 0 {
		for i := 0; i < len(snapshot.Tables) && i < f.maxTables; i++ {
			keep[i] = true
		}
	}

	for _, idx := range relatedTables(snapshot, keep) {
		keep[idx] = true
	}

	tables := make([]models.TableMetadata, 0, len(keep))
	for i, t := range snapshot.Tables {
		if keep[i] {
			tables = append(tables, t)
		}
	}
	return snapshot.WithTables(tables)
}

// scoreTable counts each question term once, at the weight of the strongest
// place it matches.
func scoreTable(t *models.TableMetadata, terms map[string]bool) int {
	if len(terms) == 0 {
		return 0
	}
	nameTokens := tokenSet(t.Name)
	columnTokens := map[string]bool{}
	descTokens := tokenSet(t.Description)
	for _, c := range t.Columns {
		for tok := range tokenSet(c.Name) {
			columnTokens[tok] = true
		}
		for tok := range tokenSet(c.Description) {
			descTokens[tok] = true
		}
	}

	score := 0
	for term := range terms {
		switch {
		case nameTokens[term]:
			score += tableNameWeight
		case columnTokens[term]:
			score += columnNameWeight
		case descTokens[term]:
			score += descriptionWeight
		}
	}
	return score
}

// relatedTables returns tables one relationship edge away, in either
// direction, from the kept set.
func relatedTables(snapshot *models.SchemaSnapshot, keep map[int]bool) []int {
	index := make(map[string]int, len(snapshot.Tables)*2)
	for i := range snapshot.Tables {
		t := &snapshot.Tables[i]
		index[strings.ToLower(t.Name)] = i
		index[strings.ToLower(t.QualifiedName())] = i
	}
	resolve := func(name string) (int, bool) {
		idx, ok := index[strings.ToLower(name)]
		return idx, ok
	}

	var out []int
	for i, t := range snapshot.Tables {
		for _, rel := range t.Relationships {
			target, ok := resolve(rel.ReferencedTable)
			if !ok || target == i {
				continue
			}
			switch {
			case keep[i] && !keep[target]:
				out = append(out, target)
			case keep[target] && !keep[i]:
				out = append(out, i)
			}
		}
	}
	return out
}

// tokenSet lower-cases text, splits on anything that is not a letter or digit,
// drops stop words and folds plurals to their singular form.
func tokenSet(text string) map[string]bool {
	out := map[string]bool{}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		out[inflection.Singular(f)] = true
	}
	return out
}
