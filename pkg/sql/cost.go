package sql

import "math"

// CostEstimate is a cheap static guess at how expensive a statement is.
// Score is in [0, 1].
type CostEstimate struct {
	Score   float64
	Factors []string
}

var windowFunctions = []string{"ROW_NUMBER", "RANK", "DENSE_RANK", "LAG", "LEAD", "NTILE", "FIRST_VALUE", "LAST_VALUE"}

// EstimateCost scores the statement from its shape: referenced tables, joins,
// subqueries, aggregation, DISTINCT, window functions and unbounded sorts.
func EstimateCost(s *Statement) CostEstimate {
	var est CostEstimate
	add := func(weight float64, factor string) {
		est.Score += weight
		est.Factors = append(est.Factors, factor)
	}

	if n := len(s.Tables()); n > 0 {
		add(float64(n)*0.1, "tables")
	}
	if n := s.CountKeyword("JOIN"); n > 0 {
		add(float64(n)*0.15, "joins")
	}
	if n := s.CountKeyword("SELECT") - 1; n > 0 {
		add(float64(n)*0.2, "subqueries")
	}
	if s.HasPhrase("GROUP", "BY") {
		add(0.15, "group by")
	}
	if s.HasPhrase("ORDER", "BY") {
		if _, limited := s.Limit(); !limited {
			add(0.1, "order by without limit")
		}
	}
	if s.HasKeyword("DISTINCT", false) {
		add(0.1, "distinct")
	}
	for _, fn := range windowFunctions {
		if s.HasKeyword(fn, false) {
			add(0.15, "window function")
			break
		}
	}

	est.Score = math.Min(math.Round(est.Score*100)/100, 1.0)
	return est
}

// HasFilter reports whether the statement restricts rows with WHERE or
// combines tables with JOIN at any level.
func (s *Statement) HasFilter() bool {
	return s.HasKeyword("WHERE", false) || s.HasKeyword("JOIN", false) || s.HasKeyword("ON", false)
}
