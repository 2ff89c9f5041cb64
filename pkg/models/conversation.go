package models

// ConversationTurn is one completed question and the query that answered it.
type ConversationTurn struct {
	Question string         `json:"question"`
	Query    CandidateQuery `json:"query"`
}

// ConversationContext holds a user's prior successful turns. Append-only.
type ConversationContext struct {
	UserID                string           `json:"user_id"`
	PriorQuestions        []string         `json:"prior_questions"`
	PriorCandidateQueries []CandidateQuery `json:"prior_candidate_queries"`
	LastSchemaSnapshotRef string           `json:"last_schema_snapshot_ref,omitempty"`
}

// Append records a successful turn.
func (c *ConversationContext) Append(question string, query CandidateQuery, snapshotRef string) {
	c.PriorQuestions = append(c.PriorQuestions, question)
	c.PriorCandidateQueries = append(c.PriorCandidateQueries, query)
	c.LastSchemaSnapshotRef = snapshotRef
}

// LastTurns returns up to n most recent turns, oldest first.
func (c *ConversationContext) LastTurns(n int) []ConversationTurn {
	total := len(c.PriorQuestions)
	if len(c.PriorCandidateQueries) < total {
		total = len(c.PriorCandidateQueries)
	}
	if n <= 0 || total == 0 {
		return nil
	}
	start := max(total-n, 0)
	turns := make([]ConversationTurn, 0, total-start)
	for i := start; i < total; i++ {
		turns = append(turns, ConversationTurn{
			Question: c.PriorQuestions[i],
			Query:    c.PriorCandidateQueries[i],
		})
	}
	return turns
}

// Clone returns a deep copy safe to hand to callers.
func (c *ConversationContext) Clone() *ConversationContext {
	out := &ConversationContext{
		UserID:                c.UserID,
		LastSchemaSnapshotRef: c.LastSchemaSnapshotRef,
		PriorQuestions:        append([]string(nil), c.PriorQuestions...),
		PriorCandidateQueries: make([]CandidateQuery, len(c.PriorCandidateQueries)),
	}
	for i, q := range c.PriorCandidateQueries {
		q.ReferencedTables = append([]string(nil), q.ReferencedTables...)
		out.PriorCandidateQueries[i] = q
	}
	return out
}
