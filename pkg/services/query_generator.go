package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-askdb/pkg/llm"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/retry"
	"github.com/ekaya-inc/ekaya-askdb/pkg/sql"
)

const defaultMaxPriorTurns = 3

const generatorSystemMessage = `You translate questions about a relational database into a single read-only SQL query.
Use only the tables and columns listed in the schema. Never modify data.
Respond with one JSON object and nothing else:
{"sql": "<query>", "explanation": "<one sentence>", "confidence": <number between 0 and 1>, "referenced_tables": ["<table>", ...]}`

// QueryGenerator turns a question plus schema context into a candidate query.
type QueryGenerator interface {
	Generate(ctx context.Context, filtered *models.SchemaSnapshot, question string, priorTurns []models.ConversationTurn) (*models.CandidateQuery, error)
}

// QueryGeneratorConfig tunes prompt construction and provider calls.
type QueryGeneratorConfig struct {
	Temperature   float64
	MaxTokens     int
	MaxPriorTurns int
	// Retry applies to retryable provider errors only. Nil disables retries.
	Retry *retry.Config
	// Dialect names the SQL dialect in the prompt for a database ID.
	Dialect func(databaseID string) sql.Dialect
}

type queryGenerator struct {
	client llm.TextGenerator
	cfg    QueryGeneratorConfig
	logger *zap.Logger
}

// NewQueryGenerator creates a generator over client.
func NewQueryGenerator(client llm.TextGenerator, cfg QueryGeneratorConfig, logger *zap.Logger) QueryGenerator {
	if cfg.MaxPriorTurns <= 0 {
		cfg.MaxPriorTurns = defaultMaxPriorTurns
	}
	if cfg.Retry == nil {
		cfg.Retry = &retry.Config{MaxRetries: 0}
	}
	return &queryGenerator{
		client: client,
		cfg:    cfg,
		logger: logger.Named("query-generator"),
	}
}

var _ QueryGenerator = (*queryGenerator)(nil)

// generationResponse is decoded loosely; models return confidence as numbers,
// strings or percentages and table lists as arrays or comma lists.
type generationResponse struct {
	SQL              json.RawMessage `json:"sql"`
	Explanation      json.RawMessage `json:"explanation"`
	Confidence       json.RawMessage `json:"confidence"`
	ReferencedTables json.RawMessage `json:"referenced_tables"`
}

func (g *queryGenerator) Generate(ctx context.Context, filtered *models.SchemaSnapshot, question string, priorTurns []models.ConversationTurn) (*models.CandidateQuery, error) {
	prompt := llm.Prompt{
		System:      generatorSystemMessage,
		User:        g.buildPrompt(filtered, question, priorTurns),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		JSON:        true,
	}

	raw, err := retry.DoWithResultIfRetryable(ctx, g.cfg.Retry, func() (string, error) {
		out, err := g.client.Complete(ctx, prompt)
		if err != nil {
			return "", llm.ClassifyError(err)
		}
		return out, nil
	})
	if err != nil {
		return nil, g.providerError(ctx, err)
	}

	candidate, err := parseCandidate(raw)
	if err != nil {
		g.logger.Warn("Malformed generator output",
			zap.String("model", g.client.GetModel()),
			zap.String("output", logging.TruncateString(raw, logging.MaxQueryLogLength)),
			zap.Error(err))
		return nil, err
	}

	g.logger.Debug("Generated candidate query",
		zap.String("model", g.client.GetModel()),
		zap.Float64("confidence", candidate.Confidence),
		zap.String("sql", logging.SanitizeQuery(candidate.SQL)))
	return candidate, nil
}

func (g *queryGenerator) providerError(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return apperrors.New(apperrors.ErrCanceled, "The request was canceled.", err)
	}
	llmErr := llm.ClassifyError(err)
	g.logger.Error("Text generation failed",
		zap.String("model", g.client.GetModel()),
		zap.String("error_type", string(llmErr.Type)),
		zap.Int("status_code", llmErr.StatusCode),
		zap.String("error", logging.SanitizeError(err)))

	var msg string
	switch llmErr.Type {
	case llm.ErrorTypeRateLimited:
		msg = "The language model is rate limited. Try again shortly."
	case llm.ErrorTypeAuth:
		msg = "The language model rejected our credentials."
	case llm.ErrorTypeCircuitOpen:
		msg = "The language model is temporarily unavailable after repeated failures."
	case llm.ErrorTypeTimeout:
		msg = "The language model did not answer in time."
	case llm.ErrorTypeMalformed:
		return apperrors.New(apperrors.ErrGenerationMalformed, "The language model returned an unusable answer.", llmErr)
	default:
		msg = "The language model could not generate a query."
	}
	return apperrors.New(apperrors.ErrProvider, msg, llmErr)
}

func parseCandidate(raw string) (*models.CandidateQuery, error) {
	resp, err := llm.ParseJSONResponse[generationResponse](raw)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrGenerationMalformed, "The language model did not return a JSON answer.", err)
	}

	sqlText := strings.TrimSpace(jsonutil.FlexibleStringValue(resp.SQL))
	if sqlText == "" {
		return nil, apperrors.New(apperrors.ErrGenerationMalformed, "The language model answer has no SQL.", nil)
	}

	confidence, ok, err := jsonutil.FlexibleFloat(resp.Confidence)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrGenerationMalformed, "The language model returned an unreadable confidence.", err)
	}
	if !ok {
		return nil, apperrors.New(apperrors.ErrGenerationMalformed, "The language model answer has no confidence.", nil)
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return nil, apperrors.New(apperrors.ErrGenerationMalformed,
			fmt.Sprintf("The language model returned confidence %g outside [0, 1].", confidence), nil)
	}

	return &models.CandidateQuery{
		SQL:              sqlText,
		Explanation:      strings.TrimSpace(jsonutil.FlexibleStringValue(resp.Explanation)),
		Confidence:       confidence,
		ReferencedTables: jsonutil.FlexibleStringSlice(resp.ReferencedTables),
	}, nil
}

// buildPrompt renders the user message. Output depends only on its inputs.
func (g *queryGenerator) buildPrompt(snapshot *models.SchemaSnapshot, question string, priorTurns []models.ConversationTurn) string {
	var sb strings.Builder

	if snapshot != nil {
		sb.WriteString(fmt.Sprintf("# Database: %s\n", snapshot.DatabaseName))
		if g.cfg.Dialect != nil {
			sb.WriteString(fmt.Sprintf("SQL dialect: %s\n", g.cfg.Dialect(snapshot.DatabaseID)))
		}
		sb.WriteString("\n## Tables\n")
		for _, t := range snapshot.Tables {
			writeTable(&sb, t)
		}

		if len(snapshot.BusinessTerms) > 0 {
			sb.WriteString("## Business terms\n")
			terms := make([]string, 0, len(snapshot.BusinessTerms))
			for term := range snapshot.BusinessTerms {
				terms = append(terms, term)
			}
			sort.Strings(terms)
			for _, term := range terms {
				sb.WriteString(fmt.Sprintf("- %s: %s\n", term, snapshot.BusinessTerms[term]))
			}
			sb.WriteString("\n")
		}
	}

	if n := len(priorTurns); n > 0 {
		if n > g.cfg.MaxPriorTurns {
			priorTurns = priorTurns[n-g.cfg.MaxPriorTurns:]
		}
		sb.WriteString("## Earlier in this conversation\n")
		for i, turn := range priorTurns {
			sb.WriteString(fmt.Sprintf("%d. Question: %s\n   SQL: %s\n", i+1, turn.Question, turn.Query.SQL))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Question\n")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n")
	return sb.String()
}

func writeTable(sb *strings.Builder, t models.TableMetadata) {
	sb.WriteString(fmt.Sprintf("### %s", t.QualifiedName()))
	if t.RowCountEstimate != nil {
		sb.WriteString(fmt.Sprintf(" (~%d rows)", *t.RowCountEstimate))
	}
	sb.WriteString("\n")
	if t.Description != "" {
		sb.WriteString(t.Description + "\n")
	}
	sb.WriteString("| Column | Type | Nullable | Notes |\n")
	sb.WriteString("|--------|------|----------|-------|\n")
	for _, c := range t.Columns {
		nullable := "no"
		if c.Nullable {
			nullable = "yes"
		}
		notes := c.Description
		if c.IsPrimaryKey {
			notes = strings.TrimSpace("primary key. " + notes)
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n", c.Name, c.DataType, nullable, notes))
	}
	for _, r := range t.Relationships {
		sb.WriteString(fmt.Sprintf("- %s references %s.%s\n", r.Column, r.ReferencedTable, r.ReferencedColumn))
	}
	sb.WriteString("\n")
}
