package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

// DatabaseLister reports the configured database IDs.
type DatabaseLister interface {
	DatabaseIDs() []string
}

// AskToolDeps are the services behind the ask tools.
type AskToolDeps struct {
	Orchestrator      services.Orchestrator
	SchemaCache       services.SchemaCache
	Databases         DatabaseLister
	DefaultDatabaseID string
	Logger            *zap.Logger
}

// RegisterAskTools adds ask_database, list_databases and refresh_schema.
func RegisterAskTools(s *server.MCPServer, deps *AskToolDeps) {
	registerAskDatabaseTool(s, deps)
	registerListDatabasesTool(s, deps)
	registerRefreshSchemaTool(s, deps)
}

func registerAskDatabaseTool(s *server.MCPServer, deps *AskToolDeps) {
	tool := mcp.NewTool(
		"ask_database",
		mcp.WithDescription(
			"Answer a natural-language question by generating a read-only SQL query, validating it, "+
				"running it against the database and returning the rows with a chart or table. "+
				"Follow-up questions from the same user see the previous turns. "+
				"Example: ask_database(question='top 5 customers by revenue last month').",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question to answer, in plain language"),
		),
		mcp.WithString(
			"database_id",
			mcp.Description("Database to query. Defaults to the server's default database."),
		),
		mcp.WithString(
			"user_id",
			mcp.Description("Conversation owner. Defaults to the X-User-ID header of the request."),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return nil, err
		}
		question = trimString(question)
		if question == "" {
			return NewErrorResult("invalid_parameters", "parameter 'question' cannot be empty"), nil
		}

		dbID, errResult := deps.databaseID(req.GetString("database_id", ""))
		if errResult != nil {
			return errResult, nil
		}

		run, err := deps.Orchestrator.Ask(ctx, services.AskRequest{
			UserID:     resolveUserID(ctx, req.GetString("user_id", "")),
			DatabaseID: dbID,
			Question:   question,
		})
		if err != nil {
			var pe *apperrors.PipelineError
			if run == nil || !errors.As(err, &pe) {
				return nil, fmt.Errorf("ask failed: %w", err)
			}
			deps.Logger.Debug("ask_database run failed",
				zap.String("run_id", run.ID.String()),
				zap.String("error_kind", apperrors.KindName(err)),
				zap.String("failed_at", string(run.FailedAt)))
			return NewRunErrorResult(run, err), nil
		}

		out, err := json.Marshal(run.Result(apperrors.KindName))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal run result: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}

func registerListDatabasesTool(s *server.MCPServer, deps *AskToolDeps) {
	tool := mcp.NewTool(
		"list_databases",
		mcp.WithDescription("List the database IDs that ask_database can query."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := json.Marshal(map[string]any{
			"database_ids": deps.Databases.DatabaseIDs(),
			"default":      deps.DefaultDatabaseID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal database list: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}

func registerRefreshSchemaTool(s *server.MCPServer, deps *AskToolDeps) {
	tool := mcp.NewTool(
		"refresh_schema",
		mcp.WithDescription(
			"Drop the cached schema for a database so the next question re-reads tables and columns. "+
				"Use after the database schema has changed.",
		),
		mcp.WithString(
			"database_id",
			mcp.Description("Database whose schema cache to clear. Defaults to the server's default database."),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbID, errResult := deps.databaseID(req.GetString("database_id", ""))
		if errResult != nil {
			return errResult, nil
		}
		if err := deps.SchemaCache.Invalidate(ctx, dbID); err != nil {
			deps.Logger.Error("Failed to invalidate schema cache",
				zap.String("database_id", dbID),
				zap.String("error", logging.SanitizeError(err)))
			return nil, fmt.Errorf("failed to invalidate schema cache for %s: %w", dbID, err)
		}
		out, err := json.Marshal(map[string]any{"database_id": dbID, "invalidated": true})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal refresh result: %w", err)
		}
		return mcp.NewToolResultText(string(out)), nil
	})
}

// databaseID applies the default and checks the id is configured.
func (d *AskToolDeps) databaseID(arg string) (string, *mcp.CallToolResult) {
	id := trimString(arg)
	if id == "" {
		id = d.DefaultDatabaseID
	}
	known := d.Databases.DatabaseIDs()
	if id == "" {
		return "", NewErrorResultWithDetails("invalid_parameters", "parameter 'database_id' is required",
			map[string]any{"database_ids": known})
	}
	if !slices.Contains(known, id) {
		return "", NewErrorResultWithDetails("not_found", fmt.Sprintf("database %q is not configured", id),
			map[string]any{"database_ids": known})
	}
	return id, nil
}
