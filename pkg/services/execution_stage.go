package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/logging"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

// PoolProvider hands out the connection pool for a database.
type PoolProvider interface {
	Pool(ctx context.Context, databaseID string) (datasource.ConnectionPool, error)
}

// ExecutionStage runs validated SQL with a bounded row count and time budget.
type ExecutionStage interface {
	Execute(ctx context.Context, databaseID, sqlQuery string, maxRows int, timeout time.Duration) (*models.ExecutionOutcome, error)
}

type executionStage struct {
	pools  PoolProvider
	now    func() time.Time
	logger *zap.Logger
}

// NewExecutionStage creates an execution stage over pools.
func NewExecutionStage(pools PoolProvider, logger *zap.Logger) ExecutionStage {
	return &executionStage{
		pools:  pools,
		now:    time.Now,
		logger: logger.Named("execution-stage"),
	}
}

var _ ExecutionStage = (*executionStage)(nil)

type execResult struct {
	outcome *models.ExecutionOutcome
	err     error
}

// Execute acquires a connection and runs sqlQuery on it in a goroutine, all
// within timeout. When timeout elapses first the connection is discarded so
// its slot returns to the pool at once, even if the driver call is still
// blocked.
func (s *executionStage) Execute(ctx context.Context, databaseID, sqlQuery string, maxRows int, timeout time.Duration) (*models.ExecutionOutcome, error) {
	if maxRows <= 0 {
		return nil, fmt.Errorf("maxRows must be positive, got %d", maxRows)
	}
	pool, err := s.pools.Pool(ctx, databaseID)
	if err != nil {
		return nil, s.normalize(databaseID, err)
	}

	start := s.now()
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := pool.Acquire(queryCtx)
	if err != nil {
		if queryCtx.Err() != nil {
			return nil, s.interrupted(ctx, queryCtx, databaseID, sqlQuery, timeout)
		}
		return nil, s.normalize(databaseID, err)
	}

	done := make(chan execResult, 1)
	go func() {
		out, err := readRows(queryCtx, conn, sqlQuery, maxRows)
		done <- execResult{outcome: out, err: err}
	}()

	select {
	case res := <-done:
		conn.Release()
		if res.err != nil {
			return nil, s.normalize(databaseID, res.err)
		}
		res.outcome.ElapsedMs = s.now().Sub(start).Milliseconds()
		s.logger.Debug("Query executed",
			zap.String("database_id", databaseID),
			zap.Int("row_count", res.outcome.RowCount),
			zap.Bool("truncated", res.outcome.Truncated),
			zap.Int64("elapsed_ms", res.outcome.ElapsedMs))
		return res.outcome, nil

	case <-queryCtx.Done():
		conn.Discard()
		return nil, s.interrupted(ctx, queryCtx, databaseID, sqlQuery, timeout)
	}
}

func (s *executionStage) interrupted(ctx, queryCtx context.Context, databaseID, sqlQuery string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperrors.New(apperrors.ErrCanceled, "The request was canceled while the query was running.", ctx.Err())
	}
	s.logger.Warn("Query timed out",
		zap.String("database_id", databaseID),
		zap.Duration("timeout", timeout),
		zap.String("sql", logging.SanitizeQuery(sqlQuery)))
	return apperrors.WithReason(apperrors.ErrQueryTimeout, apperrors.ReasonTimeout,
		fmt.Sprintf("The query did not finish within %s and was stopped.", timeout), queryCtx.Err())
}

// readRows reads at most maxRows+1 rows; the extra row only marks truncation.
func readRows(ctx context.Context, conn datasource.Conn, sqlQuery string, maxRows int) (*models.ExecutionOutcome, error) {
	rows, err := conn.RunQuery(ctx, sqlQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := uniqueColumnNames(rows.Columns())
	out := &models.ExecutionOutcome{
		Columns: columns,
		Rows:    make([]map[string]any, 0),
	}
	for rows.Next() {
		if len(out.Rows) == maxRows {
			out.Truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(out.Rows), err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(values) {
				row[col.Name] = values[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out.RowCount = len(out.Rows)
	return out, nil
}

// uniqueColumnNames renames blank and repeated column names so each one is a
// distinct row key: a second "id" becomes "id_2", a blank third column
// "column_3".
func uniqueColumnNames(columns []models.ColumnInfo) []models.ColumnInfo {
	out := make([]models.ColumnInfo, len(columns))
	taken := make(map[string]bool, len(columns))
	for _, col := range columns {
		taken[col.Name] = true
	}
	seen := make(map[string]bool, len(columns))
	for i, col := range columns {
		out[i] = col
		name := col.Name
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		} else if !seen[name] {
			seen[name] = true
			continue
		}
		base := name
		for n := 2; taken[name] || seen[name]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		seen[name] = true
		taken[name] = true
		out[i].Name = name
	}
	return out
}

func (s *executionStage) normalize(databaseID string, err error) error {
	pe := datasource.ToPipelineError(err)
	s.logger.Warn("Query failed",
		zap.String("database_id", databaseID),
		zap.String("kind", apperrors.KindName(pe)),
		zap.String("reason", string(pe.SubReason)),
		zap.String("error", logging.SanitizeError(err)))
	return pe
}
