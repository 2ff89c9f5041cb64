package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

type askEnvelope struct {
	Success bool             `json:"success"`
	Data    models.RunResult `json:"data"`
	Error   string           `json:"error"`
}

func postAsk(t *testing.T, h *AskHandler, body string, header map[string]string) (*httptest.ResponseRecorder, askEnvelope) {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/ask", bytes.NewBufferString(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var env askEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func succeededRun(req services.AskRequest) *models.PipelineRun {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	run := models.NewPipelineRun(req.UserID, req.DatabaseID, req.Question, now)
	for i, s := range []models.PipelineState{
		models.StateSchemaResolved, models.StateGenerated, models.StateValidated,
		models.StateExecuted, models.StateVisualized, models.StateSucceeded,
	} {
		_ = run.Advance(s, now.Add(time.Duration(i+1)*10*time.Millisecond))
	}
	run.Candidate = &models.CandidateQuery{SQL: "SELECT id FROM orders", Confidence: 0.9}
	run.Verdict = &models.ValidationVerdict{SafeToExecute: true, OriginalSQL: "SELECT id FROM orders", RewrittenSQL: "SELECT id FROM orders LIMIT 10"}
	run.Outcome = &models.ExecutionOutcome{Columns: []models.ColumnInfo{{Name: "id"}}, Rows: []map[string]any{{"id": 1}}, RowCount: 1}
	run.Rendered = &models.RenderedArtifact{Kind: models.ArtifactTable, Markup: "<table></table>"}
	return run
}

func TestAskHandler_Success(t *testing.T) {
	orch := &mockOrchestrator{AskFunc: func(ctx context.Context, req services.AskRequest) (*models.PipelineRun, error) {
		return succeededRun(req), nil
	}}
	h := NewAskHandler(orch, zap.NewNop())

	rec, env := postAsk(t, h, `{"database_id":"sales","question":"first rows of orders"}`, map[string]string{UserIDHeader: "alice"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
	assert.Equal(t, models.StateSucceeded, env.Data.State)
	assert.Equal(t, "SELECT id FROM orders LIMIT 10", env.Data.SQL)
	assert.Equal(t, 1, env.Data.Outcome.RowCount)
	assert.Equal(t, int64(60), env.Data.ElapsedMs)
	assert.Nil(t, env.Data.Error)

	require.Len(t, orch.calls, 1)
	assert.Equal(t, services.AskRequest{UserID: "alice", DatabaseID: "sales", Question: "first rows of orders"}, orch.calls[0])
}

func TestAskHandler_FailedRunKeepsArtifacts(t *testing.T) {
	orch := &mockOrchestrator{AskFunc: func(ctx context.Context, req services.AskRequest) (*models.PipelineRun, error) {
		now := time.Now()
		run := models.NewPipelineRun(req.UserID, req.DatabaseID, req.Question, now)
		_ = run.Advance(models.StateSchemaResolved, now)
		_ = run.Advance(models.StateGenerated, now)
		run.Candidate = &models.CandidateQuery{SQL: "DELETE FROM orders"}
		pe := apperrors.WithReason(apperrors.ErrValidationRejected, apperrors.ReasonForbiddenVerb, "DELETE statements are not allowed", nil)
		run.Fail(pe, now)
		return run, pe
	}}
	h := NewAskHandler(orch, zap.NewNop())

	rec, env := postAsk(t, h, `{"user_id":"bob","database_id":"sales","question":"delete all orders"}`, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, models.StateFailed, env.Data.State)
	assert.Equal(t, models.StateGenerated, env.Data.FailedAt)
	assert.Equal(t, "DELETE FROM orders", env.Data.SQL)
	require.NotNil(t, env.Data.Error)
	assert.Equal(t, "validation_rejected", env.Data.Error.Kind)
	assert.Equal(t, "forbidden-verb", env.Data.Error.Reason)
}

func TestAskHandler_BadRequests(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "malformed json", body: `{`, wantCode: "invalid_request"},
		{name: "blank question", body: `{"user_id":"u","database_id":"sales","question":"  "}`, wantCode: "missing_question"},
		{name: "missing database", body: `{"user_id":"u","question":"q"}`, wantCode: "missing_database_id"},
		{name: "missing user", body: `{"database_id":"sales","question":"q"}`, wantCode: "missing_user_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := &mockOrchestrator{}
			rec, env := postAsk(t, NewAskHandler(orch, zap.NewNop()), tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, env.Error)
			assert.Empty(t, orch.calls)
		})
	}
}

func TestStatusForFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown database", apperrors.New(apperrors.ErrSchemaUnavailable, "no schema", fmt.Errorf("unknown database %q: %w", "x", apperrors.ErrNotFound)), http.StatusNotFound},
		{"schema unavailable", apperrors.New(apperrors.ErrSchemaUnavailable, "no schema", nil), http.StatusServiceUnavailable},
		{"rejected", apperrors.WithReason(apperrors.ErrValidationRejected, apperrors.ReasonInjectionPattern, "", nil), http.StatusUnprocessableEntity},
		{"timeout", apperrors.New(apperrors.ErrQueryTimeout, "", nil), http.StatusGatewayTimeout},
		{"malformed", apperrors.New(apperrors.ErrGenerationMalformed, "", nil), http.StatusBadGateway},
		{"provider", apperrors.New(apperrors.ErrProvider, "", nil), http.StatusBadGateway},
		{"driver syntax", apperrors.WithReason(apperrors.ErrDriver, apperrors.ReasonSyntax, "", nil), http.StatusUnprocessableEntity},
		{"driver permission", apperrors.WithReason(apperrors.ErrDriver, apperrors.ReasonPermission, "", nil), http.StatusForbidden},
		{"driver connection", apperrors.WithReason(apperrors.ErrDriver, apperrors.ReasonConnection, "", nil), http.StatusBadGateway},
		{"canceled", apperrors.New(apperrors.ErrCanceled, "", context.Canceled), http.StatusRequestTimeout},
		{"unclassified", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusForFailure(tt.err))
		})
	}
}
