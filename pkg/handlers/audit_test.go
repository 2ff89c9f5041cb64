package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
)

func TestAuditHandler_List(t *testing.T) {
	var got models.AuditFilters
	lister := &mockAuditLister{ListFunc: func(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error) {
		got = filters
		return []*models.AuditRecord{{ID: uuid.New(), UserID: "alice", Outcome: "SUCCEEDED", RowCount: 3}}, nil
	}}
	mux := http.NewServeMux()
	NewAuditHandler(lister, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audit?user_id=alice&since=2026-01-01T00:00:00Z&limit=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, 5, got.Limit)
	require.NotNil(t, got.Since)
	assert.True(t, got.Since.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))

	var resp struct {
		Data AuditListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Records, 1)
	assert.Equal(t, 3, resp.Data.Records[0].RowCount)
}

func TestAuditHandler_List_Errors(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		listErr    error
		wantStatus int
		wantCode   string
	}{
		{name: "bad since", query: "?since=yesterday", wantStatus: http.StatusBadRequest, wantCode: "invalid_since"},
		{name: "bad limit", query: "?limit=0", wantStatus: http.StatusBadRequest, wantCode: "invalid_limit"},
		{name: "limit too large", query: "?limit=5000", wantStatus: http.StatusBadRequest, wantCode: "invalid_limit"},
		{name: "store failure", listErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantCode: "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister := &mockAuditLister{ListFunc: func(context.Context, models.AuditFilters) ([]*models.AuditRecord, error) {
				return nil, tt.listErr
			}}
			rec := httptest.NewRecorder()
			NewAuditHandler(lister, zap.NewNop()).List(rec, httptest.NewRequest(http.MethodGet, "/api/audit"+tt.query, nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp ApiResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}
