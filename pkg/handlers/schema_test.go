package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func serveSchema(t *testing.T, h *SchemaHandler, method, path string) (*httptest.ResponseRecorder, ApiResponse) {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestSchemaHandler_Invalidate(t *testing.T) {
	cache := &mockSchemaCache{}
	h := NewSchemaHandler(cache, &mockDatasources{ids: []string{"sales"}}, zap.NewNop())

	rec, resp := serveSchema(t, h, http.MethodPost, "/api/schema/sales/invalidate")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"sales"}, cache.invalidated)

	rec, resp = serveSchema(t, h, http.MethodPost, "/api/schema/hr/invalidate")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", resp.Error)
	assert.Len(t, cache.invalidated, 1)
}

func TestSchemaHandler_InvalidateStoreFailure(t *testing.T) {
	cache := &mockSchemaCache{InvalidateFunc: func(context.Context, string) error {
		return errors.New("redis: connection refused")
	}}
	h := NewSchemaHandler(cache, &mockDatasources{ids: []string{"sales"}}, zap.NewNop())

	rec, resp := serveSchema(t, h, http.MethodPost, "/api/schema/sales/invalidate")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", resp.Error)
}

func TestSchemaHandler_TestConnection(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantSuccess bool
		wantMessage string
	}{
		{name: "reachable", wantSuccess: true, wantMessage: "Connection successful"},
		{
			name:        "refused",
			err:         &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			wantMessage: "Could not reach the database. Try again shortly.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := &mockDatasources{ids: []string{"sales"}, TestConnectionFunc: func(context.Context, string) error { return tt.err }}
			rec, resp := serveSchema(t, NewSchemaHandler(&mockSchemaCache{}, ds, zap.NewNop()), http.MethodPost, "/api/datasources/sales/test")

			assert.Equal(t, http.StatusOK, rec.Code)
			data := resp.Data.(map[string]any)
			assert.Equal(t, tt.wantSuccess, data["success"])
			assert.Equal(t, tt.wantMessage, data["message"])
		})
	}
}

func TestSchemaHandler_ListDatasources(t *testing.T) {
	h := NewSchemaHandler(&mockSchemaCache{}, &mockDatasources{ids: []string{"hr", "sales"}}, zap.NewNop())
	rec, resp := serveSchema(t, h, http.MethodGet, "/api/datasources")

	assert.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, []any{"hr", "sales"}, data["database_ids"])
}
