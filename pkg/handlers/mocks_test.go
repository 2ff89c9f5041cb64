package handlers

import (
	"context"

	"github.com/ekaya-inc/ekaya-askdb/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-askdb/pkg/models"
	"github.com/ekaya-inc/ekaya-askdb/pkg/services"
)

type mockOrchestrator struct {
	AskFunc func(ctx context.Context, req services.AskRequest) (*models.PipelineRun, error)
	calls   []services.AskRequest
}

func (m *mockOrchestrator) Ask(ctx context.Context, req services.AskRequest) (*models.PipelineRun, error) {
	m.calls = append(m.calls, req)
	return m.AskFunc(ctx, req)
}

type mockSchemaCache struct {
	InvalidateFunc func(ctx context.Context, databaseID string) error
	invalidated    []string
	stats          services.CacheStats
}

func (m *mockSchemaCache) Get(ctx context.Context, databaseID string) (*models.SchemaResolution, error) {
	return nil, nil
}

func (m *mockSchemaCache) Invalidate(ctx context.Context, databaseID string) error {
	m.invalidated = append(m.invalidated, databaseID)
	if m.InvalidateFunc != nil {
		return m.InvalidateFunc(ctx, databaseID)
	}
	return nil
}

func (m *mockSchemaCache) Stats() services.CacheStats { return m.stats }

type mockDatasources struct {
	ids                []string
	TestConnectionFunc func(ctx context.Context, databaseID string) error
	stats              map[string]datasource.PoolStats
}

func (m *mockDatasources) DatabaseIDs() []string { return m.ids }

func (m *mockDatasources) TestConnection(ctx context.Context, databaseID string) error {
	if m.TestConnectionFunc != nil {
		return m.TestConnectionFunc(ctx, databaseID)
	}
	return nil
}

func (m *mockDatasources) GetStats() map[string]datasource.PoolStats { return m.stats }

type mockAuditLister struct {
	ListFunc func(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error)
}

func (m *mockAuditLister) List(ctx context.Context, filters models.AuditFilters) ([]*models.AuditRecord, error) {
	return m.ListFunc(ctx, filters)
}
