package handler

import (
	"bytes"
	"context"
	"log/slog"
	"sort"

	"github.com/hitoshi/feedsync/internal/connector"
	"github.com/hitoshi/feedsync/internal/enrich"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
	"github.com/hitoshi/feedsync/internal/worker/scheduler"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// --- SyncService モック ---

type mockSyncService struct {
	syncByIDFunc   func(ctx context.Context, id string) (*model.SyncResult, error)
	syncByTypeFunc func(ctx context.Context, connectorType string) (map[string]*model.SyncResult, error)
	statusFunc     func() scheduler.Status
}

func (m *mockSyncService) SyncByID(ctx context.Context, id string) (*model.SyncResult, error) {
	return m.syncByIDFunc(ctx, id)
}

func (m *mockSyncService) SyncByType(ctx context.Context, connectorType string) (map[string]*model.SyncResult, error) {
	return m.syncByTypeFunc(ctx, connectorType)
}

func (m *mockSyncService) Status() scheduler.Status {
	if m.statusFunc == nil {
		return scheduler.Status{}
	}
	return m.statusFunc()
}

// --- ConnectorCatalog モック ---

type stubConnector struct {
	connectorType string
	state         queue.State
}

func (c *stubConnector) Type() string { return c.connectorType }

func (c *stubConnector) Sync(ctx context.Context, cfg *model.SourceConfig, onComplete queue.CompletionFunc) (*model.SyncResult, error) {
	return &model.SyncResult{Success: true}, nil
}

func (c *stubConnector) QueueStatus() queue.State { return c.state }

type mockCatalog struct {
	connectors map[string]*stubConnector
}

func (m *mockCatalog) ListTypes() []string {
	types := make([]string, 0, len(m.connectors))
	for t := range m.connectors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (m *mockCatalog) Get(connectorType string) (connector.Connector, bool) {
	c, ok := m.connectors[connectorType]
	if !ok {
		return nil, false
	}
	return c, true
}

func (m *mockCatalog) AllQueueStatuses() map[string]queue.State {
	out := make(map[string]queue.State, len(m.connectors))
	for t, c := range m.connectors {
		out[t] = c.state
	}
	return out
}

// --- EnrichmentService モック ---

type mockEnrichmentService struct {
	runOnceFunc func(ctx context.Context, onComplete queue.CompletionFunc) (*enrich.RunResult, error)
	status      enrich.PipelineStatus
}

func (m *mockEnrichmentService) RunOnce(ctx context.Context, onComplete queue.CompletionFunc) (*enrich.RunResult, error) {
	return m.runOnceFunc(ctx, onComplete)
}

func (m *mockEnrichmentService) Status() enrich.PipelineStatus {
	return m.status
}

// --- HealthChecker モック ---

type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	return m.err
}
