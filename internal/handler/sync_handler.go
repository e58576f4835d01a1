package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedsync/internal/connector"
	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
	"github.com/hitoshi/feedsync/internal/worker/scheduler"
)

// SyncService は同期ハンドラーが必要とするスケジューラのインターフェース。
type SyncService interface {
	// SyncByID は期限に関係なく指定IDのソース設定を同期する。
	SyncByID(ctx context.Context, id string) (*model.SyncResult, error)
	// SyncByType は指定種別の有効なソース設定をすべて同期する。
	SyncByType(ctx context.Context, connectorType string) (map[string]*model.SyncResult, error)
	// Status はスケジューラの状態を返す。
	Status() scheduler.Status
}

// ConnectorCatalog は登録済みコネクタの参照インターフェース。
type ConnectorCatalog interface {
	ListTypes() []string
	Get(connectorType string) (connector.Connector, bool)
	AllQueueStatuses() map[string]queue.State
}

// SyncHandler は同期の手動トリガーとコネクタ状態のHTTPハンドラー。
type SyncHandler struct {
	service SyncService
	catalog ConnectorCatalog
	logger  *slog.Logger
}

// NewSyncHandler はSyncHandlerを生成する。
func NewSyncHandler(service SyncService, catalog ConnectorCatalog, logger *slog.Logger) *SyncHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHandler{service: service, catalog: catalog, logger: logger}
}

// syncByTypeResponse は種別単位の同期結果のレスポンス。
type syncByTypeResponse struct {
	ConnectorType string                       `json:"connector_type"`
	Results       map[string]*model.SyncResult `json:"results"`
}

// connectorTypesResponse は登録済み種別一覧のレスポンス。
type connectorTypesResponse struct {
	Types []string `json:"types"`
}

// queueStatusResponse は種別ごとのキュー状態のレスポンス。
type queueStatusResponse struct {
	ConnectorType string      `json:"connector_type"`
	Queue         queue.State `json:"queue"`
}

// SyncByID は指定IDのソース設定を同期する。
// POST /api/connectors/{id}/sync
func (h *SyncHandler) SyncByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.service.SyncByID(r.Context(), id)
	if err != nil {
		h.logger.Warn("手動同期に失敗しました",
			slog.String("source_id", id),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SyncByType は指定種別の有効なソース設定をすべて同期する。
// POST /api/connector-types/{type}/sync
func (h *SyncHandler) SyncByType(w http.ResponseWriter, r *http.Request) {
	connectorType := chi.URLParam(r, "type")

	results, err := h.service.SyncByType(r.Context(), connectorType)
	if err != nil {
		h.logger.Warn("種別単位の手動同期に失敗しました",
			slog.String("connector_type", connectorType),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, syncByTypeResponse{ConnectorType: connectorType, Results: results})
}

// ListTypes は登録済みの種別名を返す。
// GET /api/connector-types
func (h *SyncHandler) ListTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, connectorTypesResponse{Types: h.catalog.ListTypes()})
}

// QueueStatus は指定種別のキュー状態を返す。
// GET /api/connector-types/{type}/queue
func (h *SyncHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	connectorType := chi.URLParam(r, "type")

	c, ok := h.catalog.Get(connectorType)
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusNotFound,
			model.NewConnectorNotFoundError("種別 "+connectorType+" のコネクタは登録されていません"))
		return
	}
	writeJSON(w, http.StatusOK, queueStatusResponse{ConnectorType: connectorType, Queue: c.QueueStatus()})
}

// SchedulerStatus はスケジューラの状態を返す。
// GET /api/scheduler/status
func (h *SyncHandler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}
