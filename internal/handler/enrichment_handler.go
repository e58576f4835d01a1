package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/feedsync/internal/enrich"
	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/queue"
)

// EnrichmentService はエンリッチメントハンドラーが必要とするインターフェース。
type EnrichmentService interface {
	RunOnce(ctx context.Context, onComplete queue.CompletionFunc) (*enrich.RunResult, error)
	Status() enrich.PipelineStatus
}

// EnrichmentHandler はエンリッチメントの手動トリガーと状態のHTTPハンドラー。
type EnrichmentHandler struct {
	service EnrichmentService
	logger  *slog.Logger
}

// NewEnrichmentHandler はEnrichmentHandlerを生成する。
func NewEnrichmentHandler(service EnrichmentService, logger *slog.Logger) *EnrichmentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EnrichmentHandler{service: service, logger: logger}
}

// Run はエンリッチメントを1回実行する。投稿はキューに投入され、非同期に処理される。
// POST /api/enrichment/run
func (h *EnrichmentHandler) Run(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.RunOnce(r.Context(), nil)
	if err != nil {
		h.logger.Error("エンリッチメントの手動実行に失敗しました", slog.String("error", err.Error()))
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// Status はエンリッチメントの状態を返す。
// GET /api/enrichment/status
func (h *EnrichmentHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Status())
}
