package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedsync/internal/enrich"
	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/queue"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// 同期
	SyncService SyncService
	Catalog     ConnectorCatalog

	// エンリッチメント
	EnrichmentService EnrichmentService

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders
//
// 手動トリガー（POST）のルートにはクライアントごとのレート制限を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	syncHandler := NewSyncHandler(deps.SyncService, deps.Catalog, logger)
	enrichHandler := NewEnrichmentHandler(deps.EnrichmentService, logger)

	manual := func(next http.Handler) http.Handler { return next }
	if deps.RateLimiter != nil {
		manual = deps.RateLimiter.ManualTriggerMiddleware()
	}

	// --- 運用 ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// ソース設定単位の手動同期
		r.With(manual).Post("/connectors/{id}/sync", syncHandler.SyncByID)

		// 種別
		r.Route("/connector-types", func(r chi.Router) {
			r.Get("/", syncHandler.ListTypes)
			r.With(manual).Post("/{type}/sync", syncHandler.SyncByType)
			r.Get("/{type}/queue", syncHandler.QueueStatus)
		})

		// キューとスケジューラの状態
		r.Get("/queues", func(w http.ResponseWriter, r *http.Request) {
			queues := make(map[string]queue.State)
			for name, state := range deps.Catalog.AllQueueStatuses() {
				queues[name] = state
			}
			if deps.EnrichmentService != nil {
				queues[enrich.QueueName] = deps.EnrichmentService.Status().Queue
			}
			writeJSON(w, http.StatusOK, queues)
		})
		r.Get("/scheduler/status", syncHandler.SchedulerStatus)

		// エンリッチメント
		r.Route("/enrichment", func(r chi.Router) {
			r.With(manual).Post("/run", enrichHandler.Run)
			r.Get("/status", enrichHandler.Status)
		})
	})

	return r
}
