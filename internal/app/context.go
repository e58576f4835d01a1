package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/feedsync/internal/ai"
	"github.com/hitoshi/feedsync/internal/config"
	"github.com/hitoshi/feedsync/internal/connector"
	"github.com/hitoshi/feedsync/internal/connector/rss"
	"github.com/hitoshi/feedsync/internal/connector/spotify"
	"github.com/hitoshi/feedsync/internal/content"
	"github.com/hitoshi/feedsync/internal/enrich"
	"github.com/hitoshi/feedsync/internal/events"
	"github.com/hitoshi/feedsync/internal/imagesearch"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/security"
	"github.com/hitoshi/feedsync/internal/worker/scheduler"
)

// imageSearchTimeout は画像検索APIのタイムアウト。
const imageSearchTimeout = 10 * time.Second

// Context はプロセス内で1回だけ構築するコンポーネント群。
// レジストリ、コネクタのキュー、スケジューラはserve/workerのどちらでもここから取得する。
type Context struct {
	Config    *config.Config
	DB        *sql.DB
	Logger    *slog.Logger
	Registry  *connector.Registry
	Scheduler *scheduler.Scheduler
	Pipeline  *enrich.Pipeline
	Publisher events.Publisher
	Metrics   *metrics.Collector
	Gatherer  prometheus.Gatherer

	closeOnce sync.Once
}

// NewContext は設定とDB接続から全コンポーネントを組み立てる。
// NATS_URLが空の場合、イベントは発行しない。
func NewContext(cfg *config.Config, db *sql.DB, logger *slog.Logger) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. メトリクス
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 2. イベント
	publisher, err := events.New(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
	if err != nil {
		return nil, fmt.Errorf("イベント発行の初期化に失敗しました: %w", err)
	}

	// 3. リポジトリ
	postRepo := repository.NewPostgresPostRepo(db)
	sourceRepo := repository.NewPostgresSourceRepo(db, logger)
	categoryRepo := repository.NewPostgresCategoryRepo(db)
	gifRepo := repository.NewPostgresGifRepo(db)
	linkRepo := repository.NewPostgresPostCategoryRepo(db)

	// 4. セキュリティとコンテンツ取得
	guard := security.NewSSRFGuard(cfg.UserAgent)
	sanitizer := security.NewContentSanitizer()
	extractor := content.NewExtractor(guard, cfg.ContentFetchTimeout, cfg.FetchMaxSize, logger)
	robots := content.NewRobotsChecker(guard, cfg.UserAgent, cfg.ContentFetchTimeout, logger)

	// 5. コネクタ
	registry := connector.NewRegistry(logger)

	registry.Register(rss.New(
		connector.NewPostWriter(rss.Type, postRepo, publisher, collector, logger),
		guard, extractor, robots, sanitizer,
		rss.Options{
			Queue:       connector.QueueSettings{MaxSize: cfg.RSSQueueMaxSize, Delay: cfg.RSSQueueDelay},
			MaxItems:    cfg.RSSMaxItems,
			Timeout:     cfg.ContentFetchTimeout,
			MaxBodySize: cfg.FetchMaxSize,
		},
		logger, collector,
	))

	spotifyClient := spotify.NewClient(
		&http.Client{Timeout: cfg.ContentFetchTimeout},
		cfg.SpotifyClientID, cfg.SpotifyClientSecret, logger,
	)
	registry.Register(spotify.New(
		connector.NewPostWriter(spotify.Type, postRepo, publisher, collector, logger),
		spotifyClient,
		connector.QueueSettings{MaxSize: cfg.SpotifyQueueMaxSize, Delay: cfg.SpotifyQueueDelay},
		cfg.SpotifyMaxItems,
		logger, collector,
	))

	// 6. 同期スケジューラ
	sched := scheduler.NewScheduler(
		sourceRepo, registry, publisher, collector, logger,
		cfg.SchedulerEnabled(), cfg.SyncMaxConcurrent,
	)

	// 7. エンリッチメント
	aiClient := ai.NewClient(&http.Client{Timeout: cfg.AITimeout}, cfg.AIBaseURL, cfg.AIAPIKey, logger)
	table := enrich.DefaultPriorityTable()

	searchClient := &http.Client{Timeout: imageSearchTimeout}
	var providers []imagesearch.Provider
	if cfg.GiphyAPIKey != "" {
		providers = append(providers, imagesearch.NewGiphyClient(searchClient, cfg.GiphyAPIKey, logger))
	}
	if cfg.TenorAPIKey != "" {
		providers = append(providers, imagesearch.NewTenorClient(searchClient, cfg.TenorAPIKey, logger))
	}
	if len(providers) == 0 {
		logger.Warn("画像検索のAPIキーが設定されていません（エンリッチメントはすべて破棄されます）")
	}

	pipeline := enrich.NewPipeline(
		enrich.Dependencies{
			Posts:       postRepo,
			Gifs:        gifRepo,
			Links:       linkRepo,
			Topics:      enrich.NewTopicExtractor(aiClient, cfg.AITopicModel, table),
			Table:       table,
			Finder:      enrich.NewGifFinder(gifRepo, providers, cfg.ImageSearchLimit, logger),
			Categorizer: enrich.NewInterestCategorizer(categoryRepo, aiClient, cfg.AICategoryModel),
			Publisher:   publisher,
		},
		enrich.Options{
			BatchSize: cfg.EnrichBatchSize,
			Queue:     connector.QueueSettings{MaxSize: cfg.EnrichQueueMaxSize, Delay: cfg.EnrichQueueDelay},
			Enabled:   cfg.SchedulerEnabled(),
		},
		logger, collector,
	)

	logger.Info("コンポーネントを初期化しました",
		slog.Any("connector_types", registry.ListTypes()),
		slog.Bool("scheduler_enabled", cfg.SchedulerEnabled()),
		slog.Int("image_providers", len(providers)),
		slog.Bool("events_enabled", cfg.NATSURL != ""),
	)

	return &Context{
		Config:    cfg,
		DB:        db,
		Logger:    logger,
		Registry:  registry,
		Scheduler: sched,
		Pipeline:  pipeline,
		Publisher: publisher,
		Metrics:   collector,
		Gatherer:  promRegistry,
	}, nil
}

// StartBackground は同期ティッカーとエンリッチメントのスケジュールをバックグラウンドで起動する。
// 返り値のWaitGroupはctxのキャンセル後に両方のループが終了すると完了する。
func (c *Context) StartBackground(ctx context.Context) *sync.WaitGroup {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Scheduler.Start(ctx, c.Config.SyncTickInterval)
	}()
	go func() {
		defer wg.Done()
		c.Pipeline.Start(ctx, c.Config.EnrichCron)
	}()
	return &wg
}

// Close はキューを停止してイベント接続を閉じる。複数回呼び出してもよい。
// キューに残っているアイテムは破棄され、処理中のアイテムは完了まで実行される。
func (c *Context) Close() {
	c.closeOnce.Do(func() {
		c.Registry.StopAll()
		c.Pipeline.Stop()
		c.Publisher.Close()
		c.Logger.Info("キューとイベント接続を停止しました")
	})
}
