// Package scheduler はソース設定ごとのフェッチ間隔に従ってコネクタの同期を起動する。
// 起動状態（最終同期時刻）はプロセス内にのみ保持し、再起動でリセットされる。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedsync/internal/connector"
	"github.com/hitoshi/feedsync/internal/events"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// defaultMaxConcurrency は種別をまたいだ同時同期数のデフォルト値。
const defaultMaxConcurrency = 4

// Status はスケジューラの状態。
type Status struct {
	Enabled         bool                 `json:"enabled"`
	RegisteredTypes []string             `json:"registered_types"`
	LastSyncTimes   map[string]time.Time `json:"last_sync_times"`
}

// Scheduler はティッカーで有効なソース設定を走査し、期限の来たものを同期する。
// 同じ種別の設定は順番に、異なる種別の設定はsemaphoreで並列数を制御しながら並行に同期する。
type Scheduler struct {
	sources        repository.SourceRepository
	registry       *connector.Registry
	publisher      events.Publisher
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	enabled        bool
	maxConcurrency int
	now            func() time.Time

	mu       sync.Mutex
	lastSync map[string]time.Time
}

// NewScheduler はSchedulerを生成する。
// enabledがfalseの場合、Tickは何もせずに戻る。maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	sources repository.SourceRepository,
	registry *connector.Registry,
	publisher events.Publisher,
	mc metrics.MetricsCollector,
	logger *slog.Logger,
	enabled bool,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sources:        sources,
		registry:       registry,
		publisher:      publisher,
		metrics:        mc,
		logger:         logger,
		enabled:        enabled,
		maxConcurrency: maxConcurrency,
		now:            time.Now,
		lastSync:       make(map[string]time.Time),
	}
}

// Start は指定間隔のティッカーでTickを実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("同期スケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
		slog.Bool("enabled", s.enabled),
	)

	if err := s.Tick(ctx); err != nil {
		s.logger.Error("同期サイクルの実行に失敗しました", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("同期スケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("同期サイクルの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick は有効なソース設定のうち期限の来たものを同期する。
// 1件の同期失敗はログに記録して次の設定に進み、サイクル全体を中断しない。
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.enabled {
		return nil
	}

	start := time.Now()
	configs, err := s.sources.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("有効なソース設定の取得に失敗しました: %w", err)
	}

	now := s.now()
	var order []string
	groups := make(map[string][]*model.SourceConfig)
	for _, cfg := range configs {
		connectorType := cfg.TypeConfig.Type
		if connectorType == "" || !s.registry.IsRegistered(connectorType) {
			// 別のサブシステムが同じ設定テーブルを使っている可能性があるため、エラーにしない
			s.logger.Debug("コネクタ未登録の種別をスキップしました",
				slog.String("source_id", cfg.ID),
				slog.String("connector_type", connectorType),
			)
			continue
		}
		if !s.isDue(cfg, now) {
			continue
		}
		if _, ok := groups[connectorType]; !ok {
			order = append(order, connectorType)
		}
		groups[connectorType] = append(groups[connectorType], cfg)
	}

	if len(order) == 0 {
		s.logger.Debug("同期対象のソース設定はありません", slog.Int("active_count", len(configs)))
		return nil
	}

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, failed := 0, 0

	for _, connectorType := range order {
		wg.Add(1)
		sem <- struct{}{}

		go func(connectorType string, due []*model.SourceConfig) {
			defer wg.Done()
			defer func() { <-sem }()

			c, ok := s.registry.Get(connectorType)
			if !ok {
				return
			}
			for _, cfg := range due {
				if _, err := s.dispatch(ctx, c, cfg); err != nil {
					s.logger.Error("ソースの同期に失敗しました",
						slog.String("source_id", cfg.ID),
						slog.String("connector_type", connectorType),
						slog.String("error", err.Error()),
					)
					mu.Lock()
					failed++
					mu.Unlock()
					continue
				}
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(connectorType, groups[connectorType])
	}

	wg.Wait()

	s.logger.Info("同期サイクルが完了しました",
		slog.Int("type_count", len(order)),
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// SyncByID は期限に関係なく指定IDのソース設定を同期する。
func (s *Scheduler) SyncByID(ctx context.Context, id string) (*model.SyncResult, error) {
	cfg, err := s.sources.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ソース設定の取得に失敗しました: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrSourceNotFound, id)
	}
	if cfg.TypeConfig.Type == "" {
		return nil, fmt.Errorf("%w: ソース設定 %s の種別を解決できません", model.ErrInvalidTypeConfig, id)
	}

	c, err := s.registry.MustGet(cfg.TypeConfig.Type)
	if err != nil {
		return nil, err
	}
	return s.dispatch(ctx, c, cfg)
}

// SyncByType は指定種別の有効なソース設定をすべて同期する。
// 個別の失敗は結果マップに失敗形のSyncResultとして格納し、エラーにしない。
func (s *Scheduler) SyncByType(ctx context.Context, connectorType string) (map[string]*model.SyncResult, error) {
	c, err := s.registry.MustGet(connectorType)
	if err != nil {
		return nil, err
	}

	configs, err := s.sources.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("有効なソース設定の取得に失敗しました: %w", err)
	}

	results := make(map[string]*model.SyncResult)
	for _, cfg := range configs {
		if cfg.TypeConfig.Type != connectorType {
			continue
		}
		res, err := s.dispatch(ctx, c, cfg)
		if err != nil {
			s.logger.Warn("種別単位の同期で失敗したソースがあります",
				slog.String("source_id", cfg.ID),
				slog.String("connector_type", connectorType),
				slog.String("error", err.Error()),
			)
			results[cfg.ID] = model.FailedSyncResult(err)
			continue
		}
		results[cfg.ID] = res
	}
	return results, nil
}

// Status はスケジューラの状態を返す。
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	last := make(map[string]time.Time, len(s.lastSync))
	for id, t := range s.lastSync {
		last[id] = t
	}
	s.mu.Unlock()

	return Status{
		Enabled:         s.enabled,
		RegisteredTypes: s.registry.ListTypes(),
		LastSyncTimes:   last,
	}
}

// isDue は未同期、または最終同期からフェッチ間隔以上経過しているかを返す。
func (s *Scheduler) isDue(cfg *model.SourceConfig, now time.Time) bool {
	s.mu.Lock()
	last, ok := s.lastSync[cfg.ID]
	s.mu.Unlock()
	if !ok {
		return true
	}
	return now.Sub(last) >= cfg.FetchPeriod()
}

// dispatch は設定を検証してコネクタのSyncを呼び出す。成功時のみ最終同期時刻を更新する。
func (s *Scheduler) dispatch(ctx context.Context, c connector.Connector, cfg *model.SourceConfig) (*model.SyncResult, error) {
	if v, ok := c.(connector.ConfigValidator); ok {
		if err := v.ValidateConfig(cfg.TypeConfig.Settings); err != nil {
			s.metrics.RecordSync(c.Type(), false)
			return nil, err
		}
	}

	start := time.Now()
	res, err := s.safeSync(ctx, c, cfg)
	s.metrics.RecordSyncLatency(time.Since(start))
	if err != nil {
		s.metrics.RecordSync(c.Type(), false)
		return nil, err
	}
	s.metrics.RecordSync(c.Type(), true)

	s.mu.Lock()
	s.lastSync[cfg.ID] = s.now()
	s.mu.Unlock()

	s.logger.Info("ソースを同期しました",
		slog.String("source_id", cfg.ID),
		slog.String("connector_type", c.Type()),
		slog.Int("total_items", res.TotalItems),
		slog.Int("queued", res.Queued),
		slog.Int("queue_size", res.QueueSize),
	)
	return res, nil
}

// safeSync はコネクタのSyncを呼び出し、panicをエラーに変換する。
// 1件のソースのpanicでティック全体やプロセスを停止させない。
func (s *Scheduler) safeSync(ctx context.Context, c connector.Connector, cfg *model.SourceConfig) (res *model.SyncResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("コネクタの同期でpanicが発生しました",
				slog.String("source_id", cfg.ID),
				slog.String("connector_type", c.Type()),
				slog.Any("panic", r),
			)
			res, err = nil, fmt.Errorf("コネクタ %s の同期でpanicが発生しました: %v", c.Type(), r)
		}
	}()
	return c.Sync(ctx, cfg, s.completionFor(c.Type(), cfg.ID))
}

// completionFor はバッチの処理完了をログとイベントで通知するコールバックを返す。
func (s *Scheduler) completionFor(connectorType, sourceID string) func(queued, processed int) {
	return func(queued, processed int) {
		s.logger.Info("同期バッチの処理が完了しました",
			slog.String("source_id", sourceID),
			slog.String("connector_type", connectorType),
			slog.Int("queued", queued),
			slog.Int("processed", processed),
		)
		events.Emit(context.Background(), s.publisher, s.logger, events.Event{
			Type: events.TypeSyncCompleted,
			Payload: map[string]any{
				"source_id":      sourceID,
				"connector_type": connectorType,
				"queued":         queued,
				"processed":      processed,
			},
		})
	}
}
