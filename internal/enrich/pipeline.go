package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hitoshi/feedsync/internal/connector"
	"github.com/hitoshi/feedsync/internal/events"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
	"github.com/hitoshi/feedsync/internal/repository"
)

// QueueName はエンリッチメントキューの名前。
const QueueName = "enrichment"

// defaultBatchSize は1回の実行で選択する投稿数のデフォルト値。
const defaultBatchSize = 20

// エンリッチメント結果のメトリクスラベル。
const (
	resultEnriched  = "enriched"
	resultAbandoned = "abandoned"
	resultFailed    = "failed"
)

// TopicSource は投稿のトピック記述を生成する。
type TopicSource interface {
	Extract(ctx context.Context, post *model.Post) (string, error)
}

// ImageFinder は検索クエリ列から未使用の画像を探す。
type ImageFinder interface {
	Find(ctx context.Context, searches []Search) (model.GifResult, error)
}

// Categorizer は投稿の興味カテゴリIDを選択する。
type Categorizer interface {
	Categorize(ctx context.Context, post *model.Post) ([]string, error)
}

// Dependencies はPipelineの協調オブジェクト。
type Dependencies struct {
	Posts       repository.PostRepository
	Gifs        repository.GifRepository
	Links       repository.PostCategoryRepository
	Topics      TopicSource
	Table       *PriorityTable
	Finder      ImageFinder
	Categorizer Categorizer
	Publisher   events.Publisher
}

// Options はPipelineの動作設定。
type Options struct {
	// BatchSize は1回の実行で選択する投稿数。
	BatchSize int
	// Queue はエンリッチメントキューの設定。
	Queue connector.QueueSettings
	// Enabled がfalseの場合、スケジュール実行は何もしない。手動実行は常に動作する。
	Enabled bool
}

// RunResult は1回の実行結果。
type RunResult struct {
	Selected int    `json:"selected"`
	Queued   int    `json:"queued"`
	Rejected int    `json:"rejected"`
	InFlight int    `json:"in_flight"`
	Message  string `json:"message"`
}

// PipelineStatus はエンリッチメントの状態。
type PipelineStatus struct {
	Enabled       bool        `json:"enabled"`
	Queue         queue.State `json:"queue"`
	LastRun       *time.Time  `json:"last_run,omitempty"`
	LastRunResult *RunResult  `json:"last_run_result,omitempty"`
}

// Pipeline は未処理の投稿を選択してエンリッチメントキューに投入し、1件ずつ処理する。
type Pipeline struct {
	deps      Dependencies
	base      *connector.Base[*model.Post]
	batchSize int
	enabled   bool
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time

	mu            sync.Mutex
	lastRun       *time.Time
	lastRunResult *RunResult
	// inflight はキューに投入済みで処理が終わっていない投稿ID。
	inflight map[string]struct{}
}

// NewPipeline はPipelineを生成する。
func NewPipeline(deps Dependencies, opts Options, logger *slog.Logger, mc metrics.MetricsCollector) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Table == nil {
		deps.Table = DefaultPriorityTable()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	p := &Pipeline{
		deps:      deps,
		batchSize: batchSize,
		enabled:   opts.Enabled,
		metrics:   mc,
		logger:    logger,
		now:       time.Now,
		inflight:  make(map[string]struct{}),
	}
	p.base = connector.NewBase(QueueName, opts.Queue, p.process, logger, mc)
	return p
}

// Start はcron式に従ってRunOnceを実行する。コンテキストがキャンセルされるまで継続する。
// 無効な環境では何もせずに戻る。
func (p *Pipeline) Start(ctx context.Context, cronExpr string) {
	if !p.enabled {
		p.logger.Info("エンリッチメントのスケジュールは無効です")
		return
	}

	p.logger.Info("エンリッチメントのスケジュールを開始しました", slog.String("cron", cronExpr))
	for {
		next, err := gronx.NextTickAfter(cronExpr, p.now(), false)
		if err != nil {
			p.logger.Error("次回実行時刻の計算に失敗しました",
				slog.String("cron", cronExpr),
				slog.String("error", err.Error()),
			)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("エンリッチメントのスケジュールを停止しました")
			return
		case <-timer.C:
			if _, err := p.RunOnce(ctx, nil); err != nil {
				p.logger.Error("エンリッチメントの実行に失敗しました", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce は未処理の投稿を新しい順に選択してキューに投入する。
// onCompleteが指定された場合、投入したバッチの処理完了時に1回だけ呼ばれる。
func (p *Pipeline) RunOnce(ctx context.Context, onComplete queue.CompletionFunc) (*RunResult, error) {
	posts, err := p.deps.Posts.SelectUnenriched(ctx, p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("未処理の投稿の取得に失敗しました: %w", err)
	}

	fresh := p.claim(posts)
	inFlight := len(posts) - len(fresh)

	var res *RunResult
	switch {
	case len(posts) == 0:
		res = &RunResult{Message: "処理対象の投稿はありません"}
	case len(fresh) == 0:
		res = &RunResult{
			Selected: len(posts),
			InFlight: inFlight,
			Message:  "選択した投稿はすべて処理中です",
		}
	default:
		completion := func(queued, processed int) {
			p.logger.Info("エンリッチメントのバッチが完了しました",
				slog.Int("queued", queued),
				slog.Int("processed", processed),
			)
			if onComplete != nil {
				onComplete(queued, processed)
			}
		}
		sub := p.base.Submit(fresh, completion)
		// キューは先頭から受け付けるため、受け付けられなかったのは末尾のRejected件
		for _, post := range fresh[sub.Accepted:] {
			p.release(post.ID)
		}
		res = &RunResult{
			Selected: len(posts),
			Queued:   sub.Accepted,
			Rejected: sub.Rejected,
			InFlight: inFlight,
			Message:  fmt.Sprintf("%d件中%d件をキューに追加しました", len(posts), sub.Accepted),
		}
	}

	now := p.now()
	p.mu.Lock()
	p.lastRun = &now
	p.lastRunResult = res
	p.mu.Unlock()

	p.logger.Info("エンリッチメントを実行しました",
		slog.Int("selected", res.Selected),
		slog.Int("queued", res.Queued),
		slog.Int("rejected", res.Rejected),
		slog.Int("in_flight", res.InFlight),
	)
	return res, nil
}

// claim は処理中でない投稿を処理中として登録し、その投稿だけを返す。
func (p *Pipeline) claim(posts []*model.Post) []*model.Post {
	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := make([]*model.Post, 0, len(posts))
	for _, post := range posts {
		if _, ok := p.inflight[post.ID]; ok {
			continue
		}
		p.inflight[post.ID] = struct{}{}
		fresh = append(fresh, post)
	}
	return fresh
}

func (p *Pipeline) release(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

// Status はエンリッチメントの状態を返す。
func (p *Pipeline) Status() PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PipelineStatus{
		Enabled:       p.enabled,
		Queue:         p.base.QueueStatus(),
		LastRun:       p.lastRun,
		LastRunResult: p.lastRunResult,
	}
}

// Tracker はエンリッチメントキューの完了トラッカーを返す。
func (p *Pipeline) Tracker() *queue.Tracker {
	return p.base.Tracker()
}

// Stop はエンリッチメントキューを停止する。
func (p *Pipeline) Stop() {
	p.base.Stop()
}

// process はキューから取り出した投稿1件をエンリッチする。
func (p *Pipeline) process(ctx context.Context, post *model.Post) error {
	defer p.release(post.ID)

	result, ok, err := p.enrich(ctx, post)
	if err != nil {
		p.metrics.RecordEnrichment(resultFailed)
		return err
	}
	if !ok {
		p.metrics.RecordEnrichment(resultAbandoned)
		p.logger.Info("画像が見つからないためエンリッチメントを中止しました", slog.String("post_id", post.ID))
		return nil
	}

	if err := p.persist(ctx, result); err != nil {
		p.metrics.RecordEnrichment(resultFailed)
		return err
	}
	p.metrics.RecordEnrichment(resultEnriched)

	p.logger.Info("投稿をエンリッチしました",
		slog.String("post_id", post.ID),
		slog.String("provider", result.Gif.Provider),
		slog.Int("interest_count", len(result.Interests)),
	)
	events.Emit(ctx, p.deps.Publisher, p.logger, events.Event{
		Type: events.TypePostEnriched,
		Payload: map[string]any{
			"post_id":   post.ID,
			"gif_url":   result.Gif.URL,
			"provider":  result.Gif.Provider,
			"interests": result.Interests,
		},
	})
	return nil
}

// enrich は2段階の処理で結果を組み立てる。画像が見つからない場合はokがfalseになる。
func (p *Pipeline) enrich(ctx context.Context, post *model.Post) (model.EnrichmentResult, bool, error) {
	result := model.EnrichmentResult{PostID: post.ID}

	topic, err := p.deps.Topics.Extract(ctx, post)
	if err != nil {
		return result, false, err
	}
	gif, err := p.deps.Finder.Find(ctx, p.deps.Table.ComputeSearches(topic))
	if err != nil {
		return result, false, err
	}
	if !gif.Found() {
		return result, false, nil
	}
	result.Gif = gif

	// 興味カテゴリはベストエフォート。失敗しても画像の結果は保存する
	interests, err := p.deps.Categorizer.Categorize(ctx, post)
	if err != nil {
		p.logger.Warn("興味カテゴリの分類に失敗しました",
			slog.String("post_id", post.ID),
			slog.String("error", err.Error()),
		)
		interests = nil
	}
	result.Interests = interests
	return result, true, nil
}

// persist は画像、カテゴリのリンク、ai_checkedの順に書き込む。
// ai_checkedは以降の実行で再選択されないための印なので必ず最後に書く。
func (p *Pipeline) persist(ctx context.Context, result model.EnrichmentResult) error {
	if result.Gif.Found() {
		if err := p.deps.Gifs.Insert(ctx, &model.Gif{
			URL:      result.Gif.URL,
			Provider: result.Gif.Provider,
			PostID:   result.PostID,
		}); err != nil {
			return err
		}
	}
	if len(result.Interests) > 0 {
		if err := p.deps.Links.BatchInsert(ctx, result.PostID, result.Interests); err != nil {
			return err
		}
	}
	if err := p.deps.Posts.MarkEnriched(ctx, []string{result.PostID}, p.now()); err != nil {
		return err
	}
	return nil
}
