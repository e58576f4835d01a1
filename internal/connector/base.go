package connector

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
)

// QueueSettings はコネクタのキュー設定。
type QueueSettings struct {
	MaxSize int
	Delay   time.Duration
}

// Base はコネクタ共通のキュー管理を提供する。
// キューは最初のSubmitまたはTrackerの呼び出し時に1回だけ生成される。
type Base[T any] struct {
	name     string
	settings QueueSettings
	handler  queue.Handler[T]
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	mu      sync.Mutex
	q       *queue.Queue[T]
	tracker *queue.Tracker
}

// NewBase はBaseを生成する。handlerはキューから取り出したアイテムごとに呼ばれる。
func NewBase[T any](name string, settings QueueSettings, handler queue.Handler[T], logger *slog.Logger, mc metrics.MetricsCollector) *Base[T] {
	if logger == nil {
		logger = slog.Default()
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	return &Base[T]{
		name:     name,
		settings: settings,
		handler:  handler,
		logger:   logger,
		metrics:  mc,
	}
}

func (b *Base[T]) ensure() (*queue.Queue[T], *queue.Tracker) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.q == nil {
		b.q = queue.New(queue.Config[T]{
			Name:    b.name,
			MaxSize: b.settings.MaxSize,
			Delay:   b.settings.Delay,
			Handler: b.handler,
			Logger:  b.logger,
			Metrics: b.metrics,
		})
		b.tracker = queue.NewTracker(b.q, b.logger)
	}
	return b.q, b.tracker
}

// Submit はアイテムをまとめてキューに投入し、onCompleteが指定されていればバッチの完了通知を登録する。
func (b *Base[T]) Submit(items []T, onComplete queue.CompletionFunc) queue.Submission {
	q, tracker := b.ensure()
	sub := q.EnqueueBatch(items)
	if onComplete != nil {
		tracker.Arm(sub, onComplete)
	}
	return sub
}

// Tracker はキューの完了トラッカーを返す。
func (b *Base[T]) Tracker() *queue.Tracker {
	_, tracker := b.ensure()
	return tracker
}

// QueueStatus はキューの状態を返す。キューが未生成の場合は空の状態を返す。
func (b *Base[T]) QueueStatus() queue.State {
	b.mu.Lock()
	q := b.q
	b.mu.Unlock()

	if q == nil {
		return queue.State{
			MaxSize: b.settings.MaxSize,
			IsEmpty: true,
			IsFull:  b.settings.MaxSize <= 0,
		}
	}
	return q.Status()
}

// Result は投入結果からSyncResultを組み立てる。
// Processedはキューの累計実行数のスナップショット。
func (b *Base[T]) Result(totalItems int, sub queue.Submission) *model.SyncResult {
	state := b.QueueStatus()
	msg := fmt.Sprintf("%d件中%d件をキューに追加しました", totalItems, sub.Accepted)
	if sub.Rejected > 0 {
		msg = fmt.Sprintf("%s（%d件はキューが満杯のため破棄）", msg, sub.Rejected)
	}
	return &model.SyncResult{
		Success:    true,
		TotalItems: totalItems,
		Queued:     sub.Accepted,
		QueueSize:  state.Size,
		Processed:  state.ExecutionCount,
		Message:    msg,
	}
}

// Stop はキューを停止する。
func (b *Base[T]) Stop() {
	b.mu.Lock()
	q := b.q
	b.mu.Unlock()

	if q != nil {
		q.Stop()
	}
}

// Truncate はitemsを最大limit件に切り詰める。limitが0以下の場合は切り詰めない。
func Truncate[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[:limit]
}

// EffectiveMax は設定値と全体上限のうち小さい方を返す。設定値が0以下の場合は全体上限を返す。
func EffectiveMax(configured, ceiling int) int {
	if configured <= 0 {
		return ceiling
	}
	if ceiling > 0 && configured > ceiling {
		return ceiling
	}
	return configured
}
