// Package queue は最小実行間隔と容量上限を持つインメモリの作業キューを提供する。
//
// 1つのQueueは1本のドレインgoroutineでFIFO順にアイテムを処理し、
// アイテムの処理開始間隔が必ずDelay以上空くようにスロットリングする。
// 処理に失敗したアイテムはログに記録して破棄し、再投入しない。
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedsync/internal/metrics"
)

// Handler はキューから取り出した1件のアイテムを処理する。
// 返されたエラーはログに記録され、失敗件数として数えられる。
type Handler[T any] func(ctx context.Context, item T) error

// Config はキューの生成パラメータを保持する。
type Config[T any] struct {
	// Name はログとメトリクスのラベルに使うキュー名。
	Name string
	// MaxSize はバックログの上限。0の場合はすべての投入を拒否する。
	MaxSize int
	// Delay はアイテムの処理開始間隔の最小値。失敗したアイテムの後にも適用される。
	Delay time.Duration
	// Handler はアイテムごとの処理関数。
	Handler Handler[T]
	// OnReject は満杯で破棄されたアイテムを受け取る。nilの場合は何もしない。
	OnReject func(item T)
	// Logger はnilの場合slog.Default()を使用する。
	Logger *slog.Logger
	// Metrics はnilの場合メトリクスを記録しない。
	Metrics metrics.MetricsCollector
}

// State はキューの読み取り専用スナップショット。
type State struct {
	Size           int   `json:"size"`
	IsRunning      bool  `json:"is_running"`
	Processing     bool  `json:"processing"`
	ExecutionCount int64 `json:"execution_count"`
	CompletedCount int64 `json:"completed_count"`
	RejectionCount int64 `json:"rejection_count"`
	FailureCount   int64 `json:"failure_count"`
	MaxSize        int   `json:"max_size"`
	IsEmpty        bool  `json:"is_empty"`
	IsFull         bool  `json:"is_full"`
	IsStopped      bool  `json:"is_stopped"`
}

// Submission はEnqueueBatchの結果を表す。
// StartSeqとEndSeqは受理されたアイテムの通し番号の範囲 (StartSeq, EndSeq] を示し、
// CompletedCountがEndSeqに達した時点でこのバッチは処理し終わっている。
type Submission struct {
	Accepted int
	Rejected int
	StartSeq int64
	EndSeq   int64
}

// Queue はスロットリング付きのFIFO作業キュー。
type Queue[T any] struct {
	name     string
	maxSize  int
	delay    time.Duration
	handler  Handler[T]
	onReject func(item T)
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	mu             sync.Mutex
	items          []T
	running        bool
	processing     bool
	stopped        bool
	acceptedSeq    int64
	executionCount int64
	completedCount int64
	rejectionCount int64
	failureCount   int64
	observers      []func(State)

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New はキューを生成し、ドレインgoroutineを開始する。
// 停止するにはStopを呼び出す。
func New[T any](cfg Config[T]) *Queue[T] {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := cfg.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	maxSize := cfg.MaxSize
	if maxSize < 0 {
		maxSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue[T]{
		name:     cfg.Name,
		maxSize:  maxSize,
		delay:    cfg.Delay,
		handler:  cfg.Handler,
		onReject: cfg.OnReject,
		logger:   logger.With(slog.String("queue", cfg.Name)),
		metrics:  mc,
		wake:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go q.run()
	return q
}

// Name はキュー名を返す。
func (q *Queue[T]) Name() string {
	return q.name
}

// Enqueue はアイテムをバックログの末尾に追加する。
// バックログが満杯（または停止済み）の場合はfalseを返し、拒否件数を加算してOnRejectを呼び出す。
// 呼び出し元をブロックすることはない。
func (q *Queue[T]) Enqueue(item T) bool {
	sub := q.EnqueueBatch([]T{item})
	return sub.Accepted == 1
}

// EnqueueBatch は複数のアイテムを1回のロックで追加する。
// 満杯になった時点以降のアイテムは拒否される。受理されたアイテムは連続した通し番号を持つ。
func (q *Queue[T]) EnqueueBatch(items []T) Submission {
	q.mu.Lock()
	sub := Submission{StartSeq: q.acceptedSeq}
	var rejected []T
	for _, item := range items {
		if q.stopped || len(q.items) >= q.maxSize {
			q.rejectionCount++
			rejected = append(rejected, item)
			continue
		}
		q.items = append(q.items, item)
		q.acceptedSeq++
		sub.Accepted++
	}
	sub.EndSeq = q.acceptedSeq
	sub.Rejected = len(rejected)
	state := q.snapshotLocked()
	q.mu.Unlock()

	for _, item := range rejected {
		q.metrics.RecordQueueRejection(q.name)
		if q.onReject != nil {
			q.onReject(item)
		}
	}
	if len(rejected) > 0 {
		q.logger.Warn("キューが満杯のためアイテムを破棄しました",
			slog.Int("rejected", len(rejected)),
			slog.Int("size", state.Size),
			slog.Int("max_size", q.maxSize),
		)
	}

	if sub.Accepted > 0 {
		q.metrics.SetQueueSize(q.name, state.Size)
		q.signal()
		q.notify(state)
	}
	return sub
}

// Status はキューの現在の状態を返す。
func (q *Queue[T]) Status() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// OnStateChange は状態遷移（投入・処理開始・処理完了・停止）ごとに呼ばれるオブザーバーを登録する。
// オブザーバーはキューのロック外で呼び出される。
func (q *Queue[T]) OnStateChange(fn func(State)) {
	q.mu.Lock()
	q.observers = append(q.observers, fn)
	q.mu.Unlock()
}

// Stop はドレインループを停止する。
// 未処理のアイテムは破棄され、処理中のアイテムは完了を待つ。
// ハンドラー内から呼び出してはならない。
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	dropped := len(q.items)
	q.items = nil
	q.mu.Unlock()

	q.cancel()
	<-q.done

	q.mu.Lock()
	q.running = false
	state := q.snapshotLocked()
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Info("キュー停止により未処理アイテムを破棄しました", slog.Int("dropped", dropped))
	}
	q.metrics.SetQueueSize(q.name, 0)
	q.notify(state)
}

func (q *Queue[T]) run() {
	defer close(q.done)

	for {
		item, ok := q.next()
		if !ok {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.process(item)

		if q.delay > 0 {
			select {
			case <-q.ctx.Done():
				return
			case <-time.After(q.delay):
			}
		} else if q.ctx.Err() != nil {
			return
		}
	}
}

// next はバックログの先頭を取り出す。空の場合はfalseを返す。
func (q *Queue[T]) next() (T, bool) {
	var zero T

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return zero, false
	}
	if len(q.items) == 0 {
		changed := q.running
		q.running = false
		state := q.snapshotLocked()
		q.mu.Unlock()
		if changed {
			q.notify(state)
		}
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.running = true
	q.processing = true
	q.executionCount++
	state := q.snapshotLocked()
	q.mu.Unlock()

	q.metrics.RecordQueueExecution(q.name)
	q.metrics.SetQueueSize(q.name, state.Size)
	q.notify(state)
	return item, true
}

func (q *Queue[T]) process(item T) {
	start := time.Now()
	err := q.invoke(item)

	q.mu.Lock()
	q.processing = false
	q.completedCount++
	if err != nil {
		q.failureCount++
	}
	state := q.snapshotLocked()
	q.mu.Unlock()

	if err != nil {
		q.metrics.RecordQueueFailure(q.name)
		q.logger.Warn("キューアイテムの処理に失敗しました",
			slog.String("error", err.Error()),
			slog.Int64("execution_count", state.ExecutionCount),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	q.notify(state)
}

// invoke はハンドラーを呼び出し、panicをエラーに変換する。
// 処理中のアイテムはStopでキャンセルされないよう、キューのコンテキストとは切り離して実行する。
func (q *Queue[T]) invoke(item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ハンドラーでpanicが発生しました: %v", r)
		}
	}()
	if q.handler == nil {
		return nil
	}
	return q.handler(context.Background(), item)
}

func (q *Queue[T]) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue[T]) notify(state State) {
	q.mu.Lock()
	observers := make([]func(State), len(q.observers))
	copy(observers, q.observers)
	q.mu.Unlock()

	for _, fn := range observers {
		q.safeObserve(fn, state)
	}
}

func (q *Queue[T]) safeObserve(fn func(State), state State) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("キューのオブザーバーでpanicが発生しました", slog.Any("panic", r))
		}
	}()
	fn(state)
}

func (q *Queue[T]) snapshotLocked() State {
	size := len(q.items)
	return State{
		Size:           size,
		IsRunning:      q.running,
		Processing:     q.processing,
		ExecutionCount: q.executionCount,
		CompletedCount: q.completedCount,
		RejectionCount: q.rejectionCount,
		FailureCount:   q.failureCount,
		MaxSize:        q.maxSize,
		IsEmpty:        size == 0,
		IsFull:         size >= q.maxSize,
		IsStopped:      q.stopped,
	}
}
