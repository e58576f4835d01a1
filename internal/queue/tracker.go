package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrTrackerAbandoned はバッチの完了前にキューが停止したことを示す。
var ErrTrackerAbandoned = errors.New("キューが停止したためバッチの完了を追跡できません")

// CompletionFunc はバッチの処理完了時に1回だけ呼ばれる。
// queuedは受理件数、processedはそのバッチのうち実行されたアイテム数。
type CompletionFunc func(queued, processed int)

// BatchResult はWaitの戻り値。
type BatchResult struct {
	Queued    int `json:"queued"`
	Processed int `json:"processed"`
}

// StateSource はTrackerが監視するキューの最小インターフェース。
type StateSource interface {
	Status() State
	OnStateChange(fn func(State))
}

type trackedBatch struct {
	sub       Submission
	fn        CompletionFunc
	abandoned chan struct{}
}

// Tracker は共有キューに投入された論理バッチの完了を検出する。
//
// 各バッチはキューの受理通し番号の範囲で識別され、完了件数がバッチの末尾番号に達した時点で
// 一度だけ通知される。複数のバッチを同時に追跡できる。
type Tracker struct {
	source StateSource
	logger *slog.Logger

	mu        sync.Mutex
	pending   []*trackedBatch
	completed int64
	stopped   bool
}

// NewTracker はStateSourceの状態遷移を購読するTrackerを生成する。
func NewTracker(source StateSource, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		source: source,
		logger: logger,
	}
	source.OnStateChange(t.observe)
	return t
}

// Arm はバッチの完了通知を登録する。
// 受理件数が0のバッチは登録せずfalseを返す。登録時点ですでに処理済みのバッチは即座に通知する。
func (t *Tracker) Arm(sub Submission, fn CompletionFunc) bool {
	if sub.Accepted == 0 || fn == nil {
		return false
	}
	t.arm(&trackedBatch{sub: sub, fn: fn})
	return true
}

// Wait はバッチの処理完了までブロックする。
// ctxがキャンセルされた場合はctx.Err()を、キューが停止した場合はErrTrackerAbandonedを返す。
func (t *Tracker) Wait(ctx context.Context, sub Submission) (BatchResult, error) {
	if sub.Accepted == 0 {
		return BatchResult{}, nil
	}

	result := make(chan BatchResult, 1)
	b := &trackedBatch{
		sub: sub,
		fn: func(queued, processed int) {
			result <- BatchResult{Queued: queued, Processed: processed}
		},
		abandoned: make(chan struct{}),
	}
	t.arm(b)

	select {
	case r := <-result:
		return r, nil
	case <-b.abandoned:
		return BatchResult{}, ErrTrackerAbandoned
	case <-ctx.Done():
		t.remove(b)
		return BatchResult{}, ctx.Err()
	}
}

// Pending は未完了のバッチ数を返す。
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) arm(b *trackedBatch) {
	// observeの配信が遅れてもArm時点の状態で判定できるよう、現在値を取り込む
	state := t.source.Status()

	t.mu.Lock()
	if state.CompletedCount > t.completed {
		t.completed = state.CompletedCount
	}
	if t.stopped || state.IsStopped {
		t.mu.Unlock()
		if t.completed >= b.sub.EndSeq {
			t.fire(b)
			return
		}
		t.abandon(b)
		return
	}
	if t.completed >= b.sub.EndSeq {
		t.mu.Unlock()
		t.fire(b)
		return
	}
	t.pending = append(t.pending, b)
	t.mu.Unlock()
}

func (t *Tracker) observe(state State) {
	t.mu.Lock()
	if state.CompletedCount > t.completed {
		t.completed = state.CompletedCount
	}

	var ready []*trackedBatch
	remaining := t.pending[:0]
	for _, b := range t.pending {
		if t.completed >= b.sub.EndSeq {
			ready = append(ready, b)
		} else {
			remaining = append(remaining, b)
		}
	}
	t.pending = remaining

	var abandoned []*trackedBatch
	if state.IsStopped {
		t.stopped = true
		abandoned = t.pending
		t.pending = nil
	}
	t.mu.Unlock()

	// 再入による二重通知を避けるため、リストから外してから通知する
	for _, b := range ready {
		t.fire(b)
	}
	for _, b := range abandoned {
		t.abandon(b)
	}
}

func (t *Tracker) remove(target *trackedBatch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, b := range t.pending {
		if b == target {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

func (t *Tracker) fire(b *trackedBatch) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("完了コールバックでpanicが発生しました", slog.Any("panic", r))
		}
	}()
	processed := int(b.sub.EndSeq - b.sub.StartSeq)
	b.fn(b.sub.Accepted, processed)
}

func (t *Tracker) abandon(b *trackedBatch) {
	if b.abandoned != nil {
		close(b.abandoned)
	}
	t.logger.Debug("キュー停止によりバッチの完了追跡を破棄しました",
		slog.Int("queued", b.sub.Accepted),
	)
}
