package connector

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
)

// Registry は種別名からコネクタを引くプロセス内のテーブル。
// 起動時に登録し、以降は主に読み取りで使用する。並行アクセスに対して安全。
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	logger     *slog.Logger
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		connectors: make(map[string]Connector),
		logger:     logger,
	}
}

// Register はコネクタを登録する。同じ種別が登録済みの場合は警告を出して上書きする。
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	_, exists := r.connectors[c.Type()]
	r.connectors[c.Type()] = c
	r.mu.Unlock()

	if exists {
		r.logger.Warn("登録済みのコネクタを上書きしました", slog.String("connector_type", c.Type()))
		return
	}
	r.logger.Info("コネクタを登録しました", slog.String("connector_type", c.Type()))
}

// Get は種別に対応するコネクタを返す。
func (r *Registry) Get(connectorType string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[connectorType]
	return c, ok
}

// MustGet は種別に対応するコネクタを返す。未登録の場合はmodel.ErrConnectorNotFoundをラップして返す。
func (r *Registry) MustGet(connectorType string) (Connector, error) {
	c, ok := r.Get(connectorType)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrConnectorNotFound, connectorType)
	}
	return c, nil
}

// IsRegistered は種別が登録済みかを返す。
func (r *Registry) IsRegistered(connectorType string) bool {
	_, ok := r.Get(connectorType)
	return ok
}

// ListTypes は登録済みの種別名を昇順で返す。
func (r *Registry) ListTypes() []string {
	r.mu.RLock()
	types := make([]string, 0, len(r.connectors))
	for t := range r.connectors {
		types = append(types, t)
	}
	r.mu.RUnlock()

	sort.Strings(types)
	return types
}

// ListConnectors は登録済みのコネクタを種別名の昇順で返す。
func (r *Registry) ListConnectors() []Connector {
	types := r.ListTypes()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(types))
	for _, t := range types {
		if c, ok := r.connectors[t]; ok {
			out = append(out, c)
		}
	}
	return out
}

// AllQueueStatuses は全コネクタのキュー状態を返す。
// 状態取得でpanicしたコネクタは結果から除外する。
func (r *Registry) AllQueueStatuses() map[string]queue.State {
	statuses := make(map[string]queue.State)
	for _, c := range r.ListConnectors() {
		state, ok := r.safeQueueStatus(c)
		if !ok {
			continue
		}
		statuses[c.Type()] = state
	}
	return statuses
}

func (r *Registry) safeQueueStatus(c Connector) (state queue.State, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("キュー状態の取得に失敗しました",
				slog.String("connector_type", c.Type()),
				slog.Any("panic", rec),
			)
			ok = false
		}
	}()
	return c.QueueStatus(), true
}

// StopAll はキューを保持する全コネクタを停止する。
func (r *Registry) StopAll() {
	for _, c := range r.ListConnectors() {
		if s, ok := c.(Stopper); ok {
			s.Stop()
		}
	}
}

// ParseType は永続化されたtype_configから種別名を取り出す。
// nil、不正なJSON、空オブジェクトの場合はfalseを返す。
func ParseType(raw *string) (string, bool) {
	if raw == nil {
		return "", false
	}
	tc, err := model.ParseTypeConfig(*raw)
	if err != nil {
		return "", false
	}
	return tc.Type, true
}
