package connector

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feedsync/internal/events"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// PostWriter はコネクタ共通の投稿保存処理を提供する。
// (source_link, source_key) による重複確認の後、衝突時に何もしない挿入を行う。
type PostWriter struct {
	connectorType string
	posts         repository.PostRepository
	publisher     events.Publisher
	metrics       metrics.MetricsCollector
	logger        *slog.Logger
}

// NewPostWriter はPostWriterを生成する。
func NewPostWriter(connectorType string, posts repository.PostRepository, publisher events.Publisher, mc metrics.MetricsCollector, logger *slog.Logger) *PostWriter {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if mc == nil {
		mc = metrics.NopCollector{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostWriter{
		connectorType: connectorType,
		posts:         posts,
		publisher:     publisher,
		metrics:       mc,
		logger:        logger,
	}
}

// Exists は同じ (source_link, source_key) の投稿が保存済みかを返す。
func (w *PostWriter) Exists(ctx context.Context, sourceLink, sourceKey string) (bool, error) {
	exists, err := w.posts.Exists(ctx, sourceLink, sourceKey)
	if err != nil {
		return false, fmt.Errorf("重複確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Write は投稿を保存する。新規に保存された場合はtrueを返す。
// 同時実行された別の同期が先に保存していた場合はfalseを返し、エラーにしない。
func (w *PostWriter) Write(ctx context.Context, post *model.Post) (bool, error) {
	inserted, err := w.posts.InsertIfNotExists(ctx, post)
	if err != nil {
		return false, fmt.Errorf("投稿の保存に失敗しました: %w", err)
	}
	if inserted == nil {
		w.logger.Debug("投稿は保存済みのためスキップしました",
			slog.String("connector_type", w.connectorType),
			slog.String("source_link", post.SourceLink),
			slog.String("source_key", post.SourceKey),
		)
		return false, nil
	}

	w.metrics.RecordPostInserted(w.connectorType)
	events.Emit(ctx, w.publisher, w.logger, events.Event{
		Type: events.TypePostCreated,
		Payload: map[string]string{
			"post_id":      inserted.ID,
			"connector_id": inserted.ConnectorID,
			"source_name":  string(inserted.SourceName),
			"source_link":  inserted.SourceLink,
		},
	})
	w.logger.Info("投稿を保存しました",
		slog.String("connector_type", w.connectorType),
		slog.String("post_id", inserted.ID),
		slog.String("source_id", inserted.ConnectorID),
	)
	return true, nil
}

// ExistsOrWrite は重複していなければ投稿を保存する。
// 保存済みの場合はbuildを呼ばずにfalseを返す。buildは本文取得など高コストな準備に使う。
func (w *PostWriter) ExistsOrWrite(ctx context.Context, sourceLink, sourceKey string, build func(ctx context.Context) (*model.Post, error)) (bool, error) {
	exists, err := w.Exists(ctx, sourceLink, sourceKey)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	post, err := build(ctx)
	if err != nil {
		return false, err
	}
	return w.Write(ctx, post)
}
