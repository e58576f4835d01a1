// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostRepository は投稿データの永続化インターフェース。
// 投稿の同一性は (source_link, source_key) の組で判定する。
type PostRepository interface {
	// Exists は同じ (source_link, source_key) の投稿が存在するかを返す。
	// 空文字列の項目は条件から除外する。両方とも空の場合はfalseを返す。
	Exists(ctx context.Context, sourceLink, sourceKey string) (bool, error)

	// InsertIfNotExists は投稿を挿入する。
	// 一意制約に衝突した場合はエラーにせず、nilを返す。
	InsertIfNotExists(ctx context.Context, post *model.Post) (*model.Post, error)

	// SelectUnenriched はai_checkedが未設定かつ論理削除されていない投稿を新しい順に取得する。
	SelectUnenriched(ctx context.Context, limit int) ([]*model.Post, error)

	// MarkEnriched は指定投稿のai_checkedを設定する。
	MarkEnriched(ctx context.Context, ids []string, at time.Time) error
}

// SourceRepository はソース設定の読み取りインターフェース。
// type_configは読み込み時に1回だけmodel.TypeConfigへ変換する。
type SourceRepository interface {
	// ListActive は有効なソース設定を全件取得する。
	// type_configを解釈できない行はTypeConfig.Typeを空にして返す。
	ListActive(ctx context.Context) ([]*model.SourceConfig, error)

	// FindByID は指定IDのソース設定を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SourceConfig, error)
}

// CategoryRepository は興味カテゴリの読み取りインターフェース。
type CategoryRepository interface {
	// ActiveByDepth は指定階層の有効なカテゴリを取得する。
	// parentIDsが空でない場合は親IDがいずれかに一致するものに限定する。
	ActiveByDepth(ctx context.Context, depth int, parentIDs []string) ([]model.Category, error)
}

// GifRepository は投稿に紐づく画像レコードの永続化インターフェース。
type GifRepository interface {
	// ExistingURLs は指定URLのうち保存済みのものを返す。
	ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error)

	// Insert は画像レコードを保存する。URLが重複する場合は何もしない。
	Insert(ctx context.Context, gif *model.Gif) error
}

// PostCategoryRepository は投稿と興味カテゴリの紐付けの永続化インターフェース。
type PostCategoryRepository interface {
	// BatchInsert は投稿とカテゴリの紐付けを一括作成する。既存の紐付けはスキップする。
	BatchInsert(ctx context.Context, postID string, categoryIDs []string) error
}
