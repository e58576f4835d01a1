package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// PostgresPostCategoryRepo はPostgreSQLを使用した投稿とカテゴリの紐付けリポジトリ。
type PostgresPostCategoryRepo struct {
	db *sql.DB
}

// NewPostgresPostCategoryRepo はPostgresPostCategoryRepoを生成する。
func NewPostgresPostCategoryRepo(db *sql.DB) *PostgresPostCategoryRepo {
	return &PostgresPostCategoryRepo{db: db}
}

// BatchInsert は投稿とカテゴリの紐付けを1文で一括作成する。既存の紐付けはスキップする。
func (r *PostgresPostCategoryRepo) BatchInsert(ctx context.Context, postID string, categoryIDs []string) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO post_categories (post_id, category_id)
		 SELECT $1, unnest($2::uuid[])
		 ON CONFLICT (post_id, category_id) DO NOTHING`,
		postID, pq.Array(categoryIDs),
	)
	if err != nil {
		return fmt.Errorf("投稿とカテゴリの紐付けに失敗しました: %w", err)
	}
	return nil
}
