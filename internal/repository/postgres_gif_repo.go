package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresGifRepo はPostgreSQLを使用した画像レコードリポジトリ。
type PostgresGifRepo struct {
	db *sql.DB
}

// NewPostgresGifRepo はPostgresGifRepoを生成する。
func NewPostgresGifRepo(db *sql.DB) *PostgresGifRepo {
	return &PostgresGifRepo{db: db}
}

// ExistingURLs は指定URLのうち保存済みのものを返す。
func (r *PostgresGifRepo) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(urls) == 0 {
		return existing, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT url FROM gifs WHERE url = ANY($1)`,
		pq.Array(urls),
	)
	if err != nil {
		return nil, fmt.Errorf("保存済み画像URLの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("画像URLの行読み取りに失敗しました: %w", err)
		}
		existing[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("画像URLの走査に失敗しました: %w", err)
	}

	return existing, nil
}

// Insert は画像レコードを保存する。URLが重複する場合は何もしない。
func (r *PostgresGifRepo) Insert(ctx context.Context, gif *model.Gif) error {
	if gif.ID == "" {
		gif.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO gifs (id, url, provider, post_id)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (url) DO NOTHING`,
		gif.ID, gif.URL, gif.Provider, gif.PostID,
	)
	if err != nil {
		return fmt.Errorf("画像レコードの保存に失敗しました: %w", err)
	}
	return nil
}
