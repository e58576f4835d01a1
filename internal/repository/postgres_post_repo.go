package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Exists は同じ (source_link, source_key) の投稿が存在するかを返す。
func (r *PostgresPostRepo) Exists(ctx context.Context, sourceLink, sourceKey string) (bool, error) {
	if sourceLink == "" && sourceKey == "" {
		return false, nil
	}

	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		    SELECT 1 FROM posts
		    WHERE ($1 = '' OR source_link = $1)
		      AND ($2 = '' OR source_key = $2)
		 )`,
		sourceLink, sourceKey,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("投稿の存在確認に失敗しました: %w", err)
	}
	return exists, nil
}

// InsertIfNotExists は投稿を挿入する。
// (source_link, source_key) が衝突した場合はnilを返し、エラーにしない。
func (r *PostgresPostRepo) InsertIfNotExists(ctx context.Context, post *model.Post) (*model.Post, error) {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	tags := post.Tags
	if tags == nil {
		tags = []string{}
	}

	var createdDate time.Time
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO posts (id, title, description, content, topic, tags, source_key, source_link,
		                    source_name, language, publishing_date, connector_id, is_deleted)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, false)
		 ON CONFLICT (source_link, source_key) DO NOTHING
		 RETURNING created_date`,
		post.ID, post.Title, post.Description, post.Content, post.Topic, pq.Array(tags),
		post.SourceKey, post.SourceLink, string(post.SourceName), post.Language,
		post.PublishingDate, nullString(post.ConnectorID),
	).Scan(&createdDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	post.CreatedDate = createdDate
	return post, nil
}

// SelectUnenriched はai_checkedが未設定かつ論理削除されていない投稿を新しい順に取得する。
func (r *PostgresPostRepo) SelectUnenriched(ctx context.Context, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, content, topic, tags, source_key, source_link,
		        source_name, language, publishing_date, connector_id, is_deleted, ai_checked, created_date
		 FROM posts
		 WHERE ai_checked IS NULL AND is_deleted = false
		 ORDER BY created_date DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("未エンリッチ投稿の一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		p := &model.Post{}
		var sourceName string
		var connectorID sql.NullString
		var publishingDate, aiChecked sql.NullTime

		if err := rows.Scan(
			&p.ID, &p.Title, &p.Description, &p.Content, &p.Topic, pq.Array(&p.Tags),
			&p.SourceKey, &p.SourceLink, &sourceName, &p.Language, &publishingDate,
			&connectorID, &p.IsDeleted, &aiChecked, &p.CreatedDate,
		); err != nil {
			return nil, fmt.Errorf("未エンリッチ投稿の行読み取りに失敗しました: %w", err)
		}

		p.SourceName = model.SourceName(sourceName)
		p.ConnectorID = nullStringValue(connectorID)
		p.PublishingDate = nullTimePtr(publishingDate)
		p.AIChecked = nullTimePtr(aiChecked)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("未エンリッチ投稿の走査に失敗しました: %w", err)
	}

	return posts, nil
}

// MarkEnriched は指定投稿のai_checkedを設定する。
func (r *PostgresPostRepo) MarkEnriched(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET ai_checked = $2 WHERE id = ANY($1::uuid[])`,
		pq.Array(ids), at,
	)
	if err != nil {
		return fmt.Errorf("ai_checkedの更新に失敗しました: %w", err)
	}
	return nil
}
