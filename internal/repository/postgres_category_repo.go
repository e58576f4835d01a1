package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresCategoryRepo はPostgreSQLを使用した興味カテゴリリポジトリ。
type PostgresCategoryRepo struct {
	db *sql.DB
}

// NewPostgresCategoryRepo はPostgresCategoryRepoを生成する。
func NewPostgresCategoryRepo(db *sql.DB) *PostgresCategoryRepo {
	return &PostgresCategoryRepo{db: db}
}

// ActiveByDepth は指定階層の有効なカテゴリを取得する。
func (r *PostgresCategoryRepo) ActiveByDepth(ctx context.Context, depth int, parentIDs []string) ([]model.Category, error) {
	query := `SELECT id, name, depth, parent_id FROM categories WHERE active = true AND depth = $1`
	args := []any{depth}
	if len(parentIDs) > 0 {
		query += ` AND parent_id = ANY($2::uuid[])`
		args = append(args, pq.Array(parentIDs))
	}
	query += ` ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("カテゴリの一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var categories []model.Category
	for rows.Next() {
		var c model.Category
		var parentID sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.Depth, &parentID); err != nil {
			return nil, fmt.Errorf("カテゴリの行読み取りに失敗しました: %w", err)
		}
		c.ParentID = nullStringValue(parentID)
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("カテゴリの走査に失敗しました: %w", err)
	}

	return categories, nil
}
