package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hitoshi/feedsync/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソース設定リポジトリ。
type PostgresSourceRepo struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB, logger *slog.Logger) *PostgresSourceRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSourceRepo{db: db, logger: logger}
}

const selectSourceColumns = `SELECT id, name, type_config, fetch_period_minutes, active, created_at, updated_at FROM connectors`

// ListActive は有効なソース設定を全件取得する。
func (r *PostgresSourceRepo) ListActive(ctx context.Context) ([]*model.SourceConfig, error) {
	rows, err := r.db.QueryContext(ctx, selectSourceColumns+` WHERE active = true ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("有効なソース設定の一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var configs []*model.SourceConfig
	for rows.Next() {
		cfg, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース設定の行読み取りに失敗しました: %w", err)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース設定の走査に失敗しました: %w", err)
	}

	return configs, nil
}

// FindByID は指定IDのソース設定を取得する。見つからない場合はnilを返す。
// UUIDとして解釈できないIDは問い合わせずに未検出として扱う。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.SourceConfig, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx, selectSourceColumns+` WHERE id = $1`, id)
	cfg, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソース設定の取得に失敗しました: %w", err)
	}
	return cfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scan は1行をSourceConfigに変換する。
// type_configを解釈できない場合は種別を空にし、警告ログを出力する。
func (r *PostgresSourceRepo) scan(row rowScanner) (*model.SourceConfig, error) {
	cfg := &model.SourceConfig{}
	var rawTypeConfig string
	if err := row.Scan(
		&cfg.ID, &cfg.Name, &rawTypeConfig, &cfg.FetchPeriodMinutes,
		&cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}

	tc, err := model.ParseTypeConfig(rawTypeConfig)
	if err != nil {
		r.logger.Warn("type_configを解釈できないソース設定があります",
			slog.String("source_id", cfg.ID),
			slog.String("error", err.Error()),
		)
		return cfg, nil
	}
	cfg.TypeConfig = tc
	return cfg, nil
}
