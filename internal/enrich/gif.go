package enrich

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/feedsync/internal/imagesearch"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// defaultSearchLimit は1回の検索で取得する候補数のデフォルト値。
const defaultSearchLimit = 10

// GifFinder はトピックの検索クエリ列から、まだどの投稿にも使われていない画像を1件探す。
type GifFinder struct {
	providers map[string]imagesearch.Provider
	gifs      repository.GifRepository
	limit     int
	logger    *slog.Logger
}

// NewGifFinder はGifFinderを生成する。limitが0以下の場合は10件を使用する。
func NewGifFinder(gifs repository.GifRepository, providers []imagesearch.Provider, limit int, logger *slog.Logger) *GifFinder {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]imagesearch.Provider, len(providers))
	for _, p := range providers {
		m[p.Name()] = p
	}
	return &GifFinder{providers: m, gifs: gifs, limit: limit, logger: logger}
}

// Find はsearchesを順に検索し、保存済みでない最初の画像を返す。
// すべてのクエリで見つからない場合は空のGifResultを返す。
// 個々の検索の失敗はログに記録して次のクエリに進む。
func (f *GifFinder) Find(ctx context.Context, searches []Search) (model.GifResult, error) {
	for _, s := range searches {
		p, ok := f.providers[s.Provider]
		if !ok {
			f.logger.Debug("画像検索プロバイダが設定されていません",
				slog.String("provider", s.Provider),
				slog.String("category", s.Category),
			)
			continue
		}

		images, err := p.Search(ctx, s.Keyword, f.limit)
		if err != nil {
			f.logger.Warn("画像検索に失敗しました",
				slog.String("provider", s.Provider),
				slog.String("keyword", s.Keyword),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(images) == 0 {
			continue
		}

		urls := make([]string, 0, len(images))
		for _, img := range images {
			urls = append(urls, img.URL)
		}
		existing, err := f.gifs.ExistingURLs(ctx, urls)
		if err != nil {
			return model.GifResult{}, fmt.Errorf("保存済み画像の確認に失敗しました: %w", err)
		}
		for _, u := range urls {
			if _, used := existing[u]; !used {
				return model.GifResult{URL: u, Provider: s.Provider}, nil
			}
		}
	}
	return model.GifResult{}, nil
}
