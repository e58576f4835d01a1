package enrich

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedsync/internal/ai"
	"github.com/hitoshi/feedsync/internal/imagesearch"
	"github.com/hitoshi/feedsync/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// mockGenerator はTextGeneratorのテスト用モック。
type mockGenerator struct {
	mu           sync.Mutex
	requests     []ai.Request
	generateFunc func(ctx context.Context, req ai.Request) (ai.Response, error)
}

func (m *mockGenerator) Generate(ctx context.Context, req ai.Request) (ai.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	return ai.Response{}, nil
}

// mockProvider はimagesearch.Providerのテスト用モック。
type mockProvider struct {
	name       string
	searchFunc func(ctx context.Context, keyword string, limit int) ([]imagesearch.Image, error)
	keywords   []string
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(ctx context.Context, keyword string, limit int) ([]imagesearch.Image, error) {
	m.keywords = append(m.keywords, keyword)
	if m.searchFunc != nil {
		return m.searchFunc(ctx, keyword, limit)
	}
	return nil, nil
}

// writeLog はリポジトリへの書き込み順を記録する。
type writeLog struct {
	mu     sync.Mutex
	writes []string
}

func (l *writeLog) add(w string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writes = append(l.writes, w)
}

func (l *writeLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.writes...)
}

// mockGifRepo はGifRepositoryのテスト用モック。
type mockGifRepo struct {
	mu       sync.Mutex
	existing map[string]struct{}
	inserted []*model.Gif
	existErr error
	log      *writeLog
}

func (m *mockGifRepo) ExistingURLs(ctx context.Context, urls []string) (map[string]struct{}, error) {
	if m.existErr != nil {
		return nil, m.existErr
	}
	out := make(map[string]struct{})
	for _, u := range urls {
		if _, ok := m.existing[u]; ok {
			out[u] = struct{}{}
		}
	}
	return out, nil
}

func (m *mockGifRepo) Insert(ctx context.Context, gif *model.Gif) error {
	m.log.add("gif")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, gif)
	return nil
}

// mockCategoryRepo はCategoryRepositoryのテスト用モック。
type mockCategoryRepo struct {
	mu         sync.Mutex
	calls      []int
	parentArgs [][]string
	categories []model.Category
	err        error
}

func (m *mockCategoryRepo) ActiveByDepth(ctx context.Context, depth int, parentIDs []string) ([]model.Category, error) {
	m.mu.Lock()
	m.calls = append(m.calls, depth)
	m.parentArgs = append(m.parentArgs, append([]string(nil), parentIDs...))
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	parents := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parents[id] = struct{}{}
	}
	var out []model.Category
	for _, c := range m.categories {
		if c.Depth != depth {
			continue
		}
		if len(parentIDs) > 0 {
			if _, ok := parents[c.ParentID]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// mockPostRepo はPostRepositoryのテスト用モック。
type mockPostRepo struct {
	mu          sync.Mutex
	unenriched  []*model.Post
	selectLimit int
	enriched    []string
	log         *writeLog
}

func (m *mockPostRepo) Exists(ctx context.Context, sourceLink, sourceKey string) (bool, error) {
	return false, nil
}

func (m *mockPostRepo) InsertIfNotExists(ctx context.Context, post *model.Post) (*model.Post, error) {
	return post, nil
}

func (m *mockPostRepo) enrichedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.enriched...)
}

func (m *mockPostRepo) SelectUnenriched(ctx context.Context, limit int) ([]*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectLimit = limit
	if len(m.unenriched) > limit {
		return m.unenriched[:limit], nil
	}
	return m.unenriched, nil
}

func (m *mockPostRepo) MarkEnriched(ctx context.Context, ids []string, at time.Time) error {
	m.log.add("mark")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enriched = append(m.enriched, ids...)
	return nil
}

// mockLinkRepo はPostCategoryRepositoryのテスト用モック。
type mockLinkRepo struct {
	mu    sync.Mutex
	links map[string][]string
	log   *writeLog
}

func (m *mockLinkRepo) BatchInsert(ctx context.Context, postID string, categoryIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links == nil {
		m.links = make(map[string][]string)
	}
	m.links[postID] = append(m.links[postID], categoryIDs...)
	m.log.add("links")
	return nil
}
