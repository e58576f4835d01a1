// Package rss はRSS/Atomフィードのコネクタを提供する。
package rss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feedsync/internal/connector"
	"github.com/hitoshi/feedsync/internal/content"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
	"github.com/hitoshi/feedsync/internal/security"
)

// Type はtype_configで使用する種別名。
const Type = "rss"

// Settings はrssコネクタの種別固有設定。
type Settings struct {
	URL             string `json:"url"`
	MaxItems        int    `json:"maxItems,omitempty"`
	ContentSelector string `json:"contentSelector,omitempty"`
	Language        string `json:"language,omitempty"`
	FetchContent    *bool  `json:"fetchContent,omitempty"`
}

// ShouldFetchContent は記事ページから本文を取得するかを返す。未指定の場合はtrue。
func (s Settings) ShouldFetchContent() bool {
	return s.FetchContent == nil || *s.FetchContent
}

// Options はrssコネクタの動作パラメータ。
type Options struct {
	Queue connector.QueueSettings
	// MaxItems は1回の同期でキューに投入する件数の上限。
	MaxItems int
	// Timeout はフィード取得のタイムアウト。
	Timeout time.Duration
	// MaxBodySize はフィードのレスポンスサイズ上限。
	MaxBodySize int64
}

// item はキューに投入する1記事分の作業単位。
type item struct {
	sourceID     string
	feedLanguage string
	settings     Settings
	entry        *gofeed.Item
}

// Connector はRSS/Atomフィードを取得して投稿に変換するコネクタ。
type Connector struct {
	base      *connector.Base[item]
	writer    *connector.PostWriter
	guard     security.Guard
	client    *http.Client
	extractor content.TextExtractor
	robots    content.RobotsPolicy
	sanitizer security.ContentSanitizerService
	maxItems  int
	logger    *slog.Logger
}

// New はrssコネクタを生成する。robotsがnilの場合はrobots.txtを確認しない。
func New(
	writer *connector.PostWriter,
	guard security.Guard,
	extractor content.TextExtractor,
	robots content.RobotsPolicy,
	sanitizer security.ContentSanitizerService,
	opts Options,
	logger *slog.Logger,
	mc metrics.MetricsCollector,
) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = content.DefaultFetchTimeout
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = content.DefaultMaxSize
	}
	logger = logger.With(slog.String("connector_type", Type))

	c := &Connector{
		writer:    writer,
		guard:     guard,
		client:    guard.NewSafeClient(opts.Timeout, opts.MaxBodySize),
		extractor: extractor,
		robots:    robots,
		sanitizer: sanitizer,
		maxItems:  opts.MaxItems,
		logger:    logger,
	}
	c.base = connector.NewBase(Type, opts.Queue, c.process, logger, mc)
	return c
}

// Type は種別名を返す。
func (c *Connector) Type() string {
	return Type
}

// QueueStatus はキューの状態を返す。
func (c *Connector) QueueStatus() queue.State {
	return c.base.QueueStatus()
}

// Tracker はキューの完了トラッカーを返す。
func (c *Connector) Tracker() *queue.Tracker {
	return c.base.Tracker()
}

// Stop はキューを停止する。
func (c *Connector) Stop() {
	c.base.Stop()
}

// ValidateConfig はurlが設定されているかを確認する。
func (c *Connector) ValidateConfig(raw json.RawMessage) error {
	_, err := decodeSettings(raw)
	return err
}

func decodeSettings(raw json.RawMessage) (Settings, error) {
	var s Settings
	if len(raw) == 0 {
		return s, fmt.Errorf("%w: rss設定がありません", model.ErrInvalidConnectorConfig)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("%w: rss設定を解析できません: %v", model.ErrInvalidConnectorConfig, err)
	}
	s.URL = strings.TrimSpace(s.URL)
	if s.URL == "" {
		return s, fmt.Errorf("%w: urlは必須です", model.ErrInvalidConnectorConfig)
	}
	if s.MaxItems < 0 {
		return s, fmt.Errorf("%w: maxItemsは0以上で指定してください", model.ErrInvalidConnectorConfig)
	}
	return s, nil
}

// Sync はフィードを取得してアイテムをキューに投入する。
func (c *Connector) Sync(ctx context.Context, cfg *model.SourceConfig, onComplete queue.CompletionFunc) (*model.SyncResult, error) {
	settings, err := decodeSettings(cfg.TypeConfig.Settings)
	if err != nil {
		return nil, err
	}
	if err := c.guard.ValidateURL(settings.URL); err != nil {
		return nil, fmt.Errorf("%w: フィードURLの検証に失敗しました: %v", model.ErrInvalidConnectorConfig, err)
	}

	feed, err := c.fetchFeed(ctx, settings.URL)
	if err != nil {
		return nil, err
	}

	items := make([]item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if entry == nil {
			continue
		}
		items = append(items, item{
			sourceID:     cfg.ID,
			feedLanguage: feed.Language,
			settings:     settings,
			entry:        entry,
		})
	}
	total := len(items)
	items = connector.Truncate(items, connector.EffectiveMax(settings.MaxItems, c.maxItems))

	sub := c.base.Submit(items, onComplete)
	c.logger.Info("フィードのアイテムをキューに投入しました",
		slog.String("source_id", cfg.ID),
		slog.String("feed_url", settings.URL),
		slog.Int("items_total", total),
		slog.Int("queued", sub.Accepted),
		slog.Int("rejected", sub.Rejected),
	)
	return c.base.Result(total, sub), nil
}

// fetchFeed はフィードを取得してパースする。
// URLがHTMLページを返した場合は、headで告知されたフィードを1回だけ取得し直す。
func (c *Connector) fetchFeed(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	body, contentType, err := c.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	if isHTMLPage(contentType, body) {
		link, ok := selectFeedLink(parseFeedLinks(body, feedURL), feedURL)
		if !ok {
			return nil, fmt.Errorf("%w: HTMLページにフィードのリンクがありません: %s", model.ErrUpstream, feedURL)
		}
		if err := c.guard.ValidateURL(link.url); err != nil {
			return nil, fmt.Errorf("%w: 検出したフィードURLの検証に失敗しました: %v", model.ErrUpstream, err)
		}
		c.logger.Info("HTMLページからフィードを検出しました",
			slog.String("page_url", feedURL),
			slog.String("feed_url", link.url),
		)
		if body, _, err = c.get(ctx, link.url); err != nil {
			return nil, err
		}
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: フィードのパースに失敗しました: %v", model.ErrUpstream, err)
	}
	return feed, nil
}

// get はURLを取得してボディとContent-Typeを返す。2xx以外は外部ソースのエラーとする。
func (c *Connector) get(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: リクエストの作成に失敗しました: %v", model.ErrInvalidConnectorConfig, err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.8, */*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: フィードの取得に失敗しました: %v", model.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: フィードの取得に失敗しました: HTTP %d", model.ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: レスポンスの読み取りに失敗しました: %v", model.ErrUpstream, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// process はキューから取り出した1記事を保存する。
func (c *Connector) process(ctx context.Context, it item) error {
	link, key := identity(it.entry)
	if link == "" && key == "" {
		return errors.New("記事にリンクとGUIDがありません")
	}

	_, err := c.writer.ExistsOrWrite(ctx, link, key, func(ctx context.Context) (*model.Post, error) {
		return c.buildPost(ctx, it, link, key), nil
	})
	return err
}

// identity は記事の (source_link, source_key) を返す。
// リンクがなくGUIDがURL形式の場合はGUIDをリンクとして使う。
func identity(entry *gofeed.Item) (string, string) {
	link := strings.TrimSpace(entry.Link)
	key := strings.TrimSpace(entry.GUID)
	if link == "" && (strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://")) {
		link = key
	}
	return link, key
}

func (c *Connector) buildPost(ctx context.Context, it item, link, key string) *model.Post {
	entry := it.entry

	post := &model.Post{
		Title:       c.sanitizer.ToText(entry.Title),
		Description: c.sanitizer.ToText(entry.Description),
		Content:     c.resolveContent(ctx, it, link),
		Tags:        categories(entry),
		SourceKey:   key,
		SourceLink:  link,
		SourceName:  model.SourceNameRSS,
		Language:    firstNonEmpty(it.settings.Language, it.feedLanguage),
		ConnectorID: it.sourceID,
	}
	if len(post.Tags) > 0 {
		post.Topic = post.Tags[0]
	}
	if entry.PublishedParsed != nil {
		t := *entry.PublishedParsed
		post.PublishingDate = &t
	} else if entry.UpdatedParsed != nil {
		t := *entry.UpdatedParsed
		post.PublishingDate = &t
	}
	return post
}

// resolveContent は記事ページの本文、フィードの本文、概要の順に本文を決める。
func (c *Connector) resolveContent(ctx context.Context, it item, link string) string {
	if it.settings.ShouldFetchContent() && link != "" && c.extractor != nil {
		if c.robots == nil || c.robots.Allowed(ctx, link) {
			text, err := c.extractor.Extract(ctx, link, it.settings.ContentSelector)
			if err != nil {
				c.logger.Warn("記事本文の取得に失敗しました（フィードの本文を使用します）",
					slog.String("source_id", it.sourceID),
					slog.String("url", link),
					slog.String("error", err.Error()),
				)
			} else if text != "" {
				return text
			}
		} else {
			c.logger.Debug("robots.txtにより本文取得をスキップしました",
				slog.String("source_id", it.sourceID),
				slog.String("url", link),
			)
		}
	}
	return c.sanitizer.ToText(firstNonEmpty(it.entry.Content, it.entry.Description))
}

func categories(entry *gofeed.Item) []string {
	seen := make(map[string]struct{}, len(entry.Categories))
	tags := make([]string, 0, len(entry.Categories))
	for _, cat := range entry.Categories {
		cat = strings.TrimSpace(cat)
		if cat == "" {
			continue
		}
		if _, ok := seen[cat]; ok {
			continue
		}
		seen[cat] = struct{}{}
		tags = append(tags, cat)
	}
	return tags
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
