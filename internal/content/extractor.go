// Package content は記事ページの取得と本文抽出を提供する。
package content

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html/charset"

	"github.com/hitoshi/feedsync/internal/security"
)

// DefaultFetchTimeout は本文取得のデフォルトタイムアウト。
const DefaultFetchTimeout = 30 * time.Second

// DefaultMaxSize は本文取得で読み込むレスポンスの上限（5MB）。
const DefaultMaxSize int64 = 5 * 1024 * 1024

// blockTag はテキスト化の際に前後へ空白を補うブロック要素のタグ。
var blockTag = regexp.MustCompile(`(?i)</?(div|p|br|li|td|tr|h[1-6]|blockquote|section|article)\b[^>]*>`)

// TextExtractor はコネクタが利用する本文抽出のインターフェース。
type TextExtractor interface {
	Extract(ctx context.Context, pageURL, selector string) (string, error)
}

// Extractor は記事ページを取得し、本文のテキストを抽出する。
// selectorが一致すればその要素のテキストを、一致しなければreadabilityによる推定本文を返す。
type Extractor struct {
	client *http.Client
	guard  security.Guard
	logger *slog.Logger
}

// NewExtractor はExtractorを生成する。
// timeoutとmaxSizeが0以下の場合はデフォルト値を使用する。
func NewExtractor(guard security.Guard, timeout time.Duration, maxSize int64, logger *slog.Logger) *Extractor {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client: guard.NewSafeClient(timeout, maxSize),
		guard:  guard,
		logger: logger,
	}
}

// Extract はpageURLの本文テキストを返す。本文が見つからない場合は空文字列を返す。
func (e *Extractor) Extract(ctx context.Context, pageURL, selector string) (string, error) {
	if err := e.guard.ValidateURL(pageURL); err != nil {
		return "", fmt.Errorf("本文取得URLの検証に失敗しました: %w", err)
	}
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("本文取得URLの解析に失敗しました: %w", err)
	}

	body, err := e.fetch(ctx, pageURL)
	if err != nil {
		return "", err
	}

	if selector != "" {
		text, err := selectText(body, selector)
		if err != nil {
			e.logger.Warn("セレクタによる本文抽出に失敗しました",
				slog.String("url", pageURL),
				slog.String("selector", selector),
				slog.String("error", err.Error()),
			)
		} else if text != "" {
			return text, nil
		}
	}

	article, err := readability.FromReader(strings.NewReader(body), parsed)
	if err != nil {
		return "", fmt.Errorf("本文の推定に失敗しました: %w", err)
	}
	return htmlToText(article.Content)
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ページの取得に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ページの取得に失敗しました: HTTP %d", resp.StatusCode)
	}

	var reader io.Reader = resp.Body
	if utf8Reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type")); err == nil {
		reader = utf8Reader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("ページの読み込みに失敗しました: %w", err)
	}
	return string(data), nil
}

// selectText はselectorに一致する要素のテキストを連結して返す。
func selectText(rawHTML, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaceBlocks(rawHTML)))
	if err != nil {
		return "", fmt.Errorf("HTMLの解析に失敗しました: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var parts []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if text := normalizeText(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n"), nil
}

// htmlToText はreadabilityが返した本文HTMLをテキストに変換する。
func htmlToText(rawHTML string) (string, error) {
	if strings.TrimSpace(rawHTML) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(spaceBlocks(rawHTML)))
	if err != nil {
		return "", fmt.Errorf("本文HTMLの解析に失敗しました: %w", err)
	}
	return normalizeText(doc.Text()), nil
}

func spaceBlocks(rawHTML string) string {
	return blockTag.ReplaceAllString(rawHTML, " $0 ")
}

func normalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
