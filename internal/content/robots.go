package content

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/hitoshi/feedsync/internal/security"
)

// DefaultRobotsTTL はrobots.txtのキャッシュ有効期間。
const DefaultRobotsTTL = time.Hour

const robotsMaxSize int64 = 512 * 1024

// RobotsPolicy はコネクタが本文取得の可否を問い合わせるインターフェース。
type RobotsPolicy interface {
	Allowed(ctx context.Context, pageURL string) bool
}

type robotsEntry struct {
	group     *robotstxt.Group
	fetchedAt time.Time
}

// RobotsChecker はホストごとのrobots.txtをキャッシュし、本文取得の可否を判定する。
// robots.txtが取得・解析できない場合は許可として扱う。
type RobotsChecker struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]robotsEntry
}

// NewRobotsChecker はRobotsCheckerを生成する。
func NewRobotsChecker(guard security.Guard, userAgent string, timeout time.Duration, logger *slog.Logger) *RobotsChecker {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsChecker{
		client:    guard.NewSafeClient(timeout, robotsMaxSize),
		userAgent: userAgent,
		ttl:       DefaultRobotsTTL,
		now:       time.Now,
		logger:    logger,
		cache:     make(map[string]robotsEntry),
	}
}

// Allowed はpageURLの取得がrobots.txtで許可されているかを返す。
func (c *RobotsChecker) Allowed(ctx context.Context, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return false
	}

	group := c.lookup(ctx, u)
	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (c *RobotsChecker) lookup(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + u.Host

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.group
	}

	group := c.fetch(ctx, key)

	c.mu.Lock()
	c.cache[key] = robotsEntry{group: group, fetchedAt: c.now()}
	c.mu.Unlock()
	return group
}

func (c *RobotsChecker) fetch(ctx context.Context, origin string) *robotstxt.Group {
	robotsURL := origin + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("robots.txtの取得に失敗しました（許可として扱います）",
			slog.String("url", robotsURL),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer resp.Body.Close()

	// robotstxtは5xxを全拒否と解釈するが、一時的な障害で取得を止めないよう許可として扱う
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.logger.Debug("robots.txtの解析に失敗しました（許可として扱います）",
			slog.String("url", robotsURL),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return data.FindGroup(c.userAgent)
}
