package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newRobotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			w.WriteHeader(http.StatusOK)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts, &hits
}

const robotsBody = `User-agent: *
Disallow: /private/

User-agent: feedsync
Disallow: /no-bots/
`

func TestRobotsChecker_Allowed(t *testing.T) {
	ts, _ := newRobotsServer(t, http.StatusOK, robotsBody)
	c := NewRobotsChecker(openGuard{}, "feedsync", time.Second, nil)
	ctx := context.Background()

	if !c.Allowed(ctx, ts.URL+"/articles/1") {
		t.Error("/articles/1 が拒否されました")
	}
	if c.Allowed(ctx, ts.URL+"/no-bots/page") {
		t.Error("feedsync向けに禁止された /no-bots/page が許可されました")
	}
}

func TestRobotsChecker_CachesPerHost(t *testing.T) {
	ts, hits := newRobotsServer(t, http.StatusOK, robotsBody)
	c := NewRobotsChecker(openGuard{}, "feedsync", time.Second, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Allowed(ctx, ts.URL+"/a")
	c.Allowed(ctx, ts.URL+"/b")
	if hits.Load() != 1 {
		t.Errorf("robots.txt の取得回数 = %d, want 1", hits.Load())
	}

	now = now.Add(DefaultRobotsTTL + time.Second)
	c.Allowed(ctx, ts.URL+"/c")
	if hits.Load() != 2 {
		t.Errorf("TTL経過後の取得回数 = %d, want 2", hits.Load())
	}
}

func TestRobotsChecker_MissingRobotsAllows(t *testing.T) {
	ts, _ := newRobotsServer(t, http.StatusNotFound, "")
	c := NewRobotsChecker(openGuard{}, "feedsync", time.Second, nil)

	if !c.Allowed(context.Background(), ts.URL+"/private/x") {
		t.Error("robots.txt が存在しない場合は許可されるべきです")
	}
}

func TestRobotsChecker_ServerErrorAllows(t *testing.T) {
	ts, _ := newRobotsServer(t, http.StatusServiceUnavailable, "")
	c := NewRobotsChecker(openGuard{}, "feedsync", time.Second, nil)

	if !c.Allowed(context.Background(), ts.URL+"/anything") {
		t.Error("robots.txt の取得エラー時は許可されるべきです")
	}
}

func TestRobotsChecker_UnreachableHostAllows(t *testing.T) {
	ts, _ := newRobotsServer(t, http.StatusOK, robotsBody)
	addr := ts.URL
	ts.Close()

	c := NewRobotsChecker(openGuard{}, "feedsync", 200*time.Millisecond, nil)
	if !c.Allowed(context.Background(), addr+"/private/x") {
		t.Error("接続できない場合は許可されるべきです")
	}
}

func TestRobotsChecker_InvalidURL(t *testing.T) {
	c := NewRobotsChecker(openGuard{}, "feedsync", time.Second, nil)
	if c.Allowed(context.Background(), "::not a url") {
		t.Error("不正なURLが許可されました")
	}
}
