// Package spotify は音楽カタログ（Spotify）のコネクタを提供する。
// playlistIdが設定されていればプレイリストのトラックを、なければ新着アルバムを取得する。
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/hitoshi/feedsync/internal/connector"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/queue"
)

// Type はtype_configで使用する種別名。
const Type = "spotify"

// topicMusic はSpotify由来の投稿に設定するトピック。
const topicMusic = "music"

const openSpotifyURL = "https://open.spotify.com"

var playlistIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Settings はspotifyコネクタの種別固有設定。
type Settings struct {
	Market     string `json:"market,omitempty"`
	PlaylistID string `json:"playlistId,omitempty"`
	Country    string `json:"country,omitempty"`
	MaxItems   int    `json:"maxItems,omitempty"`
}

// release はアルバムとトラックを共通化した取得結果。
type release struct {
	kind        string // album | track
	id          string
	name        string
	releaseType string
	releaseDate string
	albumID     string
	albumName   string
	artists     []string
	totalTracks int
	durationMs  int
	link        string
}

// item はキューに投入する作業単位。アルバム詳細の取得に同期時のトークンを使う。
type item struct {
	sourceID string
	token    string
	settings Settings
	release  release
}

// Connector はSpotifyのカタログを取得して投稿に変換するコネクタ。
type Connector struct {
	base     *connector.Base[item]
	writer   *connector.PostWriter
	client   *Client
	maxItems int
	logger   *slog.Logger
}

// New はspotifyコネクタを生成する。maxItemsは1回の同期でキューに投入する件数の上限。
func New(writer *connector.PostWriter, client *Client, queueSettings connector.QueueSettings, maxItems int, logger *slog.Logger, mc metrics.MetricsCollector) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("connector_type", Type))

	c := &Connector{
		writer:   writer,
		client:   client,
		maxItems: maxItems,
		logger:   logger,
	}
	c.base = connector.NewBase(Type, queueSettings, c.process, logger, mc)
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

// ValidateConfig は種別固有設定を検証する。設定自体は省略できる。
func (c *Connector) ValidateConfig(raw json.RawMessage) error {
	_, err := decodeSettings(raw)
	return err
}

func decodeSettings(raw json.RawMessage) (Settings, error) {
	var s Settings
	tc := model.TypeConfig{Type: Type, Settings: raw}
	if err := tc.Decode(&s); err != nil {
		return s, err
	}
	s.PlaylistID = strings.TrimSpace(s.PlaylistID)
	if s.PlaylistID != "" && !playlistIDPattern.MatchString(s.PlaylistID) {
		return s, fmt.Errorf("%w: playlistIdの形式が不正です: %q", model.ErrInvalidConnectorConfig, s.PlaylistID)
	}
	if s.MaxItems < 0 {
		return s, fmt.Errorf("%w: maxItemsは0以上で指定してください", model.ErrInvalidConnectorConfig)
	}
	return s, nil
}

// Authenticate はアクセストークンを取得する。
func (c *Connector) Authenticate(ctx context.Context, cfg *model.SourceConfig) (string, error) {
	if !c.client.HasCredentials() {
		return "", fmt.Errorf("%w: SPOTIFY_CLIENT_IDとSPOTIFY_CLIENT_SECRETが必要です", model.ErrInvalidConnectorConfig)
	}
	token, err := c.client.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}
	return token, nil
}

// Sync はカタログを取得してアイテムをキューに投入する。トークンは呼び出しごとに1回だけ取得する。
func (c *Connector) Sync(ctx context.Context, cfg *model.SourceConfig, onComplete queue.CompletionFunc) (*model.SyncResult, error) {
	settings, err := decodeSettings(cfg.TypeConfig.Settings)
	if err != nil {
		return nil, err
	}

	token, err := c.Authenticate(ctx, cfg)
	if err != nil {
		return nil, err
	}

	releases, err := c.fetch(ctx, token, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUpstream, err)
	}

	items := make([]item, 0, len(releases))
	for _, r := range releases {
		items = append(items, item{sourceID: cfg.ID, token: token, settings: settings, release: r})
	}
	total := len(items)
	items = connector.Truncate(items, connector.EffectiveMax(settings.MaxItems, c.maxItems))

	sub := c.base.Submit(items, onComplete)
	c.logger.Info("Spotifyのアイテムをキューに投入しました",
		slog.String("source_id", cfg.ID),
		slog.String("playlist_id", settings.PlaylistID),
		slog.Int("items_total", total),
		slog.Int("queued", sub.Accepted),
		slog.Int("rejected", sub.Rejected),
	)
	return c.base.Result(total, sub), nil
}

func (c *Connector) fetch(ctx context.Context, token string, s Settings) ([]release, error) {
	if s.PlaylistID != "" {
		tracks, err := c.client.PlaylistTracks(ctx, token, s.PlaylistID, s.Market, maxPageSize)
		if err != nil {
			return nil, err
		}
		out := make([]release, 0, len(tracks))
		for _, t := range tracks {
			out = append(out, trackRelease(t))
		}
		return out, nil
	}

	albums, err := c.client.NewReleases(ctx, token, firstNonEmpty(s.Country, s.Market), maxPageSize)
	if err != nil {
		return nil, err
	}
	out := make([]release, 0, len(albums))
	for _, a := range albums {
		if a.ID == "" {
			continue
		}
		out = append(out, albumRelease(a))
	}
	return out, nil
}

func albumRelease(a Album) release {
	return release{
		kind:        "album",
		id:          a.ID,
		name:        a.Name,
		releaseType: a.AlbumType,
		releaseDate: a.ReleaseDate,
		albumID:     a.ID,
		albumName:   a.Name,
		artists:     artistNames(a.Artists),
		totalTracks: a.TotalTracks,
		link:        firstNonEmpty(a.ExternalURLs.Spotify, openSpotifyURL+"/album/"+a.ID),
	}
}

func trackRelease(t Track) release {
	return release{
		kind:        "track",
		id:          t.ID,
		name:        t.Name,
		releaseType: "track",
		releaseDate: t.Album.ReleaseDate,
		albumID:     t.Album.ID,
		albumName:   t.Album.Name,
		artists:     artistNames(t.Artists),
		totalTracks: t.Album.TotalTracks,
		durationMs:  t.DurationMs,
		link:        firstNonEmpty(t.ExternalURLs.Spotify, openSpotifyURL+"/track/"+t.ID),
	}
}

// process はキューから取り出した1件を保存する。
func (c *Connector) process(ctx context.Context, it item) error {
	r := it.release
	_, err := c.writer.ExistsOrWrite(ctx, r.link, r.id, func(ctx context.Context) (*model.Post, error) {
		var album *Album
		if r.albumID != "" {
			a, err := c.client.Album(ctx, it.token, r.albumID, it.settings.Market)
			if err != nil {
				c.logger.Warn("アルバム詳細の取得に失敗しました（一覧の情報のみで保存します）",
					slog.String("source_id", it.sourceID),
					slog.String("album_id", r.albumID),
					slog.String("error", err.Error()),
				)
			} else {
				album = a
			}
		}
		return buildPost(it, album), nil
	})
	return err
}

func buildPost(it item, album *Album) *model.Post {
	r := it.release

	var label string
	var genres []string
	if album != nil {
		label = album.Label
		genres = album.Genres
	}

	post := &model.Post{
		Title:       r.name,
		Description: describe(r),
		Content:     summarize(r, label),
		Topic:       topicMusic,
		Tags:        dedupe(append(append([]string{}, r.artists...), genres...)),
		SourceKey:   r.id,
		SourceLink:  r.link,
		SourceName:  model.SourceNameSpotify,
		Language:    strings.ToLower(it.settings.Market),
		ConnectorID: it.sourceID,
	}
	if t, ok := parseReleaseDate(r.releaseDate); ok {
		post.PublishingDate = &t
	}
	return post
}

func describe(r release) string {
	artists := strings.Join(r.artists, ", ")
	if r.releaseType == "" {
		return artists
	}
	if artists == "" {
		return r.releaseType
	}
	return artists + " · " + r.releaseType
}

func summarize(r release, label string) string {
	var lines []string
	if len(r.artists) > 0 {
		lines = append(lines, "アーティスト: "+strings.Join(r.artists, ", "))
	}
	if r.kind == "track" && r.albumName != "" {
		lines = append(lines, "アルバム: "+r.albumName)
	}
	if r.releaseDate != "" {
		lines = append(lines, "リリース日: "+r.releaseDate)
	}
	if r.totalTracks > 0 {
		lines = append(lines, fmt.Sprintf("トラック数: %d", r.totalTracks))
	}
	if r.durationMs > 0 {
		d := time.Duration(r.durationMs) * time.Millisecond
		lines = append(lines, fmt.Sprintf("再生時間: %d:%02d", int(d.Minutes()), int(d.Seconds())%60))
	}
	if label != "" {
		lines = append(lines, "レーベル: "+label)
	}
	return strings.Join(lines, "\n")
}

// parseReleaseDate はrelease_date（精度は年・月・日のいずれか）を解釈する。
func parseReleaseDate(s string) (time.Time, bool) {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func artistNames(artists []artist) []string {
	names := make([]string, 0, len(artists))
	for _, a := range artists {
		if a.Name != "" {
			names = append(names, a.Name)
		}
	}
	return names
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
