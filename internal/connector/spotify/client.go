package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	defaultAccountsURL = "https://accounts.spotify.com"
	defaultAPIURL      = "https://api.spotify.com/v1"
	// maxPageSize はSpotify APIの1ページあたりの最大件数。
	maxPageSize = 50
)

// Client はSpotify Web APIのクライアント。
// トークンはクライアントクレデンシャルで取得し、キャッシュしない。
type Client struct {
	httpClient   *http.Client
	logger       *slog.Logger
	clientID     string
	clientSecret string
	accountsURL  string // テスト用にエンドポイントを差し替え可能
	apiURL       string
}

// NewClient はClientを生成する。
func NewClient(httpClient *http.Client, clientID, clientSecret string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient:   httpClient,
		logger:       logger,
		clientID:     clientID,
		clientSecret: clientSecret,
		accountsURL:  defaultAccountsURL,
		apiURL:       defaultAPIURL,
	}
}

// SetEndpoints はトークン発行とWeb APIのベースURLを差し替える。
func (c *Client) SetEndpoints(accountsURL, apiURL string) {
	c.accountsURL = strings.TrimRight(accountsURL, "/")
	c.apiURL = strings.TrimRight(apiURL, "/")
}

// HasCredentials はクライアントIDとシークレットが設定されているかを返す。
func (c *Client) HasCredentials() bool {
	return c.clientID != "" && c.clientSecret != ""
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token はクライアントクレデンシャルフローでアクセストークンを取得する。
func (c *Client) Token(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.accountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("トークンリクエストの作成に失敗しました: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tr tokenResponse
	if err := c.do(req, &tr); err != nil {
		return "", fmt.Errorf("アクセストークンの取得に失敗しました: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("アクセストークンが空です")
	}
	return tr.AccessToken, nil
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

type artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album はアルバムのレスポンス。Label, Genresはアルバム単体の取得時のみ設定される。
type Album struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	AlbumType    string       `json:"album_type"`
	ReleaseDate  string       `json:"release_date"`
	TotalTracks  int          `json:"total_tracks"`
	Artists      []artist     `json:"artists"`
	ExternalURLs externalURLs `json:"external_urls"`
	Label        string       `json:"label"`
	Genres       []string     `json:"genres"`
}

// Track はプレイリスト内のトラック。
type Track struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	DurationMs   int          `json:"duration_ms"`
	Artists      []artist     `json:"artists"`
	Album        Album        `json:"album"`
	ExternalURLs externalURLs `json:"external_urls"`
}

type newReleasesResponse struct {
	Albums struct {
		Items []Album `json:"items"`
	} `json:"albums"`
}

type playlistTracksResponse struct {
	Items []struct {
		Track *Track `json:"track"`
	} `json:"items"`
}

// NewReleases は新着アルバムを取得する。countryが空の場合は指定しない。
func (c *Client) NewReleases(ctx context.Context, token, country string, limit int) ([]Album, error) {
	q := url.Values{"limit": {strconv.Itoa(pageSize(limit))}}
	if country != "" {
		q.Set("country", country)
	}

	var res newReleasesResponse
	if err := c.get(ctx, token, "/browse/new-releases", q, &res); err != nil {
		return nil, fmt.Errorf("新着アルバムの取得に失敗しました: %w", err)
	}
	return res.Albums.Items, nil
}

// PlaylistTracks はプレイリストのトラックを取得する。エピソードなどトラック以外の項目は除外する。
func (c *Client) PlaylistTracks(ctx context.Context, token, playlistID, market string, limit int) ([]Track, error) {
	q := url.Values{"limit": {strconv.Itoa(pageSize(limit))}}
	if market != "" {
		q.Set("market", market)
	}

	var res playlistTracksResponse
	if err := c.get(ctx, token, "/playlists/"+url.PathEscape(playlistID)+"/tracks", q, &res); err != nil {
		return nil, fmt.Errorf("プレイリストの取得に失敗しました: %w", err)
	}

	tracks := make([]Track, 0, len(res.Items))
	for _, it := range res.Items {
		if it.Track == nil || it.Track.ID == "" {
			continue
		}
		if it.Track.Type != "" && it.Track.Type != "track" {
			continue
		}
		tracks = append(tracks, *it.Track)
	}
	return tracks, nil
}

// Album はアルバム単体を取得する。レーベルとジャンルを含む。
func (c *Client) Album(ctx context.Context, token, albumID, market string) (*Album, error) {
	q := url.Values{}
	if market != "" {
		q.Set("market", market)
	}

	var album Album
	if err := c.get(ctx, token, "/albums/"+url.PathEscape(albumID), q, &album); err != nil {
		return nil, fmt.Errorf("アルバムの取得に失敗しました: %w", err)
	}
	return &album, nil
}

func (c *Client) get(ctx context.Context, token, path string, q url.Values, v any) error {
	reqURL := c.apiURL + path
	if len(q) > 0 {
		reqURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	return c.do(req, v)
}

func (c *Client) do(req *http.Request, v any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Spotify APIの呼び出しに失敗しました",
			slog.String("path", req.URL.Path),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Spotify APIがエラーを返しました",
			slog.String("path", req.URL.Path),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("レスポンスのパースに失敗しました: %w", err)
	}
	return nil
}

func pageSize(limit int) int {
	if limit <= 0 || limit > maxPageSize {
		return maxPageSize
	}
	return limit
}
