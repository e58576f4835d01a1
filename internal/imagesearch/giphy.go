package imagesearch

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

const defaultGiphyEndpoint = "https://api.giphy.com/v1/gifs/search"

// GiphyClient はGiphyの検索APIクライアント。
type GiphyClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewGiphyClient はGiphyClientを生成する。
func NewGiphyClient(httpClient *http.Client, apiKey string, logger *slog.Logger) *GiphyClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &GiphyClient{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     apiKey,
		endpoint:   defaultGiphyEndpoint,
	}
}

// Name はプロバイダ名を返す。
func (c *GiphyClient) Name() string { return ProviderGiphy }

type giphyResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Images struct {
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

// Search はキーワードでGIFを検索する。URLを持たない結果は除外する。
func (c *GiphyClient) Search(ctx context.Context, keyword string, limit int) ([]Image, error) {
	q := url.Values{
		"api_key": {c.apiKey},
		"q":       {keyword},
		"limit":   {strconv.Itoa(limit)},
		"rating":  {"g"},
	}

	var res giphyResponse
	if err := getJSON(ctx, c.httpClient, c.logger, ProviderGiphy, c.endpoint+"?"+q.Encode(), &res); err != nil {
		return nil, err
	}

	images := make([]Image, 0, len(res.Data))
	for _, d := range res.Data {
		if d.Images.Original.URL == "" {
			continue
		}
		images = append(images, Image{ID: d.ID, URL: d.Images.Original.URL, Title: d.Title})
	}
	return images, nil
}
