package imagesearch

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

const defaultTenorEndpoint = "https://tenor.googleapis.com/v2/search"

// TenorClient はTenorの検索APIクライアント。
type TenorClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	endpoint   string
}

// NewTenorClient はTenorClientを生成する。
func NewTenorClient(httpClient *http.Client, apiKey string, logger *slog.Logger) *TenorClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenorClient{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     apiKey,
		endpoint:   defaultTenorEndpoint,
	}
}

// Name はプロバイダ名を返す。
func (c *TenorClient) Name() string { return ProviderTenor }

type tenorResponse struct {
	Results []struct {
		ID                 string `json:"id"`
		ContentDescription string `json:"content_description"`
		MediaFormats       map[string]struct {
			URL string `json:"url"`
		} `json:"media_formats"`
	} `json:"results"`
}

// Search はキーワードでGIFを検索する。gif形式のメディアを持たない結果は除外する。
func (c *TenorClient) Search(ctx context.Context, keyword string, limit int) ([]Image, error) {
	q := url.Values{
		"key":           {c.apiKey},
		"q":             {keyword},
		"limit":         {strconv.Itoa(limit)},
		"media_filter":  {"gif"},
		"contentfilter": {"medium"},
	}

	var res tenorResponse
	if err := getJSON(ctx, c.httpClient, c.logger, ProviderTenor, c.endpoint+"?"+q.Encode(), &res); err != nil {
		return nil, err
	}

	images := make([]Image, 0, len(res.Results))
	for _, r := range res.Results {
		gif, ok := r.MediaFormats["gif"]
		if !ok || gif.URL == "" {
			continue
		}
		images = append(images, Image{ID: r.ID, URL: gif.URL, Title: r.ContentDescription})
	}
	return images, nil
}
