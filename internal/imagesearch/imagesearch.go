// Package imagesearch はアニメーション画像の検索プロバイダ（Giphy, Tenor）のクライアントを提供する。
package imagesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// プロバイダ名。
const (
	ProviderGiphy = "giphy"
	ProviderTenor = "tenor"
)

// Image は検索結果の1件。
type Image struct {
	ID    string
	URL   string
	Title string
}

// Provider は画像検索プロバイダのインターフェース。
type Provider interface {
	Name() string
	Search(ctx context.Context, keyword string, limit int) ([]Image, error)
}

// getJSON はGETリクエストを送信してJSONレスポンスをvにデコードする。
func getJSON(ctx context.Context, httpClient *http.Client, logger *slog.Logger, provider, reqURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		logger.Error("画像検索APIの呼び出しに失敗しました",
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("画像検索APIがエラーステータスを返しました",
			slog.String("provider", provider),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%s がステータス %d を返しました", provider, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}
