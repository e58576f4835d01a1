// Package ai はOpenAI互換のチャット補完APIを呼び出すテキスト生成クライアントを提供する。
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// DefaultBaseURL はAPIのデフォルトのベースURL。
const DefaultBaseURL = "https://api.openai.com/v1"

// Request はテキスト生成のリクエスト。
type Request struct {
	Prompt      string
	Model       string
	Temperature float64
}

// Response はテキスト生成の結果。
type Response struct {
	Text string
}

// TextGenerator はテキスト生成のインターフェース。
// テスト時にモックに差し替え可能。
type TextGenerator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Client はOpenAI互換の /chat/completions を呼び出すクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
}

// NewClient はClientを生成する。baseURLが空の場合はDefaultBaseURLを使用する。
func NewClient(httpClient *http.Client, baseURL, apiKey string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate はプロンプトを1件のユーザーメッセージとして送信し、最初の候補のテキストを返す。
func (c *Client) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("テキスト生成APIの呼び出しに失敗しました",
			slog.String("model", req.Model),
			slog.String("error", err.Error()),
		)
		return Response{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("テキスト生成APIがエラーステータスを返しました",
			slog.String("model", req.Model),
			slog.Int("http_status", resp.StatusCode),
		)
		return Response{}, fmt.Errorf("テキスト生成APIがステータス %d を返しました", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return Response{}, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if len(cr.Choices) == 0 {
		return Response{}, fmt.Errorf("テキスト生成APIの応答に候補がありません")
	}

	return Response{Text: strings.TrimSpace(cr.Choices[0].Message.Content)}, nil
}
