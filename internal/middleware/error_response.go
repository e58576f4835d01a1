package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/feedsync/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// WriteError はコア処理のエラーをステータスコードと統一フォーマットに変換して書き込む。
// 見つからない場合は404、設定不備は400、外部ソースの失敗は502、それ以外は500を返す。
func WriteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrSourceNotFound):
		WriteErrorResponse(w, http.StatusNotFound, model.NewSourceNotFoundError(err.Error()))
	case errors.Is(err, model.ErrConnectorNotFound):
		WriteErrorResponse(w, http.StatusNotFound, model.NewConnectorNotFoundError(err.Error()))
	case errors.Is(err, model.ErrInvalidTypeConfig), errors.Is(err, model.ErrInvalidConnectorConfig):
		WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidConfigError(err.Error()))
	case errors.Is(err, model.ErrUpstream):
		WriteErrorResponse(w, http.StatusBadGateway, model.NewUpstreamFailedError(err.Error()))
	default:
		WriteInternalServerError(w)
	}
}
