// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// コア処理が返すセンチネルエラー。
// 呼び出し元はerrors.Isで判定する。
var (
	// ErrSourceNotFound はソース設定が見つからないことを示す。
	ErrSourceNotFound = errors.New("ソース設定が見つかりません")
	// ErrConnectorNotFound は種別に対応するコネクタが登録されていないことを示す。
	ErrConnectorNotFound = errors.New("コネクタが登録されていません")
	// ErrInvalidTypeConfig はtype_configから種別を解決できないことを示す。
	ErrInvalidTypeConfig = errors.New("type_configが不正です")
	// ErrInvalidConnectorConfig は種別固有の設定に必須項目の欠落などがあることを示す。
	ErrInvalidConnectorConfig = errors.New("コネクタ設定が不正です")
	// ErrUpstream は外部ソースの取得・認証に失敗したことを示す。
	ErrUpstream = errors.New("外部ソースの呼び出しに失敗しました")
)

// APIError は統一エラーフォーマットを表す。
// 手動トリガーのエンドポイントはスタックトレースではなくこの形式で失敗を返す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, connector, upstream, system
	Action   string // 利用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeSourceNotFound    = "SOURCE_NOT_FOUND"
	ErrCodeConnectorNotFound = "CONNECTOR_NOT_FOUND"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeUpstreamFailed    = "UPSTREAM_FAILED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewSourceNotFoundError はソース設定未検出エラーを生成する。
func NewSourceNotFoundError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeSourceNotFound,
		Message:  message,
		Category: "validation",
		Action:   "ソース設定のIDと有効状態を確認してください。",
	}
}

// NewConnectorNotFoundError はコネクタ未登録エラーを生成する。
func NewConnectorNotFoundError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeConnectorNotFound,
		Message:  message,
		Category: "connector",
		Action:   "登録済みの種別は /api/connector-types で確認できます。",
	}
}

// NewInvalidConfigError は設定不正エラーを生成する。
func NewInvalidConfigError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfig,
		Message:  message,
		Category: "validation",
		Action:   "ソース設定のtype_configを確認してください。",
	}
}

// NewUpstreamFailedError は外部ソース呼び出し失敗エラーを生成する。
func NewUpstreamFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  message,
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
