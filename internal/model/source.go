// Package model はドメインモデルを定義する。
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DefaultFetchPeriodMinutes はフェッチ間隔が未設定の場合のデフォルト値（分）。
const DefaultFetchPeriodMinutes = 60

// SourceConfig は1件の外部ソース設定を表す。
// 管理操作で作成・編集され、コネクタ側からは読み取り専用として扱う。
type SourceConfig struct {
	ID                 string
	Name               string
	TypeConfig         TypeConfig
	FetchPeriodMinutes int
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FetchPeriod はフェッチ間隔をtime.Durationで返す。
// 1未満の値はデフォルトの60分として扱う。
func (c *SourceConfig) FetchPeriod() time.Duration {
	minutes := c.FetchPeriodMinutes
	if minutes < 1 {
		minutes = DefaultFetchPeriodMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// TypeConfig はソース種別と種別固有の設定を保持する。
// 永続化された文字列（種別名そのもの、または種別名を唯一のキーとするJSONオブジェクト）を
// 読み込み時に1回だけパースした結果。
type TypeConfig struct {
	Type     string
	Settings json.RawMessage
}

// ParseTypeConfig は永続化されたtype_config文字列をTypeConfigに変換する。
//
//	"rss"                         → {Type: "rss"}
//	{"rss": {"url": "https://…"}} → {Type: "rss", Settings: {"url": …}}
//
// 空文字列、不正なJSON、空オブジェクト、複数キーのオブジェクトはErrInvalidTypeConfigを返す。
func ParseTypeConfig(raw string) (TypeConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TypeConfig{}, fmt.Errorf("%w: 空の設定です", ErrInvalidTypeConfig)
	}

	// JSONとして解釈できない値は種別名そのものとみなす
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "\"") {
		return TypeConfig{Type: trimmed}, nil
	}

	// JSON文字列 "rss" の形式
	if strings.HasPrefix(trimmed, "\"") {
		var s string
		if err := json.Unmarshal([]byte(trimmed), &s); err != nil {
			return TypeConfig{}, fmt.Errorf("%w: %v", ErrInvalidTypeConfig, err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return TypeConfig{}, fmt.Errorf("%w: 空の種別名です", ErrInvalidTypeConfig)
		}
		return TypeConfig{Type: s}, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return TypeConfig{}, fmt.Errorf("%w: %v", ErrInvalidTypeConfig, err)
	}
	if len(obj) != 1 {
		return TypeConfig{}, fmt.Errorf("%w: トップレベルのキー数が%d件です", ErrInvalidTypeConfig, len(obj))
	}

	for key, settings := range obj {
		key = strings.TrimSpace(key)
		if key == "" {
			return TypeConfig{}, fmt.Errorf("%w: 空の種別名です", ErrInvalidTypeConfig)
		}
		return TypeConfig{Type: key, Settings: settings}, nil
	}

	return TypeConfig{}, ErrInvalidTypeConfig
}

// HasSettings は種別固有の設定が存在するかを返す。
func (t TypeConfig) HasSettings() bool {
	s := bytes.TrimSpace(t.Settings)
	return len(s) > 0 && !bytes.Equal(s, []byte("null"))
}

// Decode は種別固有の設定をvにデコードする。
// 設定が存在しない場合はvを変更せずnilを返す。
func (t TypeConfig) Decode(v any) error {
	if !t.HasSettings() {
		return nil
	}
	if err := json.Unmarshal(t.Settings, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConnectorConfig, err)
	}
	return nil
}
