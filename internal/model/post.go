// Package model はドメインモデルを定義する。
package model

import "time"

// SourceName は投稿の取得元を表す。
type SourceName string

const (
	// SourceNameRSS はRSS/Atomフィード由来の投稿。
	SourceNameRSS SourceName = "rss"
	// SourceNameSpotify は音楽カタログ（Spotify）由来の投稿。
	SourceNameSpotify SourceName = "spotify"
)

// Post はコネクタが生成する共通の投稿レコードを表す。
// (SourceLink, SourceKey) の組で同一性を判定する。
type Post struct {
	ID             string
	Title          string
	Description    string
	Content        string
	Topic          string
	Tags           []string
	SourceKey      string
	SourceLink     string
	SourceName     SourceName
	Language       string
	PublishingDate *time.Time
	ConnectorID    string
	IsDeleted      bool
	AIChecked      *time.Time
	CreatedDate    time.Time
}

// SyncResult は1回のSync呼び出しの結果を表す。
// Processedはキューの累計実行数のスナップショットであり、この呼び出し固有の値ではない。
type SyncResult struct {
	Success    bool   `json:"success"`
	TotalItems int    `json:"total_items"`
	Queued     int    `json:"queued"`
	QueueSize  int    `json:"queue_size"`
	Processed  int64  `json:"processed"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}

// FailedSyncResult はエラーから失敗形のSyncResultを生成する。
// 種別単位の一括同期で、1件の失敗が全体を中断しないために使用する。
func FailedSyncResult(err error) *SyncResult {
	return &SyncResult{
		Success: false,
		Message: "同期に失敗しました",
		Error:   err.Error(),
	}
}
