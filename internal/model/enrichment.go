// Package model はドメインモデルを定義する。
package model

import "time"

// 興味カテゴリ階層の深さ。
const (
	DepthTop  = 1
	DepthMid  = 2
	DepthLeaf = 3
)

// Category は階層化された興味カテゴリを表す。
type Category struct {
	ID       string
	Name     string
	Depth    int
	ParentID string
}

// GifResult は画像検索の結果を表す。
// URLが空の場合は「一致なし」を意味し、エラーではない。
type GifResult struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// Found は画像が見つかったかを返す。
func (g GifResult) Found() bool {
	return g.URL != ""
}

// Gif は投稿に紐づく保存済みの画像レコード。
type Gif struct {
	ID        string
	URL       string
	Provider  string
	PostID    string
	CreatedAt time.Time
}

// EnrichmentResult は1投稿あたりのエンリッチメント結果。
// gif、興味カテゴリのリンク、ai_checked の3回の書き込みで永続化される。
type EnrichmentResult struct {
	PostID    string
	Interests []string
	Gif       GifResult
}
