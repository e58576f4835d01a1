package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は取得したHTMLを投稿用のプレーンテキストに変換するインターフェース。
// RSSの本文・概要や抽出した記事本文を保存する前に使用する。
type ContentSanitizerService interface {
	// ToText は全てのタグを除去し、実体参照を展開して空白を正規化したテキストを返す。
	// script, styleの中身は出力に含めない。空文字列の入力には空文字列を返す。
	ToText(rawHTML string) string
}

// blockBoundary はブロック要素の境界。タグ除去で前後の語が連結されないよう改行に置き換える。
var blockBoundary = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li|/h[1-6]|/tr|/blockquote)\b[^>]*>`)

// ContentSanitizer はbluemondayのStrictPolicyによるContentSanitizerServiceの実装。
// ポリシーは生成後に変更しないため、並行に使用してよい。
type ContentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
func NewContentSanitizer() *ContentSanitizer {
	return &ContentSanitizer{policy: bluemonday.StrictPolicy()}
}

// ToText はHTMLをプレーンテキストに変換する。
func (s *ContentSanitizer) ToText(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	marked := blockBoundary.ReplaceAllString(rawHTML, "\n$0")
	stripped := s.policy.Sanitize(marked)
	return NormalizeWhitespace(html.UnescapeString(stripped))
}

// NormalizeWhitespace は行内の連続する空白を1つにまとめ、空行を除いて改行で連結する。
func NormalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
