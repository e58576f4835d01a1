package security

import (
	"strings"
	"testing"
)

var _ ContentSanitizerService = (*ContentSanitizer)(nil)

// TestToText_StripsTags はタグが除去されテキストだけが残ることを検証する。
func TestToText_StripsTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "空文字列", input: "", want: ""},
		{name: "プレーンテキスト", input: "そのまま", want: "そのまま"},
		{name: "インライン要素", input: "<p>今日は<strong>晴れ</strong>です</p>", want: "今日は晴れです"},
		{name: "リンク", input: `<a href="https://example.com">記事へ</a>`, want: "記事へ"},
		{name: "実体参照", input: "<p>Tom &amp; Jerry &lt;3</p>", want: "Tom & Jerry <3"},
		{name: "改行", input: "行1<br>行2<br/>行3", want: "行1\n行2\n行3"},
		{name: "段落", input: "<p>一段落目</p><p>二段落目</p>", want: "一段落目\n二段落目"},
		{name: "空白の正規化", input: "<div>  a \t  b  </div>\n\n\n<div>c</div>", want: "a b\nc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.ToText(tt.input); got != tt.want {
				t.Errorf("ToText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestToText_DropsScriptAndStyle はscript, styleの中身が出力に含まれないことを検証する。
func TestToText_DropsScriptAndStyle(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := `<style>body{color:red}</style><p>本文</p><script>alert('xss')</script>`
	got := sanitizer.ToText(input)

	if got != "本文" {
		t.Errorf("ToText(%q) = %q, want %q", input, got, "本文")
	}
	for _, absent := range []string{"alert", "color", "<"} {
		if strings.Contains(got, absent) {
			t.Errorf("ToText() = %q, should NOT contain %q", got, absent)
		}
	}
}

// TestToText_Idempotent は同一入力に対して出力が変わらないことを検証する。
func TestToText_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()

	input := "<h1>見出し</h1><ul><li>項目1</li><li>項目2</li></ul>"
	first := sanitizer.ToText(input)
	second := sanitizer.ToText(first)

	if first != second {
		t.Errorf("ToText is not idempotent: %q -> %q", first, second)
	}
	if first != "見出し\n項目1\n項目2" {
		t.Errorf("ToText(%q) = %q", input, first)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	got := NormalizeWhitespace("  a  b \n\n  \n c\t d ")
	if got != "a b\nc d" {
		t.Errorf("NormalizeWhitespace = %q, want %q", got, "a b\nc d")
	}
}
