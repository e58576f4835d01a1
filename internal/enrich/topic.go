package enrich

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/feedsync/internal/ai"
	"github.com/hitoshi/feedsync/internal/model"
)

// topicTemperature はトピック抽出の生成温度。
const topicTemperature = 0.7

// maxTopicInputRunes はプロンプトに含める本文の最大文字数。
const maxTopicInputRunes = 4000

// TopicExtractor は投稿からカテゴリ別のキーワードを記述したトピックを生成する。
type TopicExtractor struct {
	generator ai.TextGenerator
	model     string
	table     *PriorityTable
}

// NewTopicExtractor はTopicExtractorを生成する。
func NewTopicExtractor(generator ai.TextGenerator, model string, table *PriorityTable) *TopicExtractor {
	return &TopicExtractor{generator: generator, model: model, table: table}
}

// Extract はトピック記述（"Category: kw1, kw2" の行の並び）を返す。
func (e *TopicExtractor) Extract(ctx context.Context, post *model.Post) (string, error) {
	res, err := e.generator.Generate(ctx, ai.Request{
		Prompt:      e.prompt(post),
		Model:       e.model,
		Temperature: topicTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("トピックの抽出に失敗しました: %w", err)
	}
	return res.Text, nil
}

func (e *TopicExtractor) prompt(post *model.Post) string {
	var b strings.Builder
	b.WriteString("Describe the topic of the following post for an animated image search.\n")
	b.WriteString("Answer only with lines in the form `Category: keyword1, keyword2`.\n")
	b.WriteString("Use English keywords of one to three words. Allowed categories: ")
	b.WriteString(strings.Join(e.table.Categories(), ", "))
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Title: %s\n", post.Title)
	if post.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", post.Description)
	}
	if post.Content != "" {
		fmt.Fprintf(&b, "Content: %s\n", truncateRunes(post.Content, maxTopicInputRunes))
	}
	return b.String()
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
