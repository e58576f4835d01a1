package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitoshi/feedsync/internal/ai"
	"github.com/hitoshi/feedsync/internal/model"
	"github.com/hitoshi/feedsync/internal/repository"
)

// categoryTemperature はカテゴリ選択の生成温度。選択結果を安定させるため低くする。
const categoryTemperature = 0.1

// InterestCategorizer は投稿を3階層の興味カテゴリに分類する。
type InterestCategorizer struct {
	categories repository.CategoryRepository
	generator  ai.TextGenerator
	model      string
}

// NewInterestCategorizer はInterestCategorizerを生成する。
func NewInterestCategorizer(categories repository.CategoryRepository, generator ai.TextGenerator, model string) *InterestCategorizer {
	return &InterestCategorizer{categories: categories, generator: generator, model: model}
}

// Categorize は階層1から3まで順にカテゴリを選択し、選ばれたすべての階層のIDを返す。
// 階層2以降は直前の階層で選ばれたIDを親として候補を絞り込み、親が空ならその階層は空とする。
func (c *InterestCategorizer) Categorize(ctx context.Context, post *model.Post) ([]string, error) {
	var selected []string
	var parents []string

	for depth := model.DepthTop; depth <= model.DepthLeaf; depth++ {
		if depth > model.DepthTop && len(parents) == 0 {
			break
		}
		ids, err := c.selectLevel(ctx, post, depth, parents)
		if err != nil {
			return nil, err
		}
		selected = append(selected, ids...)
		parents = ids
	}
	return selected, nil
}

func (c *InterestCategorizer) selectLevel(ctx context.Context, post *model.Post, depth int, parents []string) ([]string, error) {
	candidates, err := c.categories.ActiveByDepth(ctx, depth, parents)
	if err != nil {
		return nil, fmt.Errorf("階層%dのカテゴリ取得に失敗しました: %w", depth, err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	res, err := c.generator.Generate(ctx, ai.Request{
		Prompt:      categoryPrompt(post, candidates),
		Model:       c.model,
		Temperature: categoryTemperature,
	})
	if err != nil {
		return nil, fmt.Errorf("階層%dのカテゴリ選択に失敗しました: %w", depth, err)
	}

	offered := make(map[string]struct{}, len(candidates))
	for _, cat := range candidates {
		offered[cat.ID] = struct{}{}
	}

	var ids []string
	seen := make(map[string]struct{})
	for _, id := range parseIDs(res.Text) {
		if _, ok := offered[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

func categoryPrompt(post *model.Post, candidates []model.Category) string {
	var b strings.Builder
	b.WriteString("Select the categories that match the following post.\n")
	b.WriteString("Answer only with a JSON array of the selected ids, or [] if none match.\n\n")
	b.WriteString("Categories:\n")
	for _, cat := range candidates {
		fmt.Fprintf(&b, "- %s: %s\n", cat.ID, cat.Name)
	}
	fmt.Fprintf(&b, "\nTitle: %s\n", post.Title)
	if post.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", post.Description)
	}
	if len(post.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n", strings.Join(post.Tags, ", "))
	}
	return b.String()
}

// parseIDs はJSON配列、またはカンマ・改行区切りのID列を解釈する。
func parseIDs(text string) []string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.Trim(text, "`\n ")

	var arr []string
	if err := json.Unmarshal([]byte(text), &arr); err == nil {
		return trimAll(arr)
	}

	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n'
	})
	return trimAll(fields)
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.Trim(strings.TrimSpace(v), `[]"'- `)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
