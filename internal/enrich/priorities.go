// Package enrich は投稿にAI由来のトピック画像と興味カテゴリを付与するエンリッチメント処理を提供する。
package enrich

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed priorities.yaml
var defaultPriorities []byte

// CategoryRule はトピックのカテゴリ1件の検索ルール。
type CategoryRule struct {
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	Provider string `yaml:"provider"`
}

// TopicGroup はトピック記述の1行（カテゴリとキーワード群）。
type TopicGroup struct {
	Category string
	Keywords []string
}

// Search は画像検索1回分のクエリ。
type Search struct {
	Category string
	Keyword  string
	Provider string
	Priority int
}

// PriorityTable はカテゴリ名（大文字小文字を区別しない）から検索ルールを引く表。
type PriorityTable struct {
	rules map[string]CategoryRule
}

// LoadPriorityTable はYAMLから優先度表を読み込む。
func LoadPriorityTable(data []byte) (*PriorityTable, error) {
	var doc struct {
		Categories []CategoryRule `yaml:"categories"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("優先度表のパースに失敗しました: %w", err)
	}
	if len(doc.Categories) == 0 {
		return nil, fmt.Errorf("優先度表にカテゴリがありません")
	}

	t := &PriorityTable{rules: make(map[string]CategoryRule, len(doc.Categories))}
	for _, r := range doc.Categories {
		key := strings.ToLower(strings.TrimSpace(r.Name))
		if key == "" || r.Provider == "" {
			return nil, fmt.Errorf("優先度表のカテゴリ定義が不正です: %+v", r)
		}
		t.rules[key] = r
	}
	return t, nil
}

// DefaultPriorityTable は埋め込みの優先度表を返す。
func DefaultPriorityTable() *PriorityTable {
	t, err := LoadPriorityTable(defaultPriorities)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup はカテゴリ名に対応するルールを返す。
func (t *PriorityTable) Lookup(category string) (CategoryRule, bool) {
	r, ok := t.rules[strings.ToLower(strings.TrimSpace(category))]
	return r, ok
}

// Categories は優先度順のカテゴリ名を返す。
func (t *PriorityTable) Categories() []string {
	rules := make([]CategoryRule, 0, len(t.rules))
	for _, r := range t.rules {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })

	names := make([]string, len(rules))
	for i, r := range rules {
		names[i] = r.Name
	}
	return names
}

// ParseTopic は "Category: kw1, kw2" 形式の行をTopicGroupに変換する。
// 表にないカテゴリの行は捨て、キーワードは前後の空白と重複を取り除く。
// 同じカテゴリが複数行に現れた場合は1つにまとめる。
func (t *PriorityTable) ParseTopic(text string) []TopicGroup {
	var groups []TopicGroup
	index := make(map[string]int)

	for _, line := range strings.Split(text, "\n") {
		name, rest, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.Trim(strings.TrimSpace(name), "-*# ")
		rule, ok := t.Lookup(name)
		if !ok {
			continue
		}

		i, seen := index[rule.Name]
		if !seen {
			i = len(groups)
			index[rule.Name] = i
			groups = append(groups, TopicGroup{Category: rule.Name})
		}
		for _, kw := range strings.Split(rest, ",") {
			kw = strings.TrimSpace(kw)
			if kw == "" || contains(groups[i].Keywords, kw) {
				continue
			}
			groups[i].Keywords = append(groups[i].Keywords, kw)
		}
	}

	// キーワードの残らなかったカテゴリは除く
	out := groups[:0]
	for _, g := range groups {
		if len(g.Keywords) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// ComputeSearches はトピック記述から画像検索のクエリ列を組み立てる。
// カテゴリの優先度の昇順に並べ、同じカテゴリ内はキーワードの出現順を保つ。
func (t *PriorityTable) ComputeSearches(topic string) []Search {
	var searches []Search
	for _, g := range t.ParseTopic(topic) {
		rule, _ := t.Lookup(g.Category)
		for _, kw := range g.Keywords {
			searches = append(searches, Search{
				Category: rule.Name,
				Keyword:  kw,
				Provider: rule.Provider,
				Priority: rule.Priority,
			})
		}
	}
	sort.SliceStable(searches, func(i, j int) bool { return searches[i].Priority < searches[j].Priority })
	return searches
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
