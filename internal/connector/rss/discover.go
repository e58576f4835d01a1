package rss

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// feedLink はHTMLのheadから検出したフィードへのリンク。
type feedLink struct {
	url  string
	atom bool
}

// feedMediaTypes はフィードとして扱うContent-Type。
var feedMediaTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
	"application/rdf+xml",
	"application/feed+json",
}

// mediaType はContent-Typeからパラメータを除いたメディアタイプを返す。
func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mt)
}

// isHTMLPage はレスポンスがフィードではなくHTMLページかを判定する。
// text/htmlでもボディ先頭がRSS/Atomのルート要素であればフィードとして扱う。
func isHTMLPage(contentType string, body []byte) bool {
	mt := mediaType(contentType)
	for _, feedMT := range feedMediaTypes {
		if mt == feedMT {
			return false
		}
	}
	if !strings.Contains(mt, "html") {
		return false
	}
	return !looksLikeFeed(body)
}

// looksLikeFeed はボディの先頭4KBにRSS/Atomのルート要素があるかを判定する。
func looksLikeFeed(body []byte) bool {
	if len(body) > 4096 {
		body = body[:4096]
	}
	prefix := strings.ToLower(string(body))
	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// parseFeedLinks はHTMLのheadから rel="alternate" のRSS/Atomリンクを抽出する。
// 相対URLはpageURLを基準に解決する。
func parseFeedLinks(body []byte, pageURL string) []feedLink {
	var links []feedLink

	base, err := url.Parse(pageURL)
	if err != nil {
		return links
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	inHead := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return links

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			switch string(tn) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			var rel, linkType, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}
			if linkType != "application/rss+xml" && linkType != "application/atom+xml" {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			links = append(links, feedLink{
				url:  base.ResolveReference(ref).String(),
				atom: linkType == "application/atom+xml",
			})

		case html.EndTagToken:
			if tn, _ := tokenizer.TagName(); string(tn) == "head" {
				return links
			}
		}
	}
}

// selectFeedLink は候補から1件を選ぶ。
// 優先順位: 同一ホスト > Atom > 出現順
func selectFeedLink(links []feedLink, pageURL string) (feedLink, bool) {
	if len(links) == 0 {
		return feedLink{}, false
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.url) == pageHost {
			score += 100
		}
		if l.atom {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
