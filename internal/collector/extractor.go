package collector

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

type linkMode int

const (
	// 元素本身就是链接
	linkSelf linkMode = iota
	// 元素被链接包裹
	linkClosest
	// 通用选择器：先找外层链接，再找内部链接，最后退回页面地址
	linkAny
)

// Locator 一个 markup 定位规则
type Locator struct {
	Selector string
	link     linkMode
}

var headlineClasses = []string{
	".headline", ".title", ".story-title", ".entry-title",
	".post-title", ".story-headline", ".news-title",
}

// DefaultLocators 优先选择与链接关联的元素，保证能拿到文章地址
func DefaultLocators() []Locator {
	classAnchors := make([]string, 0, len(headlineClasses))
	for _, c := range headlineClasses {
		classAnchors = append(classAnchors, c+" a[href]", "a[href]"+c)
	}
	generic := append([]string{"h1", "h2", "h3"}, headlineClasses...)

	return []Locator{
		{Selector: "h1 a[href], h2 a[href], h3 a[href]", link: linkSelf},
		{Selector: "a[href] h1, a[href] h2, a[href] h3", link: linkClosest},
		{Selector: strings.Join(classAnchors, ", "), link: linkSelf},
		{Selector: `a[href*="article"], a[href*="story"]`, link: linkSelf},
		{Selector: strings.Join(generic, ", "), link: linkAny},
	}
}

// IsFeedURL 通过后缀或 URL 关键字判断是否为 RSS/Atom
func IsFeedURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.ToLower(u.Path)
	switch path.Ext(p) {
	case ".xml", ".rss", ".atom":
		return true
	}
	hint := strings.ToLower(u.Host + u.Path)
	return strings.Contains(hint, "rss") || strings.Contains(hint, "feed") || strings.Contains(hint, "atom")
}

func extract(pg *page, p Profile, now time.Time) ([]Candidate, error) {
	if pg.feed || IsFeedURL(pg.url.String()) || isXMLContentType(pg.contentType) {
		return ExtractFeed(pg.body, pg.url, p, now)
	}
	return ExtractMarkup(pg.body, pg.url, p, now)
}

// ExtractFeed 解析 RSS/Atom，单条格式异常直接跳过
func ExtractFeed(body []byte, base *url.URL, p Profile, now time.Time) ([]Candidate, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	limit := p.feedLimit()
	out := make([]Candidate, 0, limit)
	seen := make(map[string]struct{})
	for _, it := range feed.Items {
		if limit > 0 && len(out) >= limit {
			break
		}
		if it == nil {
			continue
		}
		text := cleanText(it.Title)
		if !p.Valid(text) {
			continue
		}
		key := normalize(text)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		link := resolveURL(base, it.Link)
		if link == "" {
			link = base.String()
		}
		published := now
		switch {
		case it.PublishedParsed != nil:
			published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			published = *it.UpdatedParsed
		}
		out = append(out, Candidate{Text: text, ArticleURL: link, SourceURL: base.String(), Published: published})
	}
	return out, nil
}

// ExtractMarkup 依次应用定位器，直到达到单源上限
func ExtractMarkup(body []byte, base *url.URL, p Profile, now time.Time) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	var out []Candidate
	seen := make(map[string]struct{})
	full := func() bool { return p.PerSource > 0 && len(out) >= p.PerSource }

	for _, loc := range p.Locators {
		if full() {
			break
		}
		doc.Find(loc.Selector).EachWithBreak(func(i int, s *goquery.Selection) bool {
			if p.PerLocator > 0 && i >= p.PerLocator {
				return false
			}
			text := cleanText(s.Text())
			if !p.Valid(text) {
				return true
			}
			key := normalize(text)
			if _, ok := seen[key]; ok {
				return true
			}
			link := articleLink(s, loc.link, base)
			if link == "" {
				return true
			}
			seen[key] = struct{}{}
			out = append(out, Candidate{Text: text, ArticleURL: link, SourceURL: base.String(), Published: now})
			return !full()
		})
	}
	return out, nil
}

func articleLink(s *goquery.Selection, mode linkMode, base *url.URL) string {
	href := func(sel *goquery.Selection) string {
		if sel.Length() == 0 {
			return ""
		}
		v, _ := sel.Attr("href")
		return resolveURL(base, v)
	}

	switch mode {
	case linkSelf:
		return href(s)
	case linkClosest:
		return href(s.Closest("a[href]"))
	default:
		if goquery.NodeName(s) == "a" {
			if l := href(s); l != "" {
				return l
			}
		}
		if l := href(s.Closest("a[href]")); l != "" {
			return l
		}
		if l := href(s.Find("a[href]").First()); l != "" {
			return l
		}
		return base.String()
	}
}

// resolveURL 相对地址基于页面地址补全，只接受 http(s)
func resolveURL(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	abs.Fragment = ""
	return abs.String()
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
