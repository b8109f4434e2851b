package collector

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

type imageLocator struct {
	selector string
	attrs    []string
}

// 按可信度从高到低：页面元数据 -> 带语义 class/role 的图片 -> 任意图片
var imageTiers = [][]imageLocator{
	{
		{`meta[property="og:image"]`, []string{"content"}},
		{`meta[property="og:image:url"]`, []string{"content"}},
		{`meta[name="twitter:image"]`, []string{"content"}},
		{`meta[name="twitter:image:src"]`, []string{"content"}},
		{`link[rel="image_src"]`, []string{"href"}},
	},
	{
		{`img[class*="hero"], img[class*="featured"], img[class*="lead"], img[class*="article"], img[class*="story"], img[class*="main"]`, imgAttrs},
		{`[role="img"] img, img[role="img"], figure img, picture img`, imgAttrs},
	},
	{
		{`img`, imgAttrs},
	},
}

var imgAttrs = []string{"src", "data-src", "data-original", "data-lazy-src", "srcset"}

var imageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".avif": {},
}

var mediaHostPrefixes = []string{
	"img.", "image.", "images.", "media.", "static.", "cdn.", "i.", "assets.", "photos.",
}

// ImageResolver 为文章页单独抓取一次，选出一张代表图
type ImageResolver struct {
	client pageClient
	logger *slog.Logger
}

func NewImageResolver(timeout time.Duration, logger *slog.Logger) *ImageResolver {
	return &ImageResolver{
		client: pageClient{timeout: timeout, userAgent: browserUserAgent},
		logger: logger,
	}
}

// Resolve 任何失败都返回空字符串，不影响所属头条
func (r *ImageResolver) Resolve(ctx context.Context, articleURL string) string {
	if articleURL == "" {
		return ""
	}
	pg, ferr := r.client.get(ctx, articleURL)
	if ferr != nil {
		r.logger.Debug("image page fetch failed", "url", articleURL, "err", ferr)
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(pg.body))
	if err != nil {
		r.logger.Debug("image page parse failed", "url", articleURL, "err", err)
		return ""
	}
	return PickImage(doc, pg.url)
}

// PickImage 在已解析的文档中按优先级挑选第一张合格图片
func PickImage(doc *goquery.Document, base *url.URL) string {
	for _, tier := range imageTiers {
		for _, loc := range tier {
			var found string
			doc.Find(loc.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
				for _, attr := range loc.attrs {
					v, ok := s.Attr(attr)
					if !ok {
						continue
					}
					if attr == "srcset" {
						v = firstSrcset(v)
					}
					if u := resolveURL(base, v); u != "" && AcceptImageURL(u) {
						found = u
						return false
					}
				}
				return true
			})
			if found != "" {
				return found
			}
		}
	}
	return ""
}

// AcceptImageURL 只接受常见图片扩展名，或来自媒体资源子域名的地址
func AcceptImageURL(raw string) bool {
	if strings.HasPrefix(raw, "data:") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if _, ok := imageExts[strings.ToLower(path.Ext(u.Path))]; ok {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, p := range mediaHostPrefixes {
		if strings.HasPrefix(host, p) {
			return true
		}
	}
	return strings.Contains(host, "cdn")
}

func firstSrcset(v string) string {
	first := strings.TrimSpace(strings.Split(v, ",")[0])
	if i := strings.IndexByte(first, ' '); i > 0 {
		first = first[:i]
	}
	return first
}
