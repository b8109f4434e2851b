package collector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Source 一个待抓取的数据源
type Source struct {
	Category string
	URL      string
}

// Candidate 抽取阶段产出的候选头条
type Candidate struct {
	Text       string
	ArticleURL string
	SourceURL  string
	Category   string
	// ImageResolver 阶段填充，空字符串表示没有图片
	ImageURL string
	// 来自 feed 的发布时间，markup 页面为抓取时间
	Published time.Time
}

type FailureKind string

const (
	KindTransport FailureKind = "transport"
	KindParse     FailureKind = "parse"
	KindGone      FailureKind = "gone"
	KindForbidden FailureKind = "forbidden"
)

// FetchError 单个数据源失败的原因，只在边界处记录日志，不向上抛出
type FetchError struct {
	Kind   FailureKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s (status %d): %v", e.Kind, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Result 一次 Fetch 的结果；Err 非空时 Candidates 为空
type Result struct {
	Source     Source
	Candidates []Candidate
	Err        *FetchError
}

// Fetcher 对单个数据源执行一次 GET，并按 feed / markup 分支抽取候选
type Fetcher struct {
	client     pageClient
	alternates AlternateFeeds
	renderer   Renderer
	logger     *slog.Logger
	now        func() time.Time
}

type FetcherOption func(*Fetcher)

// WithRenderer 403 且没有备用 feed 时，交给无头浏览器渲染
func WithRenderer(r Renderer) FetcherOption {
	return func(f *Fetcher) { f.renderer = r }
}

func NewFetcher(timeout time.Duration, alternates AlternateFeeds, logger *slog.Logger, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:     pageClient{timeout: timeout, userAgent: browserUserAgent},
		alternates: alternates,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch 抓取并抽取一个数据源。任何失败都只影响该数据源本身
func (f *Fetcher) Fetch(ctx context.Context, src Source, p Profile) Result {
	res := Result{Source: src}

	pg, ferr := f.client.get(ctx, src.URL)
	if ferr != nil && ferr.Kind == KindForbidden {
		pg, ferr = f.fallback(ctx, src, ferr)
	}
	if ferr != nil {
		res.Err = ferr
		return res
	}

	cands, err := extract(pg, p, f.now())
	if err != nil {
		res.Err = &FetchError{Kind: KindParse, URL: pg.url.String(), Err: err}
		return res
	}
	for i := range cands {
		cands[i].Category = src.Category
	}
	res.Candidates = cands
	return res
}

// fallback 403 时的兜底顺序：已知备用 feed -> 浏览器渲染 -> 放弃
func (f *Fetcher) fallback(ctx context.Context, src Source, orig *FetchError) (*page, *FetchError) {
	if alt, ok := f.alternates.Lookup(src.URL); ok {
		f.logger.Info("source forbidden, trying alternate feed", "source", src.URL, "feed", alt)
		pg, err := f.client.get(ctx, alt)
		if err != nil {
			return nil, err
		}
		pg.feed = true
		return pg, nil
	}

	if f.renderer != nil {
		f.logger.Info("source forbidden, trying browser render", "source", src.URL)
		html, err := f.renderer.Render(ctx, src.URL)
		if err != nil {
			return nil, &FetchError{Kind: KindTransport, URL: src.URL, Err: fmt.Errorf("render: %w", err)}
		}
		u, _ := url.Parse(src.URL)
		return &page{url: u, body: []byte(html), contentType: "text/html"}, nil
	}
	return nil, orig
}

// page 抓取到的原始文档
type page struct {
	url         *url.URL
	body        []byte
	contentType string
	// 强制按 feed 解析（备用 feed 地址不一定带 rss 字样）
	feed bool
}

type pageClient struct {
	timeout   time.Duration
	userAgent string
}

// get 每次请求新建 collector，避免 colly 的已访问 URL 去重影响重复抓取
func (pc pageClient) get(ctx context.Context, rawURL string) (*page, *FetchError) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: err}
	}

	c := colly.NewCollector(colly.UserAgent(pc.userAgent))
	c.WithTransport(&ctxTransport{ctx: ctx, base: http.DefaultTransport})
	if pc.timeout > 0 {
		c.SetRequestTimeout(pc.timeout)
	}

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.5")
	})

	var (
		pg   *page
		ferr *FetchError
	)
	c.OnResponse(func(r *colly.Response) {
		ct := ""
		if r.Headers != nil {
			ct = r.Headers.Get("Content-Type")
		}
		pg = &page{url: r.Request.URL, body: bytes.Clone(r.Body), contentType: ct}
	})
	c.OnError(func(r *colly.Response, err error) {
		ferr = classify(rawURL, r.StatusCode, err)
	})

	if err := c.Visit(rawURL); err != nil && ferr == nil {
		ferr = classify(rawURL, 0, err)
	}
	if ferr != nil {
		return nil, ferr
	}
	if pg == nil {
		return nil, &FetchError{Kind: KindTransport, URL: rawURL, Err: fmt.Errorf("empty response")}
	}
	return pg, nil
}

func classify(rawURL string, status int, err error) *FetchError {
	kind := KindTransport
	switch {
	case status == http.StatusForbidden:
		kind = KindForbidden
	case status == http.StatusNotFound || status == http.StatusGone:
		kind = KindGone
	}
	return &FetchError{Kind: kind, URL: rawURL, Status: status, Err: err}
}

// ctxTransport 让 colly 的请求跟随调用方的 context
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *ctxTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

func isXMLContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "xml") && !strings.Contains(ct, "xhtml")
}
