package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/LJTian/NewsLens/internal/collector"
	"github.com/LJTian/NewsLens/internal/coordinator"
	"github.com/LJTian/NewsLens/internal/news"
	"github.com/LJTian/NewsLens/internal/notify"
	"github.com/LJTian/NewsLens/internal/sentiment"
	"github.com/LJTian/NewsLens/internal/storage"
)

// ErrCrawlRunning 同一进程内已有抓取在执行
var ErrCrawlRunning = errors.New("processor: crawl already running")

type Scorer interface {
	Score(ctx context.Context, text string) sentiment.Result
}

// HeadlineSink 由 storage.HeadlineCache 实现，写入失败不影响批次
type HeadlineSink interface {
	Push(ctx context.Context, item news.HeadlineItem) error
}

type Deps struct {
	Fetcher    coordinator.SourceFetcher
	Images     coordinator.ImageFinder
	Scorer     Scorer
	Sequential *coordinator.Sequential
	Cache      HeadlineSink
	Store      storage.BatchWriter
	Publisher  notify.Publisher
}

type Options struct {
	// category -> 源地址
	Catalogue   map[string][]string
	PerSource   int
	PerCategory int
	Attempts    int
	Backoff     time.Duration
	Now         func() time.Time
}

// Report 一次抓取的汇总
type Report struct {
	UpdateID    string         `json:"update_id"`
	Total       int            `json:"headlines_processed"`
	WithImages  int            `json:"with_images"`
	PerCategory map[string]int `json:"per_category"`
}

// Pipeline 定时/手动抓取：逐分类顺序抓取，打分后整批落库
type Pipeline struct {
	deps    Deps
	opts    Options
	profile collector.Profile
	logger  *slog.Logger
	running atomic.Bool
}

func New(deps Deps, opts Options, logger *slog.Logger) *Pipeline {
	if opts.PerCategory <= 0 {
		opts.PerCategory = 30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = notify.Nop{}
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		profile: collector.CrawlProfile(opts.PerSource),
		logger:  logger.With("component", "processor"),
	}
}

// Running 是否有抓取在执行
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Crawl 只有批次写入失败（重试耗尽）或 ctx 取消才会返回错误
func (p *Pipeline) Crawl(ctx context.Context) (Report, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Report{}, ErrCrawlRunning
	}
	defer p.running.Store(false)

	start := p.opts.Now()
	report := Report{PerCategory: make(map[string]int)}
	var items []news.HeadlineItem

	for _, cat := range categories(p.opts.Catalogue) {
		cands, err := p.crawlCategory(ctx, cat)
		if err != nil {
			return report, fmt.Errorf("processor: crawl %s: %w", cat, err)
		}
		for _, c := range cands {
			item := p.score(ctx, c, start)
			if item.HasImage() {
				report.WithImages++
			}
			if p.deps.Cache != nil {
				if err := p.deps.Cache.Push(ctx, item); err != nil {
					p.logger.Warn("cache push failed", "category", cat, "err", err)
				}
			}
			items = append(items, item)
		}
		report.PerCategory[cat] = len(cands)
		p.logger.Info("category done", "category", cat, "headlines", len(cands))
	}
	report.Total = len(items)

	if len(items) == 0 {
		p.logger.Warn("crawl produced no headlines")
		return report, nil
	}

	batch := news.CrawlBatch{UpdateID: news.NewUpdateID(start), Items: items, Status: news.StatusProcessing}
	id, err := storage.StoreWithRetry(ctx, p.deps.Store, batch, p.opts.Attempts, p.opts.Backoff, p.logger)
	if err != nil {
		return report, err
	}
	report.UpdateID = id

	ev := notify.BatchEvent{
		UpdateID:       id,
		TotalHeadlines: len(items),
		Categories:     report.PerCategory,
		PublishedAt:    p.opts.Now(),
	}
	if err := p.deps.Publisher.Published(ctx, ev); err != nil {
		p.logger.Warn("publish batch event failed", "update_id", id, "err", err)
	}
	p.logger.Info("crawl done", "update_id", id, "headlines", len(items), "with_images", report.WithImages,
		"took", p.opts.Now().Sub(start))
	return report, nil
}

// crawlCategory 顺序抓取直到凑满分类上限，去重后再解析图片
func (p *Pipeline) crawlCategory(ctx context.Context, cat string) ([]collector.Candidate, error) {
	urls := p.opts.Catalogue[cat]
	sources := make([]collector.Source, 0, len(urls))
	for _, u := range urls {
		sources = append(sources, collector.Source{Category: cat, URL: u})
	}

	var cands []collector.Candidate
	err := p.deps.Sequential.Each(ctx, sources, func(src collector.Source) bool {
		res := p.deps.Fetcher.Fetch(ctx, src, p.profile)
		if res.Err != nil {
			p.logger.Warn("source failed", "source", src.URL, "kind", res.Err.Kind, "err", res.Err)
			return true
		}
		cands = collector.Dedup(append(cands, res.Candidates...))
		return len(cands) < p.opts.PerCategory
	})
	if err != nil {
		return nil, err
	}
	if len(cands) > p.opts.PerCategory {
		cands = cands[:p.opts.PerCategory]
	}

	if p.deps.Images != nil {
		// 文章页同样逐个请求并随机等待
		err := p.deps.Sequential.Pace(ctx, len(cands), func(i int) bool {
			cands[i].ImageURL = p.deps.Images.Resolve(ctx, cands[i].ArticleURL)
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return cands, nil
}

func (p *Pipeline) score(ctx context.Context, c collector.Candidate, now time.Time) news.HeadlineItem {
	res := p.deps.Scorer.Score(ctx, c.Text)
	ts := c.Published
	if ts.IsZero() {
		ts = now
	}
	return news.HeadlineItem{
		Headline:   c.Text,
		Category:   news.Category(c.Category),
		Sentiment:  res.Sentiment,
		Confidence: res.Confidence,
		SourceURL:  c.ArticleURL,
		ImageURL:   c.ImageURL,
		Source:     collector.SourceName(c.SourceURL),
		Timestamp:  ts,
	}
}

func categories(catalogue map[string][]string) []string {
	out := make([]string, 0, len(catalogue))
	for k := range catalogue {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
