package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LJTian/NewsLens/internal/collector"
	"github.com/LJTian/NewsLens/internal/news"
)

// SourceFetcher 由 collector.Fetcher 实现
type SourceFetcher interface {
	Fetch(ctx context.Context, src collector.Source, p collector.Profile) collector.Result
}

// ImageFinder 由 collector.ImageResolver 实现
type ImageFinder interface {
	Resolve(ctx context.Context, articleURL string) string
}

// Live 实时流的并发抓取：固定大小的 worker 池 + 整批截止时间
type Live struct {
	fetcher  SourceFetcher
	images   ImageFinder
	profile  collector.Profile
	workers  int
	deadline time.Duration
	limit    int
	logger   *slog.Logger
}

type LiveOptions struct {
	Workers  int
	Deadline time.Duration
	Limit    int
	Profile  collector.Profile
	// 为空时不解析图片
	Images ImageFinder
}

func NewLive(fetcher SourceFetcher, opts LiveOptions, logger *slog.Logger) *Live {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Deadline <= 0 {
		opts.Deadline = 10 * time.Second
	}
	return &Live{
		fetcher:  fetcher,
		images:   opts.Images,
		profile:  opts.Profile,
		workers:  opts.Workers,
		deadline: opts.Deadline,
		limit:    opts.Limit,
		logger:   logger,
	}
}

// Collect 每个数据源一个任务。截止时间到达后停止收集，未完成的任务被放弃：
// 它们不会被取消，只是结果不再被读取。
func (l *Live) Collect(ctx context.Context, sources []collector.Source) []news.HeadlineItem {
	if len(sources) == 0 {
		return nil
	}

	// 缓冲区足够大，迟到的任务写入后直接退出，不会泄漏
	results := make(chan collector.Result, len(sources))
	sem := make(chan struct{}, l.workers)
	stop := make(chan struct{})
	defer close(stop)

	taskCtx := context.WithoutCancel(ctx)
	go func() {
		for _, src := range sources {
			select {
			case sem <- struct{}{}:
			case <-stop:
				return
			}
			go func(src collector.Source) {
				defer func() { <-sem }()
				results <- l.run(taskCtx, src)
			}(src)
		}
	}()

	timer := time.NewTimer(l.deadline)
	defer timer.Stop()

	var (
		cands    []collector.Candidate
		received int
	)
collect:
	for received < len(sources) {
		select {
		case res := <-results:
			received++
			if res.Err != nil {
				l.logger.Warn("live source failed", "source", res.Source.URL, "kind", res.Err.Kind, "err", res.Err)
				continue
			}
			cands = append(cands, res.Candidates...)
		case <-timer.C:
			l.logger.Warn("live batch deadline reached", "completed", received, "abandoned", len(sources)-received)
			break collect
		case <-ctx.Done():
			l.logger.Warn("live batch cancelled", "completed", received, "err", ctx.Err())
			break collect
		}
	}

	cands = collector.DedupRecent(cands)
	if l.limit > 0 && len(cands) > l.limit {
		cands = cands[:l.limit]
	}

	items := make([]news.HeadlineItem, 0, len(cands))
	for _, c := range cands {
		items = append(items, news.HeadlineItem{
			Headline:  c.Text,
			Category:  news.Category(c.Category),
			SourceURL: c.ArticleURL,
			ImageURL:  c.ImageURL,
			Source:    collector.SourceName(c.SourceURL),
			Timestamp: c.Published,
		})
	}
	return items
}

// run 单个任务，panic 也只影响自己
func (l *Live) run(ctx context.Context, src collector.Source) (res collector.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = collector.Result{Source: src, Err: &collector.FetchError{
				Kind: collector.KindTransport,
				URL:  src.URL,
				Err:  fmt.Errorf("panic: %v", r),
			}}
		}
	}()

	res = l.fetcher.Fetch(ctx, src, l.profile)
	if res.Err != nil || l.images == nil {
		return res
	}

	var wg sync.WaitGroup
	for i := range res.Candidates {
		wg.Add(1)
		go func(c *collector.Candidate) {
			defer wg.Done()
			c.ImageURL = l.images.Resolve(ctx, c.ArticleURL)
		}(&res.Candidates[i])
	}
	wg.Wait()
	return res
}
