package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/LJTian/NewsLens/internal/api"
	"github.com/LJTian/NewsLens/internal/collector"
	"github.com/LJTian/NewsLens/internal/config"
	"github.com/LJTian/NewsLens/internal/coordinator"
	"github.com/LJTian/NewsLens/internal/credibility"
	"github.com/LJTian/NewsLens/internal/livefeed"
	"github.com/LJTian/NewsLens/internal/news"
	"github.com/LJTian/NewsLens/internal/notify"
	"github.com/LJTian/NewsLens/internal/processor"
	"github.com/LJTian/NewsLens/internal/scheduler"
	"github.com/LJTian/NewsLens/internal/sentiment"
	"github.com/LJTian/NewsLens/internal/storage"
)

// App 组装各组件；cmd/api 与 cmd/collect 共用
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *gorm.DB
	rdb       *redis.Client
	publisher notify.Publisher

	Pipeline  *processor.Pipeline
	Live      *livefeed.Cache
	Scheduler *scheduler.Scheduler
	Engine    *gin.Engine
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := storage.Open(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	batches, err := storage.NewBatchStore(db)
	if err != nil {
		closeDB(db)
		return nil, err
	}
	rdb := storage.NewRedis(cfg.RedisAddr)
	return build(cfg, logger, db, rdb, batches)
}

func build(cfg *config.Config, logger *slog.Logger, db *gorm.DB, rdb *redis.Client, batches *storage.BatchStore) (*App, error) {
	cache := storage.NewHeadlineCache(rdb)
	alternates := collector.AlternateFeeds(cfg.Catalogue.Alternates)

	var fetchOpts []collector.FetcherOption
	if cfg.BrowserRenderURL != "" {
		fetchOpts = append(fetchOpts, collector.WithRenderer(collector.NewHTTPRenderer(cfg.BrowserRenderURL, 2*cfg.FetchTimeout)))
	}
	crawlFetcher := collector.NewFetcher(cfg.FetchTimeout, alternates, logger, fetchOpts...)
	liveFetcher := collector.NewFetcher(cfg.LiveFetchTimeout, alternates, logger)
	images := collector.NewImageResolver(cfg.ImageTimeout, logger)

	var polarity sentiment.Polarity = sentiment.NewVaderPolarity()
	if cfg.PolarityURL != "" {
		polarity = sentiment.Fallback{
			Primary:   sentiment.NewHTTPPolarity(cfg.PolarityURL, cfg.FetchTimeout),
			Secondary: polarity,
		}
	}
	scorer := sentiment.NewScorer(polarity, logger)

	var classifier credibility.Classifier
	if cfg.ClassifierURL != "" {
		classifier = credibility.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierAPIKey, cfg.FetchTimeout)
	}
	analyzer := credibility.NewAnalyzer(classifier, logger, nil)

	live := coordinator.NewLive(liveFetcher, coordinator.LiveOptions{
		Workers:  cfg.LiveWorkers,
		Deadline: cfg.LiveDeadline,
		Limit:    cfg.LiveLimit,
		Profile:  collector.LiveProfile(),
		Images:   images,
	}, logger.With("component", "live"))
	liveSources := sources(cfg.Catalogue.Live)
	feed := livefeed.New(livefeed.LoaderFunc(func(ctx context.Context) ([]news.HeadlineItem, error) {
		return live.Collect(ctx, liveSources), nil
	}), cfg.LiveTTL, logger, livefeed.WithMirror(livefeed.NewRedisMirror(rdb)))

	publisher := notify.New(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	pipeline := processor.New(processor.Deps{
		Fetcher:    crawlFetcher,
		Images:     images,
		Scorer:     scorer,
		Sequential: coordinator.NewSequential(cfg.CrawlDelayMin, cfg.CrawlDelayMax),
		Cache:      cache,
		Store:      batches,
		Publisher:  publisher,
	}, processor.Options{
		Catalogue:   cfg.Catalogue.Crawl,
		PerSource:   cfg.CrawlPerSource,
		PerCategory: cfg.CrawlPerCategory,
		Attempts:    cfg.PersistAttempts,
		Backoff:     cfg.PersistBackoff,
	}, logger)

	sched, err := scheduler.New(cfg.CronSpec, func(ctx context.Context) error {
		_, err := pipeline.Crawl(ctx)
		if errors.Is(err, processor.ErrCrawlRunning) {
			return nil
		}
		return err
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	server := api.NewServer(api.Deps{
		Cache:      cache,
		Batches:    batches,
		Crawler:    pipeline,
		Live:       feed,
		Analyzer:   analyzer,
		Categories: cfg.Catalogue.Categories(),
	}, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		rdb:       rdb,
		publisher: publisher,
		Pipeline:  pipeline,
		Live:      feed,
		Scheduler: sched,
		Engine:    api.NewEngine(server, cfg.BasicAuthUser, cfg.BasicAuthPass),
	}, nil
}

// Start 启动定时抓取并预热实时流；Redis 中有未过期快照时不再立即抓取
func (a *App) Start(ctx context.Context) {
	a.Scheduler.Start()
	if a.Live.Warm(ctx) {
		return
	}
	a.Live.RefreshAsync(ctx)
}

// HTTPServer 供 cmd/api 使用
func (a *App) HTTPServer() *http.Server {
	return &http.Server{
		Addr:    ":" + a.cfg.AppPort,
		Handler: a.Engine,
	}
}

// Shutdown 依次停止调度、关闭消息发布与存储连接
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if err := a.rdb.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	if err := closeDB(a.db); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// sources 按分类名排序展开，保证每次的提交顺序一致
func sources(catalogue map[string][]string) []collector.Source {
	cats := make([]string, 0, len(catalogue))
	for c := range catalogue {
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var out []collector.Source
	for _, c := range cats {
		for _, u := range catalogue[c] {
			out = append(out, collector.Source{Category: c, URL: u})
		}
	}
	return out
}
