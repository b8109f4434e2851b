package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/NewsLens/internal/credibility"
	"github.com/LJTian/NewsLens/internal/livefeed"
	"github.com/LJTian/NewsLens/internal/news"
	"github.com/LJTian/NewsLens/internal/processor"
	"github.com/LJTian/NewsLens/internal/storage"
)

// 待分析文本的最大字符数
const maxAnalyzeRunes = 5000

type HeadlineCache interface {
	Get(ctx context.Context, category string, s news.Sentiment, limit int) ([]news.HeadlineItem, error)
	Stats(ctx context.Context, categories []string) (map[string]map[string]int64, error)
	ImageStats(ctx context.Context, categories []string) (map[string]storage.ImageStat, error)
	Ping(ctx context.Context) error
}

type BatchReader interface {
	LatestUpdateID(ctx context.Context, onlyCompleted bool) (string, error)
	BulkFetch(ctx context.Context, updateID string) ([]news.HeadlineItem, string, error)
	Stats(ctx context.Context) (storage.DBStats, error)
}

type Crawler interface {
	Crawl(ctx context.Context) (processor.Report, error)
}

type LiveFeed interface {
	Get(ctx context.Context, force bool) (livefeed.Snapshot, bool, error)
	RefreshAsync(ctx context.Context) bool
	Status() livefeed.Status
}

type Analyzer interface {
	Analyze(ctx context.Context, text, sourceURL string) credibility.Analysis
	Info() credibility.ModelInfo
}

type Deps struct {
	Cache    HeadlineCache
	Batches  BatchReader
	Crawler  Crawler
	Live     LiveFeed
	Analyzer Analyzer
	// 抓取分类，按字母排序
	Categories []string
}

type Server struct {
	deps       Deps
	categories map[string]struct{}
	logger     *slog.Logger
	now        func() time.Time
}

func NewServer(deps Deps, logger *slog.Logger) *Server {
	set := make(map[string]struct{}, len(deps.Categories))
	for _, c := range deps.Categories {
		set[c] = struct{}{}
	}
	return &Server{deps: deps, categories: set, logger: logger.With("component", "api"), now: time.Now}
}

// NewEngine gin.New + Recovery + 请求日志；配置了账号密码时启用 Basic Auth
func NewEngine(s *Server, user, pass string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if user != "" && pass != "" {
		r.Use(basicAuthMiddleware(user, pass))
	}
	s.RegisterRoutes(r)
	return r
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	g := r.Group("/api")
	{
		g.GET("/categories", s.listCategories)
		g.GET("/headlines/:category/:sentiment", s.listHeadlines)
		g.POST("/crawl", s.crawl)
		g.GET("/stats", s.stats)
		g.GET("/image-stats", s.imageStats)
		g.GET("/live-feed", s.liveFeed)
		g.POST("/live-feed/refresh", s.refreshLiveFeed)
		g.GET("/live-feed/status", s.liveFeedStatus)
		g.POST("/analyze-news", s.analyzeNews)
		g.GET("/check-updates/:updateID", s.checkUpdates)
		g.GET("/bulk-download/:updateID", s.bulkDownload)
		g.GET("/database-stats", s.databaseStats)
		g.GET("/model-info", s.modelInfo)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.deps.Cache.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"redis":     "connected",
		"timestamp": s.now(),
	})
}

func (s *Server) listCategories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"categories": s.deps.Categories,
		"total":      len(s.deps.Categories),
	})
}

func (s *Server) listHeadlines(c *gin.Context) {
	category := c.Param("category")
	if _, ok := s.categories[category]; !ok {
		badRequest(c, "Invalid category")
		return
	}
	sent, err := news.ParseSentiment(c.Param("sentiment"))
	if err != nil {
		badRequest(c, "Invalid sentiment")
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(c, "limit must be a positive integer")
			return
		}
	}
	minConfidence := -1.0
	if raw := c.Query("min_confidence"); raw != "" {
		minConfidence, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, "min_confidence must be a number")
			return
		}
	}
	imagesOnly, ok := boolQuery(c, "images_only")
	if !ok {
		return
	}

	items, err := s.deps.Cache.Get(c.Request.Context(), category, sent, limit)
	if err != nil {
		s.internalError(c, "get headlines", err)
		return
	}

	filtered := make([]news.HeadlineItem, 0, len(items))
	withImages := 0
	for _, it := range items {
		if it.Confidence < minConfidence {
			continue
		}
		if imagesOnly && !it.HasImage() {
			continue
		}
		if it.HasImage() {
			withImages++
		}
		filtered = append(filtered, it)
	}

	c.JSON(http.StatusOK, gin.H{
		"headlines":        filtered,
		"category":         category,
		"sentiment":        sent,
		"total":            len(filtered),
		"with_images":      withImages,
		"image_percentage": storage.Percentage(withImages, len(filtered)),
	})
}

func (s *Server) crawl(c *gin.Context) {
	// 客户端断开不应中断已开始的抓取
	ctx := context.WithoutCancel(c.Request.Context())
	report, err := s.deps.Crawler.Crawl(ctx)
	switch {
	case errors.Is(err, processor.ErrCrawlRunning):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "message": "a crawl is already running"})
		return
	case err != nil:
		s.internalError(c, "crawl", err)
		return
	}

	imageStats, err := s.deps.Cache.ImageStats(ctx, s.deps.Categories)
	if err != nil {
		s.logger.Warn("image stats after crawl failed", "err", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"message":             "News crawl completed successfully",
		"update_id":           report.UpdateID,
		"headlines_processed": report.Total,
		"per_category":        report.PerCategory,
		"image_stats":         imageStats,
	})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.deps.Cache.Stats(c.Request.Context(), s.deps.Categories)
	if err != nil {
		s.internalError(c, "stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

func (s *Server) imageStats(c *gin.Context) {
	st, err := s.deps.Cache.ImageStats(c.Request.Context(), s.deps.Categories)
	if err != nil {
		s.internalError(c, "image stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"image_stats": st})
}

// liveFeed 刷新失败但仍有旧快照时返回旧数据，status 为 stale
func (s *Server) liveFeed(c *gin.Context) {
	force, ok := boolQuery(c, "refresh")
	if !ok {
		return
	}
	snap, fromCache, err := s.deps.Live.Get(c.Request.Context(), force)
	if err != nil && len(snap.Headlines) == 0 {
		s.logger.Warn("live feed unavailable", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"headlines": []news.HeadlineItem{},
			"total":     0,
			"error":     err.Error(),
			"status":    "error",
		})
		return
	}

	resp := gin.H{
		"headlines":  snap.Headlines,
		"total":      len(snap.Headlines),
		"timestamp":  snap.FetchedAt,
		"from_cache": fromCache,
		"status":     "success",
	}
	if err != nil {
		resp["status"] = "stale"
		resp["error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) refreshLiveFeed(c *gin.Context) {
	msg := "Live feed refresh started"
	if !s.deps.Live.RefreshAsync(c.Request.Context()) {
		msg = "Live feed refresh already in progress"
	}
	c.JSON(http.StatusOK, gin.H{"message": msg, "status": "refreshing"})
}

func (s *Server) liveFeedStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Live.Status())
}

type analyzeRequest struct {
	Text      string `json:"text"`
	SourceURL string `json:"source_url"`
}

func (s *Server) analyzeNews(c *gin.Context) {
	var req analyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Request body must be JSON")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		badRequest(c, "Text is required for analysis")
		return
	}
	if utf8.RuneCountInString(req.Text) > maxAnalyzeRunes {
		badRequest(c, fmt.Sprintf("Text too long. Maximum %d characters.", maxAnalyzeRunes))
		return
	}
	c.JSON(http.StatusOK, s.deps.Analyzer.Analyze(c.Request.Context(), req.Text, strings.TrimSpace(req.SourceURL)))
}

func (s *Server) checkUpdates(c *gin.Context) {
	client := c.Param("updateID")
	latest, err := s.deps.Batches.LatestUpdateID(c.Request.Context(), true)
	if err != nil {
		s.internalError(c, "latest update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hasUpdate":      client == "none" || client != latest,
		"latestUpdateId": latest,
		"clientUpdateId": client,
		"serverTime":     s.now(),
	})
}

func (s *Server) bulkDownload(c *gin.Context) {
	items, id, err := s.deps.Batches.BulkFetch(c.Request.Context(), c.Param("updateID"))
	if err != nil {
		s.internalError(c, "bulk fetch", err)
		return
	}
	if id == "" {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "message": "No updates available"})
		return
	}
	size := 0
	if bs, err := json.Marshal(items); err == nil {
		size = len(bs)
	}
	c.JSON(http.StatusOK, gin.H{
		"updateId":     id,
		"headlines":    items,
		"totalCount":   len(items),
		"downloadTime": s.now(),
		"dataSize":     fmt.Sprintf("%.1f KB", float64(size)/1024),
	})
}

func (s *Server) databaseStats(c *gin.Context) {
	st, err := s.deps.Batches.Stats(c.Request.Context())
	if err != nil {
		s.internalError(c, "database stats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) modelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Analyzer.Info())
}

// boolQuery 缺省为 false；无法解析时已写入 400，返回 ok=false
func boolQuery(c *gin.Context, key string) (bool, bool) {
	raw := c.Query(key)
	if raw == "" {
		return false, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, key+" must be a boolean")
		return false, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "message": msg})
}

func (s *Server) internalError(c *gin.Context, action string, err error) {
	s.logger.Error(action+" failed", "path", c.Request.URL.Path, "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	})
}
