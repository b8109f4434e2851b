package livefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/LJTian/NewsLens/internal/news"
)

type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateReady    State = "ready"
	StateError    State = "error"
)

// ErrNoHeadlines 一次刷新没有拿到任何头条
var ErrNoHeadlines = errors.New("livefeed: no headlines found")

type Snapshot struct {
	Headlines []news.HeadlineItem `json:"headlines"`
	FetchedAt time.Time           `json:"fetched_at"`
	TTL       time.Duration       `json:"ttl"`
}

// Fresh 快照年龄不超过 TTL
func (s Snapshot) Fresh(now time.Time) bool {
	return !s.FetchedAt.IsZero() && now.Sub(s.FetchedAt) <= s.TTL
}

type Status struct {
	State     State     `json:"status"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"timestamp"`
}

type Loader interface {
	Load(ctx context.Context) ([]news.HeadlineItem, error)
}

type LoaderFunc func(ctx context.Context) ([]news.HeadlineItem, error)

func (f LoaderFunc) Load(ctx context.Context) ([]news.HeadlineItem, error) { return f(ctx) }

// Cache 实时流快照。同一时刻最多只有一次实际抓取。
type Cache struct {
	loader Loader
	ttl    time.Duration
	now    func() time.Time
	mirror Mirror
	logger *slog.Logger

	group      singleflight.Group
	refreshing atomic.Bool

	mu     sync.RWMutex
	snap   Snapshot
	status Status
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMirror 快照和状态同步写入外部存储，进程重启后可恢复
func WithMirror(m Mirror) Option {
	return func(c *Cache) { c.mirror = m }
}

func New(loader Loader, ttl time.Duration, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		loader: loader,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "livefeed"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status = Status{State: StateIdle, Message: "Ready", UpdatedAt: c.now()}
	return c
}

// Get 未强制刷新且快照仍在 TTL 内时直接返回缓存（fromCache=true）；
// 否则同步刷新。刷新失败时返回旧快照和错误。
func (c *Cache) Get(ctx context.Context, force bool) (Snapshot, bool, error) {
	if !force {
		if snap := c.Snapshot(); snap.Fresh(c.now()) {
			return snap, true, nil
		}
	}
	snap, err := c.Refresh(ctx)
	return snap, false, err
}

// Refresh 前台刷新；并发调用共享同一次抓取。
// 抓取本身不随调用方的 ctx 取消，只受批次截止时间约束；调用方 ctx 结束时带着旧快照提前返回。
func (c *Cache) Refresh(ctx context.Context) (Snapshot, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("live", func() (any, error) {
		return c.fetch(flightCtx)
	})
	select {
	case res := <-ch:
		return res.Val.(Snapshot), res.Err
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// RefreshAsync 后台刷新；已有任何抓取（前台或后台）在进行时直接返回 false
func (c *Cache) RefreshAsync(ctx context.Context) bool {
	if c.Status().State == StateFetching {
		return false
	}
	if !c.refreshing.CompareAndSwap(false, true) {
		return false
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.refreshing.Store(false)
		if _, err := c.Refresh(bg); err != nil {
			c.logger.Warn("background refresh failed", "err", err)
		}
	}()
	return true
}

// Refreshing 后台刷新是否在进行
func (c *Cache) Refreshing() bool {
	return c.refreshing.Load()
}

func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Cache) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Warm 启动时从外部存储恢复快照，失败只记录日志
func (c *Cache) Warm(ctx context.Context) bool {
	if c.mirror == nil {
		return false
	}
	snap, ok, err := c.mirror.LoadSnapshot(ctx)
	if err != nil {
		c.logger.Warn("load mirrored snapshot failed", "err", err)
		return false
	}
	if !ok || len(snap.Headlines) == 0 {
		return false
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.setStatus(ctx, StateReady, fmt.Sprintf("%d headlines available", len(snap.Headlines)))
	c.logger.Info("live feed warmed", "headlines", len(snap.Headlines), "fetched_at", snap.FetchedAt)
	return true
}

func (c *Cache) fetch(ctx context.Context) (Snapshot, error) {
	c.setStatus(ctx, StateFetching, "Fetching live headlines...")
	start := c.now()

	items, err := c.loader.Load(ctx)
	if err == nil && len(items) == 0 {
		err = ErrNoHeadlines
	}
	if err != nil {
		msg := err.Error()
		if errors.Is(err, ErrNoHeadlines) {
			msg = "No headlines found"
		}
		c.setStatus(ctx, StateError, msg)
		return c.Snapshot(), err
	}

	snap := Snapshot{Headlines: items, FetchedAt: c.now(), TTL: c.ttl}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.setStatus(ctx, StateReady, fmt.Sprintf("%d headlines available", len(items)))

	if c.mirror != nil {
		if err := c.mirror.SaveSnapshot(ctx, snap); err != nil {
			c.logger.Warn("mirror snapshot failed", "err", err)
		}
	}
	c.logger.Info("live feed refreshed", "headlines", len(items), "took", c.now().Sub(start))
	return snap, nil
}

func (c *Cache) setStatus(ctx context.Context, state State, msg string) {
	st := Status{State: state, Message: msg, UpdatedAt: c.now()}
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()

	if c.mirror != nil {
		if err := c.mirror.SaveStatus(ctx, st); err != nil {
			c.logger.Warn("mirror status failed", "err", err)
		}
	}
}
