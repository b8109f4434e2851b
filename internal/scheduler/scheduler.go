package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job 一次抓取；ctx 在 Stop 时取消
type Job func(ctx context.Context) error

type Scheduler struct {
	cron         *cron.Cron
	job          Job
	logger       *slog.Logger
	startupDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
	wg      sync.WaitGroup
}

type Option func(*Scheduler)

// WithStartupDelay 启动后延迟执行首轮，避免与首批用户请求争抢资源；0 表示不执行首轮
func WithStartupDelay(d time.Duration) Option {
	return func(s *Scheduler) { s.startupDelay = d }
}

func New(spec string, job Job, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	logger = logger.With("component", "scheduler")
	cl := cronLogger{logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:         c,
		job:          job,
		logger:       logger,
		startupDelay: 15 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	if _, err := c.AddFunc(spec, s.tick); err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: invalid spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	if s.startupDelay <= 0 {
		return
	}
	s.mu.Lock()
	s.timer = time.AfterFunc(s.startupDelay, s.tick)
	s.mu.Unlock()
}

// Stop 取消待执行的首轮，等待正在执行的任务结束或 ctx 超时
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	s.cancel()
	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler: stop: %w", ctx.Err())
	}
}

// RunOnce 手动执行一轮，不经过 cron
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()
	s.logger.Info("job started")
	if err := s.job(ctx); err != nil {
		s.logger.Error("job failed", "err", err, "took", time.Since(start))
		return err
	}
	s.logger.Info("job done", "took", time.Since(start))
	return nil
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	_ = s.RunOnce(s.ctx)
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "err", err)...)
}
