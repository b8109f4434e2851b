package coordinator

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/LJTian/NewsLens/internal/collector"
)

// Sequential 定时抓取使用：同一分类内逐个请求，请求之间随机等待，降低被限流的概率
type Sequential struct {
	minDelay time.Duration
	maxDelay time.Duration
	// 测试时替换
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSequential(minDelay, maxDelay time.Duration) *Sequential {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Sequential{minDelay: minDelay, maxDelay: maxDelay, sleep: sleepCtx}
}

// Delay 在 [min, max] 之间取一个随机值
func (s *Sequential) Delay() time.Duration {
	span := s.maxDelay - s.minDelay
	if span <= 0 {
		return s.minDelay
	}
	return s.minDelay + time.Duration(rand.Int64N(int64(span)+1))
}

// Each 依次处理数据源，fn 返回 false 时提前结束；只有 ctx 取消会返回错误
func (s *Sequential) Each(ctx context.Context, sources []collector.Source, fn func(collector.Source) bool) error {
	return s.Pace(ctx, len(sources), func(i int) bool { return fn(sources[i]) })
}

// Pace 依次执行 n 次请求，相邻两次之间随机等待；用于数据源和文章页（图片解析）
func (s *Sequential) Pace(ctx context.Context, n int, fn func(i int) bool) error {
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := s.sleep(ctx, s.Delay()); err != nil {
				return err
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(i) {
			return nil
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
