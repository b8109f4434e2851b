package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LJTian/NewsLens/internal/news"
)

// ErrPersistence 批次写入在重试耗尽后仍失败，抓取调用方需要感知
var ErrPersistence = errors.New("storage: persistence failed")

type BatchWriter interface {
	StoreBatch(ctx context.Context, batch news.CrawlBatch) (string, error)
}

// Retry 最多执行 attempts 次，第 n 次失败后等待 base<<n
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(base << i)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Join(err, ctx.Err())
		case <-t.C:
		}
	}
	return err
}

// StoreWithRetry 重试耗尽后返回包装了 ErrPersistence 的错误
func StoreWithRetry(ctx context.Context, w BatchWriter, batch news.CrawlBatch, attempts int, base time.Duration, logger *slog.Logger) (string, error) {
	var id string
	n := 0
	err := Retry(ctx, attempts, base, func(ctx context.Context) error {
		n++
		var err error
		id, err = w.StoreBatch(ctx, batch)
		if err != nil {
			logger.Warn("store batch failed", "update_id", batch.UpdateID, "attempt", n, "err", err)
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%w: update %s after %d attempts: %w", ErrPersistence, batch.UpdateID, n, err)
	}
	return id, nil
}
