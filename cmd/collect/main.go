package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/NewsLens/internal/app"
	"github.com/LJTian/NewsLens/internal/config"
	"github.com/LJTian/NewsLens/internal/logger"
	"github.com/LJTian/NewsLens/internal/storage"
)

// 只执行一轮抓取的命令行入口：适合手动触发或外部 cron
func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logger.New("newslens-collect", "info").Error("load config failed", "err", err)
		return 1
	}
	log := logger.New("newslens-collect", cfg.LogLevel)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("init app failed", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			log.Warn("shutdown", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := a.Pipeline.Crawl(ctx)
	switch {
	case errors.Is(err, storage.ErrPersistence):
		log.Error("batch not persisted", "err", err)
		return 1
	case err != nil:
		log.Error("crawl failed", "err", err)
		return 1
	}
	log.Info("crawl finished", "update_id", report.UpdateID, "headlines", report.Total, "per_category", report.PerCategory)
	return 0
}
