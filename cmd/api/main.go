package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/NewsLens/internal/app"
	"github.com/LJTian/NewsLens/internal/config"
	"github.com/LJTian/NewsLens/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("newslens-api", "info").Error("load config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New("newslens-api", cfg.LogLevel)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Error("init app failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)

	srv := a.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exit := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		log.Error("server exit", "err", err)
		exit = 1
	}

	// 抓取可能正在写库，留足时间
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Warn("app shutdown", "err", err)
	}
	if exit != 0 {
		cancel()
		os.Exit(exit)
	}
}
