package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/chromedp/chromedp"

	"github.com/LJTian/NewsLens/internal/logger"
)

// 渲染后 HTML 的上限，与 collector.HTTPRenderer 的读取上限一致
const maxHTMLBytes = 8 << 20

type renderRequest struct {
	URL string `json:"url"`
	// 额外等待的毫秒数，给懒加载内容留时间
	WaitMillis int `json:"waitMillis"`
}

type renderResponse struct {
	OK    bool   `json:"ok"`
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

// 403 兜底用的无头浏览器渲染服务：POST /render {"url"} -> {"ok","html"}
func main() {
	log := logger.New("browser-scraper", getEnv("LOG_LEVEL", "info"))

	// 整个进程复用一个 headless 实例
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), chromedp.DefaultExecAllocatorOptions[:]...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	// 预热浏览器，避免首个请求耗时过长
	if err := chromedp.Run(browserCtx); err != nil {
		log.Warn("warmup chromedp failed", "err", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/render", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req renderRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, renderResponse{Error: "invalid json"})
			return
		}
		if req.URL == "" {
			writeJSON(w, http.StatusBadRequest, renderResponse{Error: "url is required"})
			return
		}
		if req.WaitMillis < 0 || req.WaitMillis > 5000 {
			req.WaitMillis = 0
		}

		// 每个请求用独立的标签页和超时，复用同一个浏览器
		tabCtx, cancelTab := chromedp.NewContext(browserCtx)
		defer cancelTab()
		ctx, cancel := context.WithTimeout(tabCtx, 20*time.Second)
		defer cancel()

		var html string
		err := chromedp.Run(ctx,
			chromedp.Navigate(req.URL),
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(time.Duration(req.WaitMillis)*time.Millisecond),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		)
		if err != nil {
			log.Warn("render failed", "url", req.URL, "err", err)
			writeJSON(w, http.StatusOK, renderResponse{Error: err.Error()})
			return
		}
		if html == "" {
			writeJSON(w, http.StatusOK, renderResponse{Error: "empty document"})
			return
		}
		writeJSON(w, http.StatusOK, renderResponse{OK: true, HTML: truncateUTF8(html, maxHTMLBytes)})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	srv := &http.Server{
		Addr:              ":" + getEnv("PORT", "4000"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("browser-scraper listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("http server error", "err", err)
		os.Exit(1)
	}
}

// truncateUTF8 截断到不超过 limit 字节，并退回到字符边界，避免切开多字节字符
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
