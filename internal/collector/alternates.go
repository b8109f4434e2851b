package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AlternateFeeds 站点 origin -> 已知备用 feed，用于 403 时绕开页面反爬
type AlternateFeeds map[string]string

// Lookup 按 scheme://host 查找，host 不区分大小写
func (a AlternateFeeds) Lookup(rawURL string) (string, bool) {
	if len(a) == 0 {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	origin := strings.ToLower(u.Scheme + "://" + u.Host)
	for k, v := range a {
		if strings.ToLower(strings.TrimRight(k, "/")) == origin {
			return v, true
		}
	}
	return "", false
}

// Renderer 通过无头浏览器拿到渲染后的 HTML
type Renderer interface {
	Render(ctx context.Context, pageURL string) (string, error)
}

// HTTPRenderer 调用 cmd/browser-scraper 提供的 /render 接口
type HTTPRenderer struct {
	endpoint string
	http     *http.Client
}

func NewHTTPRenderer(endpoint string, timeout time.Duration) *HTTPRenderer {
	return &HTTPRenderer{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

type renderResponse struct {
	OK    bool   `json:"ok"`
	HTML  string `json:"html,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r *HTTPRenderer) Render(ctx context.Context, pageURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": pageURL})
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+"/render", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %s", resp.Status)
	}
	var out renderResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if !out.OK {
		return "", fmt.Errorf("render failed: %s", out.Error)
	}
	return out.HTML, nil
}
