package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonreiter/govader"
)

// VaderPolarity 本地词典打分，使用 VADER 的 compound 值
type VaderPolarity struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

func NewVaderPolarity() *VaderPolarity {
	return &VaderPolarity{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *VaderPolarity) Polarity(_ context.Context, text string) (float64, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("sentiment: empty text")
	}
	return v.analyzer.PolarityScores(text).Compound, nil
}

// 打分服务响应体上限
const maxPolarityResponse = 64 << 10

// HTTPPolarity 调用外部打分服务：POST /polarity {"text"} -> {"polarity"}
type HTTPPolarity struct {
	endpoint string
	http     *http.Client
}

func NewHTTPPolarity(endpoint string, timeout time.Duration) *HTTPPolarity {
	return &HTTPPolarity{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: timeout},
	}
}

func (h *HTTPPolarity) Polarity(ctx context.Context, text string) (float64, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return 0, fmt.Errorf("sentiment: marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/polarity", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("sentiment: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sentiment: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("sentiment: unexpected status %s", resp.Status)
	}
	var out struct {
		Polarity *float64 `json:"polarity"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPolarityResponse)).Decode(&out); err != nil {
		return 0, fmt.Errorf("sentiment: decode response: %w", err)
	}
	if out.Polarity == nil {
		return 0, fmt.Errorf("sentiment: response without polarity")
	}
	return *out.Polarity, nil
}

// Fallback 主提供方失败时使用备用提供方
type Fallback struct {
	Primary   Polarity
	Secondary Polarity
}

func (f Fallback) Polarity(ctx context.Context, text string) (float64, error) {
	p, err := f.Primary.Polarity(ctx, text)
	if err == nil || f.Secondary == nil {
		return p, err
	}
	return f.Secondary.Polarity(ctx, text)
}
