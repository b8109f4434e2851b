package credibility

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrClassifierUnavailable 分类器未配置或调用失败，调用方转用规则兜底
var ErrClassifierUnavailable = errors.New("credibility: classifier unavailable")

const (
	LabelReal      = "REAL"
	LabelFake      = "FAKE"
	LabelUncertain = "UNCERTAIN"
)

// Classification 分类结果，Probability 取值 [0, 1]
type Classification struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// HTTPClassifier 调用外部推理服务：POST /classify {"text"} -> {"label","probability"}
type HTTPClassifier struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

var _ Classifier = (*HTTPClassifier)(nil)

func NewHTTPClassifier(endpoint, apiKey string, timeout time.Duration) *HTTPClassifier {
	return &HTTPClassifier{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	var out Classification
	if err := c.post(ctx, "/classify", map[string]string{"text": text}, &out); err != nil {
		return Classification{}, fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
	}

	out.Label = strings.ToUpper(strings.TrimSpace(out.Label))
	if out.Label != LabelReal && out.Label != LabelFake {
		return Classification{}, fmt.Errorf("%w: unexpected label %q", ErrClassifierUnavailable, out.Label)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return Classification{}, fmt.Errorf("%w: probability %v out of range", ErrClassifierUnavailable, out.Probability)
	}
	return out, nil
}

func (c *HTTPClassifier) post(ctx context.Context, path string, payload, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
