package news

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category 新闻分类，例如 politics / technology
type Category string

type Sentiment string

const (
	Positive Sentiment = "positive"
	Negative Sentiment = "negative"
	Neutral  Sentiment = "neutral"
)

// Sentiments 按固定顺序返回三种情感，统计与缓存 key 都依赖这个顺序
func Sentiments() []Sentiment {
	return []Sentiment{Positive, Negative, Neutral}
}

// ParseSentiment 校验路由参数
func ParseSentiment(s string) (Sentiment, error) {
	switch v := Sentiment(strings.ToLower(strings.TrimSpace(s))); v {
	case Positive, Negative, Neutral:
		return v, nil
	}
	return "", fmt.Errorf("invalid sentiment %q", s)
}

// HeadlineItem 抓取 + 打分后的一条头条
// ImageURL 为空字符串表示没有图片，JSON 中始终保留该字段
type HeadlineItem struct {
	Headline   string    `json:"headline"`
	Category   Category  `json:"category"`
	Sentiment  Sentiment `json:"sentiment,omitempty"`
	Confidence float64   `json:"confidence"`
	SourceURL  string    `json:"source_url"`
	ImageURL   string    `json:"image_url"`
	Source     string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (h HeadlineItem) HasImage() bool {
	return h.ImageURL != ""
}

type BatchStatus string

const (
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
)

// CrawlBatch 一次抓取的完整结果，completed 之后不再修改
type CrawlBatch struct {
	UpdateID string
	Items    []HeadlineItem
	Status   BatchStatus
}

// NewUpdateID 生成基于时间的批次号，后缀保证同一秒内多次抓取也不冲突
func NewUpdateID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return "global_" + now.UTC().Format("20060102_150405") + "_" + suffix
}
