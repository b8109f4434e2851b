package sentiment

import (
	"context"
	"log/slog"
	"math"

	"github.com/LJTian/NewsLens/internal/news"
)

// 正负判定阈值（不含边界）
const threshold = 0.1

// Polarity 外部计算的情感极性，取值 [-1, 1]
type Polarity interface {
	Polarity(ctx context.Context, text string) (float64, error)
}

type Result struct {
	Sentiment   news.Sentiment `json:"sentiment"`
	Confidence  float64        `json:"confidence"`
	RawPolarity float64        `json:"raw_polarity"`
}

type Scorer struct {
	polarity Polarity
	logger   *slog.Logger
}

func NewScorer(p Polarity, logger *slog.Logger) *Scorer {
	return &Scorer{polarity: p, logger: logger}
}

// Score 计算失败时返回 {neutral, 0, 0}，不影响所属头条
func (s *Scorer) Score(ctx context.Context, text string) Result {
	p, err := s.polarity.Polarity(ctx, text)
	if err != nil || math.IsNaN(p) {
		s.logger.Debug("polarity failed", "err", err)
		return Result{Sentiment: news.Neutral}
	}
	return FromPolarity(p)
}

// FromPolarity 极性到三分类标签的映射
func FromPolarity(p float64) Result {
	p = math.Max(-1, math.Min(1, p))

	label := news.Neutral
	switch {
	case p > threshold:
		label = news.Positive
	case p < -threshold:
		label = news.Negative
	}
	return Result{
		Sentiment:   label,
		Confidence:  round(math.Min(math.Abs(p)*100, 100), 1),
		RawPolarity: round(p, 3),
	}
}

func round(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}
