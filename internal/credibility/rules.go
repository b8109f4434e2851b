package credibility

import (
	"math"
	"strings"
)

var (
	ruleCrediblePhrases = []string{
		"according to study", "according to official", "research shows",
		"data indicates", "experts say", "official statement", "peer-reviewed",
		"reuters reports", "ap news", "government data",
	}
	ruleFakePhrases = []string{
		"secret cure", "doctors hate this", "miracle breakthrough",
		"government cover-up", "they don't want you to know",
		"shocking truth", "one weird trick", "big pharma conspiracy",
	}
)

// MLResult 机器学习维度的得分
type MLResult struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
	Score      float64 `json:"score"`
}

// fromClassification 分类器概率换算为可信度分
func fromClassification(c Classification) MLResult {
	conf := c.Probability * 100
	if c.Label == LabelReal {
		return MLResult{Prediction: LabelReal, Confidence: conf, Score: conf}
	}
	return MLResult{Prediction: LabelFake, Confidence: conf, Score: 100 - conf}
}

// ruleBased 分类器不可用时的兜底：只看每个短语是否出现
func ruleBased(text string) MLResult {
	lower := strings.ToLower(text)
	credible := countPresent(lower, ruleCrediblePhrases)
	fake := countPresent(lower, ruleFakePhrases)

	switch {
	case fake > credible:
		conf := math.Min(60+10*float64(fake), 85)
		return MLResult{Prediction: LabelFake, Confidence: conf, Score: 100 - conf}
	case credible > fake:
		conf := math.Min(60+10*float64(credible), 85)
		return MLResult{Prediction: LabelReal, Confidence: conf, Score: conf}
	default:
		return MLResult{Prediction: LabelUncertain, Confidence: 45, Score: 50}
	}
}

func countPresent(lower string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			n++
		}
	}
	return n
}
