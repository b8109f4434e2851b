package credibility

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	RiskVeryLow  = "VERY LOW RISK"
	RiskLow      = "LOW RISK"
	RiskModerate = "MODERATE RISK"
	RiskHigh     = "HIGH RISK"
	RiskVeryHigh = "VERY HIGH RISK"
	RiskUnknown  = "UNKNOWN"
)

const (
	modelClassifier = "Production classifier"
	modelRules      = "Rule-based Fallback"

	failedRecommendation = "Analysis failed. Please verify manually with trusted sources."
)

type Metadata struct {
	ModelType  string    `json:"model_type"`
	AnalyzedAt time.Time `json:"analyzed_at"`
	TextLength int       `json:"text_length"`
}

type FactSummary struct {
	Score     float64   `json:"score"`
	Sources   []string  `json:"sources"`
	Breakdown Breakdown `json:"breakdown"`
}

// Analysis 单次分析结果；Error 非空时只有分数、风险和建议有意义
type Analysis struct {
	Score          float64      `json:"credibility_score"`
	RiskLevel      string       `json:"risk_level"`
	ML             *MLResult    `json:"ml_analysis,omitempty"`
	FactCheck      *FactSummary `json:"fact_check,omitempty"`
	Explanation    string       `json:"explanation,omitempty"`
	Recommendation string       `json:"recommendation"`
	Metadata       *Metadata    `json:"metadata,omitempty"`
	Error          string       `json:"error,omitempty"`
}

// ModelInfo /api/model-info 的返回
type ModelInfo struct {
	ModelLoaded bool    `json:"model_loaded"`
	ModelType   string  `json:"model_type"`
	Weights     Weights `json:"weights"`
}

type Weights struct {
	ML        float64 `json:"ml"`
	FactCheck float64 `json:"fact_check"`
}

type Analyzer struct {
	classifier Classifier
	facts      *FactChecker
	logger     *slog.Logger
	now        func() time.Time
}

// NewAnalyzer classifier 可为 nil，此时只用规则兜底
func NewAnalyzer(classifier Classifier, logger *slog.Logger, now func() time.Time) *Analyzer {
	if now == nil {
		now = time.Now
	}
	return &Analyzer{
		classifier: classifier,
		facts:      NewFactChecker(now),
		logger:     logger.With("component", "credibility"),
		now:        now,
	}
}

// Analyze 不会 panic，也不会返回错误；内部异常统一给出 UNKNOWN 兜底结果
func (a *Analyzer) Analyze(ctx context.Context, text, sourceURL string) (out Analysis) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("analysis panicked", "panic", r)
			out = failed(fmt.Errorf("panic: %v", r))
		}
	}()

	ml, modelType := a.mlScore(ctx, text)
	fc := a.facts.Check(text, sourceURL)

	composite := round1(clamp(0.5*ml.Score + 0.5*fc.Score))
	return Analysis{
		Score:     composite,
		RiskLevel: RiskLevel(composite),
		ML: &MLResult{
			Prediction: ml.Prediction,
			Confidence: round1(ml.Confidence),
			Score:      round1(ml.Score),
		},
		FactCheck: &FactSummary{
			Score:     round1(fc.Score),
			Sources:   fc.Sources,
			Breakdown: fc.Breakdown,
		},
		Explanation:    explanation(composite, ml, fc.Score),
		Recommendation: recommendation(composite),
		Metadata: &Metadata{
			ModelType:  modelType,
			AnalyzedAt: a.now().UTC(),
			TextLength: utf8.RuneCountInString(text),
		},
	}
}

func (a *Analyzer) mlScore(ctx context.Context, text string) (MLResult, string) {
	if a.classifier == nil {
		return ruleBased(text), modelRules
	}
	c, err := a.classifier.Classify(ctx, text)
	if err != nil {
		if !errors.Is(err, ErrClassifierUnavailable) {
			err = fmt.Errorf("%w: %v", ErrClassifierUnavailable, err)
		}
		a.logger.Warn("classifier failed, using rules", "err", err)
		return ruleBased(text), modelRules
	}
	return fromClassification(c), modelClassifier
}

func (a *Analyzer) Info() ModelInfo {
	info := ModelInfo{
		ModelLoaded: a.classifier != nil,
		ModelType:   modelRules,
		Weights:     Weights{ML: 0.5, FactCheck: 0.5},
	}
	if info.ModelLoaded {
		info.ModelType = modelClassifier
	}
	return info
}

// RiskLevel 分档：85 / 70 / 55 / 35，含下界
func RiskLevel(score float64) string {
	switch {
	case score >= 85:
		return RiskVeryLow
	case score >= 70:
		return RiskLow
	case score >= 55:
		return RiskModerate
	case score >= 35:
		return RiskHigh
	default:
		return RiskVeryHigh
	}
}

func explanation(composite float64, ml MLResult, factScore float64) string {
	var b strings.Builder
	switch {
	case composite >= 80:
		b.WriteString("HIGHLY CREDIBLE: This content appears to be legitimate and trustworthy.")
	case composite >= 65:
		b.WriteString("LIKELY CREDIBLE: This content appears mostly reliable with good indicators.")
	case composite >= 50:
		b.WriteString("UNCERTAIN: Mixed signals detected, exercise caution.")
	case composite >= 30:
		b.WriteString("LIKELY MISINFORMATION: Multiple warning signs detected.")
	default:
		b.WriteString("HIGHLY LIKELY MISINFORMATION: Strong indicators of false information.")
	}
	b.WriteString("\n\nANALYSIS BREAKDOWN:\n")
	fmt.Fprintf(&b, "• AI Model Assessment: %s (%.1f%% confidence)\n", ml.Prediction, ml.Confidence)
	fmt.Fprintf(&b, "• AI Credibility Score: %.1f/100\n", ml.Score)
	fmt.Fprintf(&b, "• Fact-Check Score: %.1f/100\n", factScore)
	fmt.Fprintf(&b, "• Overall Score: %.1f/100\n", composite)
	return b.String()
}

func recommendation(score float64) string {
	switch {
	case score >= 80:
		return "HIGHLY TRUSTWORTHY - Safe to trust and share with confidence"
	case score >= 65:
		return "LIKELY RELIABLE - Generally trustworthy, minimal additional verification needed"
	case score >= 50:
		return "VERIFY FIRST - Check with additional trusted sources before sharing"
	case score >= 30:
		return "HIGH CAUTION - Multiple red flags detected, verify thoroughly"
	default:
		return "DO NOT SHARE - Strong indicators of misinformation, avoid sharing"
	}
}

func failed(err error) Analysis {
	return Analysis{
		Score:          50,
		RiskLevel:      RiskUnknown,
		Recommendation: failedRecommendation,
		Error:          err.Error(),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
