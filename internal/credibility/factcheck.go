package credibility

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// 各维度权重
const (
	weightKeyword  = 0.3
	weightSource   = 0.3
	weightLanguage = 0.2
	weightTemporal = 0.2
)

var (
	strongCredible = []string{
		"peer-reviewed study", "published research", "clinical trial",
		"government data", "official statistics",
	}
	strongFake = []string{
		"secret government", "big pharma conspiracy", "miracle cure",
		"doctors hate this", "they don't want you to know",
	}
	mediumCredible = []string{"study shows", "research indicates", "experts say"}
	mediumFake     = []string{"shocking truth", "unbelievable", "you won't believe"}

	professionalPhrases = []string{
		"according to", "data shows", "research indicates",
		"officials say", "spokesperson stated",
	}
	sensationalPhrases = []string{
		"absolutely incredible", "mind-blowing", "shocking",
		"unbelievable", "amazing discovery",
	}

	topTierDomains      = []string{"reuters.com", "bbc.com", "bbc.co.uk", "cnn.com", "npr.org"}
	credibleDomains     = []string{"apnews.com", "washingtonpost.com", "nytimes.com", "theguardian.com", "wsj.com"}
	questionableDomains = []string{"infowars.com", "naturalnews.com", "beforeitsnews.com"}

	yearPattern = regexp.MustCompile(`\b\d{4}\b`)
)

// Breakdown 四个维度各自的得分
type Breakdown struct {
	Keyword  float64 `json:"keywords"`
	Source   float64 `json:"source"`
	Language float64 `json:"language"`
	Temporal float64 `json:"temporal"`
}

type FactCheck struct {
	Score     float64   `json:"score"`
	Sources   []string  `json:"sources"`
	Breakdown Breakdown `json:"breakdown"`
}

// FactChecker 启发式核查，不依赖外部服务
type FactChecker struct {
	now func() time.Time
}

func NewFactChecker(now func() time.Time) *FactChecker {
	if now == nil {
		now = time.Now
	}
	return &FactChecker{now: now}
}

func (f *FactChecker) Check(text, sourceURL string) FactCheck {
	b := Breakdown{
		Keyword:  KeywordScore(text),
		Source:   SourceScore(sourceURL),
		Language: LanguageScore(text),
		Temporal: f.TemporalScore(text),
	}
	score := b.Keyword*weightKeyword + b.Source*weightSource +
		b.Language*weightLanguage + b.Temporal*weightTemporal
	return FactCheck{Score: score, Sources: factSources(score), Breakdown: b}
}

// KeywordScore 从 50 起步，强信号 ±25，中等信号 ±15，按出现次数累计
func KeywordScore(text string) float64 {
	lower := strings.ToLower(text)
	score := 50.0
	score += 25 * float64(countOccurrences(lower, strongCredible))
	score -= 25 * float64(countOccurrences(lower, strongFake))
	score += 15 * float64(countOccurrences(lower, mediumCredible))
	score -= 15 * float64(countOccurrences(lower, mediumFake))
	return clamp(score)
}

// SourceScore 按域名分级；匹配 host 本身或其子域名
func SourceScore(sourceURL string) float64 {
	sourceURL = strings.TrimSpace(sourceURL)
	if sourceURL == "" {
		return 40
	}
	host := hostOf(sourceURL)
	switch {
	case matchDomain(host, topTierDomains):
		return 90
	case matchDomain(host, credibleDomains):
		return 75
	case matchDomain(host, questionableDomains):
		return 15
	default:
		return 45
	}
}

func LanguageScore(text string) float64 {
	lower := strings.ToLower(text)
	professional := countPresent(lower, professionalPhrases)
	sensational := countPresent(lower, sensationalPhrases)
	switch {
	case professional > sensational:
		return 75
	case sensational > professional:
		return 35
	default:
		return 55
	}
}

// TemporalScore 文本提到未来 1~4 年内的年份视为不合理
func (f *FactChecker) TemporalScore(text string) float64 {
	current := f.now().Year()
	for _, m := range yearPattern.FindAllString(text, -1) {
		y, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		if y > current && y <= current+4 {
			return 25
		}
	}
	return 70
}

func factSources(score float64) []string {
	switch {
	case score >= 70:
		return []string{
			"Content shows strong credibility indicators",
			"Language patterns consistent with professional journalism",
			"No significant misinformation markers detected",
		}
	case score >= 50:
		return []string{
			"Mixed credibility signals detected",
			"Some professional indicators present",
			"Recommend additional source verification",
		}
	default:
		return []string{
			"Multiple misinformation indicators detected",
			"Language patterns raise credibility concerns",
			"Similar claims often associated with false information",
		}
	}
}

func hostOf(raw string) string {
	lower := strings.ToLower(raw)
	if !strings.Contains(lower, "://") {
		lower = "http://" + lower
	}
	u, err := url.Parse(lower)
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Hostname(), ".")
}

func matchDomain(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func countOccurrences(lower string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		n += strings.Count(lower, p)
	}
	return n
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
