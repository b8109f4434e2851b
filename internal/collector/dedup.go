package collector

import (
	"sort"
	"strings"
)

// Dedup 同一批次内按规范化文本去重，保留首次出现的顺序
func Dedup(cands []Candidate) []Candidate {
	out := make([]Candidate, 0, len(cands))
	seen := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		key := normalize(c.Text)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}

// DedupRecent 实时流使用：去重后按发布时间倒序
func DedupRecent(cands []Candidate) []Candidate {
	out := Dedup(cands)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Published.After(out[j].Published)
	})
	return out
}

func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

var knownSources = []struct{ match, name string }{
	{"reuters.com", "Reuters"},
	{"bbc.co.uk", "BBC"},
	{"bbci.co.uk", "BBC"},
	{"bbc.com", "BBC"},
	{"cnn.com", "CNN"},
	{"techcrunch", "TechCrunch"},
	{"theverge.com", "The Verge"},
	{"arstechnica.com", "Ars Technica"},
	{"bloomberg.com", "Bloomberg"},
	{"espn.com", "ESPN"},
	{"npr.org", "NPR"},
	{"apnews.com", "AP News"},
	{"theguardian.com", "The Guardian"},
}

// SourceName 展示用的来源名称
func SourceName(rawURL string) string {
	lower := strings.ToLower(rawURL)
	for _, k := range knownSources {
		if strings.Contains(lower, k.match) {
			return k.name
		}
	}

	host := lower
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/?#:"); i >= 0 {
		host = host[:i]
	}
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "feeds.")
	if host == "" {
		return "Unknown"
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
