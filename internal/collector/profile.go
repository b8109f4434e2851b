package collector

import (
	"strings"
	"unicode/utf8"
)

// Profile 抽取规则：长度区间、黑名单、数量上限以及 markup 定位器
type Profile struct {
	MinLen    int
	MaxLen    int
	Blacklist []string

	// 每个数据源最多保留的条数
	PerSource int
	// feed 源单独的上限，0 表示沿用 PerSource
	FeedLimit int
	// 每个定位器最多检查的元素数，0 表示不限制
	PerLocator int

	Locators []Locator
}

// CrawlProfile 定时抓取使用：更长的标题、更完整的黑名单
func CrawlProfile(perSource int) Profile {
	return Profile{
		MinLen: 20,
		MaxLen: 200,
		Blacklist: []string{
			"cookie", "privacy policy", "terms of service", "subscribe",
			"newsletter", "advertisement", "click here", "read more",
			"continue reading", "sign up", "log in", "follow us",
		},
		PerSource: perSource,
		Locators:  DefaultLocators(),
	}
}

// LiveProfile 实时流使用：快速校验，数量更少
func LiveProfile() Profile {
	return Profile{
		MinLen:     15,
		MaxLen:     150,
		Blacklist:  []string{"cookie", "privacy", "subscribe", "newsletter", "click here"},
		PerSource:  5,
		FeedLimit:  8,
		PerLocator: 10,
		Locators:   DefaultLocators(),
	}
}

// Valid 长度按字符计算，黑名单不区分大小写
func (p Profile) Valid(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < p.MinLen || n > p.MaxLen {
		return false
	}
	lower := strings.ToLower(text)
	for _, bad := range p.Blacklist {
		if strings.Contains(lower, bad) {
			return false
		}
	}
	return true
}

func (p Profile) feedLimit() int {
	if p.FeedLimit > 0 {
		return p.FeedLimit
	}
	return p.PerSource
}
