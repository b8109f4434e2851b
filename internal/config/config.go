package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	AppPort  string
	LogLevel string

	PostgresDSN string
	RedisAddr   string

	CronSpec string

	// 抓取
	Catalogue        Catalogue
	CrawlPerSource   int
	CrawlPerCategory int
	CrawlDelayMin    time.Duration
	CrawlDelayMax    time.Duration
	FetchTimeout     time.Duration
	ImageTimeout     time.Duration

	// 实时流
	LiveWorkers      int
	LiveDeadline     time.Duration
	LiveTTL          time.Duration
	LiveFetchTimeout time.Duration
	LiveLimit        int

	PersistAttempts int
	PersistBackoff  time.Duration

	// 外部能力，均为可选
	ClassifierURL    string
	ClassifierAPIKey string
	PolarityURL      string
	BrowserRenderURL string
	KafkaBrokers     []string
	KafkaTopic       string

	BasicAuthUser string
	BasicAuthPass string
}

// Catalogue 数据源目录：category -> 源地址列表
type Catalogue struct {
	Crawl      map[string][]string `yaml:"crawl"`
	Live       map[string][]string `yaml:"live"`
	Alternates map[string]string   `yaml:"alternates"`
}

// Categories 返回排好序的抓取分类
func (c Catalogue) Categories() []string {
	out := make([]string, 0, len(c.Crawl))
	for k := range c.Crawl {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c Catalogue) HasCategory(name string) bool {
	_, ok := c.Crawl[name]
	return ok
}

func Load() (*Config, error) {
	cfg := &Config{
		AppPort:     getEnv("APP_PORT", "9000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		PostgresDSN: getEnv("POSTGRES_DSN", "host=localhost user=newslens password=newslens dbname=newslens port=5432 sslmode=disable TimeZone=UTC"),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		CronSpec:    getEnv("CRON_SPEC", "*/30 * * * *"),

		ClassifierURL:    getEnv("CLASSIFIER_URL", ""),
		ClassifierAPIKey: getEnv("CLASSIFIER_API_KEY", ""),
		PolarityURL:      getEnv("POLARITY_URL", ""),
		BrowserRenderURL: getEnv("BROWSER_RENDER_URL", ""),
		KafkaBrokers:     splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:       getEnv("KAFKA_TOPIC", "news_updates"),

		BasicAuthUser: getEnv("APP_BASIC_USER", ""),
		BasicAuthPass: getEnv("APP_BASIC_PASS", ""),
	}

	var err error
	if cfg.CrawlPerSource, err = getInt("CRAWL_PER_SOURCE", 15); err != nil {
		return nil, err
	}
	if cfg.CrawlPerCategory, err = getInt("CRAWL_PER_CATEGORY", 30); err != nil {
		return nil, err
	}
	if cfg.CrawlDelayMin, err = getDuration("CRAWL_DELAY_MIN", 100*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.CrawlDelayMax, err = getDuration("CRAWL_DELAY_MAX", 200*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getDuration("FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ImageTimeout, err = getDuration("IMAGE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.LiveWorkers, err = getInt("LIVE_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.LiveDeadline, err = getDuration("LIVE_DEADLINE", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.LiveTTL, err = getDuration("LIVE_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LiveFetchTimeout, err = getDuration("LIVE_FETCH_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.LiveLimit, err = getInt("LIVE_LIMIT", 30); err != nil {
		return nil, err
	}
	if cfg.PersistAttempts, err = getInt("PERSIST_ATTEMPTS", 4); err != nil {
		return nil, err
	}
	if cfg.PersistBackoff, err = getDuration("PERSIST_BACKOFF", 500*time.Millisecond); err != nil {
		return nil, err
	}

	cfg.Catalogue = DefaultCatalogue()
	if path := getEnv("SOURCES_FILE", ""); path != "" {
		cat, err := LoadCatalogue(path)
		if err != nil {
			return nil, err
		}
		cfg.Catalogue = cat
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.CrawlPerSource <= 0 || c.CrawlPerCategory <= 0:
		return fmt.Errorf("config: crawl caps must be positive")
	case c.CrawlDelayMin < 0 || c.CrawlDelayMax < c.CrawlDelayMin:
		return fmt.Errorf("config: crawl delay range [%s, %s] is invalid", c.CrawlDelayMin, c.CrawlDelayMax)
	case c.LiveWorkers <= 0:
		return fmt.Errorf("config: LIVE_WORKERS must be positive")
	case c.LiveDeadline <= 0 || c.LiveTTL <= 0:
		return fmt.Errorf("config: live deadline and ttl must be positive")
	case c.PersistAttempts <= 0:
		return fmt.Errorf("config: PERSIST_ATTEMPTS must be positive")
	case len(c.Catalogue.Crawl) == 0:
		return fmt.Errorf("config: source catalogue has no crawl categories")
	}
	return nil
}

// LoadCatalogue 读取 YAML 数据源目录；未给出的部分沿用默认值
func LoadCatalogue(path string) (Catalogue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalogue{}, fmt.Errorf("config: read sources file: %w", err)
	}
	var cat Catalogue
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return Catalogue{}, fmt.Errorf("config: parse sources file: %w", err)
	}
	def := DefaultCatalogue()
	if len(cat.Crawl) == 0 {
		cat.Crawl = def.Crawl
	}
	if len(cat.Live) == 0 {
		cat.Live = def.Live
	}
	if cat.Alternates == nil {
		cat.Alternates = def.Alternates
	}
	return cat, nil
}

// DefaultCatalogue 内置的数据源
func DefaultCatalogue() Catalogue {
	return Catalogue{
		Crawl: map[string][]string{
			"politics": {
				"https://www.npr.org/sections/politics/",
				"https://apnews.com/hub/politics",
			},
			"sports": {
				"https://www.espn.com/espn/rss/news",
				"https://www.cbssports.com/",
				"https://sports.yahoo.com/",
			},
			"business": {
				"https://www.reuters.com/business/",
				"https://www.marketwatch.com/",
				"https://finance.yahoo.com/",
			},
			"arts": {
				"https://www.npr.org/sections/arts/",
				"https://www.theguardian.com/artanddesign",
				"https://www.artforum.com/news/",
			},
			"earth": {
				"https://www.nationalgeographic.com/environment/",
				"https://www.sciencedaily.com/news/earth_climate/",
				"https://www.bbc.com/future/future-planet",
			},
			"technology": {
				"https://www.wired.com/tag/technology/",
				"https://www.theverge.com/tech",
				"https://arstechnica.com/",
			},
		},
		Live: map[string][]string{
			"general": {
				"https://feeds.reuters.com/reuters/topNews",
				"https://feeds.bbci.co.uk/news/rss.xml",
				"https://rss.cnn.com/rss/edition.rss",
			},
			"technology": {
				"https://feeds.feedburner.com/TechCrunch",
				"https://www.theverge.com/rss/index.xml",
				"https://feeds.arstechnica.com/arstechnica/index",
			},
			"business": {
				"https://feeds.reuters.com/reuters/businessNews",
				"https://feeds.bloomberg.com/markets/news.rss",
			},
			"sports": {
				"https://www.espn.com/espn/rss/news",
				"https://feeds.bbci.co.uk/sport/rss.xml",
			},
		},
		Alternates: map[string]string{
			"https://www.politico.com":  "https://www.politico.com/rss/politicopicks.xml",
			"https://www.reuters.com":   "https://feeds.reuters.com/reuters/USdomesticNews",
			"https://www.bloomberg.com": "https://feeds.bloomberg.com/markets/news.rss",
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return v, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
