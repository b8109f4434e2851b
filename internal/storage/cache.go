package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"

	"github.com/LJTian/NewsLens/internal/news"
)

// 环形列表容量
const (
	sentimentListCap = 50
	categoryListCap  = 100
)

type ImageStat struct {
	Total      int     `json:"total"`
	WithImages int     `json:"with_images"`
	Percentage float64 `json:"percentage"`
}

// HeadlineCache Redis 中按 (情感, 分类) 维护的最近头条，另有每个分类一个 all 列表用于统计
type HeadlineCache struct {
	rdb *redis.Client
}

func NewRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewHeadlineCache(rdb *redis.Client) *HeadlineCache {
	return &HeadlineCache{rdb: rdb}
}

func sentimentKey(category string, s news.Sentiment) string {
	return fmt.Sprintf("headlines:%s:%s", s, category)
}

func allKey(category string) string {
	return "headlines:all:" + category
}

// Push 两个列表在同一个 pipeline 中写入并截断
func (c *HeadlineCache) Push(ctx context.Context, item news.HeadlineItem) error {
	bs, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("storage: marshal headline: %w", err)
	}
	cat := string(item.Category)
	key := sentimentKey(cat, item.Sentiment)
	_, err = c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, key, bs)
		p.LTrim(ctx, key, 0, sentimentListCap-1)
		p.LPush(ctx, allKey(cat), bs)
		p.LTrim(ctx, allKey(cat), 0, categoryListCap-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("storage: push headline: %w", err)
	}
	return nil
}

// Get 最新在前；无法解码的条目跳过
func (c *HeadlineCache) Get(ctx context.Context, category string, s news.Sentiment, limit int) ([]news.HeadlineItem, error) {
	if limit <= 0 || limit > sentimentListCap {
		limit = sentimentListCap
	}
	raw, err := c.rdb.LRange(ctx, sentimentKey(category, s), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("storage: get headlines: %w", err)
	}
	return decodeItems(raw), nil
}

// Stats 分类 -> 情感 -> 条数
func (c *HeadlineCache) Stats(ctx context.Context, categories []string) (map[string]map[string]int64, error) {
	cmds := make(map[string]map[string]*redis.IntCmd, len(categories))
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, cat := range categories {
			cmds[cat] = make(map[string]*redis.IntCmd, 3)
			for _, s := range news.Sentiments() {
				cmds[cat][string(s)] = p.LLen(ctx, sentimentKey(cat, s))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: cache stats: %w", err)
	}

	out := make(map[string]map[string]int64, len(categories))
	for cat, m := range cmds {
		out[cat] = make(map[string]int64, len(m))
		for s, cmd := range m {
			out[cat][s] = cmd.Val()
		}
	}
	return out, nil
}

// ImageStats 基于 all 列表统计带图比例
func (c *HeadlineCache) ImageStats(ctx context.Context, categories []string) (map[string]ImageStat, error) {
	out := make(map[string]ImageStat, len(categories))
	for _, cat := range categories {
		raw, err := c.rdb.LRange(ctx, allKey(cat), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("storage: image stats %s: %w", cat, err)
		}
		items := decodeItems(raw)
		st := ImageStat{Total: len(items)}
		for _, it := range items {
			if it.HasImage() {
				st.WithImages++
			}
		}
		st.Percentage = Percentage(st.WithImages, st.Total)
		out[cat] = st
	}
	return out, nil
}

func (c *HeadlineCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Percentage 保留一位小数，total 为 0 时返回 0
func Percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*1000/float64(total)) / 10
}

func decodeItems(raw []string) []news.HeadlineItem {
	items := make([]news.HeadlineItem, 0, len(raw))
	for _, r := range raw {
		var it news.HeadlineItem
		if err := json.Unmarshal([]byte(r), &it); err != nil {
			continue
		}
		items = append(items, it)
	}
	return items
}
