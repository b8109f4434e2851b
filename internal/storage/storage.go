package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LJTian/NewsLens/internal/news"
)

// LatestAlias bulk 下载时代表最近一次已完成的批次
const LatestAlias = "latest"

// NewsUpdate 一次抓取对应一行；status 从 processing 变为 completed 后不再修改
type NewsUpdate struct {
	UpdateID       string     `gorm:"primaryKey;size:64" json:"updateId"`
	Status         string     `gorm:"size:16;index" json:"status"`
	TotalHeadlines int        `json:"totalHeadlines"`
	CreatedAt      time.Time  `gorm:"index" json:"createdAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

type Headline struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UpdateID   string    `gorm:"size:64;index" json:"updateId"`
	Headline   string    `gorm:"size:512" json:"headline"`
	Category   string    `gorm:"size:32;index" json:"category"`
	Sentiment  string    `gorm:"size:16;index" json:"sentiment"`
	Confidence float64   `json:"confidence"`
	SourceURL  string    `gorm:"size:1024" json:"sourceUrl"`
	ImageURL   string    `gorm:"size:1024" json:"imageUrl"`
	Timestamp  time.Time `gorm:"column:published_at;index" json:"timestamp"`
	// 来源名称等附加字段
	ExtraData datatypes.JSONMap `json:"extraData"`
}

type DBStats struct {
	TotalUpdates     int64  `json:"total_updates"`
	CompletedUpdates int64  `json:"completed_updates"`
	TotalHeadlines   int64  `json:"total_headlines"`
	LatestUpdateID   string `json:"latest_update_id"`
}

// BatchStore 批次写入：先登记 processing，再在一个事务内写入全部头条并置为 completed
type BatchStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open 连接 PostgreSQL；表结构在 NewBatchStore 中迁移
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	return db, nil
}

func NewBatchStore(db *gorm.DB) (*BatchStore, error) {
	if err := db.AutoMigrate(&NewsUpdate{}, &Headline{}); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return &BatchStore{db: db, now: time.Now}, nil
}

// StoreBatch 幂等：已完成的 update id 直接返回；未完成的会清掉残留行后重写
func (s *BatchStore) StoreBatch(ctx context.Context, batch news.CrawlBatch) (string, error) {
	id := batch.UpdateID
	if id == "" {
		id = news.NewUpdateID(s.now())
	}
	db := s.db.WithContext(ctx)

	var existing NewsUpdate
	err := db.Where("update_id = ?", id).Take(&existing).Error
	switch {
	case err == nil:
		if existing.Status == string(news.StatusCompleted) {
			return id, nil
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := NewsUpdate{UpdateID: id, Status: string(news.StatusProcessing), CreatedAt: s.now()}
		if err := db.Create(&row).Error; err != nil {
			return "", fmt.Errorf("storage: create update %s: %w", id, err)
		}
	default:
		return "", fmt.Errorf("storage: lookup update %s: %w", id, err)
	}

	rows := make([]Headline, 0, len(batch.Items))
	for _, it := range batch.Items {
		rows = append(rows, toRow(id, it))
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("update_id = ?", id).Delete(&Headline{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return err
			}
		}
		completed := s.now()
		return tx.Model(&NewsUpdate{}).Where("update_id = ?", id).Updates(map[string]any{
			"status":          string(news.StatusCompleted),
			"total_headlines": len(rows),
			"completed_at":    completed,
		}).Error
	})
	if err != nil {
		return "", fmt.Errorf("storage: store batch %s: %w", id, err)
	}
	return id, nil
}

// LatestUpdateID 没有批次时返回 ""
func (s *BatchStore) LatestUpdateID(ctx context.Context, onlyCompleted bool) (string, error) {
	q := s.db.WithContext(ctx).Model(&NewsUpdate{})
	if onlyCompleted {
		q = q.Where("status = ?", string(news.StatusCompleted))
	}
	var row NewsUpdate
	err := q.Order("created_at DESC").Order("update_id DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("storage: latest update: %w", err)
	}
	return row.UpdateID, nil
}

// BulkFetch 返回批次内全部头条以及实际解析出的 update id；只读取已完成的批次
func (s *BatchStore) BulkFetch(ctx context.Context, updateID string) ([]news.HeadlineItem, string, error) {
	if strings.EqualFold(updateID, LatestAlias) {
		latest, err := s.LatestUpdateID(ctx, true)
		if err != nil {
			return nil, "", err
		}
		updateID = latest
	}
	if updateID == "" {
		return nil, "", nil
	}

	db := s.db.WithContext(ctx)
	var update NewsUpdate
	err := db.Where("update_id = ? AND status = ?", updateID, string(news.StatusCompleted)).Take(&update).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("storage: bulk fetch %s: %w", updateID, err)
	}

	var rows []Headline
	if err := db.Where("update_id = ?", updateID).
		Order("category ASC").Order("sentiment ASC").Order("published_at DESC").
		Find(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("storage: bulk fetch %s: %w", updateID, err)
	}
	items := make([]news.HeadlineItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toItem())
	}
	return items, updateID, nil
}

func (s *BatchStore) Stats(ctx context.Context) (DBStats, error) {
	db := s.db.WithContext(ctx)
	var st DBStats
	if err := db.Model(&NewsUpdate{}).Count(&st.TotalUpdates).Error; err != nil {
		return st, fmt.Errorf("storage: count updates: %w", err)
	}
	if err := db.Model(&NewsUpdate{}).Where("status = ?", string(news.StatusCompleted)).Count(&st.CompletedUpdates).Error; err != nil {
		return st, fmt.Errorf("storage: count completed: %w", err)
	}
	if err := db.Model(&Headline{}).Count(&st.TotalHeadlines).Error; err != nil {
		return st, fmt.Errorf("storage: count headlines: %w", err)
	}
	latest, err := s.LatestUpdateID(ctx, true)
	if err != nil {
		return st, err
	}
	st.LatestUpdateID = latest
	return st, nil
}

func toRow(updateID string, it news.HeadlineItem) Headline {
	return Headline{
		UpdateID:   updateID,
		Headline:   toValidUTF8(it.Headline),
		Category:   string(it.Category),
		Sentiment:  string(it.Sentiment),
		Confidence: it.Confidence,
		SourceURL:  it.SourceURL,
		ImageURL:   it.ImageURL,
		Timestamp:  it.Timestamp.UTC(),
		ExtraData:  datatypes.JSONMap{"source": it.Source},
	}
}

func (h Headline) toItem() news.HeadlineItem {
	src, _ := h.ExtraData["source"].(string)
	return news.HeadlineItem{
		Headline:   h.Headline,
		Category:   news.Category(h.Category),
		Sentiment:  news.Sentiment(h.Sentiment),
		Confidence: h.Confidence,
		SourceURL:  h.SourceURL,
		ImageURL:   h.ImageURL,
		Source:     src,
		Timestamp:  h.Timestamp,
	}
}

// toValidUTF8 部分站点混用编码，避免 PostgreSQL invalid byte sequence
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "\uFFFD")
}
