package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// BatchEvent 一次抓取批次写入完成后发布
type BatchEvent struct {
	UpdateID       string         `json:"updateId"`
	TotalHeadlines int            `json:"totalHeadlines"`
	Categories     map[string]int `json:"categories"`
	PublishedAt    time.Time      `json:"publishedAt"`
}

type Publisher interface {
	Published(ctx context.Context, ev BatchEvent) error
	Close() error
}

// Nop 未配置 broker 时使用
type Nop struct{}

func (Nop) Published(context.Context, BatchEvent) error { return nil }
func (Nop) Close() error                                { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 以 update id 为 key，保证同一批次的事件落在同一分区
type KafkaPublisher struct {
	w      messageWriter
	topic  string
	logger *slog.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	return &KafkaPublisher{w: w, topic: topic, logger: logger.With("component", "notify")}
}

func (p *KafkaPublisher) Published(ctx context.Context, ev BatchEvent) error {
	bs, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.UpdateID),
		Value: bs,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("batch_published")},
		},
		Time: ev.PublishedAt,
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("notify: write to %s: %w", p.topic, err)
	}
	p.logger.Debug("batch event published", "update_id", ev.UpdateID, "topic", p.topic)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// New 没有 broker 时返回 Nop
func New(brokers []string, topic string, logger *slog.Logger) Publisher {
	if len(brokers) == 0 {
		return Nop{}
	}
	return NewKafkaPublisher(brokers, topic, logger)
}
