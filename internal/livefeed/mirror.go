package livefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	snapshotKey = "live_feed:headlines"
	statusKey   = "live_feed:status"
)

type Mirror interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	LoadSnapshot(ctx context.Context) (Snapshot, bool, error)
	SaveStatus(ctx context.Context, st Status) error
}

// RedisMirror 快照带 TTL 过期；状态不过期
type RedisMirror struct {
	rdb *redis.Client
}

var _ Mirror = (*RedisMirror)(nil)

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

func (m *RedisMirror) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	bs, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("livefeed: marshal snapshot: %w", err)
	}
	if err := m.rdb.Set(ctx, snapshotKey, bs, snap.TTL).Err(); err != nil {
		return fmt.Errorf("livefeed: save snapshot: %w", err)
	}
	return nil
}

func (m *RedisMirror) LoadSnapshot(ctx context.Context) (Snapshot, bool, error) {
	bs, err := m.rdb.Get(ctx, snapshotKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("livefeed: load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(bs, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("livefeed: decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (m *RedisMirror) SaveStatus(ctx context.Context, st Status) error {
	bs, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("livefeed: marshal status: %w", err)
	}
	if err := m.rdb.Set(ctx, statusKey, bs, 0).Err(); err != nil {
		return fmt.Errorf("livefeed: save status: %w", err)
	}
	return nil
}
