package overlay

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the key holding the mirror document.
const DefaultRedisKey = "agenda:overlay:mirror"

// RedisMirror stores the snapshot document under a single Redis key.
type RedisMirror struct {
	client redis.UniversalClient
	key    string
}

// NewRedisMirror constructs a Redis-backed mirror.
func NewRedisMirror(client redis.UniversalClient, key string) *RedisMirror {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisMirror{client: client, key: key}
}

// Load fetches and decodes the document. A missing key is an empty snapshot.
func (m *RedisMirror) Load(ctx context.Context) (Snapshot, error) {
	data, err := m.client.Get(ctx, m.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("overlay: redis get %s: %w", m.key, err)
	}
	return DecodeSnapshot(data)
}

// Save overwrites the document.
func (m *RedisMirror) Save(ctx context.Context, snap Snapshot) error {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.key, data, 0).Err(); err != nil {
		return fmt.Errorf("overlay: redis set %s: %w", m.key, err)
	}
	return nil
}
