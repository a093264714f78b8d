// Package redis provides a Redis-backed KV for the embedding cache, for
// setups that share one cache across machines or database directories.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/recall/internal/store"
)

// KV implements store.KV via rueidis.
type KV struct {
	client rueidis.Client
}

// Compile-time check: KV implements store.KV.
var _ store.KV = (*KV)(nil)

// New connects to Redis.
func New(addrs []string, password string) (*KV, error) {
	if len(addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  addrs,
		Password:     password,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &KV{client: client}, nil
}

// Get retrieves a value by key.
func (k *KV) Get(ctx context.Context, key string) ([]byte, error) {
	cmd := k.client.B().Get().Key(key).Build()
	data, err := k.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Set stores a value at the given key.
func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	cmd := k.client.B().Set().Key(key).Value(string(value)).Build()
	if err := k.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (k *KV) Ping(ctx context.Context) error {
	cmd := k.client.B().Ping().Build()
	if err := k.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (k *KV) Close() {
	k.client.Close()
}
