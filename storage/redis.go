package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"prism-focus/domain"
)

// Redis stores each key as a plain Redis string under a namespace prefix.
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis creates a Redis backed store. Keys are stored as "<namespace>:<key>".
func NewRedis(client *redis.Client, namespace string) *Redis {
	if client == nil {
		panic("storage.NewRedis: client is nil")
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) key(k string) string {
	if r.namespace == "" {
		return k
	}
	return r.namespace + ":" + k
}

func (r *Redis) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = []byte(s)
		}
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, record map[string][]byte) error {
	if len(record) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range record {
			pipe.Set(ctx, r.key(k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Update runs fn inside a WATCH/MULTI transaction and retries when another
// writer touched the key in between.
func (r *Redis) Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error {
	full := r.key(key)
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, full).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		if err == redis.Nil {
			cur = nil
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, next, 0)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, full)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis update %s: %w", key, domain.ErrConcurrencyConflict)
}
