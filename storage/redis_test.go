package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"prism-focus/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisGetSetNamespaced(t *testing.T) {
	mr, client := newTestRedis(t)
	kv := NewRedis(client, "focus")
	ctx := context.Background()

	if err := kv.Set(ctx, map[string][]byte{"timeLeft": []byte("70"), "isRunning": []byte("true")}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, err := mr.Get("focus:timeLeft"); err != nil || v != "70" {
		t.Fatalf("unexpected raw value %q (%v)", v, err)
	}

	got, err := kv.Get(ctx, "timeLeft", "isRunning", "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got["timeLeft"]) != "70" || string(got["isRunning"]) != "true" {
		t.Fatalf("unexpected values: %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatal("missing key must be absent")
	}
}

func TestRedisUpdateStartsFromNil(t *testing.T) {
	_, client := newTestRedis(t)
	kv := NewRedis(client, "")
	ctx := context.Background()

	err := kv.Update(ctx, "counter", func(cur []byte) ([]byte, error) {
		if cur != nil {
			t.Fatalf("expected nil current value, got %q", cur)
		}
		return []byte("1"), nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := kv.Get(ctx, "counter")
	if string(got["counter"]) != "1" {
		t.Fatalf("unexpected value %q", got["counter"])
	}
}

func TestRedisUpdateCallbackErrorLeavesValue(t *testing.T) {
	_, client := newTestRedis(t)
	kv := NewRedis(client, "")
	ctx := context.Background()
	_ = kv.Set(ctx, map[string][]byte{"tasks": []byte("[]")})

	err := kv.Update(ctx, "tasks", func([]byte) ([]byte, error) {
		return nil, domain.ErrEmptyText
	})
	if !errors.Is(err, domain.ErrEmptyText) {
		t.Fatalf("expected callback error, got %v", err)
	}
	got, _ := kv.Get(ctx, "tasks")
	if string(got["tasks"]) != "[]" {
		t.Fatalf("value changed: %q", got["tasks"])
	}
}

func TestRedisUpdateConcurrentIncrementsAreNotLost(t *testing.T) {
	_, client := newTestRedis(t)
	kv := NewRedis(client, "")
	ctx := context.Background()

	const workers = 4
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failures int
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := kv.Update(ctx, "n", func(cur []byte) ([]byte, error) {
				n, _ := strconv.Atoi(string(cur))
				return []byte(strconv.Itoa(n + 1)), nil
			})
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := kv.Get(ctx, "n")
	n, _ := strconv.Atoi(string(got["n"]))
	if n+failures != workers {
		t.Fatalf("lost update: value %d with %d surfaced conflicts", n, failures)
	}
}
