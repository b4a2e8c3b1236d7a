package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type stubKV struct {
	mu    sync.Mutex
	data  map[string][]byte
	gets  int
	wrote int
}

func newStubKV() *stubKV {
	return &stubKV{data: map[string][]byte{}}
}

func (s *stubKV) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := s.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (s *stubKV) Set(_ context.Context, record map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrote++
	for k, v := range record {
		s.data[k] = v
	}
	return nil
}

func (s *stubKV) Update(_ context.Context, key string, fn func([]byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := fn(s.data[key])
	if err != nil {
		return err
	}
	s.wrote++
	s.data[key] = next
	return nil
}

func TestCacheGetReadsThroughOnce(t *testing.T) {
	mr, client := newTestRedis(t)
	base := newStubKV()
	base.data["tasks"] = []byte(`[]`)
	c := NewCache(base, client, "focus", time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := c.Get(ctx, "tasks")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got["tasks"]) != "[]" {
			t.Fatalf("unexpected value %q", got["tasks"])
		}
	}
	if base.gets != 1 {
		t.Fatalf("expected one base read, got %d", base.gets)
	}
	if !mr.Exists("cache:focus:tasks") {
		t.Fatal("expected cached entry")
	}
	if ttl := mr.TTL("cache:focus:tasks"); ttl != time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestCacheMissingKeysAreNotCached(t *testing.T) {
	mr, client := newTestRedis(t)
	base := newStubKV()
	c := NewCache(base, client, "focus", time.Minute)

	got, err := c.Get(context.Background(), "timeLeft")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
	if mr.Exists("cache:focus:timeLeft") {
		t.Fatal("missing key should not be cached")
	}
}

func TestCacheWritesEvict(t *testing.T) {
	mr, client := newTestRedis(t)
	base := newStubKV()
	base.data["timeLeft"] = []byte("10")
	base.data["tasks"] = []byte("[]")
	c := NewCache(base, client, "focus", time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx, "timeLeft", "tasks"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if err := c.Set(ctx, map[string][]byte{"timeLeft": []byte("9")}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if mr.Exists("cache:focus:timeLeft") {
		t.Fatal("set should evict the written key")
	}
	if err := c.Update(ctx, "tasks", func([]byte) ([]byte, error) { return []byte(`[{"id":1}]`), nil }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if mr.Exists("cache:focus:tasks") {
		t.Fatal("update should evict the key")
	}

	got, _ := c.Get(ctx, "timeLeft", "tasks")
	if string(got["timeLeft"]) != "9" || string(got["tasks"]) != `[{"id":1}]` {
		t.Fatalf("stale read: %v", got)
	}
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	mr, client := newTestRedis(t)
	base := newStubKV()
	base.data["isRunning"] = []byte("false")
	c := NewCache(base, client, "focus", time.Minute)
	mr.Close()

	got, err := c.Get(context.Background(), "isRunning")
	if err != nil {
		t.Fatalf("get should not fail on cache errors: %v", err)
	}
	if string(got["isRunning"]) != "false" {
		t.Fatalf("unexpected value %q", got["isRunning"])
	}
}

func TestCacheDisabledWithoutClient(t *testing.T) {
	base := newStubKV()
	base.data["k"] = []byte("v")
	c := NewCache(base, (*redis.Client)(nil), "focus", time.Minute)
	ctx := context.Background()
	_, _ = c.Get(ctx, "k")
	_, _ = c.Get(ctx, "k")
	if base.gets != 2 {
		t.Fatalf("expected every read to hit the base, got %d", base.gets)
	}
}

// pausingKV returns what the base held when the read started, then waits
// for release before handing it back.
type pausingKV struct {
	*stubKV
	paused  chan struct{}
	release chan struct{}
}

func (p *pausingKV) Get(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out, err := p.stubKV.Get(ctx, keys...)
	if p.paused != nil {
		close(p.paused)
		p.paused = nil
		<-p.release
	}
	return out, err
}

func TestCacheReadDoesNotCacheValueOverwrittenMidRead(t *testing.T) {
	mr, client := newTestRedis(t)
	base := &pausingKV{stubKV: newStubKV(), paused: make(chan struct{}), release: make(chan struct{})}
	base.data["tasks"] = []byte("old")
	c := NewCache(base, client, "focus", time.Minute)
	ctx := context.Background()

	paused := base.paused
	done := make(chan map[string][]byte)
	go func() {
		got, _ := c.Get(ctx, "tasks")
		done <- got
	}()
	<-paused

	if err := c.Update(ctx, "tasks", func([]byte) ([]byte, error) { return []byte("new"), nil }); err != nil {
		t.Fatalf("update: %v", err)
	}
	close(base.release)
	if got := <-done; string(got["tasks"]) != "old" {
		t.Fatalf("in-flight read should return what it read, got %q", got["tasks"])
	}

	if mr.Exists("cache:focus:tasks") {
		t.Fatal("value read before the write was cached")
	}
	got, err := c.Get(ctx, "tasks")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got["tasks"]) != "new" {
		t.Fatalf("stale read after write: %q", got["tasks"])
	}
	if v, _ := mr.Get("cache:focus:tasks"); v != "new" {
		t.Fatalf("expected fresh value cached, got %q", v)
	}
}
