package cache

import (
	"context"
	"testing"
	"time"

	"vidvault/internal/testsupport/redisstub"
)

func newRedisTestCache(t *testing.T, opts redisstub.Options, cfg RedisConfig) Cache {
	t.Helper()
	stub, err := redisstub.Start(opts)
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	cfg.Addr = stub.Addr()
	store, err := NewRedisCache(cfg)
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisCacheRoundTrip(t *testing.T) {
	store := newRedisTestCache(t, redisstub.Options{}, RedisConfig{KeyPrefix: "test:"})
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "signed:abc", []byte("https://example/one"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := store.Get(ctx, "signed:abc")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(value) != "https://example/one" {
		t.Fatalf("unexpected value %q", value)
	}

	if err := store.Invalidate(ctx, "signed:abc"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "signed:abc"); ok {
		t.Fatalf("key survived invalidation")
	}
}

func TestRedisCacheInvalidatePrefix(t *testing.T) {
	store := newRedisTestCache(t, redisstub.Options{}, RedisConfig{KeyPrefix: "test:"})
	ctx := context.Background()

	keys := []string{"videos:list", "videos:v1:resolutions", "signed:v1"}
	for _, key := range keys {
		if err := store.Set(ctx, key, []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	if err := store.InvalidatePrefix(ctx, "videos:"); err != nil {
		t.Fatalf("InvalidatePrefix: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "videos:list"); ok {
		t.Fatalf("prefixed key survived invalidation")
	}
	if _, ok, _ := store.Get(ctx, "videos:v1:resolutions"); ok {
		t.Fatalf("prefixed key survived invalidation")
	}
	if _, ok, _ := store.Get(ctx, "signed:v1"); !ok {
		t.Fatalf("unrelated key was removed")
	}
}

func TestRedisCacheAuthenticates(t *testing.T) {
	store := newRedisTestCache(t, redisstub.Options{Password: "hunter2"}, RedisConfig{
		Password:  "hunter2",
		KeyPrefix: "test:",
	})
	ctx := context.Background()

	if err := store.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, err := store.Get(ctx, "k"); err != nil || !ok {
		t.Fatalf("expected hit after auth, got ok=%v err=%v", ok, err)
	}
}

func TestRedisCacheRejectsWrongPassword(t *testing.T) {
	store := newRedisTestCache(t, redisstub.Options{Password: "hunter2"}, RedisConfig{
		Password:  "wrong",
		KeyPrefix: "test:",
	})

	if err := store.Ping(context.Background()); err == nil {
		t.Fatalf("expected auth failure")
	}
}

func TestRedisCacheRequiresAddr(t *testing.T) {
	if _, err := NewRedisCache(RedisConfig{}); err == nil {
		t.Fatalf("expected error for missing addr")
	}
}
