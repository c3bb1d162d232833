package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	current := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return current }
	ctx := context.Background()

	if err := cache.Set(ctx, "signed:abc", []byte("https://example/one"), 50*time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, ok, err := cache.Get(ctx, "signed:abc")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(value) != "https://example/one" {
		t.Fatalf("unexpected value %q", value)
	}

	current = current.Add(50 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "signed:abc"); ok {
		t.Fatalf("entry still live at its deadline")
	}
	// Expired entry must have been evicted, not just masked.
	cache.mu.RLock()
	_, present := cache.entries["signed:abc"]
	cache.mu.RUnlock()
	if present {
		t.Fatalf("expired entry was not evicted")
	}
}

func TestMemoryCacheGetCopiesValue(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("abc"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	value, _, _ := cache.Get(ctx, "k")
	value[0] = 'z'
	again, _, _ := cache.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value was mutated through the returned slice")
	}
}

func TestMemoryCacheNonPositiveTTLDeletes(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	if err := cache.Set(ctx, "k", []byte("abc"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := cache.Set(ctx, "k", []byte("abc"), 0); err != nil {
		t.Fatalf("Set with zero ttl: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "k"); ok {
		t.Fatalf("zero ttl write left the key behind")
	}
}

func TestMemoryCacheInvalidatePrefix(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()

	keys := []string{"videos:list", "videos:v1:resolutions", "signed:v1"}
	for _, key := range keys {
		if err := cache.Set(ctx, key, []byte("x"), time.Minute); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	if err := cache.InvalidatePrefix(ctx, "videos:"); err != nil {
		t.Fatalf("InvalidatePrefix: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "videos:list"); ok {
		t.Fatalf("prefixed key survived invalidation")
	}
	if _, ok, _ := cache.Get(ctx, "videos:v1:resolutions"); ok {
		t.Fatalf("prefixed key survived invalidation")
	}
	if _, ok, _ := cache.Get(ctx, "signed:v1"); !ok {
		t.Fatalf("unrelated key was removed")
	}
}

func TestMemoryCacheHonoursContext(t *testing.T) {
	cache := NewMemoryCache()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := cache.Set(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Fatalf("expected context error from Set")
	}
	if _, _, err := cache.Get(ctx, "k"); err == nil {
		t.Fatalf("expected context error from Get")
	}
}
