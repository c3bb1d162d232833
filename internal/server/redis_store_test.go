package server

import (
	"context"
	"testing"
	"time"

	"vidvault/internal/testsupport/redisstub"
)

func TestRedisStoreAllowCountsWithinWindow(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	defer stub.Close()

	store := newRedisStore(stub.Addr(), "", time.Second)
	defer store.client.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := store.Allow(ctx, "vidvault:upload:10.0.0.1", 3, time.Minute)
		if err != nil {
			t.Fatalf("Allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d denied under the limit", i)
		}
	}

	allowed, retryAfter, err := store.Allow(ctx, "vidvault:upload:10.0.0.1", 3, time.Minute)
	if err != nil {
		t.Fatalf("Allow over limit: %v", err)
	}
	if allowed {
		t.Fatalf("fourth request allowed past the limit")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %v", retryAfter)
	}
}

func TestRedisStoreKeysAreIndependent(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	defer stub.Close()

	store := newRedisStore(stub.Addr(), "", time.Second)
	defer store.client.Close()
	ctx := context.Background()

	if allowed, _, err := store.Allow(ctx, "vidvault:upload:10.0.0.1", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("first key first request: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, _ := store.Allow(ctx, "vidvault:upload:10.0.0.1", 1, time.Minute); allowed {
		t.Fatalf("first key exceeded its limit")
	}
	if allowed, _, err := store.Allow(ctx, "vidvault:upload:10.0.0.2", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("second key throttled by first key's counter: allowed=%v err=%v", allowed, err)
	}
}

func TestRedisStoreAuthenticates(t *testing.T) {
	stub, err := redisstub.Start(redisstub.Options{Password: "sekret"})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	defer stub.Close()

	store := newRedisStore(stub.Addr(), "sekret", time.Second)
	defer store.client.Close()
	if allowed, _, err := store.Allow(context.Background(), "k", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("authenticated request failed: allowed=%v err=%v", allowed, err)
	}

	unauthenticated := newRedisStore(stub.Addr(), "", time.Second)
	defer unauthenticated.client.Close()
	if _, _, err := unauthenticated.Allow(context.Background(), "k", 1, time.Minute); err == nil {
		t.Fatalf("expected error without credentials")
	}
}
