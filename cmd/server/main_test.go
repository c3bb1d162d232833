package main

import (
	"testing"
	"time"
)

func TestResolveStorageDriver(t *testing.T) {
	driver, err := resolveStorageDriver("postgres", "", "")
	if err != nil || driver != "postgres" {
		t.Fatalf("flag should win: %q %v", driver, err)
	}
	driver, err = resolveStorageDriver("", "json", "postgres://dsn")
	if err != nil || driver != "json" {
		t.Fatalf("env should win over DSN inference: %q %v", driver, err)
	}
	driver, err = resolveStorageDriver("", "", "postgres://dsn")
	if err != nil || driver != "postgres" {
		t.Fatalf("DSN should infer postgres: %q %v", driver, err)
	}
	driver, err = resolveStorageDriver("", "", "")
	if err != nil || driver != "json" {
		t.Fatalf("default should be json: %q %v", driver, err)
	}
}

func TestResolveListenAddrDefaults(t *testing.T) {
	if got := resolveListenAddr("", "production", ""); got != ":80" {
		t.Fatalf("production default should be :80, got %q", got)
	}
	if got := resolveListenAddr("", "development", ""); got != ":8080" {
		t.Fatalf("development default should be :8080, got %q", got)
	}
	if got := resolveListenAddr(":9000", "production", ":7000"); got != ":9000" {
		t.Fatalf("flag should win, got %q", got)
	}
	if got := resolveListenAddr("", "production", ":7000"); got != ":7000" {
		t.Fatalf("env should win over default, got %q", got)
	}
}

func TestResolveDuration(t *testing.T) {
	if got := resolveDuration(5*time.Second, "UNSET_KEY", time.Minute); got != 5*time.Second {
		t.Fatalf("flag should win, got %v", got)
	}
	t.Setenv("VIDVAULT_TEST_DURATION", "90s")
	if got := resolveDuration(0, "VIDVAULT_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("env should win, got %v", got)
	}
	if got := resolveDuration(0, "UNSET_KEY", time.Minute); got != time.Minute {
		t.Fatalf("fallback expected, got %v", got)
	}
}

func TestSplitAndTrim(t *testing.T) {
	got := splitAndTrim(" a, ,b ,c ")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected result %v", got)
	}
	if splitAndTrim("  ") != nil {
		t.Fatal("blank input should yield nil")
	}
}

func TestConfigureCacheRejectsRedisWithoutAddr(t *testing.T) {
	if _, err := configureCache(configureCacheArgs{driver: "redis"}); err == nil {
		t.Fatal("expected error for redis cache without an address")
	}
	c, err := configureCache(configureCacheArgs{})
	if err != nil || c == nil {
		t.Fatalf("memory cache should be the default: %v", err)
	}
}
