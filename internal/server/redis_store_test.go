package server

import (
	"context"
	"testing"
	"time"

	"mediavault/internal/testsupport/redisstub"
)

func newStubbedLoginStore(t *testing.T, password string) *redisStore {
	t.Helper()
	stub, err := redisstub.Start(redisstub.Options{Password: password})
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { _ = stub.Close() })

	store := newRedisStore(stub.Addr(), password, time.Second)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreAllowCountsWithinWindow(t *testing.T) {
	store := newStubbedLoginStore(t, "")

	for i := 0; i < 2; i++ {
		allowed, _, err := store.Allow("mediavault:login:198.51.100.1", 2, time.Minute)
		if err != nil {
			t.Fatalf("Allow error on attempt %d: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("expected attempt %d to be allowed", i+1)
		}
	}

	allowed, retryAfter, err := store.Allow("mediavault:login:198.51.100.1", 2, time.Minute)
	if err != nil {
		t.Fatalf("Allow error: %v", err)
	}
	if allowed {
		t.Fatal("expected attempt over limit to be denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry hint, got %v", retryAfter)
	}
}

func TestRedisStoreAllowTracksKeysIndependently(t *testing.T) {
	store := newStubbedLoginStore(t, "")

	if allowed, _, err := store.Allow("mediavault:login:198.51.100.1", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("expected first key to be allowed: allowed=%v err=%v", allowed, err)
	}
	if allowed, _, err := store.Allow("mediavault:login:203.0.113.7", 1, time.Minute); err != nil || !allowed {
		t.Fatalf("expected other key to be allowed: allowed=%v err=%v", allowed, err)
	}
}

func TestRedisStoreAuthenticates(t *testing.T) {
	store := newStubbedLoginStore(t, "swordfish")

	allowed, _, err := store.Allow("mediavault:login:198.51.100.1", 1, time.Minute)
	if err != nil {
		t.Fatalf("Allow error with password: %v", err)
	}
	if !allowed {
		t.Fatal("expected authenticated attempt to be allowed")
	}
}

func TestRedisStorePing(t *testing.T) {
	store := newStubbedLoginStore(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
}
