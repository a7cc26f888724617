package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*PublishedCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewPublishedCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("failed to create published cache: %v", err)
	}
	return cache, s
}

func TestNewPublishedCache(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	cache, err := NewPublishedCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewPublishedCache failed: %v", err)
	}
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSetAndGet(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	payload := []byte(`{"slug":"privacy-policy"}`)

	if err := cache.Set(ctx, "privacy-policy", payload); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, ok, err := cache.Get(ctx, "privacy-policy")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != string(payload) {
		t.Errorf("expected payload %s, got %s", payload, got)
	}
}

func TestGetMissingSlug(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	_, ok, err := cache.Get(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected cache miss for unknown slug")
	}
}

func TestEntryExpires(t *testing.T) {
	cache, s := setupTestCache(t, 50*time.Millisecond)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "terms", []byte(`{}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Fast-forward time in miniredis past the TTL
	s.FastForward(100 * time.Millisecond)

	_, ok, err := cache.Get(ctx, "terms")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected expired entry to be a miss")
	}
}

func TestInvalidate(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "terms", []byte(`{}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := cache.Invalidate(ctx, "terms"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	_, ok, err := cache.Get(ctx, "terms")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected invalidated entry to be a miss")
	}
}

func TestInvalidateMissingSlug(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	// Invalidating an absent slug should not error
	if err := cache.Invalidate(context.Background(), "never-cached"); err != nil {
		t.Errorf("Invalidate for missing slug failed: %v", err)
	}
}

func TestSlugIsolation(t *testing.T) {
	cache, s := setupTestCache(t, time.Minute)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Set(ctx, "privacy-policy", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Set privacy-policy failed: %v", err)
	}
	if err := cache.Set(ctx, "terms-of-service", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Set terms-of-service failed: %v", err)
	}

	if err := cache.Invalidate(ctx, "privacy-policy"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	_, ok, err := cache.Get(ctx, "privacy-policy")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected privacy-policy to be invalidated")
	}

	got, ok, err := cache.Get(ctx, "terms-of-service")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(got) != `{"v":2}` {
		t.Errorf("expected terms-of-service to survive, got ok=%v payload=%s", ok, got)
	}
}
