package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

// memClient is an in-memory Client fake so these tests don't need a real
// Redis server.
type memClient struct {
	data map[string][]byte
}

func newMemClient() *memClient { return &memClient{data: map[string][]byte{}} }

func (m *memClient) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (m *memClient) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memClient) Close() error { return nil }

type payload struct {
	Answer string `json:"answer"`
}

func TestResponseCacheRoundTrip(t *testing.T) {
	rc := NewResponseCache(newMemClient(), DefaultResponseCacheConfig())
	ctx := context.Background()
	key := rc.Key("kb-1", "what are the rental rules?")

	var dst payload
	if rc.Get(ctx, key, &dst) {
		t.Fatalf("expected miss before Set")
	}

	rc.Set(ctx, key, payload{Answer: "tenants may not sublet"})

	if !rc.Get(ctx, key, &dst) {
		t.Fatalf("expected hit after Set")
	}
	if dst.Answer != "tenants may not sublet" {
		t.Errorf("got answer %q", dst.Answer)
	}
}

func TestResponseCacheDisabledIsAlwaysMiss(t *testing.T) {
	rc := NewResponseCache(newMemClient(), ResponseCacheConfig{Enabled: false})
	ctx := context.Background()
	key := rc.Key("kb-1", "query")
	rc.Set(ctx, key, payload{Answer: "x"})

	var dst payload
	if rc.Get(ctx, key, &dst) {
		t.Fatalf("expected disabled cache to never hit")
	}
}

func TestResponseCacheKeyIsDeterministic(t *testing.T) {
	rc := NewResponseCache(newMemClient(), DefaultResponseCacheConfig())
	k1 := rc.Key("kb-1", "rrf", "none", "1.000000")
	k2 := rc.Key("kb-1", "rrf", "none", "1.000000")
	k3 := rc.Key("kb-1", "rrf", "none", "2.000000")
	if k1 != k2 {
		t.Fatalf("same parts must hash to the same key")
	}
	if k1 == k3 {
		t.Fatalf("different parts must hash to different keys")
	}
}

func TestNilClientIsAlwaysMiss(t *testing.T) {
	rc := NewResponseCache(nil, DefaultResponseCacheConfig())
	ctx := context.Background()
	key := rc.Key("kb-1", "query")
	rc.Set(ctx, key, payload{Answer: "x"}) // must not panic

	var dst payload
	if rc.Get(ctx, key, &dst) {
		t.Fatalf("expected nil client to never hit")
	}
}

func TestMemClientMiss(t *testing.T) {
	m := newMemClient()
	_, err := m.Get(context.Background(), "absent")
	if !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}
