package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// ResponseCacheConfig controls TTL and the enabled/disabled switch.
type ResponseCacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
	Enabled   bool
}

// DefaultResponseCacheConfig returns a conservative 5-minute TTL, matching
// the "SemanticChunksTTL" tier of the pack's own response cache since
// retrieval hits are query-dependent and change whenever the KB is
// re-ingested.
func DefaultResponseCacheConfig() ResponseCacheConfig {
	return ResponseCacheConfig{
		TTL:       5 * time.Minute,
		KeyPrefix: "retrieval:",
		Enabled:   true,
	}
}

// ResponseCache wraps a Client to cache arbitrary JSON-marshalable
// retrieval responses keyed by an opaque, caller-supplied key. Retrieval
// owns the shape of what gets cached (hits, gate report, trace); this
// package only owns hashing the key and the TTL policy.
type ResponseCache struct {
	client Client
	cfg    ResponseCacheConfig
}

// NewResponseCache wraps client. A nil client makes every call a no-op
// miss, so callers can wire this unconditionally and let config decide
// whether Redis is actually reachable.
func NewResponseCache(client Client, cfg ResponseCacheConfig) *ResponseCache {
	if cfg.TTL == 0 {
		cfg.TTL = DefaultResponseCacheConfig().TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultResponseCacheConfig().KeyPrefix
	}
	return &ResponseCache{client: client, cfg: cfg}
}

// Key hashes the ordered parts of a retrieval request into one cache key.
// Callers pass already-canonicalized parts (kb_id, query text, resolved
// option values) so the key is deterministic across calls with the same
// effective search.
func (c *ResponseCache) Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return c.cfg.KeyPrefix + hex.EncodeToString(h.Sum(nil))[:32]
}

// Get unmarshals a cached response into dst. Returns false on a miss,
// decode error, or when caching is disabled/unconfigured — all treated
// as "go compute it fresh" by the caller.
func (c *ResponseCache) Get(ctx context.Context, key string, dst any) bool {
	if !c.cfg.Enabled || c.client == nil {
		return false
	}
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if err != ErrMiss {
			slog.Debug("cache: get error", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		slog.Warn("cache: failed to unmarshal cached response", "key", key, "error", err)
		return false
	}
	return true
}

// Set marshals src and stores it under key with the configured TTL.
// Errors are logged, never returned — a cache write failure must not
// fail the request it is caching.
func (c *ResponseCache) Set(ctx context.Context, key string, src any) {
	if !c.cfg.Enabled || c.client == nil {
		return
	}
	data, err := json.Marshal(src)
	if err != nil {
		slog.Warn("cache: failed to marshal response for caching", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.cfg.TTL); err != nil {
		slog.Warn("cache: failed to store cached response", "key", key, "error", err)
	}
}

// fmtWeight renders a float64 deterministically for inclusion in a cache
// key (fmt.Sprintf("%v", ...) is not guaranteed stable across Go versions
// for all float values, so this pins the format explicitly).
func fmtWeight(w float64) string {
	return fmt.Sprintf("%.6f", w)
}

// FmtWeight exposes fmtWeight to other packages building cache keys from
// SearchOptions without duplicating the formatting rule.
func FmtWeight(w float64) string {
	return fmtWeight(w)
}
