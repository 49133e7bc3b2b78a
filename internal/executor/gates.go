package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// idempotencyBucket is the time bucket folded into derived keys: two attempts
// with identical parameters inside one bucket share a key.
const idempotencyBucket = 30 * time.Second

// DefaultIdempotencyTTL is how long a gate entry and its cached result live.
const DefaultIdempotencyTTL = 60 * time.Second

// DeriveIdempotencyKey builds the deterministic key for a trade attempt.
func DeriveIdempotencyKey(userID, walletID, strategy, mint string, inAmount uint64, now time.Time) string {
	bucket := now.UnixMilli() / idempotencyBucket.Milliseconds()
	payload := fmt.Sprintf("%s|%s|%s|%s|%d|%d", userID, walletID, strategy, mint, inAmount, bucket)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// IdempotencyGate deduplicates trade attempts by key within a TTL window and
// caches the resulting txHash so a suppressed retry can return it. Safe for
// concurrent use.
type IdempotencyGate struct {
	mu      sync.Mutex
	windows map[string]time.Time // key -> window expiry
	results map[string]gateResult
}

type gateResult struct {
	txHash    string
	expiresAt time.Time
}

// NewIdempotencyGate creates an empty gate.
func NewIdempotencyGate() *IdempotencyGate {
	return &IdempotencyGate{
		windows: make(map[string]time.Time),
		results: make(map[string]gateResult),
	}
}

// Begin opens the key's window. When the key is already inside a live window
// it returns suppress=true together with any cached txHash.
func (g *IdempotencyGate) Begin(key string, ttl time.Duration) (cachedTx string, suppress bool) {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if exp, ok := g.windows[key]; ok && now.Before(exp) {
		if res, ok := g.results[key]; ok && now.Before(res.expiresAt) {
			return res.txHash, true
		}
		return "", true
	}
	g.windows[key] = now.Add(ttl)
	return "", false
}

// StoreResult caches the txHash produced under key.
func (g *IdempotencyGate) StoreResult(key, txHash string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	g.mu.Lock()
	g.results[key] = gateResult{txHash: txHash, expiresAt: time.Now().Add(ttl)}
	g.mu.Unlock()
}

// Clear drops the key's window so a failed attempt may be retried.
func (g *IdempotencyGate) Clear(key string) {
	g.mu.Lock()
	delete(g.windows, key)
	g.mu.Unlock()
}

// Cleanup removes expired windows and results. Called from the executor's
// sweep ticker.
func (g *IdempotencyGate) Cleanup() {
	now := time.Now()
	g.mu.Lock()
	for k, exp := range g.windows {
		if now.After(exp) {
			delete(g.windows, k)
		}
	}
	for k, res := range g.results {
		if now.After(res.expiresAt) {
			delete(g.results, k)
		}
	}
	g.mu.Unlock()
}

// DefaultCoolOff is the per-mint back-off after a failed swap.
const DefaultCoolOff = 7 * time.Second

// CoolOffMap tracks recent per-mint swap failures. Safe for concurrent use.
type CoolOffMap struct {
	mu     sync.Mutex
	failed map[string]time.Time // mint -> failure time
	window time.Duration
}

// NewCoolOffMap creates a CoolOffMap with the given window (0 = default 7s).
func NewCoolOffMap(window time.Duration) *CoolOffMap {
	if window <= 0 {
		window = DefaultCoolOff
	}
	return &CoolOffMap{failed: make(map[string]time.Time), window: window}
}

// Active reports whether the mint is still cooling off.
func (c *CoolOffMap) Active(mint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.failed[mint]
	if !ok {
		return false
	}
	if time.Since(at) >= c.window {
		delete(c.failed, mint)
		return false
	}
	return true
}

// Trip records a failure for the mint.
func (c *CoolOffMap) Trip(mint string) {
	c.mu.Lock()
	c.failed[mint] = time.Now()
	c.mu.Unlock()
}

// Cleanup removes expired entries.
func (c *CoolOffMap) Cleanup() {
	now := time.Now()
	c.mu.Lock()
	for mint, at := range c.failed {
		if now.Sub(at) >= c.window {
			delete(c.failed, mint)
		}
	}
	c.mu.Unlock()
}
