// Package arm holds the process-local cache of unwrapped DEKs. A user arms a
// wallet by unwrapping its DEK with their passphrase; the DEK then lives here
// for a bounded TTL so automated strategies can sign without re-prompting.
// Every removal path zeroises the key material.
package arm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const sweepInterval = 30 * time.Second

type sessionKey struct {
	userID   string
	walletID string
}

type session struct {
	dek       []byte
	expiresAt time.Time
	armedAt   time.Time
}

// Status is the externally visible view of one arm session.
type Status struct {
	Armed     bool
	ArmedAt   time.Time
	ExpiresAt time.Time
}

// Cache is the TTL-bounded arm session store. All operations are O(1) and
// safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	sessions map[sessionKey]*session
	logger   *slog.Logger
}

// NewCache creates an empty Cache.
func NewCache(logger *slog.Logger) *Cache {
	return &Cache{
		sessions: make(map[sessionKey]*session),
		logger:   logger.With(slog.String("component", "arm_cache")),
	}
}

func zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Arm stores dek for (userID, walletID) with the given TTL, replacing and
// zeroising any prior entry. The cache takes ownership of its own copy; the
// caller keeps ownership of dek.
func (c *Cache) Arm(userID, walletID string, dek []byte, ttl time.Duration) {
	cp := make([]byte, len(dek))
	copy(cp, dek)

	now := time.Now()
	key := sessionKey{userID, walletID}

	c.mu.Lock()
	if prev, ok := c.sessions[key]; ok {
		zeroize(prev.dek)
	}
	c.sessions[key] = &session{dek: cp, expiresAt: now.Add(ttl), armedAt: now}
	c.mu.Unlock()

	c.logger.Info("wallet armed",
		slog.String("user_id", userID),
		slog.String("wallet_id", walletID),
		slog.Duration("ttl", ttl),
	)
}

// Extend pushes the session's expiry without resetting armedAt. Returns false
// when no live session exists.
func (c *Cache) Extend(userID, walletID string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.liveLocked(sessionKey{userID, walletID})
	if s == nil {
		return false
	}
	s.expiresAt = time.Now().Add(ttl)
	return true
}

// UpdateArmedAt resets armedAt after a re-auth grace confirmation.
func (c *Cache) UpdateArmedAt(userID, walletID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.liveLocked(sessionKey{userID, walletID})
	if s == nil {
		return false
	}
	s.armedAt = time.Now()
	return true
}

// Disarm zeroises and removes the session.
func (c *Cache) Disarm(userID, walletID string) {
	key := sessionKey{userID, walletID}
	c.mu.Lock()
	if s, ok := c.sessions[key]; ok {
		zeroize(s.dek)
		delete(c.sessions, key)
	}
	c.mu.Unlock()

	c.logger.Info("wallet disarmed",
		slog.String("user_id", userID),
		slog.String("wallet_id", walletID),
	)
}

// GetDEK returns the session's DEK, or nil when no live session exists.
// The DEK is shared, not owned: callers must not zeroise or retain it beyond
// the decrypt call it feeds.
func (c *Cache) GetDEK(userID, walletID string) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.liveLocked(sessionKey{userID, walletID})
	if s == nil {
		return nil
	}
	return s.dek
}

// GetStatus returns the session view, lazily purging an expired entry.
func (c *Cache) GetStatus(userID, walletID string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.liveLocked(sessionKey{userID, walletID})
	if s == nil {
		return Status{}
	}
	return Status{Armed: true, ArmedAt: s.armedAt, ExpiresAt: s.expiresAt}
}

// liveLocked returns the session when present and unexpired, otherwise
// purges it and returns nil. Caller holds c.mu.
func (c *Cache) liveLocked(key sessionKey) *session {
	s, ok := c.sessions[key]
	if !ok {
		return nil
	}
	if time.Now().After(s.expiresAt) {
		zeroize(s.dek)
		delete(c.sessions, key)
		return nil
	}
	return s
}

// ZeroizeAll wipes every session. Called on process termination signals.
func (c *Cache) ZeroizeAll() {
	c.mu.Lock()
	n := len(c.sessions)
	for key, s := range c.sessions {
		zeroize(s.dek)
		delete(c.sessions, key)
	}
	c.mu.Unlock()
	if n > 0 {
		c.logger.Info("arm cache zeroised", slog.Int("sessions", n))
	}
}

// sweep removes expired sessions.
func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	for key, s := range c.sessions {
		if now.After(s.expiresAt) {
			zeroize(s.dek)
			delete(c.sessions, key)
		}
	}
	c.mu.Unlock()
}

// Run sweeps expired sessions every 30s until the context is cancelled, then
// zeroises everything.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.ZeroizeAll()
			return ctx.Err()
		case <-ticker.C:
			c.sweep()
		}
	}
}
