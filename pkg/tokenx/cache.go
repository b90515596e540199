package tokenx

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

const defaultCacheMaxTTL = 5 * time.Minute

// Cache stores exchanged tokens keyed by subject token and audience. Entries
// expire at the earlier of the token's own expiry and the configured cap, so
// a revoked upstream session cannot ride a long-lived downstream token.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	maxTTL  time.Duration
}

type cacheEntry struct {
	token     *oauth2.Token
	expiresAt time.Time
}

// NewCache creates a token cache. A zero maxTTL uses the default of 5 minutes.
func NewCache(maxTTL time.Duration) *Cache {
	if maxTTL <= 0 {
		maxTTL = defaultCacheMaxTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		maxTTL:  maxTTL,
	}
}

// cacheKey derives the entry key. The subject token is hashed so raw
// credentials never sit in map keys.
func cacheKey(subjectToken, audience string) string {
	sum := sha256.Sum256([]byte(subjectToken))
	return hex.EncodeToString(sum[:]) + "|" + audience
}

// Get returns the cached token for this subject and audience, or nil when
// absent or expired. Expired entries are removed on the way out.
func (c *Cache) Get(subjectToken, audience string) *oauth2.Token {
	key := cacheKey(subjectToken, audience)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil
	}
	return entry.token
}

// Put stores a token. Tokens without a usable lifetime are not cached.
func (c *Cache) Put(subjectToken, audience string, token *oauth2.Token) {
	if token == nil || token.Expiry.IsZero() {
		return
	}

	ttl := time.Until(token.Expiry)
	if ttl > c.maxTTL {
		ttl = c.maxTTL
	}
	if ttl <= 0 {
		return
	}

	c.mu.Lock()
	c.entries[cacheKey(subjectToken, audience)] = cacheEntry{
		token:     token,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

// Invalidate drops the entry for this subject and audience.
func (c *Cache) Invalidate(subjectToken, audience string) {
	c.mu.Lock()
	delete(c.entries, cacheKey(subjectToken, audience))
	c.mu.Unlock()
}

// Len returns the number of cached entries, including any not yet reaped.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
