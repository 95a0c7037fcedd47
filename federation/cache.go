package federation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/andrebq/idbox/internal/logutil"
)

type (
	// CachedVerifier remembers successful verifications for a short window
	// so a client retrying the same provider token does not pay for another
	// signature check. Failures are never cached.
	CachedVerifier struct {
		next  Verifier
		cache *bigcache.BigCache
		now   func() time.Time
	}
)

func NewCachedVerifier(ctx context.Context, next Verifier, window time.Duration) (*CachedVerifier, error) {
	cfg := bigcache.DefaultConfig(window)
	cfg.Shards = 64
	cfg.MaxEntriesInWindow = 10 * 1024
	cfg.HardMaxCacheSize = 32
	cfg.Verbose = false
	cache, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("federation: unable to create assertion cache, cause %w", err)
	}
	return &CachedVerifier{
		next:  next,
		cache: cache,
		now:   time.Now,
	}, nil
}

func (c *CachedVerifier) Verify(ctx context.Context, raw string) (Assertion, error) {
	key := cacheKey(raw)
	if a, ok := c.lookup(key); ok {
		return a, nil
	}
	a, err := c.next.Verify(ctx, raw)
	if err != nil {
		return Assertion{}, err
	}
	buf, err := json.Marshal(a)
	if err == nil {
		err = c.cache.Set(key, buf)
	}
	if err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Warn().Err(err).Msg("Unable to cache provider assertion")
	}
	return a, nil
}

func (c *CachedVerifier) lookup(key string) (Assertion, bool) {
	buf, err := c.cache.Get(key)
	if err != nil {
		return Assertion{}, false
	}
	var a Assertion
	if err := json.Unmarshal(buf, &a); err != nil {
		c.cache.Delete(key)
		return Assertion{}, false
	}
	if !a.ExpiresAt.After(c.now()) {
		c.cache.Delete(key)
		return Assertion{}, false
	}
	return a, true
}

func (c *CachedVerifier) Close() error {
	return c.cache.Close()
}

func cacheKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
