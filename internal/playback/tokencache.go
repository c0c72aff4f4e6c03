package playback

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// TokenFetcher retrieves a fresh provider auth token and its validity
// window.
type TokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// safetyMargin is subtracted from a token's TTL so a refresh starts
// before the upstream actually expires it.
const safetyMargin = 30 * time.Second

// TokenCache caches a provider auth token process-wide until expiry
// minus safetyMargin, serializing concurrent refreshes through a
// singleflight.Group so a thundering herd of callers collapses into one
// upstream fetch, per spec.md §5.
type TokenCache struct {
	fetch TokenFetcher

	mu      sync.RWMutex
	token   string
	expires time.Time

	group singleflight.Group
}

func NewTokenCache(fetch TokenFetcher) *TokenCache {
	return &TokenCache{fetch: fetch}
}

// Get returns a valid token, refreshing it if necessary.
func (c *TokenCache) Get(ctx context.Context) (string, error) {
	c.mu.RLock()
	if c.token != "" && time.Now().Before(c.expires) {
		tok := c.token
		c.mu.RUnlock()
		return tok, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		token, ttl, err := c.fetch(ctx)
		if err != nil {
			return "", err
		}

		c.mu.Lock()
		c.token = token
		c.expires = time.Now().Add(ttl - safetyMargin)
		c.mu.Unlock()

		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

type tokenCtxKey struct{}

// withToken attaches a cached provider auth token to ctx, so a
// PlaylistProvider's SearchOfficial implementation can pick it up via
// TokenFromContext instead of needing it as an explicit parameter.
func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenCtxKey{}, token)
}

// TokenFromContext returns the provider auth token the resolver attached
// to ctx, if any. A PlaylistProvider whose official search sits behind a
// bearer token (store.AuthTokenSource) reads it here.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenCtxKey{}).(string)
	return token, ok && token != ""
}
