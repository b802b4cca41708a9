// Package token provides a concurrency-safe cache for short-lived access
// tokens obtained from an upstream identity provider.
//
// Backend services reuse one token across many requests; fetching a fresh
// token per request would hammer the token endpoint and add latency. The
// cache serves the current token until it approaches expiry. Concurrent
// callers arriving during a refresh wait on the in-flight round and share
// its result, success or failure, so one provider outage costs one failed
// request instead of one per caller.
package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultExpirySkew is subtracted from a token's expiry when deciding
// whether it is still usable, so a token is never handed out moments
// before the provider considers it dead.
const DefaultExpirySkew = 2 * time.Minute

// Token is an access token with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// valid reports whether the token is usable at instant now given skew.
func (t Token) valid(now time.Time, skew time.Duration) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-skew))
}

// Source fetches a fresh token from the provider.
type Source func(ctx context.Context) (Token, error)

// refreshRound is one refresh against the provider. tok and err are
// written exactly once, before done is closed; waiters read them only
// after done.
type refreshRound struct {
	done chan struct{}
	tok  Token
	err  error
}

// CachedSource caches tokens from an underlying Source.
// Safe for concurrent use.
type CachedSource struct {
	mu     sync.Mutex
	source Source
	skew   time.Duration
	logger *slog.Logger

	current  Token
	inflight *refreshRound
}

// Option configures a CachedSource.
type Option func(*CachedSource)

// WithExpirySkew overrides the expiry skew window.
func WithExpirySkew(skew time.Duration) Option {
	return func(c *CachedSource) { c.skew = skew }
}

// NewCachedSource wraps source with caching. logger may not be nil in
// production paths; nil falls back to slog.Default().
func NewCachedSource(source Source, logger *slog.Logger, opts ...Option) *CachedSource {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CachedSource{
		source: source,
		skew:   DefaultExpirySkew,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a usable token, refreshing through the underlying Source if
// the cached one is missing or inside the expiry skew window.
//
// At most one refresh is in flight at a time. Callers arriving while one
// runs wait for it and share its result: a refresh error is returned to
// every caller of that round, not retried once per caller, and the stale
// token is discarded. A waiting caller whose context is cancelled returns
// the context error without disturbing the round.
func (c *CachedSource) Get(ctx context.Context) (Token, error) {
	c.mu.Lock()
	if c.current.valid(time.Now(), c.skew) {
		tok := c.current
		c.mu.Unlock()
		return tok, nil
	}
	if round := c.inflight; round != nil {
		c.mu.Unlock()
		select {
		case <-round.done:
			return round.tok, round.err
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}

	round := &refreshRound{done: make(chan struct{})}
	c.inflight = round
	c.mu.Unlock()

	tok, err := c.refresh(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.current = tok
	c.mu.Unlock()

	round.tok, round.err = tok, err
	close(round.done)
	return tok, err
}

// refresh fetches one fresh token from the source. Returns the zero Token
// on any failure so a bad round never leaves a stale value cached.
func (c *CachedSource) refresh(ctx context.Context) (Token, error) {
	tok, err := c.source(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("refreshing token: %w", err)
	}
	if tok.Value == "" {
		return Token{}, fmt.Errorf("token source returned empty token")
	}

	c.logger.Debug("token refreshed", "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Invalidate drops the cached token so the next Get refreshes.
// Call after an upstream 401 to recover from provider-side revocation.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = Token{}
}
