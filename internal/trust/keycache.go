package trust

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/alechenninger/gatehouse/internal/metrics"
)

// ErrKeyNotFound is returned when no key with the requested kid could be
// resolved, whether because of key rotation or a failed fetch.
var ErrKeyNotFound = errors.New("key not found")

const (
	defaultKeyCacheSize = 128
	maxJWKSSize         = 1 << 20
)

// KeyResolver resolves a signing key by key set URL and key ID
type KeyResolver interface {
	GetKey(ctx context.Context, jwksURL, kid string) (jwk.Key, error)
}

// KeyCache memoizes JSON Web Key Sets per URL.
//
// Concurrent lookups for the same URL share a single in-flight fetch. A set
// that lacks a requested kid is evicted and fetched once more, which picks up
// rotated keys. The cache lives as long as the process and is only an
// optimization: an empty cache yields the same results after extra fetches.
type KeyCache struct {
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	sets *lru.Cache // jwksURL -> jwk.Set

	fetches singleflight.Group
}

// KeyCacheOption configures a KeyCache
type KeyCacheOption func(*KeyCache)

// WithHTTPClient sets the client used to fetch key sets
func WithHTTPClient(client *http.Client) KeyCacheOption {
	return func(c *KeyCache) {
		c.client = client
	}
}

// WithCacheSize bounds the number of key set URLs kept in memory
func WithCacheSize(size int) KeyCacheOption {
	return func(c *KeyCache) {
		if size > 0 {
			c.sets = lru.New(size)
		}
	}
}

// WithKeyCacheLogger sets the logger for resolution failures
func WithKeyCacheLogger(logger *slog.Logger) KeyCacheOption {
	return func(c *KeyCache) {
		c.logger = logger
	}
}

// WithKeyCacheMetrics records fetches and kid misses
func WithKeyCacheMetrics(m *metrics.Metrics) KeyCacheOption {
	return func(c *KeyCache) {
		c.metrics = m
	}
}

// NewKeyCache creates an empty key cache
func NewKeyCache(opts ...KeyCacheOption) *KeyCache {
	c := &KeyCache{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: slog.Default(),
		sets:   lru.New(defaultKeyCacheSize),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKey returns the key identified by kid from the key set at jwksURL
func (c *KeyCache) GetKey(ctx context.Context, jwksURL, kid string) (jwk.Key, error) {
	set, err := c.load(ctx, jwksURL)
	if err != nil {
		return nil, c.fail(ctx, jwksURL, kid, err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	// The set may predate a key rotation; refetch exactly once.
	c.metrics.JWKSKeyMiss()
	c.evict(jwksURL, set)

	set, err = c.load(ctx, jwksURL)
	if err != nil {
		return nil, c.fail(ctx, jwksURL, kid, err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	c.metrics.JWKSKeyMiss()
	c.evict(jwksURL, set)
	return nil, c.fail(ctx, jwksURL, kid, fmt.Errorf("kid not present in key set (%d keys)", set.Len()))
}

func (c *KeyCache) fail(ctx context.Context, jwksURL, kid string, cause error) error {
	if kid == "" {
		kid = "NO_KID_SPECIFIED"
	}
	c.logger.LogAttrs(ctx, slog.LevelError, "Public key resolution failure",
		slog.String("jwks_url", jwksURL),
		slog.String("kid", kid),
		slog.String("error", cause.Error()),
	)
	return fmt.Errorf("%w: %s: %w", ErrKeyNotFound, kid, cause)
}

// load returns the cached set for jwksURL or fetches it, coalescing
// concurrent fetches for the same URL.
func (c *KeyCache) load(ctx context.Context, jwksURL string) (jwk.Set, error) {
	if set, ok := c.cached(jwksURL); ok {
		return set, nil
	}

	v, err := c.fetches.Do(jwksURL, func() (interface{}, error) {
		// A fetch that completed while we waited for the lock already stored its result.
		if set, ok := c.cached(jwksURL); ok {
			return set, nil
		}

		// Waiters share this fetch, so it must outlive the caller that started it.
		// The client timeout bounds it instead.
		set, err := c.fetch(context.WithoutCancel(ctx), jwksURL)
		c.metrics.JWKSFetch(err)
		if err != nil {
			c.evict(jwksURL, nil)
			return nil, err
		}

		c.mu.Lock()
		c.sets.Add(jwksURL, set)
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

func (c *KeyCache) cached(jwksURL string) (jwk.Set, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.sets.Get(jwksURL)
	if !ok {
		return nil, false
	}
	return v.(jwk.Set), true
}

// evict removes the entry for jwksURL. When seen is non-nil the entry is only
// removed if it is still that set, so a fresher set stored by another caller survives.
func (c *KeyCache) evict(jwksURL string, seen jwk.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seen != nil {
		current, ok := c.sets.Get(jwksURL)
		if !ok || current.(jwk.Set) != seen {
			return
		}
	}
	c.sets.Remove(jwksURL)
}

func (c *KeyCache) fetch(ctx context.Context, jwksURL string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read JWKS: %w", err)
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JWKS: %w", err)
	}
	return set, nil
}
