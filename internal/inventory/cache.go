package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"stockroom/pkg/platform/circuit"
	"stockroom/pkg/platform/sentinel"
)

var cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "stockroom_inventory_cache_requests_total",
	Help: "Inventory listing cache lookups by result",
}, []string{"result"})

const (
	cacheHit    = "hit"
	cacheMiss   = "miss"
	cacheError  = "error"
	cacheBypass = "bypass"

	cacheKeySegment = "inv"
)

// Lister fetches listings from the vendor.
type Lister interface {
	List(ctx context.Context, accessToken, resource string, page Page) (*Listing, error)
	OrganizationID() string
}

// ResponseCache stores serialized listings. Get returns sentinel.ErrNotFound
// on a miss.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCache is the ResponseCache used in production.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// CachedClient serves listings from the response cache and coalesces
// identical concurrent misses into one vendor call. Listings are scoped to
// the organization, not the user, so every user of an organization shares
// cache entries.
type CachedClient struct {
	upstream Lister
	cache    ResponseCache
	ttl      time.Duration
	prefix   string
	logger   *slog.Logger
	breaker  *circuit.Breaker
	group    singleflight.Group
}

type CachedClientOption func(*CachedClient)

func WithKeyPrefix(prefix string) CachedClientOption {
	return func(c *CachedClient) {
		c.prefix = prefix
	}
}

func WithLogger(logger *slog.Logger) CachedClientOption {
	return func(c *CachedClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBreaker stops calling a failing cache until it recovers.
func WithBreaker(b *circuit.Breaker) CachedClientOption {
	return func(c *CachedClient) {
		c.breaker = b
	}
}

func NewCachedClient(upstream Lister, cache ResponseCache, ttl time.Duration, opts ...CachedClientOption) *CachedClient {
	c := &CachedClient{
		upstream: upstream,
		cache:    cache,
		ttl:      ttl,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *CachedClient) key(resource string, page Page) string {
	parts := []string{
		cacheKeySegment,
		c.upstream.OrganizationID(),
		resource,
		strconv.Itoa(page.Number),
		strconv.Itoa(page.PerPage),
	}
	if c.prefix != "" {
		parts = append([]string{c.prefix}, parts...)
	}
	return strings.Join(parts, ":")
}

// List returns a cached listing when present. Cache failures fall through to
// a direct vendor fetch. A zero TTL disables caching.
func (c *CachedClient) List(ctx context.Context, accessToken, resource string, page Page) (*Listing, error) {
	if !IsAllowed(resource) {
		return nil, fmt.Errorf("unknown inventory resource %q", resource)
	}
	page = page.normalized()
	if c.ttl <= 0 {
		return c.upstream.List(ctx, accessToken, resource, page)
	}

	key := c.key(resource, page)
	if listing, ok := c.lookup(ctx, key); ok {
		return listing, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		listing, err := c.upstream.List(detached, accessToken, resource, page)
		if err != nil {
			return nil, err
		}
		c.store(detached, key, listing)
		return listing, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		listing := *res.Val.(*Listing)
		return &listing, nil
	}
}

func (c *CachedClient) lookup(ctx context.Context, key string) (*Listing, bool) {
	if c.breaker != nil && !c.breaker.Allow() {
		cacheRequests.WithLabelValues(cacheBypass).Inc()
		return nil, false
	}
	raw, err := c.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			cacheRequests.WithLabelValues(cacheMiss).Inc()
			c.recordSuccess(ctx)
		} else {
			cacheRequests.WithLabelValues(cacheError).Inc()
			c.logger.WarnContext(ctx, "inventory cache read failed", "key", key, "error", err)
			c.recordFailure(ctx)
		}
		return nil, false
	}
	c.recordSuccess(ctx)

	var listing Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		cacheRequests.WithLabelValues(cacheError).Inc()
		c.logger.WarnContext(ctx, "inventory cache entry unreadable", "key", key, "error", err)
		return nil, false
	}
	cacheRequests.WithLabelValues(cacheHit).Inc()
	return &listing, true
}

func (c *CachedClient) store(ctx context.Context, key string, listing *Listing) {
	raw, err := json.Marshal(listing)
	if err != nil {
		c.logger.WarnContext(ctx, "inventory listing not cacheable", "key", key, "error", err)
		return
	}
	if c.breaker != nil && c.breaker.IsOpen() {
		return
	}
	if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
		cacheRequests.WithLabelValues(cacheError).Inc()
		c.logger.WarnContext(ctx, "inventory cache write failed", "key", key, "error", err)
		c.recordFailure(ctx)
	}
}

func (c *CachedClient) recordFailure(ctx context.Context) {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordFailure(); change.Opened {
		c.logger.WarnContext(ctx, "inventory cache circuit opened, serving from vendor", "breaker", c.breaker.Name())
	}
}

func (c *CachedClient) recordSuccess(ctx context.Context) {
	if c.breaker == nil {
		return
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "inventory cache circuit closed", "breaker", c.breaker.Name())
	}
}
