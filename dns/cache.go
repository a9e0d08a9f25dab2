package dns

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// CacheConfig configures a CachingResolver.
type CacheConfig struct {
	// TTL is how long answers, including "no records", are kept. Default is 5 minutes.
	TTL time.Duration

	// MaxEntries bounds the cache size. Expired entries are dropped first,
	// then the whole cache is flushed. Default is 10000.
	MaxEntries int

	// Timeout bounds an upstream lookup shared by concurrent callers. The
	// lookup does not stop when one caller gives up. Default is 30 seconds.
	Timeout time.Duration
}

type cacheEntry struct {
	value   any
	err     error
	expires time.Time
}

// CachingResolver wraps a Resolver with an in-memory answer cache.
// Concurrent identical lookups are collapsed into one upstream query.
// Temporary failures are never cached.
type CachingResolver struct {
	next   Resolver
	config CacheConfig
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry

	now func() time.Time
}

var _ Resolver = (*CachingResolver)(nil)

// NewCachingResolver returns a caching wrapper around next.
func NewCachingResolver(next Resolver, config CacheConfig) *CachingResolver {
	if config.TTL == 0 {
		config.TTL = 5 * time.Minute
	}
	if config.MaxEntries == 0 {
		config.MaxEntries = 10000
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &CachingResolver{
		next:    next,
		config:  config,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Len returns the number of cached answers, including expired ones not yet evicted.
func (c *CachingResolver) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *CachingResolver) get(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		return cacheEntry{}, false
	}
	return e, true
}

func (c *CachingResolver) put(key string, value any, err error) {
	if err != nil && !IsNotFound(err) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.entries) >= c.config.MaxEntries {
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.config.MaxEntries {
			c.entries = make(map[string]cacheEntry)
		}
	}
	c.entries[key] = cacheEntry{value: value, err: err, expires: now.Add(c.config.TTL)}
}

// do answers key from the cache or runs fn once for all concurrent callers.
// fn runs detached from ctx, so a caller that gives up only stops waiting.
func (c *CachingResolver) do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	if e, ok := c.get(key); ok {
		return e.value, e.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := c.group.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		defer cancel()
		v, err := fn(sctx)
		c.put(key, v, err)
		return v, err
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LookupTXT implements Resolver.
func (c *CachingResolver) LookupTXT(ctx context.Context, name string) (Result[string], error) {
	v, err := c.do(ctx, "txt "+ensureFQDN(name), func(ctx context.Context) (any, error) {
		return c.next.LookupTXT(ctx, name)
	})
	r, _ := v.(Result[string])
	return r, err
}

// LookupIP implements Resolver.
func (c *CachingResolver) LookupIP(ctx context.Context, network, host string) (Result[net.IP], error) {
	v, err := c.do(ctx, network+" "+ensureFQDN(host), func(ctx context.Context) (any, error) {
		return c.next.LookupIP(ctx, network, host)
	})
	r, _ := v.(Result[net.IP])
	return r, err
}

// LookupMX implements Resolver.
func (c *CachingResolver) LookupMX(ctx context.Context, name string) (Result[*net.MX], error) {
	v, err := c.do(ctx, "mx "+ensureFQDN(name), func(ctx context.Context) (any, error) {
		return c.next.LookupMX(ctx, name)
	})
	r, _ := v.(Result[*net.MX])
	return r, err
}

// LookupAddr implements Resolver.
func (c *CachingResolver) LookupAddr(ctx context.Context, ip net.IP) (Result[string], error) {
	v, err := c.do(ctx, "ptr "+ip.String(), func(ctx context.Context) (any, error) {
		return c.next.LookupAddr(ctx, ip)
	})
	r, _ := v.(Result[string])
	return r, err
}
