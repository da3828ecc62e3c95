package pagevfs

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client is the entry point for reading a hosted collection. It owns one
// shared page cache and one router; sessions opened from the same client
// share both.
type Client struct {
	host   Host
	cache  *PageCache
	router *Router
	cfg    *config
}

// New builds a client over a host.
//
// Default behavior:
//   - page size 4096 for direct-path sessions (WithPageSize)
//   - 32 MiB page cache budget (WithCacheBytes)
//   - index looked up at "index.json" (WithIndexPath)
//   - logging through the logrus standard logger (WithLogger)
func New(host Host, opts ...Option) (*Client, error) {
	if host == nil {
		return nil, errors.New("pagevfs: host is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.pageSize <= 0 {
		return nil, fmt.Errorf("pagevfs: page size must be positive, got %d", cfg.pageSize)
	}
	if cfg.cacheBytes <= 0 {
		return nil, fmt.Errorf("pagevfs: cache budget must be positive, got %d", cfg.cacheBytes)
	}

	// Clamped so the page capacity fits int on 32-bit platforms.
	capacity := min(max(int64(1), cfg.cacheBytes/int64(cfg.pageSize)), math.MaxInt)
	cache, err := NewPageCache(int(capacity), cfg.log)
	if err != nil {
		return nil, err
	}

	return &Client{
		host:   host,
		cache:  cache,
		router: newRouter(host, cache, cfg.indexPath, cfg.log),
		cfg:    cfg,
	}, nil
}

// Open resolves an entity slug through the collection index and starts a
// read session on its chunk. Sessions for slugs in the same chunk share the
// underlying handle and cached pages.
func (c *Client) Open(ctx context.Context, slug string) (*Session, error) {
	file, route, err := c.router.Resolve(ctx, slug)
	if err != nil {
		return nil, err
	}

	s := newSession(file, route, c.cfg.log)
	s.log.WithField("slug", slug).Debug("session opened")
	return s, nil
}

// OpenFile starts a read session on a hosted file directly, without
// consulting the index. The session uses the configured page size.
func (c *Client) OpenFile(ctx context.Context, path string) (*Session, error) {
	file, err := openRemoteFile(ctx, c.host, c.cache, path, c.cfg.pageSize, c.cfg.log)
	if err != nil {
		return nil, err
	}

	s := newSession(file, Route{File: path}, c.cfg.log)
	s.log.WithField("path", path).Debug("session opened")
	return s, nil
}

// Entries lists routing metadata for every entity in the collection index,
// loading the index if needed.
func (c *Client) Entries(ctx context.Context) ([]Route, error) {
	return c.router.Entries(ctx)
}

// CacheStats reports counters for the shared page cache.
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}
