package pagevfs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Page cache
// -----------------------------------------------------------------------------

// PageKey addresses one cached page: the owning file's identity key plus the
// 0-based page index. Identity keys embed the change token, so a republished
// file occupies a disjoint keyspace.
type PageKey struct {
	File string
	Page int64
}

// PageLoadFunc fetches one page's bytes. The context is the fetch's own
// lifetime, detached from any single caller; it ends when the last waiter
// gives up.
type PageLoadFunc func(ctx context.Context) ([]byte, error)

// CacheStats reports cache activity counters.
type CacheStats struct {
	// Hits counts reads served from completed entries.
	Hits int64

	// Misses counts reads that started a fetch.
	Misses int64

	// Coalesced counts reads that joined an already in-flight fetch.
	Coalesced int64

	// Evictions counts completed entries dropped for capacity.
	Evictions int64

	// Entries is the current number of completed cached pages.
	Entries int

	// InFlight is the current number of running fetches.
	InFlight int
}

// inflightFetch tracks one running page fetch and the callers waiting on it.
type inflightFetch struct {
	done    chan struct{}
	data    []byte
	err     error
	waiters int
	cancel  context.CancelFunc
}

// PageCache is a bounded LRU over completed pages with request coalescing:
// at most one fetch runs per key, concurrent readers of the same key share
// its outcome, and a fetch is canceled only when its last waiter has gone.
//
// Completed entries and in-flight fetches live in separate structures under
// one mutex, so eviction can never touch a page that is still being fetched.
// Returned slices are shared cache memory and must not be modified.
type PageCache struct {
	mu        sync.Mutex
	lru       *simplelru.LRU[PageKey, []byte]
	inflight  map[PageKey]*inflightFetch
	log       logrus.FieldLogger
	hits      int64
	misses    int64
	coalesced int64
	evictions int64
}

// NewPageCache creates a cache holding up to capacityPages completed pages.
func NewPageCache(capacityPages int, log logrus.FieldLogger) (*PageCache, error) {
	if capacityPages < 1 {
		return nil, fmt.Errorf("pagevfs: cache capacity must be at least one page, got %d", capacityPages)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	lru, err := simplelru.NewLRU[PageKey, []byte](capacityPages, nil)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: creating lru: %w", err)
	}

	return &PageCache{
		lru:      lru,
		inflight: make(map[PageKey]*inflightFetch),
		log:      log,
	}, nil
}

// GetPage returns the page for key, fetching it with load on a miss.
//
// Concurrent calls for the same key share one fetch: success hands every
// waiter the same bytes and completes the entry; failure hands every waiter
// the same error and clears the key, so the next call fetches again. A
// caller whose ctx ends stops waiting without disturbing the shared fetch;
// the fetch itself is canceled when its waiter count reaches zero.
func (c *PageCache) GetPage(ctx context.Context, key PageKey, load PageLoadFunc) ([]byte, error) {
	if load == nil {
		return nil, errors.New("pagevfs: page loader is required")
	}

	c.mu.Lock()
	if data, ok := c.lru.Get(key); ok {
		c.hits++
		c.mu.Unlock()
		return data, nil
	}
	if fl, ok := c.inflight[key]; ok {
		fl.waiters++
		c.coalesced++
		c.mu.Unlock()
		return c.awaitFetch(ctx, fl)
	}

	c.misses++
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fl := &inflightFetch{
		done:    make(chan struct{}),
		waiters: 1,
		cancel:  cancel,
	}
	c.inflight[key] = fl
	c.mu.Unlock()

	go c.runFetch(fetchCtx, key, fl, load)

	return c.awaitFetch(ctx, fl)
}

// runFetch executes the shared fetch and publishes its outcome.
func (c *PageCache) runFetch(ctx context.Context, key PageKey, fl *inflightFetch, load PageLoadFunc) {
	data, err := load(ctx)

	c.mu.Lock()
	delete(c.inflight, key)
	fl.data, fl.err = data, err
	if err == nil && c.lru.Add(key, data) {
		c.evictions++
	}
	c.mu.Unlock()

	close(fl.done)
	fl.cancel()

	if err != nil {
		c.log.WithFields(logrus.Fields{"file": key.File, "page": key.Page}).
			WithError(err).Debug("page fetch failed")
	}
}

// awaitFetch waits for a shared fetch, dropping out early if the caller's
// context ends.
func (c *PageCache) awaitFetch(ctx context.Context, fl *inflightFetch) ([]byte, error) {
	select {
	case <-fl.done:
		return fl.data, fl.err
	case <-ctx.Done():
	}

	c.mu.Lock()
	fl.waiters--
	last := fl.waiters == 0
	c.mu.Unlock()

	if last {
		fl.cancel()
	}
	return nil, ctx.Err()
}

// Put seeds a completed page without a fetch, e.g. from the capability
// probe's bytes.
func (c *PageCache) Put(key PageKey, data []byte) {
	c.mu.Lock()
	if c.lru.Add(key, data) {
		c.evictions++
	}
	c.mu.Unlock()
}

// InvalidateFile drops every completed page belonging to fileKey and
// returns how many were dropped. Fetches still in flight for the file are
// left to finish; their results land in the stale keyspace and age out.
func (c *PageCache) InvalidateFile(fileKey string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := 0
	for _, key := range c.lru.Keys() {
		if key.File == fileKey {
			c.lru.Remove(key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of completed cached pages.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of cache counters.
func (c *PageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Coalesced: c.coalesced,
		Evictions: c.evictions,
		Entries:   c.lru.Len(),
		InFlight:  len(c.inflight),
	}
}
