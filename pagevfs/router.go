package pagevfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Chunk router
// -----------------------------------------------------------------------------

// Router resolves entity slugs to shared remote file handles through the
// collection index.
//
// The index is downloaded in full on first resolution and kept for the
// process lifetime; a failed load leaves the router unloaded so the next
// call retries. Handles are deduplicated per hosted file, so every slug in
// one chunk shares a handle and its cache keyspace.
type Router struct {
	host      Host
	cache     *PageCache
	indexPath string
	log       logrus.FieldLogger

	mu      sync.RWMutex
	index   *Index
	handles map[string]*handleSlot
}

// handleSlot serializes opening one hosted file. A failed open leaves the
// slot empty for retry.
type handleSlot struct {
	mu   sync.Mutex
	file *RemoteFile
}

func newRouter(host Host, cache *PageCache, indexPath string, log logrus.FieldLogger) *Router {
	return &Router{
		host:      host,
		cache:     cache,
		indexPath: indexPath,
		log:       log,
		handles:   make(map[string]*handleSlot),
	}
}

// ensureIndex returns the loaded index, downloading and validating it on
// first use. Concurrent first calls share one download.
func (r *Router) ensureIndex(ctx context.Context) (*Index, error) {
	r.mu.RLock()
	idx := r.index
	r.mu.RUnlock()
	if idx != nil {
		return idx, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index != nil {
		return r.index, nil
	}

	rc, err := r.host.FetchAll(ctx, r.indexPath)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: fetching index %s: %w", r.indexPath, err)
	}
	defer closer(rc)()

	idx, err = decodeIndex(rc, r.indexPath)
	if err != nil {
		return nil, err
	}

	r.index = idx
	r.log.WithFields(logrus.Fields{
		"index":     r.indexPath,
		"entries":   len(idx.Entries),
		"page_size": idx.PageSize,
	}).Debug("index loaded")
	return idx, nil
}

// Resolve maps a slug to its shared file handle and routing metadata.
// Unknown slugs fail with ErrUnknownEntity.
func (r *Router) Resolve(ctx context.Context, slug string) (*RemoteFile, Route, error) {
	idx, err := r.ensureIndex(ctx)
	if err != nil {
		return nil, Route{}, err
	}

	route, ok := idx.lookup(slug)
	if !ok {
		return nil, Route{}, fmt.Errorf("pagevfs: no entity %q in %s: %w", slug, r.indexPath, ErrUnknownEntity)
	}

	file, err := r.handleFor(ctx, route.File, idx.PageSize)
	if err != nil {
		return nil, Route{}, err
	}

	return file, route, nil
}

// Entries lists routing metadata for every entity in the index.
func (r *Router) Entries(ctx context.Context) ([]Route, error) {
	idx, err := r.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}
	return append([]Route(nil), idx.Entries...), nil
}

// handleFor returns the deduplicated handle for one hosted file, opening it
// on first use.
func (r *Router) handleFor(ctx context.Context, path string, pageSize int) (*RemoteFile, error) {
	r.mu.Lock()
	slot, ok := r.handles[path]
	if !ok {
		slot = &handleSlot{}
		r.handles[path] = slot
	}
	r.mu.Unlock()

	slot.mu.Lock()
	defer slot.mu.Unlock()

	if slot.file != nil {
		return slot.file, nil
	}

	file, err := openRemoteFile(ctx, r.host, r.cache, path, pageSize, r.log)
	if err != nil {
		return nil, err
	}
	slot.file = file
	return file, nil
}
