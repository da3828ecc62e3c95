package pagevfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Remote file handle
// -----------------------------------------------------------------------------

// accessMode is the closed set of ways a remote file can be served.
type accessMode int

const (
	// modeRanged reads individual page spans through the page cache.
	modeRanged accessMode = iota

	// modeFull serves pages from a one-time full download, for hosts that
	// ignore Range headers.
	modeFull
)

func (m accessMode) String() string {
	if m == modeFull {
		return "full"
	}
	return "ranged"
}

// RemoteFile is a page-addressed handle on one immutable hosted file.
//
// The handle pins the file's identity (length and change token) at open,
// probes whether the host honors ranges, and serves every page read through
// the shared page cache or, for range-blind hosts, from a one-time full
// download. Handles are safe for concurrent use and are shared between all
// sessions resolving to the same file.
type RemoteFile struct {
	host  Host
	cache *PageCache
	log   logrus.FieldLogger

	mu   sync.RWMutex
	id   FileIdentity
	mode accessMode
	full []byte
}

// openRemoteFile establishes identity via Stat and runs the capability probe.
func openRemoteFile(ctx context.Context, host Host, cache *PageCache, path string, pageSize int, log logrus.FieldLogger) (*RemoteFile, error) {
	if host == nil {
		return nil, errors.New("pagevfs: host is required")
	}
	if cache == nil {
		return nil, errors.New("pagevfs: page cache is required")
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("pagevfs: page size must be positive, got %d", pageSize)
	}

	info, err := host.Stat(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: stat %s: %w", path, err)
	}

	f := &RemoteFile{
		host:  host,
		cache: cache,
		log:   log.WithField("file", path),
		id: FileIdentity{
			Path:     path,
			Size:     info.Size,
			ETag:     changeToken(info),
			PageSize: pageSize,
		},
	}

	mode, full, err := f.probe(ctx, f.id)
	if err != nil {
		return nil, err
	}
	f.mode = mode
	f.full = full

	f.log.WithFields(logrus.Fields{
		"size":  f.id.Size,
		"pages": f.id.NumPages(),
		"mode":  f.mode.String(),
	}).Debug("remote file opened")
	return f, nil
}

// changeToken picks the identity validator: the ETag when the host exposes
// one, otherwise the modification time in HTTP date form (both are valid
// If-Range validators), otherwise empty.
func changeToken(info ObjectInfo) string {
	if info.ETag != "" {
		return info.ETag
	}
	if !info.ModTime.IsZero() {
		return info.ModTime.UTC().Format(http.TimeFormat)
	}
	return ""
}

// probe fetches the first page span of id to learn whether the host honors
// ranges. A successful ranged read seeds the identity's page 0 and selects
// ranged mode; ErrRangeUnsupported selects full mode, returning the
// one-time download pages are sliced from. The handle itself is untouched.
func (f *RemoteFile) probe(ctx context.Context, id FileIdentity) (accessMode, []byte, error) {
	if id.Size == 0 {
		// No readable pages; every read fails locally.
		return modeRanged, nil, nil
	}

	end := min(int64(id.PageSize), id.Size) - 1
	data, err := f.host.FetchRange(ctx, id.Path, 0, end, "")
	switch {
	case err == nil:
		// The probe already paid for page 0; keep it.
		f.cache.Put(PageKey{File: id.Key(), Page: 0}, data)
		return modeRanged, nil, nil
	case errors.Is(err, ErrRangeUnsupported):
		f.log.Warn("host ignores ranges; downloading whole file")
		full, err := f.downloadAll(ctx, id)
		if err != nil {
			return 0, nil, err
		}
		return modeFull, full, nil
	default:
		return 0, nil, fmt.Errorf("pagevfs: probing %s: %w", id.Path, err)
	}
}

// downloadAll fetches the whole object once, for hosts that ignore ranges.
func (f *RemoteFile) downloadAll(ctx context.Context, id FileIdentity) ([]byte, error) {
	rc, err := f.host.FetchAll(ctx, id.Path)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: downloading %s: %w", id.Path, err)
	}
	defer closer(rc)()

	buf, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: downloading %s: %w: %v", id.Path, ErrUnreachable, err)
	}
	if int64(len(buf)) != id.Size {
		return nil, fmt.Errorf("pagevfs: %s: full download returned %d bytes, expected %d: %w",
			id.Path, len(buf), id.Size, ErrStaleFile)
	}
	return buf, nil
}

// ReadPage returns page bytes. Full pages are PageSize long; the final page
// returns only the remaining bytes. Indexes outside the file fail locally
// with ErrRangeUnsatisfiable, without network traffic. The returned slice
// is shared memory and must not be modified.
func (f *RemoteFile) ReadPage(ctx context.Context, page int64) ([]byte, error) {
	f.mu.RLock()
	id := f.id
	mode := f.mode
	full := f.full
	f.mu.RUnlock()

	if page < 0 || page >= id.NumPages() {
		return nil, fmt.Errorf("pagevfs: page %d outside %s (%d pages): %w",
			page, id.Path, id.NumPages(), ErrRangeUnsatisfiable)
	}

	ps := int64(id.PageSize)
	start := page * ps
	end := min(start+ps, id.Size) - 1

	if mode == modeFull {
		return full[start : end+1], nil
	}

	key := PageKey{File: id.Key(), Page: page}
	return f.cache.GetPage(ctx, key, func(fetchCtx context.Context) ([]byte, error) {
		return f.fetchSpan(fetchCtx, id, start, end)
	})
}

// fetchSpan is the cache loader for one page span.
func (f *RemoteFile) fetchSpan(ctx context.Context, id FileIdentity, start, end int64) ([]byte, error) {
	data, err := f.host.FetchRange(ctx, id.Path, start, end, id.ETag)
	switch {
	case err == nil:
		return data, nil
	case errors.Is(err, ErrRangeUnsupported) && id.ETag != "":
		// Range capability was proven at open, so a full-body answer to a
		// conditional read means the validator no longer matches.
		return nil, fmt.Errorf("pagevfs: %s: %w", id.Path, ErrStaleFile)
	case errors.Is(err, ErrRangeUnsatisfiable):
		// The identity says this span exists; the remote shrank.
		return nil, fmt.Errorf("pagevfs: %s shrank below offset %d: %w", id.Path, start, err)
	default:
		return nil, err
	}
}

// Revalidate compares the remote object against the pinned identity.
//
// On a mismatch the stale identity's cached pages are invalidated and the
// handle reinitializes against the current object, transparently and at
// most once per call; if the object changes again while reinitializing,
// ErrStaleFile surfaces. A failed reinitialization leaves the handle on
// its previous snapshot. Reads never revalidate implicitly.
func (f *RemoteFile) Revalidate(ctx context.Context) error {
	f.mu.RLock()
	path := f.id.Path
	f.mu.RUnlock()

	info, err := f.host.Stat(ctx, path)
	if err != nil {
		return fmt.Errorf("pagevfs: revalidating %s: %w", path, err)
	}
	token := changeToken(info)

	f.mu.Lock()
	defer f.mu.Unlock()

	if token == f.id.ETag && info.Size == f.id.Size {
		return nil
	}

	f.log.WithFields(logrus.Fields{
		"old_token": f.id.ETag,
		"new_token": token,
		"old_size":  f.id.Size,
		"new_size":  info.Size,
	}).Warn("remote file changed; reinitializing")

	dropped := f.cache.InvalidateFile(f.id.Key())
	f.log.WithField("pages", dropped).Debug("invalidated cached pages")

	// The replacement snapshot is staged and adopted only after the probe
	// and the closing stat succeed; a failed reinitialization leaves the
	// previous identity, mode, and buffer in place.
	next := f.id
	next.Size = info.Size
	next.ETag = token

	mode, full, err := f.probe(ctx, next)
	if err != nil {
		return err
	}

	// The object must hold still through reinitialization; a token that
	// keeps moving is surfaced instead of chased, and the staged page seed
	// is dropped as unconfirmed.
	verify, err := f.host.Stat(ctx, path)
	if err != nil {
		f.cache.InvalidateFile(next.Key())
		return fmt.Errorf("pagevfs: revalidating %s: %w", path, err)
	}
	if changeToken(verify) != token || verify.Size != info.Size {
		f.cache.InvalidateFile(next.Key())
		return fmt.Errorf("pagevfs: %s: %w", path, ErrStaleFile)
	}

	f.id = next
	f.mode = mode
	f.full = full
	return nil
}

// Size returns the file length in bytes.
func (f *RemoteFile) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id.Size
}

// PageSize returns the fixed page size the file is read with.
func (f *RemoteFile) PageSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id.PageSize
}

// NumPages returns how many pages the file spans.
func (f *RemoteFile) NumPages() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id.NumPages()
}

// Identity returns the pinned identity.
func (f *RemoteFile) Identity() FileIdentity {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.id
}

// Mode reports how the file is served: "ranged" or "full".
func (f *RemoteFile) Mode() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode.String()
}
