package pagevfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/openquran/pagevfs/internal/testutil"
)

func openTestFile(t *testing.T, host Host, cache *PageCache, path string) *RemoteFile {
	t.Helper()
	f, err := openRemoteFile(testContext(t), host, cache, path, DefaultPageSize, quietLogger())
	if err != nil {
		t.Fatalf("openRemoteFile failed: %v", err)
	}
	return f
}

func TestOpenRemoteFile_EstablishesIdentityAndSeedsFirstPage(t *testing.T) {
	content := testutil.Pattern(10000)
	host := NewMemHost()
	host.SetObject(testChunkPath, content)
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)

	id := f.Identity()
	if id.Size != 10000 {
		t.Errorf("expected size 10000, got %d", id.Size)
	}
	if id.ETag == "" {
		t.Error("expected a change token")
	}
	if f.Mode() != "ranged" {
		t.Errorf("expected ranged mode, got %q", f.Mode())
	}
	if host.StatCalls != 1 || host.FetchRangeCalls != 1 {
		t.Errorf("expected 1 stat and 1 probe fetch, got %d and %d",
			host.StatCalls, host.FetchRangeCalls)
	}

	// The probe paid for page 0; reading it must not refetch.
	page0, err := f.ReadPage(testContext(t), 0)
	if err != nil {
		t.Fatalf("ReadPage(0) failed: %v", err)
	}
	if !bytes.Equal(page0, content[:4096]) {
		t.Error("page 0 bytes do not match content")
	}
	if host.FetchRangeCalls != 1 {
		t.Errorf("expected seeded page 0, got %d fetches", host.FetchRangeCalls)
	}
	if got := cache.Stats().Hits; got != 1 {
		t.Errorf("expected 1 cache hit, got %d", got)
	}
}

func TestOpenRemoteFile_MissingObject_ReturnsNotFound(t *testing.T) {
	host := NewMemHost()
	cache := newTestCache(t, 16)

	_, err := openRemoteFile(testContext(t), host, cache, "editions/chunk_9.db", DefaultPageSize, quietLogger())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRemoteFile_InvalidArguments(t *testing.T) {
	host := NewMemHost()
	cache := newTestCache(t, 16)
	ctx := testContext(t)

	if _, err := openRemoteFile(ctx, nil, cache, testChunkPath, DefaultPageSize, quietLogger()); err == nil {
		t.Error("expected error for nil host")
	}
	if _, err := openRemoteFile(ctx, host, nil, testChunkPath, DefaultPageSize, quietLogger()); err == nil {
		t.Error("expected error for nil cache")
	}
	if _, err := openRemoteFile(ctx, host, cache, testChunkPath, 0, quietLogger()); err == nil {
		t.Error("expected error for zero page size")
	}
}

func TestRemoteFile_ReadPage_FullAndTailPages(t *testing.T) {
	content := testutil.Pattern(10000) // 2 full pages + 1808-byte tail
	host := NewMemHost()
	host.SetObject(testChunkPath, content)
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)
	if f.NumPages() != 3 {
		t.Fatalf("expected 3 pages, got %d", f.NumPages())
	}

	ctx := testContext(t)
	for page := int64(0); page < 2; page++ {
		data, err := f.ReadPage(ctx, page)
		if err != nil {
			t.Fatalf("ReadPage(%d) failed: %v", page, err)
		}
		if len(data) != 4096 {
			t.Errorf("page %d: expected 4096 bytes, got %d", page, len(data))
		}
		if !bytes.Equal(data, content[page*4096:(page+1)*4096]) {
			t.Errorf("page %d bytes do not match content", page)
		}
	}

	tail, err := f.ReadPage(ctx, 2)
	if err != nil {
		t.Fatalf("ReadPage(2) failed: %v", err)
	}
	if len(tail) != 1808 {
		t.Errorf("expected 1808-byte tail page, got %d", len(tail))
	}
	if !bytes.Equal(tail, content[8192:]) {
		t.Error("tail page bytes do not match content")
	}

	if _, err := f.ReadPage(ctx, 3); !errors.Is(err, ErrRangeUnsatisfiable) {
		t.Errorf("page past EOF: got %v, want ErrRangeUnsatisfiable", err)
	}
	if _, err := f.ReadPage(ctx, -1); !errors.Is(err, ErrRangeUnsatisfiable) {
		t.Errorf("negative page: got %v, want ErrRangeUnsatisfiable", err)
	}
}

func TestRemoteFile_ReadPage_EmptyFile_FailsLocally(t *testing.T) {
	host := NewMemHost()
	host.SetObject("editions/empty.db", []byte{})
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, "editions/empty.db")
	if f.NumPages() != 0 {
		t.Errorf("expected 0 pages, got %d", f.NumPages())
	}
	if host.FetchRangeCalls != 0 {
		t.Errorf("empty file must not be probed, got %d fetches", host.FetchRangeCalls)
	}

	if _, err := f.ReadPage(testContext(t), 0); !errors.Is(err, ErrRangeUnsatisfiable) {
		t.Fatalf("expected ErrRangeUnsatisfiable, got %v", err)
	}
	if host.FetchRangeCalls != 0 {
		t.Error("out-of-range reads must not reach the host")
	}
}

func TestOpenRemoteFile_RangeBlindHost_FallsBackToFullDownload(t *testing.T) {
	content := testutil.Pattern(10000)
	host := NewMemHost()
	host.SetObject(testChunkPath, content)
	host.RangeBlind = true
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)
	if f.Mode() != "full" {
		t.Fatalf("expected full mode, got %q", f.Mode())
	}
	if host.FetchAllCalls != 1 {
		t.Errorf("expected 1 full download, got %d", host.FetchAllCalls)
	}

	ctx := testContext(t)
	page1, err := f.ReadPage(ctx, 1)
	if err != nil {
		t.Fatalf("ReadPage(1) failed: %v", err)
	}
	if !bytes.Equal(page1, content[4096:8192]) {
		t.Error("page 1 bytes do not match content")
	}

	// Every later read serves from the buffered download.
	if _, err := f.ReadPage(ctx, 2); err != nil {
		t.Fatalf("ReadPage(2) failed: %v", err)
	}
	if host.FetchAllCalls != 1 || host.FetchRangeCalls != 1 {
		t.Errorf("full mode must not refetch, got %d full and %d ranged calls",
			host.FetchAllCalls, host.FetchRangeCalls)
	}
	if got := cache.Stats().Misses; got != 0 {
		t.Errorf("full mode must bypass the page cache, got %d misses", got)
	}
}

func TestRemoteFile_ReadPage_ReplacedObject_ReportsStale(t *testing.T) {
	content := testutil.Pattern(10000)
	host := NewMemHost()
	host.SetObject(testChunkPath, content)
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)

	// Republish with different bytes at the same length.
	replaced := testutil.Pattern(10000)
	replaced[0] ^= 0xFF
	host.SetObject(testChunkPath, replaced)

	if _, err := f.ReadPage(testContext(t), 1); !errors.Is(err, ErrStaleFile) {
		t.Fatalf("expected ErrStaleFile, got %v", err)
	}

	// Already cached pages keep serving the opened snapshot.
	page0, err := f.ReadPage(testContext(t), 0)
	if err != nil {
		t.Fatalf("cached ReadPage(0) failed: %v", err)
	}
	if !bytes.Equal(page0, content[:4096]) {
		t.Error("cached page must still serve the opened snapshot")
	}
}

func TestRemoteFile_Revalidate_NoChange_IsNoOp(t *testing.T) {
	host := NewMemHost()
	host.SetObject(testChunkPath, testutil.Pattern(10000))
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)
	before := f.Identity()

	if err := f.Revalidate(testContext(t)); err != nil {
		t.Fatalf("Revalidate failed: %v", err)
	}
	if f.Identity() != before {
		t.Error("identity must not change when the object is unchanged")
	}
	if host.FetchRangeCalls != 1 {
		t.Errorf("unchanged object must not be re-probed, got %d fetches", host.FetchRangeCalls)
	}
}

func TestRemoteFile_Revalidate_AdoptsNewSnapshot(t *testing.T) {
	host := NewMemHost()
	host.SetObject(testChunkPath, testutil.Pattern(10000))
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)
	oldKey := f.Identity().Key()

	grown := testutil.Pattern(12000)
	host.SetObject(testChunkPath, grown)

	if err := f.Revalidate(testContext(t)); err != nil {
		t.Fatalf("Revalidate failed: %v", err)
	}

	if f.Size() != 12000 {
		t.Errorf("expected adopted size 12000, got %d", f.Size())
	}
	if f.Identity().Key() == oldKey {
		t.Error("expected a new cache keyspace after adoption")
	}

	ctx := testContext(t)
	page0, err := f.ReadPage(ctx, 0)
	if err != nil {
		t.Fatalf("ReadPage(0) failed: %v", err)
	}
	if !bytes.Equal(page0, grown[:4096]) {
		t.Error("page 0 must serve the adopted snapshot")
	}

	tail, err := f.ReadPage(ctx, 2)
	if err != nil {
		t.Fatalf("ReadPage(2) failed: %v", err)
	}
	if !bytes.Equal(tail, grown[8192:]) {
		t.Error("tail page must serve the adopted snapshot")
	}
}

func TestRemoteFile_Revalidate_FailedReinit_KeepsPreviousSnapshot(t *testing.T) {
	content := testutil.Pattern(10000)
	host := NewMemHost()
	host.SetObject(testChunkPath, content)
	host.RangeBlind = true
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)
	if f.Mode() != "full" {
		t.Fatalf("expected full mode, got %q", f.Mode())
	}
	before := f.Identity()

	// Republish much larger, then fail the reinitializing probe once.
	grown := testutil.Pattern(40000)
	host.SetObject(testChunkPath, grown)
	host.FailNextRanges = 1

	err := f.Revalidate(testContext(t))
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected the probe failure to surface, got %v", err)
	}

	// The handle must keep serving the opened snapshot coherently: old
	// identity, old geometry, old bytes.
	if f.Identity() != before {
		t.Error("failed reinitialization must not adopt the new identity")
	}
	if f.NumPages() != 3 {
		t.Fatalf("expected 3 pages from the kept snapshot, got %d", f.NumPages())
	}
	tail, err := f.ReadPage(testContext(t), 2)
	if err != nil {
		t.Fatalf("ReadPage(2) failed: %v", err)
	}
	if !bytes.Equal(tail, content[8192:]) {
		t.Error("tail page must serve the kept snapshot")
	}
	if _, err := f.ReadPage(testContext(t), 9); !errors.Is(err, ErrRangeUnsatisfiable) {
		t.Errorf("page past the kept snapshot: got %v, want ErrRangeUnsatisfiable", err)
	}

	// The next Revalidate finds the host healthy and adopts the republish.
	if err := f.Revalidate(testContext(t)); err != nil {
		t.Fatalf("second Revalidate failed: %v", err)
	}
	if f.Size() != 40000 {
		t.Errorf("expected adopted size 40000, got %d", f.Size())
	}
	page2, err := f.ReadPage(testContext(t), 2)
	if err != nil {
		t.Fatalf("ReadPage(2) after adoption failed: %v", err)
	}
	if !bytes.Equal(page2, grown[8192:12288]) {
		t.Error("page 2 must serve the adopted snapshot")
	}
}

// flappingHost answers every Stat after the first with a fresh token,
// simulating an object republished faster than reinitialization.
type flappingHost struct {
	*MemHost
	stats atomic.Int64
}

func (h *flappingHost) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	info, err := h.MemHost.Stat(ctx, p)
	if err != nil {
		return info, err
	}
	if n := h.stats.Add(1); n > 1 {
		info.ETag = fmt.Sprintf("\"flap-%d\"", n)
	}
	return info, nil
}

func TestRemoteFile_Revalidate_ObjectKeepsChanging_ReportsStale(t *testing.T) {
	inner := NewMemHost()
	inner.SetObject(testChunkPath, testutil.Pattern(10000))
	host := &flappingHost{MemHost: inner}
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)

	err := f.Revalidate(testContext(t))
	if !errors.Is(err, ErrStaleFile) {
		t.Fatalf("expected ErrStaleFile for a moving object, got %v", err)
	}
}

// lyingHost reports a larger size than the hosted content, simulating an
// object that shrank between Stat and the ranged read.
type lyingHost struct {
	*MemHost
	statSize int64
}

func (h *lyingHost) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	info, err := h.MemHost.Stat(ctx, p)
	if err != nil {
		return info, err
	}
	info.Size = h.statSize
	return info, nil
}

func TestRemoteFile_ReadPage_ShrunkObject_ReportsUnsatisfiable(t *testing.T) {
	inner := NewMemHost()
	inner.SetObject(testChunkPath, testutil.Pattern(10000))
	host := &lyingHost{MemHost: inner, statSize: 12000}
	cache := newTestCache(t, 16)

	f := openTestFile(t, host, cache, testChunkPath)
	if f.NumPages() != 3 {
		t.Fatalf("expected 3 pages from reported size, got %d", f.NumPages())
	}

	// Page 2 spans [8192, 11999] per the reported size, but the object ends
	// at 10000.
	_, err := f.ReadPage(testContext(t), 2)
	if !errors.Is(err, ErrRangeUnsatisfiable) {
		t.Fatalf("expected ErrRangeUnsatisfiable, got %v", err)
	}
}
