// Package testutil provides host doubles and fixtures for examples and tests.
package testutil

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// StaticHost is an httptest-backed stand-in for a static file host. Files
// are served through http.ServeContent, which carries the Range, If-Range,
// and validator semantics of a production static host, so tests exercise
// real 206/200/304 behavior instead of a scripted double.
//
// Usage:
//
//	h := testutil.NewStaticHost()
//	defer h.Close()
//	h.SetFile("editions/chunk_1.db", data)
type StaticHost struct {
	srv *httptest.Server

	mu        sync.Mutex
	files     map[string]*hostFile
	noHead    bool
	noRanges  bool
	failNext  int
	hits      map[string]int
	rangeHits int
}

type hostFile struct {
	data    []byte
	etag    string
	modTime time.Time
}

// NewStaticHost starts the host. Callers must Close it.
func NewStaticHost() *StaticHost {
	h := &StaticHost{
		files: make(map[string]*hostFile),
		hits:  make(map[string]int),
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.handle))
	return h
}

// URL returns the host's base URL.
func (h *StaticHost) URL() string {
	return h.srv.URL
}

// Close shuts the host down.
func (h *StaticHost) Close() {
	h.srv.Close()
}

// SetFile registers or replaces a hosted file. Every call mints a fresh
// ETag and modification time, so replacement is visible to validators.
func (h *StaticHost) SetFile(path string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[normalize(path)] = &hostFile{
		data:    append([]byte(nil), data...),
		etag:    fmt.Sprintf("%q", fmt.Sprintf("%x-%d", fnvSum(data), len(h.files))),
		modTime: time.Now().UTC().Truncate(time.Second),
	}
}

// RemoveFile unregisters a hosted file.
func (h *StaticHost) RemoveFile(path string) {
	h.mu.Lock()
	delete(h.files, normalize(path))
	h.mu.Unlock()
}

// ETagOf returns the current ETag of a hosted file, "" if absent.
func (h *StaticHost) ETagOf(path string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.files[normalize(path)]; ok {
		return f.etag
	}
	return ""
}

// SetNoHead makes the host answer HEAD with 405, like hosts that only
// implement GET.
func (h *StaticHost) SetNoHead(v bool) {
	h.mu.Lock()
	h.noHead = v
	h.mu.Unlock()
}

// SetNoRanges makes the host ignore Range headers and always answer 200
// with the full body.
func (h *StaticHost) SetNoRanges(v bool) {
	h.mu.Lock()
	h.noRanges = v
	h.mu.Unlock()
}

// FailNext makes the next n requests answer 500 before normal service
// resumes. Used to exercise retry paths.
func (h *StaticHost) FailNext(n int) {
	h.mu.Lock()
	h.failNext = n
	h.mu.Unlock()
}

// Hits returns how many requests have targeted a path.
func (h *StaticHost) Hits(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hits[normalize(path)]
}

// RangeHits returns how many ranged requests the host honored. Requests
// whose Range header was stripped by SetNoRanges do not count.
func (h *StaticHost) RangeHits() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rangeHits
}

// ResetCounts resets request counters for test isolation.
func (h *StaticHost) ResetCounts() {
	h.mu.Lock()
	h.hits = make(map[string]int)
	h.rangeHits = 0
	h.mu.Unlock()
}

func (h *StaticHost) handle(w http.ResponseWriter, r *http.Request) {
	path := normalize(r.URL.Path)

	h.mu.Lock()
	h.hits[path]++
	if r.Header.Get("Range") != "" && !h.noRanges {
		h.rangeHits++
	}
	if h.failNext > 0 {
		h.failNext--
		h.mu.Unlock()
		http.Error(w, "injected failure", http.StatusInternalServerError)
		return
	}
	f, ok := h.files[path]
	noHead, noRanges := h.noHead, h.noRanges
	h.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	if noHead && r.Method == http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if noRanges {
		r.Header.Del("Range")
		r.Header.Del("If-Range")
	}

	w.Header().Set("ETag", f.etag)
	http.ServeContent(w, r, path, f.modTime, bytes.NewReader(f.data))
}

func normalize(p string) string {
	return strings.TrimPrefix(p, "/")
}

func fnvSum(data []byte) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write(data)
	return hasher.Sum64()
}

// Pattern returns n deterministic bytes. Byte i is i mod 251; 251 is prime,
// so the pattern never aligns with page boundaries and any slice of the
// result identifies its absolute offset.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}
