package pagevfs

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"path"
	"strings"
	"sync"
	"time"
)

// -----------------------------------------------------------------------------
// In-memory host (test double)
// -----------------------------------------------------------------------------

// MemHost is an in-memory Host for tests and examples. It is safe for
// concurrent use, counts calls for assertions, and can simulate hosts that
// ignore Range headers or fail transiently.
type MemHost struct {
	mu      sync.RWMutex
	objects map[string]memObject

	// RangeBlind makes FetchRange answer like a static mirror that ignores
	// Range headers: every ranged request fails with ErrRangeUnsupported
	// and content is only reachable through FetchAll.
	RangeBlind bool

	// FailNextRanges makes the next N FetchRange calls fail with
	// RangeFailErr before any other handling. Counters still advance.
	FailNextRanges int

	// RangeFailErr is the error injected while FailNextRanges > 0.
	// Defaults to ErrServerError.
	RangeFailErr error

	// RangeGate, when non-nil, blocks FetchRange until the channel is
	// closed. Lets tests hold a fetch open while waiters pile up.
	RangeGate <-chan struct{}

	// Call counters for test assertions.
	StatCalls       int
	FetchRangeCalls int
	FetchAllCalls   int
}

type memObject struct {
	data    []byte
	etag    string
	modTime time.Time
}

var _ Host = (*MemHost)(nil)

// NewMemHost creates an empty in-memory host.
func NewMemHost() *MemHost {
	return &MemHost{
		objects: make(map[string]memObject),
	}
}

// SetObject stores or replaces an object. The change token is derived from
// the content, so replacing an object with different bytes simulates a
// republish.
func (m *MemHost) SetObject(p string, data []byte) {
	normalized, valid := normalizeObjectPath(p)
	if !valid {
		return
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	m.mu.Lock()
	m.objects[normalized] = memObject{
		data:    stored,
		etag:    etagFor(stored),
		modTime: time.Now().UTC().Truncate(time.Second),
	}
	m.mu.Unlock()
}

// RemoveObject deletes an object. Safe to call on missing paths.
func (m *MemHost) RemoveObject(p string) {
	normalized, valid := normalizeObjectPath(p)
	if !valid {
		return
	}

	m.mu.Lock()
	delete(m.objects, normalized)
	m.mu.Unlock()
}

// ResetCounts resets call counters for test isolation.
func (m *MemHost) ResetCounts() {
	m.mu.Lock()
	m.StatCalls = 0
	m.FetchRangeCalls = 0
	m.FetchAllCalls = 0
	m.mu.Unlock()
}

// Stat implements Host.
func (m *MemHost) Stat(_ context.Context, p string) (ObjectInfo, error) {
	normalized, valid := normalizeObjectPath(p)
	if !valid {
		return ObjectInfo{}, ErrInvalidPath
	}

	m.mu.Lock()
	m.StatCalls++
	obj, exists := m.objects[normalized]
	m.mu.Unlock()

	if !exists {
		return ObjectInfo{}, ErrNotFound
	}

	return ObjectInfo{
		Path:    p,
		Size:    int64(len(obj.data)),
		ETag:    obj.etag,
		ModTime: obj.modTime,
	}, nil
}

// FetchRange implements Host. A non-empty token is compared against the
// object's current change token, IfMatch-style: a mismatch fails with
// ErrStaleFile.
func (m *MemHost) FetchRange(_ context.Context, p string, start, end int64, token string) ([]byte, error) {
	normalized, valid := normalizeObjectPath(p)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.Lock()
	m.FetchRangeCalls++
	gate := m.RangeGate
	blind := m.RangeBlind
	var injected error
	if m.FailNextRanges > 0 {
		m.FailNextRanges--
		injected = m.RangeFailErr
		if injected == nil {
			injected = ErrServerError
		}
	}
	obj, exists := m.objects[normalized]
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if injected != nil {
		return nil, injected
	}
	if !exists {
		return nil, ErrNotFound
	}
	if blind {
		return nil, ErrRangeUnsupported
	}
	if token != "" && token != obj.etag {
		return nil, ErrStaleFile
	}
	if start < 0 || end < start {
		return nil, ErrRangeUnsatisfiable
	}
	if end >= int64(len(obj.data)) {
		return nil, ErrRangeUnsatisfiable
	}

	span := make([]byte, end-start+1)
	copy(span, obj.data[start:end+1])
	return span, nil
}

// FetchAll implements Host.
func (m *MemHost) FetchAll(_ context.Context, p string) (io.ReadCloser, error) {
	normalized, valid := normalizeObjectPath(p)
	if !valid {
		return nil, ErrInvalidPath
	}

	m.mu.Lock()
	m.FetchAllCalls++
	obj, exists := m.objects[normalized]
	m.mu.Unlock()

	if !exists {
		return nil, ErrNotFound
	}

	dataCopy := make([]byte, len(obj.data))
	copy(dataCopy, obj.data)
	return io.NopCloser(bytes.NewReader(dataCopy)), nil
}

func normalizeObjectPath(p string) (string, bool) {
	if p == "" {
		return "", false
	}

	cleaned := path.Clean(p)
	cleaned = strings.TrimPrefix(cleaned, "/")

	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || cleaned == "." || cleaned == "" {
		return "", false
	}

	return cleaned, true
}

// etagFor derives a deterministic quoted change token from content.
func etagFor(data []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", h.Sum64()))
}
