package s3

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/openquran/pagevfs/internal/testutil"
	"github.com/openquran/pagevfs/pagevfs"
)

// -----------------------------------------------------------------------------
// Unit tests for the S3 host
// These use the mock client and don't require real S3/LocalStack/MinIO.
// -----------------------------------------------------------------------------

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, Config{Bucket: "test"})
	if err == nil {
		t.Error("expected error for nil client")
	}
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(NewMockS3Client(), Config{})
	if err == nil {
		t.Error("expected error for empty bucket")
	}
}

func TestNew_PrefixNormalization(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"", ""},
		{"quran", "quran/"},
		{"quran/", "quran/"},
		{"quran/v1", "quran/v1/"},
	}

	for _, tt := range tests {
		host, err := New(NewMockS3Client(), Config{Bucket: "test", Prefix: tt.prefix})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if host.prefix != tt.expected {
			t.Errorf("prefix %q: expected %q, got %q", tt.prefix, tt.expected, host.prefix)
		}
	}
}

func TestHost_ValidateKey_AppliesPrefix(t *testing.T) {
	host, _ := New(NewMockS3Client(), Config{Bucket: "test", Prefix: "quran"})

	got, err := host.validateKey("editions/chunk_2.db")
	if err != nil {
		t.Fatalf("validateKey failed: %v", err)
	}
	if got != "quran/editions/chunk_2.db" {
		t.Errorf("expected prefixed key, got %q", got)
	}

	bad := []string{"", ".", "..", "../index.json", "/"}
	for _, key := range bad {
		if _, err := host.validateKey(key); !errors.Is(err, pagevfs.ErrInvalidPath) {
			t.Errorf("validateKey(%q) = %v, want ErrInvalidPath", key, err)
		}
	}
}

func TestHost_Stat_ReturnsSizeAndToken(t *testing.T) {
	mock := NewMockS3Client()
	mock.SetObject("quran/editions/chunk_2.db", testutil.Pattern(10000))
	host, _ := New(mock, Config{Bucket: "test", Prefix: "quran"})

	info, err := host.Stat(testContext(t), "editions/chunk_2.db")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size != 10000 {
		t.Errorf("expected size 10000, got %d", info.Size)
	}
	if info.ETag == "" {
		t.Error("expected a change token")
	}
	if info.ModTime.IsZero() {
		t.Error("expected a modification time")
	}
	if mock.HeadObjectCalls != 1 {
		t.Errorf("expected 1 HeadObject call, got %d", mock.HeadObjectCalls)
	}
}

func TestHost_Stat_Missing_ReturnsNotFound(t *testing.T) {
	host, _ := New(NewMockS3Client(), Config{Bucket: "test"})

	_, err := host.Stat(testContext(t), "editions/chunk_9.db")
	if !errors.Is(err, pagevfs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHost_FetchRange_ReturnsExactSpan(t *testing.T) {
	content := testutil.Pattern(10000)
	mock := NewMockS3Client()
	mock.SetObject("editions/chunk_2.db", content)
	host, _ := New(mock, Config{Bucket: "test"})

	data, err := host.FetchRange(testContext(t), "editions/chunk_2.db", 4096, 8191, "")
	if err != nil {
		t.Fatalf("FetchRange failed: %v", err)
	}
	if !bytes.Equal(data, content[4096:8192]) {
		t.Error("span bytes do not match object content")
	}
	if mock.GetObjectCalls != 1 {
		t.Errorf("expected 1 GetObject call, got %d", mock.GetObjectCalls)
	}
}

func TestHost_FetchRange_TokenMatch_Succeeds(t *testing.T) {
	content := testutil.Pattern(10000)
	mock := NewMockS3Client()
	mock.SetObject("editions/chunk_2.db", content)
	host, _ := New(mock, Config{Bucket: "test"})

	info, err := host.Stat(testContext(t), "editions/chunk_2.db")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	data, err := host.FetchRange(testContext(t), "editions/chunk_2.db", 0, 4095, info.ETag)
	if err != nil {
		t.Fatalf("FetchRange with current token failed: %v", err)
	}
	if !bytes.Equal(data, content[:4096]) {
		t.Error("span bytes do not match object content")
	}
}

func TestHost_FetchRange_TokenMismatch_ReportsStale(t *testing.T) {
	mock := NewMockS3Client()
	mock.SetObject("editions/chunk_2.db", testutil.Pattern(10000))
	host, _ := New(mock, Config{Bucket: "test"})

	_, err := host.FetchRange(testContext(t), "editions/chunk_2.db", 0, 4095, `"replaced-revision"`)
	if !errors.Is(err, pagevfs.ErrStaleFile) {
		t.Fatalf("expected ErrStaleFile, got %v", err)
	}
}

func TestHost_FetchRange_BeyondEOF_ReportsUnsatisfiable(t *testing.T) {
	mock := NewMockS3Client()
	mock.SetObject("editions/chunk_2.db", testutil.Pattern(10000))
	host, _ := New(mock, Config{Bucket: "test"})

	_, err := host.FetchRange(testContext(t), "editions/chunk_2.db", 20000, 24095, "")
	if !errors.Is(err, pagevfs.ErrRangeUnsatisfiable) {
		t.Fatalf("expected ErrRangeUnsatisfiable, got %v", err)
	}
}

func TestHost_FetchRange_ClampedSpan_ReportsStale(t *testing.T) {
	mock := NewMockS3Client()
	mock.SetObject("editions/chunk_2.db", testutil.Pattern(10000))
	host, _ := New(mock, Config{Bucket: "test"})

	// S3 clamps [8192, 12287] to the object's 10000-byte length instead of
	// failing; the short body must surface as staleness.
	_, err := host.FetchRange(testContext(t), "editions/chunk_2.db", 8192, 12287, "")
	if !errors.Is(err, pagevfs.ErrStaleFile) {
		t.Fatalf("expected ErrStaleFile for clamped span, got %v", err)
	}
}

func TestHost_FetchRange_InvalidSpan_FailsLocally(t *testing.T) {
	mock := NewMockS3Client()
	host, _ := New(mock, Config{Bucket: "test"})

	if _, err := host.FetchRange(testContext(t), "a.db", -1, 10, ""); !errors.Is(err, pagevfs.ErrRangeUnsatisfiable) {
		t.Errorf("negative start: got %v, want ErrRangeUnsatisfiable", err)
	}
	if _, err := host.FetchRange(testContext(t), "a.db", 10, 5, ""); !errors.Is(err, pagevfs.ErrRangeUnsatisfiable) {
		t.Errorf("inverted span: got %v, want ErrRangeUnsatisfiable", err)
	}
	if mock.GetObjectCalls != 0 {
		t.Errorf("invalid spans must not reach S3, got %d calls", mock.GetObjectCalls)
	}
}

func TestHost_FetchAll_StreamsObject(t *testing.T) {
	content := testutil.Pattern(10000)
	mock := NewMockS3Client()
	mock.SetObject("index.json", content)
	host, _ := New(mock, Config{Bucket: "test"})

	rc, err := host.FetchAll(testContext(t), "index.json")
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	defer func() { _ = rc.Close() }()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading body failed: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("streamed bytes do not match object content")
	}
}

func TestHost_FetchAll_Missing_ReturnsNotFound(t *testing.T) {
	host, _ := New(NewMockS3Client(), Config{Bucket: "test"})

	_, err := host.FetchAll(testContext(t), "missing.json")
	if !errors.Is(err, pagevfs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHost_WorksAsPagevfsHost(t *testing.T) {
	content := testutil.Pattern(10000)
	mock := NewMockS3Client()
	mock.SetObject("editions/chunk_2.db", content)
	mock.SetObject("index.json", indexFixture(t))
	host, _ := New(mock, Config{Bucket: "test"})

	client, err := pagevfs.New(host)
	if err != nil {
		t.Fatalf("pagevfs.New failed: %v", err)
	}

	s, err := client.Open(testContext(t), "eng-sahih")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	page, err := s.ReadPage(testContext(t), 1)
	if err != nil {
		t.Fatalf("ReadPage failed: %v", err)
	}
	if !bytes.Equal(page, content[4096:8192]) {
		t.Error("page bytes do not match object content")
	}
}

func indexFixture(t *testing.T) []byte {
	t.Helper()
	return []byte(`{
		"schema_name": "pagevfs-index",
		"format_version": "1",
		"generated_at": "2025-11-02T09:30:00Z",
		"page_size": 4096,
		"entries": [
			{"slug": "eng-sahih", "file": "editions/chunk_2.db", "entity_id": 75, "chunk": 2}
		]
	}`)
}
