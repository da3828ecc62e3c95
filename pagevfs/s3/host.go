// Package s3 provides an S3-compatible host adapter for pagevfs.
//
// The adapter targets AWS S3, MinIO, LocalStack, Cloudflare R2, and other
// S3-compatible object stores. It is read-only: published collections are
// immutable snapshots, so only HeadObject and GetObject are used.
//
// # Host Semantics
//
//   - Stat: HeadObject, with the ETag as the change token
//   - FetchRange: GetObject with a Range header; a non-empty token is sent
//     as If-Match, so reads of a replaced object fail with ErrStaleFile
//     instead of returning mixed-snapshot bytes
//   - FetchAll: plain GetObject
//
// S3 clamps ranges at EOF instead of answering 416, so a short range body
// is reported as ErrStaleFile: the object shrank under the caller's
// identity.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/openquran/pagevfs/pagevfs"
)

// API defines the subset of the S3 client interface used by the host.
// This enables testing with mock implementations.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds configuration for the S3 host.
type Config struct {
	// Bucket is the S3 bucket name. Required.
	Bucket string

	// Prefix is an optional key prefix for all operations.
	// If set, all keys are prefixed with this value (with a trailing slash added if missing).
	Prefix string
}

// Host implements pagevfs.Host over an S3-compatible backend.
type Host struct {
	client API
	bucket string
	prefix string
}

var _ pagevfs.Host = (*Host)(nil)

// New creates a new S3 host with the given client and configuration.
//
// The client must be pre-configured with credentials, region, and endpoint.
// Use github.com/aws/aws-sdk-go-v2/config to load configuration.
//
// Example:
//
//	cfg, err := config.LoadDefaultConfig(ctx)
//	client := s3.NewFromConfig(cfg)
//	host, err := s3host.New(client, s3host.Config{Bucket: "my-bucket"})
func New(client API, cfg Config) (*Host, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Host{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
	}, nil
}

// Stat returns object length and change token via HeadObject.
// Returns ErrNotFound if the object does not exist.
func (h *Host) Stat(ctx context.Context, key string) (pagevfs.ObjectInfo, error) {
	fullKey, err := h.validateKey(key)
	if err != nil {
		return pagevfs.ObjectInfo{}, err
	}

	out, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return pagevfs.ObjectInfo{}, pagevfs.ErrNotFound
		}
		return pagevfs.ObjectInfo{}, fmt.Errorf("s3: head object: %w", err)
	}

	return pagevfs.ObjectInfo{
		Path:    key,
		Size:    aws.ToInt64(out.ContentLength),
		ETag:    aws.ToString(out.ETag),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

// FetchRange returns exactly the inclusive span [start, end] of the object.
//
// A non-empty token is sent as If-Match; reads of a replaced object then
// fail with ErrStaleFile. Spans starting beyond EOF fail with
// ErrRangeUnsatisfiable.
func (h *Host) FetchRange(ctx context.Context, key string, start, end int64, token string) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("s3: invalid span [%d, %d]: %w", start, end, pagevfs.ErrRangeUnsatisfiable)
	}

	fullKey, err := h.validateKey(key)
	if err != nil {
		return nil, err
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(fullKey),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", start, end)),
	}
	if token != "" {
		in.IfMatch = aws.String(token)
	}

	out, err := h.client.GetObject(ctx, in)
	if err != nil {
		return nil, classifyRangeError(err)
	}
	defer func() { _ = out.Body.Close() }()

	want := end - start + 1
	data, err := io.ReadAll(io.LimitReader(out.Body, want+1))
	if err != nil {
		return nil, fmt.Errorf("s3: reading range body: %w", err)
	}
	if int64(len(data)) != want {
		// S3 clamps ranges at EOF; the caller computed this span from the
		// object's opened size, so a short body means the object shrank.
		return nil, fmt.Errorf("s3: got %d bytes for a %d byte span: %w", len(data), want, pagevfs.ErrStaleFile)
	}

	return data, nil
}

// FetchAll streams the whole object.
// Returns ErrNotFound if the object does not exist.
func (h *Host) FetchAll(ctx context.Context, key string) (io.ReadCloser, error) {
	fullKey, err := h.validateKey(key)
	if err != nil {
		return nil, err
	}

	out, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(fullKey),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, pagevfs.ErrNotFound
		}
		return nil, fmt.Errorf("s3: get object: %w", err)
	}

	return out.Body, nil
}

// classifyRangeError maps a GetObject range failure to its sentinel.
func classifyRangeError(err error) error {
	if isNotFound(err) {
		return pagevfs.ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidRange", "416":
			return pagevfs.ErrRangeUnsatisfiable
		case "PreconditionFailed", "412":
			return pagevfs.ErrStaleFile
		}
	}
	return fmt.Errorf("s3: range read: %w", err)
}

// validateKey validates and returns the full key for object operations.
func (h *Host) validateKey(key string) (string, error) {
	if key == "" {
		return "", pagevfs.ErrInvalidPath
	}

	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", pagevfs.ErrInvalidPath
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", pagevfs.ErrInvalidPath
	}

	return h.prefix + cleaned, nil
}

// isNotFound checks if an error indicates the object was not found.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey" || code == "404"
	}
	return false
}

// -----------------------------------------------------------------------------
// Mock S3 Client for Testing
// -----------------------------------------------------------------------------

// mockObject holds one stored object and its change token.
type mockObject struct {
	data    []byte
	etag    string
	modTime time.Time
}

// MockS3Client is a test double for API.
type MockS3Client struct {
	mu       sync.RWMutex
	objects  map[string]mockObject
	revision int

	// Call counters for test assertions
	GetObjectCalls  int
	HeadObjectCalls int
}

// NewMockS3Client creates a new mock S3 client for testing.
func NewMockS3Client() *MockS3Client {
	return &MockS3Client{
		objects: make(map[string]mockObject),
	}
}

// SetObject stores an object. Each call mints a fresh ETag, so replacing
// content changes the object's change token even at equal length.
func (m *MockS3Client) SetObject(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.revision++
	m.objects[key] = mockObject{
		data:    append([]byte(nil), data...),
		etag:    fmt.Sprintf("\"%d-%d\"", m.revision, len(data)),
		modTime: time.Now().UTC().Truncate(time.Second),
	}
}

// RemoveObject deletes an object so tests can exercise not-found paths.
func (m *MockS3Client) RemoveObject(key string) {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
}

// ResetCounts resets call counters for test isolation.
func (m *MockS3Client) ResetCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetObjectCalls = 0
	m.HeadObjectCalls = 0
}

// GetObject implements API.GetObject for testing.
func (m *MockS3Client) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.Lock()
	m.GetObjectCalls++
	obj, exists := m.objects[key]
	m.mu.Unlock()

	if !exists {
		return nil, &types.NoSuchKey{}
	}

	if params.IfMatch != nil && aws.ToString(params.IfMatch) != obj.etag {
		return nil, &smithyAPIError{code: "PreconditionFailed", message: "etag mismatch"}
	}

	data := obj.data

	// Handle range requests
	if params.Range != nil {
		rangeStr := aws.ToString(params.Range)
		var start, end int64
		_, _ = fmt.Sscanf(rangeStr, "bytes=%d-%d", &start, &end)

		if start >= int64(len(data)) {
			return nil, &smithyAPIError{code: "InvalidRange"}
		}

		if end >= int64(len(data)) {
			end = int64(len(data)) - 1
		}

		data = data[start : end+1]
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modTime),
	}, nil
}

// HeadObject implements API.HeadObject for testing.
func (m *MockS3Client) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(params.Key)

	m.mu.Lock()
	m.HeadObjectCalls++
	obj, exists := m.objects[key]
	m.mu.Unlock()

	if !exists {
		return nil, &types.NoSuchKey{}
	}

	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ETag:          aws.String(obj.etag),
		LastModified:  aws.Time(obj.modTime),
	}, nil
}

// smithyAPIError implements smithy.APIError for testing.
type smithyAPIError struct {
	code    string
	message string
}

func (e *smithyAPIError) Error() string {
	return e.message
}

func (e *smithyAPIError) ErrorCode() string {
	return e.code
}

func (e *smithyAPIError) ErrorMessage() string {
	return e.message
}

func (e *smithyAPIError) ErrorFault() smithy.ErrorFault {
	return smithy.FaultUnknown
}
