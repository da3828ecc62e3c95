// Package pagevfs provides page-granular read access to immutable database
// files hosted on static HTTP or S3-compatible object hosts.
//
// Pagevfs focuses on access structure: exact ranged fetches, a bounded page
// cache with request coalescing, capability fallback for hosts that ignore
// Range headers, and slug routing over a small fully-downloaded index
// document. It does not interpret page contents or execute queries; that
// belongs to the embedded database engine layered on top.
package pagevfs

import (
	"context"
	"fmt"
	"io"
	"time"
)

// -----------------------------------------------------------------------------
// Core types
// -----------------------------------------------------------------------------

// DefaultPageSize is the page size used when no index or option overrides it.
// It matches the page_size the published databases are built with.
const DefaultPageSize = 4096

// ObjectInfo describes a hosted object without fetching its content.
type ObjectInfo struct {
	// Path is the object path relative to the host root.
	Path string

	// Size is the object length in bytes.
	Size int64

	// ETag is the host's change token for the object. Empty when the host
	// exposes none; staleness detection is then unavailable for the object.
	ETag string

	// ModTime is a secondary validator. Zero when the host does not report it.
	ModTime time.Time
}

// FileIdentity pins one immutable remote file: its path, observed length,
// change token, and the page size it is read with. Two identities with any
// differing field address disjoint cache keyspaces.
type FileIdentity struct {
	Path     string
	Size     int64
	ETag     string
	PageSize int
}

// Key returns the cache keyspace token for this identity.
func (id FileIdentity) Key() string {
	return fmt.Sprintf("%s@%s#%d/%d", id.Path, id.ETag, id.Size, id.PageSize)
}

// NumPages returns how many pages the identity spans. The last page may be
// shorter than PageSize.
func (id FileIdentity) NumPages() int64 {
	if id.Size <= 0 || id.PageSize <= 0 {
		return 0
	}
	ps := int64(id.PageSize)
	return (id.Size + ps - 1) / ps
}

// Route holds the routing metadata the index records for one entity.
type Route struct {
	// Slug is the logical entity key (e.g., "eng-sahih").
	Slug string `json:"slug"`

	// File is the hosted database file the entity lives in, relative to the
	// host root (e.g., "editions/chunk_2.db").
	File string `json:"file"`

	// EntityID is the entity's numeric id inside its file.
	EntityID int64 `json:"entity_id"`

	// Chunk is the shard number for chunked collections, 0 for standalone
	// files.
	Chunk int `json:"chunk,omitempty"`

	// Name is the entity's display name.
	Name string `json:"name,omitempty"`

	// Author is the entity's author or translator.
	Author string `json:"author,omitempty"`

	// Language is the BCP-47-ish language code recorded by the publisher.
	Language string `json:"language,omitempty"`

	// Direction is the script direction ("ltr" or "rtl").
	Direction string `json:"direction,omitempty"`

	// SizeBytes is the publisher-recorded file size. Informational; the
	// authoritative size comes from the host at open time.
	SizeBytes int64 `json:"size_bytes,omitempty"`

	// AyahCount is the number of rows the entity covers, when recorded.
	AyahCount int `json:"ayah_count,omitempty"`
}

// PageReadFunc is the engine-facing read callback: 0-based page index in,
// exactly that page's bytes out. Full pages are PageSize long; the final
// page of a file may be shorter. The returned slice is shared cache memory
// and must not be modified.
type PageReadFunc func(ctx context.Context, page int64) ([]byte, error)

// -----------------------------------------------------------------------------
// Host interface
// -----------------------------------------------------------------------------

// Host abstracts the system serving the published files.
//
// Implementations target static HTTP hosts, S3-compatible object stores, or
// in-memory doubles. The interface is read-only: published files are
// immutable snapshots and this layer never writes.
type Host interface {
	// Stat returns object length and change token without fetching content.
	// Returns ErrNotFound if the object does not exist.
	Stat(ctx context.Context, path string) (ObjectInfo, error)

	// FetchRange returns exactly the inclusive byte span [start, end] of the
	// object, matching the HTTP Range header form. It never widens the span.
	//
	// A non-empty token makes the read conditional on the object still
	// carrying that change token; a host that no longer does answers with a
	// full body (reported as ErrRangeUnsupported) or a precondition failure
	// (reported as ErrStaleFile), depending on the backend.
	//
	// Returns ErrRangeUnsupported if the host answers a ranged request with
	// a full body, and ErrRangeUnsatisfiable if the span starts beyond the
	// end of the object.
	FetchRange(ctx context.Context, path string, start, end int64, token string) ([]byte, error)

	// FetchAll streams the whole object. Used for index documents and for
	// files on hosts that ignore Range headers.
	FetchAll(ctx context.Context, path string) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrNotFound indicates a hosted object does not exist.
	ErrNotFound = errNotFound{}

	// ErrInvalidPath indicates an empty or escaping object path.
	ErrInvalidPath = errInvalidPath{}

	// ErrUnreachable indicates a transport-level failure that persisted
	// through the retry budget.
	ErrUnreachable = errUnreachable{}

	// ErrServerError indicates the host kept answering 5xx through the
	// retry budget.
	ErrServerError = errServerError{}

	// ErrRangeUnsupported indicates the host answered a ranged request with
	// a full body instead of the requested span.
	ErrRangeUnsupported = errRangeUnsupported{}

	// ErrRangeUnsatisfiable indicates a requested span beyond the end of the
	// object, including page indexes past the last page.
	ErrRangeUnsatisfiable = errRangeUnsatisfiable{}

	// ErrUnknownEntity indicates a slug the index has no entry for.
	ErrUnknownEntity = errUnknownEntity{}

	// ErrStaleFile indicates the remote object no longer matches the
	// identity it was opened with.
	ErrStaleFile = errStaleFile{}

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errSessionClosed{}
)

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errInvalidPath struct{}

func (errInvalidPath) Error() string { return "invalid path" }

type errUnreachable struct{}

func (errUnreachable) Error() string { return "host unreachable" }

type errServerError struct{}

func (errServerError) Error() string { return "server error" }

type errRangeUnsupported struct{}

func (errRangeUnsupported) Error() string { return "range requests not supported" }

type errRangeUnsatisfiable struct{}

func (errRangeUnsatisfiable) Error() string { return "range not satisfiable" }

type errUnknownEntity struct{}

func (errUnknownEntity) Error() string { return "unknown entity" }

type errStaleFile struct{}

func (errStaleFile) Error() string { return "remote file changed" }

type errSessionClosed struct{}

func (errSessionClosed) Error() string { return "session closed" }

// FetchError carries transport detail for a failed fetch. It unwraps to the
// sentinel classifying the failure, so errors.Is checks keep working.
type FetchError struct {
	// Path is the object path the fetch targeted.
	Path string

	// Status is the last HTTP status observed, 0 for pure transport errors.
	Status int

	// Attempts is how many attempts were made before giving up.
	Attempts int

	// Err is the classifying sentinel, possibly wrapped with cause detail.
	Err error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.Path, e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
