package pagevfs

import (
	"errors"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// IndexSchemaName identifies the index document schema.
const IndexSchemaName = "pagevfs-index"

// -----------------------------------------------------------------------------
// Index document
// -----------------------------------------------------------------------------

// Index is the collection index document: a small, fully-downloaded mapping
// from entity slugs to the hosted files holding them.
//
// The document is self-contained and includes the schema name, format
// version, the page size every routed file is read with, and one Route per
// entity.
type Index struct {
	// SchemaName identifies the document schema ("pagevfs-index").
	SchemaName string `json:"schema_name"`

	// FormatVersion identifies the document schema version.
	FormatVersion string `json:"format_version"`

	// GeneratedAt records when the publisher produced the index.
	GeneratedAt time.Time `json:"generated_at"`

	// PageSize is the page size the routed files are built with.
	PageSize int `json:"page_size"`

	// Entries lists every routable entity.
	Entries []Route `json:"entries"`

	bySlug map[string]int
}

// lookup returns the route for slug.
func (x *Index) lookup(slug string) (Route, bool) {
	i, ok := x.bySlug[slug]
	if !ok {
		return Route{}, false
	}
	return x.Entries[i], true
}

// decodeIndex decodes and validates an index document. The object name
// selects transparent decompression (.gz, .zst).
func decodeIndex(r io.Reader, name string) (*Index, error) {
	dec, err := decompressorForPath(name).Decompress(r)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: decompressing index: %w", err)
	}
	defer closer(dec)()

	var idx Index
	if err := json.NewDecoder(dec).Decode(&idx); err != nil {
		return nil, fmt.Errorf("pagevfs: decoding index: %w", err)
	}

	if err := validateIndex(&idx); err != nil {
		return nil, err
	}

	idx.bySlug = make(map[string]int, len(idx.Entries))
	for i, e := range idx.Entries {
		idx.bySlug[e.Slug] = i
	}

	return &idx, nil
}

// -----------------------------------------------------------------------------
// Index validation
// -----------------------------------------------------------------------------

// ErrIndexInvalid indicates an index document failed validation.
var ErrIndexInvalid = errors.New("invalid index")

// indexValidationError provides details about index validation failures.
type indexValidationError struct {
	Field   string
	Message string
}

func (e *indexValidationError) Error() string {
	return fmt.Sprintf("invalid index: %s: %s", e.Field, e.Message)
}

func (e *indexValidationError) Unwrap() error {
	return ErrIndexInvalid
}

// validateIndex checks that an index document contains all required fields.
func validateIndex(x *Index) error {
	if x == nil {
		return &indexValidationError{Field: "index", Message: "is nil"}
	}

	if x.SchemaName == "" {
		return &indexValidationError{Field: "schema_name", Message: "is required"}
	}
	if x.SchemaName != IndexSchemaName {
		return &indexValidationError{
			Field:   "schema_name",
			Message: fmt.Sprintf("must be %q, got %q", IndexSchemaName, x.SchemaName),
		}
	}
	if x.FormatVersion == "" {
		return &indexValidationError{Field: "format_version", Message: "is required"}
	}
	if x.GeneratedAt.IsZero() {
		return &indexValidationError{Field: "generated_at", Message: "is required"}
	}
	if x.PageSize <= 0 {
		return &indexValidationError{Field: "page_size", Message: "must be positive"}
	}
	if x.Entries == nil {
		return &indexValidationError{Field: "entries", Message: "must not be nil (use empty slice for no entries)"}
	}

	seen := make(map[string]bool, len(x.Entries))
	for i, e := range x.Entries {
		if e.Slug == "" {
			return &indexValidationError{
				Field:   fmt.Sprintf("entries[%d].slug", i),
				Message: "is required",
			}
		}
		if seen[e.Slug] {
			return &indexValidationError{
				Field:   fmt.Sprintf("entries[%d].slug", i),
				Message: fmt.Sprintf("duplicate slug %q", e.Slug),
			}
		}
		seen[e.Slug] = true

		if e.File == "" {
			return &indexValidationError{
				Field:   fmt.Sprintf("entries[%d].file", i),
				Message: "is required",
			}
		}
		if e.EntityID < 0 {
			return &indexValidationError{
				Field:   fmt.Sprintf("entries[%d].entity_id", i),
				Message: "must be non-negative",
			}
		}
		if e.SizeBytes < 0 {
			return &indexValidationError{
				Field:   fmt.Sprintf("entries[%d].size_bytes", i),
				Message: "must be non-negative",
			}
		}
	}

	return nil
}
