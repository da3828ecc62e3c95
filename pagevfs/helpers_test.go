package pagevfs

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// testContext returns a context canceled at test end, standing in for
// testing.T.Context on toolchains predating Go 1.24.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// quietLogger discards output, for tests that exercise warn paths.
func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestCache(t *testing.T, capacityPages int) *PageCache {
	t.Helper()
	c, err := NewPageCache(capacityPages, quietLogger())
	if err != nil {
		t.Fatalf("NewPageCache failed: %v", err)
	}
	return c
}

// indexDoc builds a valid index document with the given page size and
// entries.
func indexDoc(t *testing.T, pageSize int, entries []Route) []byte {
	t.Helper()
	if entries == nil {
		entries = []Route{}
	}
	data, err := json.Marshal(Index{
		SchemaName:    IndexSchemaName,
		FormatVersion: "1",
		GeneratedAt:   time.Date(2025, 11, 2, 9, 30, 0, 0, time.UTC),
		PageSize:      pageSize,
		Entries:       entries,
	})
	if err != nil {
		t.Fatalf("marshaling index: %v", err)
	}
	return data
}
