package pagevfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// Read session
// -----------------------------------------------------------------------------

// Session is one engine-facing read handle on a hosted database file. It
// wraps a shared RemoteFile with a correlation id and a closed guard;
// closing a session never tears down the handle or its cached pages, which
// other sessions on the same file keep using.
type Session struct {
	id     string
	file   *RemoteFile
	route  Route
	log    logrus.FieldLogger
	closed atomic.Bool
}

func newSession(file *RemoteFile, route Route, log logrus.FieldLogger) *Session {
	id := uuid.NewString()
	return &Session{
		id:    id,
		file:  file,
		route: route,
		log:   log.WithField("session", id),
	}
}

// ID returns the session's correlation id.
func (s *Session) ID() string {
	return s.id
}

// Route returns the routing metadata the session was opened with. Sessions
// opened with OpenFile carry only the file path.
func (s *Session) Route() Route {
	return s.route
}

// Size returns the file length in bytes.
func (s *Session) Size() int64 {
	return s.file.Size()
}

// PageSize returns the page size the file is read with.
func (s *Session) PageSize() int {
	return s.file.PageSize()
}

// NumPages returns how many pages the file spans.
func (s *Session) NumPages() int64 {
	return s.file.NumPages()
}

// Identity returns the snapshot the session currently reads from. It
// changes only when Revalidate adopts a republished file.
func (s *Session) Identity() FileIdentity {
	return s.file.Identity()
}

// Mode reports how the file is served: "ranged" or "full".
func (s *Session) Mode() string {
	return s.file.Mode()
}

// ReadPage returns page bytes by 0-based index. Full pages are PageSize
// long; the final page may be shorter. The returned slice is shared cache
// memory and must not be modified.
//
// Returns ErrSessionClosed after Close, ErrRangeUnsatisfiable for pages
// past the end of the file, and ErrStaleFile if the remote object stopped
// matching the identity the session was opened with.
func (s *Session) ReadPage(ctx context.Context, page int64) ([]byte, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("pagevfs: reading page %d: %w", page, ErrSessionClosed)
	}
	return s.file.ReadPage(ctx, page)
}

// PageReader returns the session's read callback in the form the embedded
// engine binds to.
func (s *Session) PageReader() PageReadFunc {
	return s.ReadPage
}

// ReaderAt adapts the session to io.ReaderAt for engine integrations that
// consume byte offsets instead of page indexes. Reads assemble spans from
// cached pages and are bounded by the context captured here, since the
// io.ReaderAt signature has no context parameter.
func (s *Session) ReaderAt(ctx context.Context) io.ReaderAt {
	return &sessionReaderAt{session: s, baseCtx: ctx}
}

// Revalidate re-checks the remote object against the session's identity and
// adopts the current snapshot if it changed, dropping the file's cached
// pages. Returns ErrStaleFile only if the object changed again during
// adoption.
func (s *Session) Revalidate(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("pagevfs: revalidating: %w", ErrSessionClosed)
	}
	return s.file.Revalidate(ctx)
}

// Close marks the session closed. Close is idempotent and never fails;
// later reads fail with ErrSessionClosed.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.log.Debug("session closed")
	return nil
}

// sessionReaderAt serves io.ReaderAt over session pages.
type sessionReaderAt struct {
	session *Session
	baseCtx context.Context
}

var _ io.ReaderAt = (*sessionReaderAt)(nil)

func (r *sessionReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("pagevfs: negative read offset")
	}

	size := r.session.Size()
	if off >= size {
		return 0, io.EOF
	}

	ps := int64(r.session.PageSize())
	n := 0
	for n < len(p) && off < size {
		page := off / ps
		data, err := r.session.ReadPage(r.baseCtx, page)
		if err != nil {
			return n, err
		}
		c := copy(p[n:], data[off-page*ps:])
		n += c
		off += int64(c)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
