package pagevfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

// -----------------------------------------------------------------------------
// HTTP host
// -----------------------------------------------------------------------------

// HTTPHost serves hosted objects from a static HTTP base URL using exact
// Range requests. It retries transient failures (transport errors, 5xx)
// with exponential backoff and maps everything else to typed errors.
type HTTPHost struct {
	base      *url.URL
	hc        *http.Client
	userAgent string
	timeout   time.Duration
	attempts  uint
	log       logrus.FieldLogger
}

var _ Host = (*HTTPHost)(nil)

// NewHTTPHost creates a host rooted at baseURL.
//
// Default behavior:
//   - http.DefaultClient transport
//   - 30s per-attempt timeout
//   - 3 attempts for transient failures
//
// Use option functions to override defaults:
//   - WithHTTPClient, WithFetchTimeout, WithRetryAttempts, WithUserAgent,
//     WithLogger
func NewHTTPHost(baseURL string, opts ...Option) (*HTTPHost, error) {
	if baseURL == "" {
		return nil, errors.New("pagevfs: base URL is required")
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("pagevfs: base URL scheme must be http or https, got %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	hc := cfg.httpClient
	if hc == nil {
		hc = http.DefaultClient
	}

	return &HTTPHost{
		base:      u,
		hc:        hc,
		userAgent: cfg.userAgent,
		timeout:   cfg.fetchTimeout,
		attempts:  cfg.retryAttempts,
		log:       cfg.log,
	}, nil
}

// BaseURL returns the host's root URL.
func (h *HTTPHost) BaseURL() string {
	return h.base.String()
}

// objectURL validates an object path and resolves it against the base URL.
func (h *HTTPHost) objectURL(p string) (string, error) {
	if p == "" {
		return "", ErrInvalidPath
	}

	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "", ErrInvalidPath
	}

	return h.base.JoinPath(cleaned).String(), nil
}

func (h *HTTPHost) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("pagevfs: building request: %w", err)
	}
	req.Header.Set("User-Agent", h.userAgent)
	return req, nil
}

// retryOptions builds the transient-failure retry policy: bounded attempts
// with exponential backoff, aborting as soon as the error is not transient.
func (h *HTTPHost) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(h.attempts),
		retry.Delay(100 * time.Millisecond),
		retry.MaxDelay(1 * time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isTransient),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	}
}

// isTransient reports whether a fetch failure is worth retrying.
func isTransient(err error) bool {
	return errors.Is(err, ErrServerError) || errors.Is(err, ErrUnreachable)
}

// Stat returns object length and change token via a HEAD request.
//
// Hosts that reject HEAD with 405 are probed with a one-byte ranged GET
// instead, parsing the total length out of Content-Range.
func (h *HTTPHost) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	rawURL, err := h.objectURL(p)
	if err != nil {
		return ObjectInfo{}, err
	}

	var attemptsMade int
	var lastStatus int

	info, err := retry.DoWithData(func() (ObjectInfo, error) {
		attemptsMade++

		attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		req, err := h.newRequest(attemptCtx, http.MethodHead, rawURL)
		if err != nil {
			return ObjectInfo{}, err
		}

		resp, err := h.hc.Do(req)
		if err != nil {
			return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		defer closer(resp.Body)()
		lastStatus = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusOK:
			return h.objectInfo(p, resp), nil
		case resp.StatusCode == http.StatusMethodNotAllowed:
			return h.statViaGet(attemptCtx, p, rawURL)
		default:
			return ObjectInfo{}, classifyStatus(resp.StatusCode)
		}
	}, h.retryOptions(ctx)...)
	if err != nil {
		return ObjectInfo{}, h.fetchError(p, lastStatus, attemptsMade, err)
	}

	return info, nil
}

// statViaGet probes object metadata with a one-byte ranged GET for hosts
// that reject HEAD.
func (h *HTTPHost) statViaGet(ctx context.Context, p, rawURL string) (ObjectInfo, error) {
	req, err := h.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return ObjectInfo{}, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := h.hc.Do(req)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer closer(resp.Body)()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		info := h.objectInfo(p, resp)
		if _, _, total, ok := parseContentRange(resp.Header.Get("Content-Range")); ok {
			info.Size = total
		}
		return info, nil
	case http.StatusOK:
		// Host ignores ranges; the full response still carries the length.
		return h.objectInfo(p, resp), nil
	default:
		return ObjectInfo{}, classifyStatus(resp.StatusCode)
	}
}

// objectInfo extracts metadata from response headers.
func (h *HTTPHost) objectInfo(p string, resp *http.Response) ObjectInfo {
	info := ObjectInfo{
		Path: p,
		Size: resp.ContentLength,
		ETag: resp.Header.Get("ETag"),
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			info.ModTime = t
		}
	}
	return info
}

// FetchRange returns exactly the inclusive span [start, end] of the object.
//
// A non-empty token is sent as If-Range, so a host that honors validators
// answers with a full body when the object changed; that surfaces as
// ErrRangeUnsupported and the caller disambiguates against the host's
// proven capability.
func (h *HTTPHost) FetchRange(ctx context.Context, p string, start, end int64, token string) ([]byte, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("pagevfs: invalid span [%d, %d]: %w", start, end, ErrRangeUnsatisfiable)
	}

	rawURL, err := h.objectURL(p)
	if err != nil {
		return nil, err
	}

	want := end - start + 1
	var attemptsMade int
	var lastStatus int

	data, err := retry.DoWithData(func() ([]byte, error) {
		attemptsMade++

		attemptCtx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()

		req, err := h.newRequest(attemptCtx, http.MethodGet, rawURL)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
		if token != "" {
			req.Header.Set("If-Range", token)
		}

		resp, err := h.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		defer closer(resp.Body)()
		lastStatus = resp.StatusCode

		switch resp.StatusCode {
		case http.StatusPartialContent:
			if cs, ce, _, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && (cs != start || ce != end) {
				return nil, fmt.Errorf("pagevfs: host returned span [%d, %d] for requested [%d, %d]: %w",
					cs, ce, start, end, ErrRangeUnsupported)
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, want+1))
			if err != nil {
				return nil, fmt.Errorf("%w: reading range body: %v", ErrUnreachable, err)
			}
			if int64(len(body)) != want {
				return nil, fmt.Errorf("pagevfs: host returned %d bytes for a %d byte span: %w",
					len(body), want, ErrRangeUnsupported)
			}
			return body, nil
		case http.StatusOK:
			// Full body on a ranged request: either no range support, or an
			// If-Range validator mismatch. The file handle disambiguates.
			return nil, ErrRangeUnsupported
		case http.StatusRequestedRangeNotSatisfiable:
			return nil, ErrRangeUnsatisfiable
		case http.StatusPreconditionFailed:
			return nil, ErrStaleFile
		default:
			return nil, classifyStatus(resp.StatusCode)
		}
	}, h.retryOptions(ctx)...)
	if err != nil {
		return nil, h.fetchError(p, lastStatus, attemptsMade, err)
	}

	h.log.WithFields(logrus.Fields{"path": p, "start": start, "end": end}).
		Debug("range fetched")
	return data, nil
}

// FetchAll streams the whole object.
//
// Only response establishment is retried; transport failures while the body
// streams surface to the reader. The per-attempt timeout is not applied so
// large downloads are not truncated mid-body; cancel via ctx.
func (h *HTTPHost) FetchAll(ctx context.Context, p string) (io.ReadCloser, error) {
	rawURL, err := h.objectURL(p)
	if err != nil {
		return nil, err
	}

	var attemptsMade int
	var lastStatus int

	body, err := retry.DoWithData(func() (io.ReadCloser, error) {
		attemptsMade++

		req, err := h.newRequest(ctx, http.MethodGet, rawURL)
		if err != nil {
			return nil, err
		}

		resp, err := h.hc.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		lastStatus = resp.StatusCode

		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, classifyStatus(resp.StatusCode)
		}
		return resp.Body, nil
	}, h.retryOptions(ctx)...)
	if err != nil {
		return nil, h.fetchError(p, lastStatus, attemptsMade, err)
	}

	h.log.WithField("path", p).Debug("full fetch started")
	return body, nil
}

// fetchError attaches transport detail to exhausted transient failures.
// Logical errors pass through untouched so errors.Is dispatch stays exact.
func (h *HTTPHost) fetchError(p string, status, attempts int, err error) error {
	if isTransient(err) {
		return &FetchError{Path: p, Status: status, Attempts: attempts, Err: err}
	}
	return err
}

// classifyStatus maps a non-2xx status to its sentinel.
//
// 401/403 map to ErrNotFound: S3-style static hosts answer 403 for keys the
// caller cannot see, which for a read-only consumer means the same thing.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("pagevfs: status %d: %w", status, ErrNotFound)
	case status >= 500:
		return fmt.Errorf("pagevfs: status %d: %w", status, ErrServerError)
	default:
		return fmt.Errorf("pagevfs: unexpected status %d: %w", status, ErrUnreachable)
	}
}

// parseContentRange parses "bytes start-end/total". The total is -1 when
// the host reports "*".
func parseContentRange(v string) (start, end, total int64, ok bool) {
	if v == "" {
		return 0, 0, 0, false
	}
	if _, err := fmt.Sscanf(v, "bytes %d-%d/%d", &start, &end, &total); err == nil {
		return start, end, total, true
	}
	if _, err := fmt.Sscanf(v, "bytes %d-%d/*", &start, &end); err == nil {
		return start, end, -1, true
	}
	return 0, 0, 0, false
}
