package pagevfs

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Defaults applied by New and NewHTTPHost.
const (
	// DefaultCacheBytes bounds the page cache when WithCacheBytes is not given.
	DefaultCacheBytes = 32 << 20

	// DefaultFetchTimeout bounds each fetch attempt, not a logical query.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultRetryAttempts bounds retries of transient fetch failures.
	DefaultRetryAttempts = 3

	// DefaultIndexPath is where the collection index is looked up when
	// WithIndexPath is not given.
	DefaultIndexPath = "index.json"

	defaultUserAgent = "pagevfs/1.0"
)

// config holds the resolved configuration shared by Client and HTTPHost.
type config struct {
	pageSize      int
	cacheBytes    int64
	indexPath     string
	fetchTimeout  time.Duration
	retryAttempts uint
	userAgent     string
	httpClient    *http.Client
	log           logrus.FieldLogger
}

func defaultConfig() *config {
	return &config{
		pageSize:      DefaultPageSize,
		cacheBytes:    DefaultCacheBytes,
		indexPath:     DefaultIndexPath,
		fetchTimeout:  DefaultFetchTimeout,
		retryAttempts: DefaultRetryAttempts,
		userAgent:     defaultUserAgent,
		log:           logrus.StandardLogger(),
	}
}

// Option adjusts client or host construction.
type Option func(*config)

// WithPageSize overrides the page size for direct-path sessions. Files
// resolved through an index always use the index's page_size.
func WithPageSize(n int) Option {
	return func(c *config) { c.pageSize = n }
}

// WithCacheBytes sets the page cache budget in bytes. The budget divides by
// the page size into an entry capacity; at least one page is always kept.
func WithCacheBytes(n int64) Option {
	return func(c *config) { c.cacheBytes = n }
}

// WithIndexPath sets the hosted path of the collection index document.
func WithIndexPath(p string) Option {
	return func(c *config) { c.indexPath = p }
}

// WithFetchTimeout bounds each fetch attempt.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *config) { c.fetchTimeout = d }
}

// WithRetryAttempts bounds how many times transient fetch failures
// (transport errors, 5xx) are attempted before surfacing.
func WithRetryAttempts(n uint) Option {
	return func(c *config) { c.retryAttempts = n }
}

// WithUserAgent sets the User-Agent header sent by HTTPHost.
func WithUserAgent(ua string) Option {
	return func(c *config) { c.userAgent = ua }
}

// WithHTTPClient supplies the http.Client used by HTTPHost. The client's
// own Timeout is left to the caller; per-attempt timeouts come from
// WithFetchTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithLogger supplies the logger. The default is the logrus standard
// logger, so library logging follows the process-wide level.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *config) { c.log = l }
}
