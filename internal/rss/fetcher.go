// Package rss provides feed fetching and parsing.
package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/logger"
	"github.com/bryan-buckman/aurora/internal/metrics"
	"github.com/bryan-buckman/aurora/internal/model"
)

// Fetch defaults.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "Aurora-RSS-Reader/1.0"

	// maxFeedBytes caps the size of a downloaded document.
	maxFeedBytes = 10 << 20
	// maxErrorBody caps how much of a failed response is read.
	maxErrorBody = 4 << 10
)

// Per-domain politeness.
const (
	// MaxConcurrencyPerDomain limits parallel requests to any single domain
	MaxConcurrencyPerDomain = 2
	// DelayBetweenDomainRequests is the minimum delay between requests to the same domain
	DelayBetweenDomainRequests = 500 * time.Millisecond
)

// domainLimiter controls rate limiting per domain to avoid overwhelming hosts.
type domainLimiter struct {
	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
	spacing     time.Duration
}

func newDomainLimiter(spacing time.Duration) *domainLimiter {
	return &domainLimiter{
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
		spacing:     spacing,
	}
}

// acquire gets a slot for the domain, blocking if necessary.
// It also enforces the minimum delay between requests to the same domain.
func (dl *domainLimiter) acquire(ctx context.Context, domain string) error {
	dl.mu.Lock()
	sem, ok := dl.semaphores[domain]
	if !ok {
		sem = make(chan struct{}, MaxConcurrencyPerDomain)
		dl.semaphores[domain] = sem
	}
	dl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	dl.mu.Lock()
	lastReq := dl.lastRequest[domain]
	dl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < dl.spacing {
			timer := time.NewTimer(dl.spacing - elapsed)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release returns a slot for the domain and records the request time.
func (dl *domainLimiter) release(domain string) {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	dl.lastRequest[domain] = time.Now()
	if sem, ok := dl.semaphores[domain]; ok {
		<-sem
	}
}

// Store is the persistence the fetcher needs.
type Store interface {
	GetFeedByID(ctx context.Context, id string) (*model.Feed, error)
	FindEntry(ctx context.Context, feedID, url string) (*model.Entry, error)
	InsertEntry(ctx context.Context, entry *model.Entry) error
	UpdateFeed(ctx context.Context, feed *model.Feed) error
}

// FetchResult summarizes one successful fetch.
type FetchResult struct {
	EntriesCount    int   `json:"entries_count"`
	NewEntriesCount int   `json:"new_entries_count"`
	ElapsedMs       int64 `json:"elapsed_ms"`
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Interface) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// withDomainSpacing shortens the politeness delay in tests.
func withDomainSpacing(d time.Duration) Option {
	return func(f *Fetcher) { f.limiter.spacing = d }
}

// Fetcher downloads feeds and stores their new entries.
type Fetcher struct {
	store     Store
	client    *http.Client
	userAgent string
	limiter   *domainLimiter
	log       logger.Interface
	metrics   *metrics.Metrics
}

// NewFetcher creates a fetcher backed by store.
func NewFetcher(store Store, opts ...Option) *Fetcher {
	f := &Fetcher{
		store:     store,
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
		limiter:   newDomainLimiter(DelayBetweenDomainRequests),
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.metrics == nil {
		f.metrics = metrics.New(nil)
	}
	return f
}

// FetchFeed downloads the feed with the given id, stores entries whose URL
// is not yet known for that feed and marks the feed as successfully fetched.
// Failures are returned as *FetchError; recording them on the feed is the
// caller's job.
func (f *Fetcher) FetchFeed(ctx context.Context, feedID string) (result *FetchResult, err error) {
	start := time.Now()
	defer func() { f.metrics.FeedFetchesTotal.WithLabelValues(outcome(err)).Inc() }()

	feed, err := f.store.GetFeedByID(ctx, feedID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, newFetchError(apperr.ErrNotFound, feedID, "", err)
		}
		return nil, newFetchError(apperr.ErrPersistence, feedID, "", err)
	}

	host, err := validateFeedURL(feed.URL)
	if err != nil {
		return nil, newFetchError(apperr.ErrValidation, feedID, feed.URL, err)
	}

	log := f.log.With("feed_id", feed.ID, "url", feed.URL)
	log.Debug("Fetching feed")

	body, err := f.download(ctx, feed, host)
	if err != nil {
		return nil, err
	}

	parsed, err := Parse(body)
	if err != nil {
		return nil, newFetchError(apperr.ErrParse, feedID, feed.URL, err)
	}

	// Backfill the title of feeds added by URL only.
	if parsed.Title != "" && feed.Title == feed.URL {
		log.Info("Updated feed title", "title", parsed.Title)
		feed.Title = parsed.Title
	}

	candidates, err := f.newEntries(ctx, feed.ID, parsed.Entries)
	if err != nil {
		return nil, newFetchError(apperr.ErrPersistence, feedID, feed.URL, err)
	}

	inserted := 0
	for _, pe := range candidates {
		now := time.Now().UTC()
		entry := &model.Entry{
			ID:          uuid.NewString(),
			FeedID:      feed.ID,
			Title:       pe.Title,
			URL:         pe.URL,
			Author:      pe.Author,
			Content:     pe.Content,
			Summary:     pe.Summary,
			PublishedAt: pe.PublishedAt,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := f.store.InsertEntry(ctx, entry); err != nil {
			log.Warn("Failed to insert entry", "entry_url", pe.URL, "error", err)
			continue
		}
		inserted++
	}
	f.metrics.EntriesInsertedTotal.Add(float64(inserted))

	now := time.Now().UTC()
	status := model.StatusSuccess
	feed.LastFetchedAt = &now
	feed.LastStatus = &status
	feed.ErrorCount = 0
	if err := f.store.UpdateFeed(ctx, feed); err != nil {
		return nil, newFetchError(apperr.ErrPersistence, feedID, feed.URL, err)
	}

	result = &FetchResult{
		EntriesCount:    len(parsed.Entries),
		NewEntriesCount: inserted,
		ElapsedMs:       time.Since(start).Milliseconds(),
	}
	log.Info("Fetched feed",
		"entries", result.EntriesCount,
		"candidates", len(candidates),
		"inserted", inserted,
		"elapsed_ms", result.ElapsedMs)
	return result, nil
}

func (f *Fetcher) download(ctx context.Context, feed *model.Feed, host string) ([]byte, error) {
	if err := f.limiter.acquire(ctx, host); err != nil {
		return nil, newFetchError(apperr.ErrUpstream, feed.ID, feed.URL, err)
	}
	defer f.limiter.release(host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return nil, newFetchError(apperr.ErrValidation, feed.ID, feed.URL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/atom+xml, application/rss+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, newFetchError(apperr.ErrUpstream, feed.ID, feed.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, httpError(feed.ID, feed.URL, resp.StatusCode, string(snippet))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, newFetchError(apperr.ErrUpstream, feed.ID, feed.URL, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

// newEntries returns the parsed entries whose URL is not stored for the
// feed yet. Entries without a URL and repeats within the document are dropped.
func (f *Fetcher) newEntries(ctx context.Context, feedID string, entries []ParsedEntry) ([]ParsedEntry, error) {
	seen := make(map[string]struct{}, len(entries))
	var out []ParsedEntry
	for _, pe := range entries {
		if pe.URL == "" {
			continue
		}
		if _, dup := seen[pe.URL]; dup {
			continue
		}
		seen[pe.URL] = struct{}{}

		_, err := f.store.FindEntry(ctx, feedID, pe.URL)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			out = append(out, pe)
		case err != nil:
			return nil, fmt.Errorf("look up entry %s: %w", pe.URL, err)
		}
	}
	return out, nil
}

// validateFeedURL requires an absolute http(s) URL and returns its host.
func validateFeedURL(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty feed url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("feed url has no host")
	}
	return u.Host, nil
}

// ValidateFeedURL reports whether raw is acceptable as a feed URL.
func ValidateFeedURL(raw string) error {
	if _, err := validateFeedURL(raw); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	return nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	case errors.Is(err, apperr.ErrParse):
		return "parse_error"
	case errors.Is(err, apperr.ErrPersistence):
		return "persistence_error"
	default:
		return "upstream_error"
	}
}
