// Package icon resolves, caches and expires favicons per site domain.
package icon

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bryan-buckman/aurora/internal/apperr"
	"github.com/bryan-buckman/aurora/internal/logger"
	"github.com/bryan-buckman/aurora/internal/metrics"
	"github.com/bryan-buckman/aurora/internal/model"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultUserAgent   = "Aurora-RSS-Reader/1.0 Icon-Fetcher"
	DefaultContentType = "image/x-icon"

	// MaxIconBytes is the largest payload accepted.
	MaxIconBytes = 1 << 20

	// CacheTTL is how long a fetched icon is served from cache.
	CacheTTL = 7 * 24 * time.Hour
	// RetryAfter is the expiry given to a domain once it has failed
	// FailureThreshold times.
	RetryAfter = time.Hour
	// FailureThreshold is the error count at which a domain is negatively
	// cached and becomes eligible for cleanup.
	FailureThreshold = 3
)

// candidateTemplates are tried in order; %s is the normalized domain.
var candidateTemplates = []string{
	"https://%s/favicon.ico",
	"https://%s/favicon.png",
	"https://%s/apple-touch-icon.png",
	"https://%s/apple-touch-icon-precomposed.png",
	"https://www.%s/favicon.ico",
	"https://icons.duckduckgo.com/ip3/%s.ico",
	"https://www.google.com/s2/favicons?domain=%s",
}

// Store is the icon cache persistence.
type Store interface {
	FindIcon(ctx context.Context, domain string) (*model.IconCacheRecord, error)
	UpsertIcon(ctx context.Context, rec *model.IconCacheRecord) error
	DeleteStaleIcons(ctx context.Context, now time.Time, minErrors int) (int64, error)
	ListIconsWithPayload(ctx context.Context) ([]model.IconCacheRecord, error)
}

// Result is an icon returned to callers.
type Result struct {
	Domain   string `json:"domain"`
	IconURL  string `json:"icon_url"`
	IconData string `json:"icon_data"` // base64
	IconType string `json:"icon_type"`
	IconSize int    `json:"icon_size"`
	Cached   bool   `json:"cached"`
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithTimeout sets the per-candidate timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Service) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Interface) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service looks up icons for domains.
type Service struct {
	store     Store
	client    *http.Client
	timeout   time.Duration
	userAgent string
	log       logger.Interface
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewService creates an icon service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		client:    &http.Client{},
		timeout:   DefaultTimeout,
		userAgent: DefaultUserAgent,
		log:       logger.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New(nil)
	}
	return s
}

// NormalizeDomain reduces a domain or URL to a lowercase host without
// scheme, leading "www.", port, path, query or trailing dots. The result
// normalizes to itself.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(raw)
	for {
		next := normalizeOnce(d)
		if next == d {
			return d
		}
		d = next
	}
}

func normalizeOnce(d string) string {
	d = strings.TrimSpace(d)
	if i := strings.Index(d, "://"); i >= 0 {
		d = d[i+3:]
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.TrimRight(strings.TrimSpace(d), ".")
	for strings.HasPrefix(d, "www.") {
		d = strings.TrimPrefix(d, "www.")
	}
	return d
}

// Candidates lists the URLs tried for a normalized domain, in order.
func Candidates(domain string) []string {
	return lo.Map(candidateTemplates, func(tpl string, _ int) string {
		return fmt.Sprintf(tpl, domain)
	})
}

// GetIcon returns the icon for domain, from cache when allowed. A nil result
// with a nil error means no icon could be found.
func (s *Service) GetIcon(ctx context.Context, domain string, forceRefresh bool) (*Result, error) {
	d := NormalizeDomain(domain)
	if d == "" {
		return nil, fmt.Errorf("domain %q: %w", domain, apperr.ErrValidation)
	}

	rec, err := s.store.FindIcon(ctx, d)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", apperr.ErrPersistence, err)
	}
	if err != nil {
		rec = nil
	}

	now := s.now().UTC()
	if !forceRefresh && rec != nil {
		if rec.HasPayload() && (rec.ExpiresAt == nil || rec.ExpiresAt.After(now)) {
			s.metrics.IconLookupsTotal.WithLabelValues("cache_hit").Inc()
			return resultFrom(rec, true), nil
		}
		if !rec.HasPayload() && rec.ErrorCount >= FailureThreshold &&
			rec.ExpiresAt != nil && rec.ExpiresAt.After(now) {
			s.metrics.IconLookupsTotal.WithLabelValues("negative_hit").Inc()
			return nil, nil
		}
	}

	log := s.log.With("domain", d)
	for _, candidate := range Candidates(d) {
		data, contentType, err := s.fetch(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("icon lookup for %s: %w", d, ctx.Err())
			}
			log.Debug("Icon candidate failed", "url", candidate, "error", err)
			continue
		}

		if rec == nil {
			rec = &model.IconCacheRecord{Domain: d}
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		size := len(data)
		expires := now.Add(CacheTTL)
		rec.IconURL = &candidate
		rec.IconData = &encoded
		rec.IconType = &contentType
		rec.IconSize = &size
		rec.LastFetched = &now
		rec.ExpiresAt = &expires
		rec.ErrorCount = 0
		if err := s.store.UpsertIcon(ctx, rec); err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrPersistence, err)
		}
		s.metrics.IconLookupsTotal.WithLabelValues("fetched").Inc()
		log.Info("Fetched icon", "url", candidate, "size", size)
		return resultFrom(rec, false), nil
	}

	if err := s.recordFailure(ctx, d, rec, now); err != nil {
		return nil, err
	}
	s.metrics.IconLookupsTotal.WithLabelValues("not_found").Inc()
	log.Warn("No icon found")
	return nil, nil
}

func (s *Service) recordFailure(ctx context.Context, domain string, rec *model.IconCacheRecord, now time.Time) error {
	if rec == nil {
		rec = &model.IconCacheRecord{Domain: domain}
	}
	rec.ErrorCount++
	rec.LastFetched = &now
	if rec.ErrorCount >= FailureThreshold {
		retry := now.Add(RetryAfter)
		rec.ExpiresAt = &retry
	}
	if err := s.store.UpsertIcon(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", apperr.ErrPersistence, err)
	}
	return nil
}

// fetch downloads one candidate. Only a 2xx response with a non-empty body
// of at most MaxIconBytes is accepted.
func (s *Service) fetch(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxIconBytes+1))
	if err != nil {
		return nil, "", err
	}
	switch {
	case len(data) == 0:
		return nil, "", errors.New("empty icon")
	case len(data) > MaxIconBytes:
		return nil, "", errors.New("icon too large")
	}

	contentType := strings.TrimSpace(resp.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = DefaultContentType
	}
	return data, contentType, nil
}

// ListIcons returns every cached icon with a payload, newest first.
func (s *Service) ListIcons(ctx context.Context) ([]model.IconCacheRecord, error) {
	recs, err := s.store.ListIconsWithPayload(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrPersistence, err)
	}
	return recs, nil
}

// Cleanup deletes records that have expired after failing repeatedly.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteStaleIcons(ctx, s.now().UTC(), FailureThreshold)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", apperr.ErrPersistence, err)
	}
	s.metrics.IconsCleanedUp.Add(float64(n))
	if n > 0 {
		s.log.Info("Cleaned up expired icons", "count", n)
	}
	return n, nil
}

func resultFrom(rec *model.IconCacheRecord, cached bool) *Result {
	return &Result{
		Domain:   rec.Domain,
		IconURL:  lo.FromPtr(rec.IconURL),
		IconData: lo.FromPtr(rec.IconData),
		IconType: lo.FromPtr(rec.IconType),
		IconSize: lo.FromPtr(rec.IconSize),
		Cached:   cached,
	}
}
