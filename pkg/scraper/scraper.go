// Package scraper loads pages in a headless browser and turns what it
// records into rendered text, raw HTML and a network analysis.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/PentesterFlow/OpenScraper/internal/archive"
	"github.com/PentesterFlow/OpenScraper/internal/browser"
	apperrors "github.com/PentesterFlow/OpenScraper/internal/errors"
	"github.com/PentesterFlow/OpenScraper/internal/logger"
	"github.com/PentesterFlow/OpenScraper/internal/metrics"
	"github.com/PentesterFlow/OpenScraper/internal/ratelimit"
	"github.com/PentesterFlow/OpenScraper/pkg/analysis"
	"github.com/PentesterFlow/OpenScraper/pkg/har"
)

// Version is the service version written into archived HAR documents.
const Version = "1.0.0"

// MsgURLRequired is the validation message for a missing url.
const MsgURLRequired = "URL is required"

// Provider opens browser sessions and returns what a page load produced.
type Provider interface {
	CaptureDetailed(ctx context.Context, url string) (*browser.DetailedResult, error)
	CaptureSimple(ctx context.Context, url string) (*browser.SimpleResult, error)
	Close() error
}

// poolStatser is implemented by providers that report pool usage.
type poolStatser interface {
	Stats() browser.PoolStats
}

// DetailedResult is the outcome of a detailed scrape.
type DetailedResult struct {
	URL             string
	FinalURL        string
	Analysis        *analysis.Result
	Capture         *har.Capture
	RenderedContent string
	RawHTML         string
	CaptureID       string
	Duration        time.Duration
}

// SimpleResult is the outcome of a simple scrape.
type SimpleResult struct {
	URL             string
	RenderedContent string
	Duration        time.Duration
}

// Scraper coordinates admission, the browser provider, analysis and
// archiving. It is safe for concurrent use.
type Scraper struct {
	config   *Config
	provider Provider
	limiter  *ratelimit.Limiter
	breakers *apperrors.HostCircuitBreakers
	retrier  *apperrors.Retrier
	archive  *archive.Store
	metrics  *metrics.Collector
	logger   *logger.Logger

	ownsArchive bool
}

// New creates a scraper with the given options.
func New(opts ...Option) (*Scraper, error) {
	s := &Scraper{
		config:  DefaultConfig(),
		metrics: metrics.New(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if s.logger == nil {
		level, _ := logger.ParseLevel(s.config.Log.Level)
		s.logger = logger.New(logger.Config{
			Level:  level,
			Pretty: s.config.Log.Pretty,
		})
	}
	s.logger = s.logger.WithComponent("scraper")

	if s.provider == nil {
		s.provider = browser.NewPool(s.config.Browser)
	}

	if s.archive == nil && s.config.Archive.Enabled {
		store, err := archive.Open(s.config.Archive, Version)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		s.archive = store
		s.ownsArchive = true
	}

	if s.config.RateLimit.Enabled {
		s.limiter = ratelimit.NewLimiter(s.config.RateLimit)
	}
	s.retrier = apperrors.NewRetrier(s.config.Retry)
	s.breakers = apperrors.NewHostCircuitBreakers(s.config.CircuitBreaker)
	s.breakers.OnStateChange(func(host string, from, to apperrors.CircuitState) {
		s.logger.WithField("host", host).Warnf("Circuit %s -> %s", from, to)
	})

	return s, nil
}

// Detailed loads rawURL and returns its network analysis, rendered text and
// raw HTML.
func (s *Scraper) Detailed(ctx context.Context, rawURL string) (*DetailedResult, error) {
	host, err := s.admit(rawURL)
	if err != nil {
		return nil, err
	}
	defer s.metrics.Begin()()

	start := time.Now()
	var page *browser.DetailedResult
	err = s.guard(ctx, host, rawURL, func(ctx context.Context) error {
		res, err := s.provider.CaptureDetailed(ctx, rawURL)
		if err != nil {
			return err
		}
		page = res
		return nil
	})
	if err != nil {
		return nil, s.fail(err, rawURL)
	}

	result := analysis.Analyze(page.Capture)
	if n := result.Skipped(); n > 0 {
		s.logger.SkippedRecordsEvent(rawURL, n, result.Diagnostics[0])
	}
	s.metrics.RecordAnalysis(page.Capture.Len(), result.Skipped(), result.PerformanceMetrics.ResourceSizes.Total())

	out := &DetailedResult{
		URL:             rawURL,
		FinalURL:        page.FinalURL,
		Analysis:        result,
		Capture:         page.Capture,
		RenderedContent: page.RenderedText,
		RawHTML:         page.RawHTML,
		Duration:        time.Since(start),
	}

	if s.archive != nil {
		rec, err := s.archive.Put(rawURL, page.FinalURL, page.Capture, result.Skipped())
		if err != nil {
			s.logger.ErrorEvent(err, rawURL, "archive")
			s.metrics.RecordError(apperrors.Storage.String())
		} else {
			out.CaptureID = rec.ID
		}
	}

	s.metrics.RecordScrape(true, out.Duration)
	s.logger.ScrapeEvent("detailed", rawURL, page.Capture.Len(), out.Duration)
	return out, nil
}

// Simple loads rawURL and returns its rendered text on one line.
func (s *Scraper) Simple(ctx context.Context, rawURL string) (*SimpleResult, error) {
	host, err := s.admit(rawURL)
	if err != nil {
		return nil, err
	}
	defer s.metrics.Begin()()

	start := time.Now()
	var page *browser.SimpleResult
	err = s.guard(ctx, host, rawURL, func(ctx context.Context) error {
		res, err := s.provider.CaptureSimple(ctx, rawURL)
		if err != nil {
			return err
		}
		page = res
		return nil
	})
	if err != nil {
		return nil, s.fail(err, rawURL)
	}

	out := &SimpleResult{
		URL:             rawURL,
		RenderedContent: page.RenderedText,
		Duration:        time.Since(start),
	}
	s.metrics.RecordScrape(false, out.Duration)
	s.logger.ScrapeEvent("simple", rawURL, 0, out.Duration)
	return out, nil
}

// admit validates rawURL and applies the admission limits. It returns the
// target host.
func (s *Scraper) admit(rawURL string) (string, error) {
	host, err := targetHost(rawURL)
	if err != nil {
		s.metrics.RecordError(apperrors.Validation.String())
		return "", err
	}

	if s.limiter != nil && !s.limiter.AllowHost(host) {
		s.metrics.RecordRejected()
		return "", apperrors.NewRateLimitError(rawURL)
	}
	return host, nil
}

// targetHost returns the host of an absolute http(s) URL.
func targetHost(rawURL string) (string, error) {
	if rawURL == "" {
		return "", apperrors.NewValidationError(rawURL, MsgURLRequired)
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperrors.NewValidationError(rawURL, "URL must be an absolute http(s) URL")
	}
	return u.Hostname(), nil
}

// guard runs capture through the host's circuit breaker with retries.
func (s *Scraper) guard(ctx context.Context, host, rawURL string, capture apperrors.RetryFunc) error {
	return s.breakers.Execute(host, func() error {
		res := s.retrier.Do(ctx, "capture", rawURL, func(ctx context.Context) error {
			if err := capture(ctx); err != nil {
				return classify(err, rawURL)
			}
			return nil
		})
		for i := 1; i < res.Attempts; i++ {
			s.metrics.RecordRetry()
		}
		if res.Attempts > 1 {
			s.logger.WithURL(rawURL).Debugf("Capture took %d attempts", res.Attempts)
		}
		if !res.Success {
			return res.LastError
		}
		return nil
	})
}

// classify maps provider failures onto the error taxonomy. Anything not
// recognized as a timeout, network or cancellation error is a browser
// failure.
func classify(err error, rawURL string) error {
	ce := apperrors.Categorize(err, rawURL)
	if ce.Type == apperrors.Unknown {
		return apperrors.NewUpstreamError(rawURL, "capture", err)
	}
	return ce
}

func (s *Scraper) fail(err error, rawURL string) error {
	var open *apperrors.CircuitOpenError
	if errors.As(err, &open) {
		s.metrics.RecordRejected()
	} else {
		s.metrics.RecordError(apperrors.GetErrorType(err).String())
	}
	s.logger.ErrorEvent(err, rawURL, "scrape")
	return err
}

// Archive returns the capture archive, or nil when archiving is disabled.
func (s *Scraper) Archive() *archive.Store {
	return s.archive
}

// Config returns the active configuration.
func (s *Scraper) Config() *Config {
	return s.config
}

// Metrics returns the metrics collector.
func (s *Scraper) Metrics() *metrics.Collector {
	return s.metrics
}

// Stats is a point-in-time view of the scraper.
type Stats struct {
	Metrics  *metrics.Snapshot                        `json:"metrics"`
	Pool     *browser.PoolStats                       `json:"pool,omitempty"`
	Limiter  *ratelimit.Stats                         `json:"rate_limit,omitempty"`
	Circuits map[string]apperrors.CircuitBreakerStats `json:"circuits"`
	Archived int                                      `json:"archived"`
}

// PoolStats returns browser pool statistics when the provider reports them.
func (s *Scraper) PoolStats() (browser.PoolStats, bool) {
	ps, ok := s.provider.(poolStatser)
	if !ok {
		return browser.PoolStats{}, false
	}
	return ps.Stats(), true
}

// Stats returns current statistics.
func (s *Scraper) Stats() Stats {
	st := Stats{Circuits: s.breakers.AllStats()}

	if pool, ok := s.PoolStats(); ok {
		s.metrics.SetBrowserPoolStats(int64(pool.Size), int64(pool.InUse))
		st.Pool = &pool
	}
	if s.limiter != nil {
		ls := s.limiter.Stats()
		st.Limiter = &ls
	}
	if s.archive != nil {
		st.Archived = s.archive.Count()
	}
	st.Metrics = s.metrics.Snapshot()
	return st
}

// Close releases the provider and any archive the scraper opened itself.
func (s *Scraper) Close() error {
	var errs []error
	if s.provider != nil {
		if err := s.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close provider: %w", err))
		}
	}
	if s.ownsArchive && s.archive != nil {
		if err := s.archive.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close archive: %w", err))
		}
	}
	return errors.Join(errs...)
}
