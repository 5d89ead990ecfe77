package scraper

import (
	"github.com/PentesterFlow/OpenScraper/internal/archive"
	"github.com/PentesterFlow/OpenScraper/internal/logger"
	"github.com/PentesterFlow/OpenScraper/internal/metrics"
)

// Option is a functional option for configuring the Scraper.
type Option func(*Scraper) error

// WithConfig replaces the whole configuration.
func WithConfig(config *Config) Option {
	return func(s *Scraper) error {
		if config != nil {
			s.config = config
		}
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Scraper) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithProvider sets the browser session provider. Without one a rod browser
// pool is created from the browser configuration.
func WithProvider(p Provider) Option {
	return func(s *Scraper) error {
		s.provider = p
		return nil
	}
}

// WithArchive sets an open capture archive. The caller keeps ownership.
func WithArchive(a *archive.Store) Option {
	return func(s *Scraper) error {
		s.archive = a
		return nil
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Scraper) error {
		if m != nil {
			s.metrics = m
		}
		return nil
	}
}
