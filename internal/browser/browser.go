// Package browser provides headless Chrome page captures via Rod.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/PentesterFlow/OpenScraper/pkg/har"
)

// Config defines browser configuration.
type Config struct {
	PoolSize          int           `yaml:"pool_size" json:"pool_size"`
	Headless          bool          `yaml:"headless" json:"headless"`
	NoSandbox         bool          `yaml:"no_sandbox" json:"no_sandbox"`
	ChromePath        string        `yaml:"chrome_path" json:"chrome_path"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent"`
	ViewportWidth     int           `yaml:"viewport_width" json:"viewport_width"`
	ViewportHeight    int           `yaml:"viewport_height" json:"viewport_height"`
	RecycleAfter      int           `yaml:"recycle_after" json:"recycle_after"`
	IgnoreHTTPSErrors bool          `yaml:"ignore_https_errors" json:"ignore_https_errors"`
	IdleQuiet         time.Duration `yaml:"idle_quiet" json:"idle_quiet"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		PoolSize:       2,
		Headless:       true,
		NoSandbox:      true,
		Timeout:        30 * time.Second,
		UserAgent:      "",
		ViewportWidth:  1366,
		ViewportHeight: 768,
		RecycleAfter:   50,
		IdleQuiet:      500 * time.Millisecond,
		IdleTimeout:    10 * time.Second,
	}
}

// DetailedResult is the output of a detailed capture.
type DetailedResult struct {
	URL          string
	FinalURL     string
	Capture      *har.Capture
	RenderedText string
	RawHTML      string
	Duration     time.Duration
}

// SimpleResult is the output of a simple capture.
type SimpleResult struct {
	URL          string
	RenderedText string
	Duration     time.Duration
}

// Browser wraps a Rod browser instance.
type Browser struct {
	browser   *rod.Browser
	config    Config
	mu        sync.Mutex
	pageCount int
	closed    bool
}

// New launches and connects a browser.
func New(config Config) (*Browser, error) {
	l := launcher.New().Headless(config.Headless)

	if config.ChromePath != "" {
		l = l.Bin(config.ChromePath)
	}
	if config.NoSandbox {
		l = l.NoSandbox(true)
	}
	if config.IgnoreHTTPSErrors {
		l = l.Set("ignore-certificate-errors", "true")
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser: browser,
		config:  config,
	}, nil
}

// capture loads url in a fresh page. When record is set the page's network
// traffic is recorded into a capture.
func (b *Browser) capture(ctx context.Context, url string, record bool) (*DetailedResult, error) {
	b.mu.Lock()
	b.pageCount++
	b.mu.Unlock()

	start := time.Now()
	result := &DetailedResult{URL: url, FinalURL: url}

	page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	defer page.Close()

	pageCtx, cancelPage := context.WithCancel(ctx)
	defer cancelPage()
	page = page.Context(pageCtx)

	_ = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  b.config.ViewportWidth,
		Height: b.config.ViewportHeight,
	})

	if b.config.UserAgent != "" {
		_ = proto.NetworkSetUserAgentOverride{
			UserAgent: b.config.UserAgent,
		}.Call(page)
	}

	// The recorder also drives idle detection, so it runs in both modes.
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		return nil, fmt.Errorf("failed to enable network domain: %w", err)
	}
	rec := NewRecorder()
	go page.EachEvent(
		rec.OnRequest,
		rec.OnResponse,
		rec.OnFinished,
		rec.OnFailed,
	)()

	if err := page.Navigate(url); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	idleCtx, cancel := context.WithTimeout(ctx, b.config.IdleTimeout)
	idleErr := rec.WaitIdle(idleCtx, b.config.IdleQuiet)
	cancel()
	if idleErr != nil && ctx.Err() != nil {
		return nil, fmt.Errorf("wait idle: %w", ctx.Err())
	}

	if info, err := page.Info(); err == nil && info != nil {
		result.FinalURL = info.URL
	}

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	result.RawHTML = html
	result.RenderedText = renderedText(page, html)

	if record {
		result.Capture = rec.Capture()
	}
	result.Duration = time.Since(start)

	return result, nil
}

// renderedText reads document.body.innerText, falling back to the body
// text of the serialized document.
func renderedText(page *rod.Page, html string) string {
	res, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
	if err == nil && res != nil {
		return res.Value.Str()
	}
	text, err := BodyText(html)
	if err != nil {
		return ""
	}
	return text
}

// Close closes the browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	return b.browser.Close()
}

// PageCount returns the number of pages visited.
func (b *Browser) PageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageCount
}

func (b *Browser) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// NeedsRecycle checks if the browser needs recycling.
func (b *Browser) NeedsRecycle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.RecycleAfter > 0 && b.pageCount >= b.config.RecycleAfter
}
