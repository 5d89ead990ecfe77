// Package metrics collects in-process counters for the scrape service.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// histogramBuckets are upper bounds in milliseconds for capture durations;
// the last bucket catches everything above.
var histogramBuckets = [...]int64{250, 500, 1000, 2500, 5000, 10000, 30000}

const numBuckets = len(histogramBuckets) + 1

// HistogramBounds returns the capture duration bucket upper bounds in
// milliseconds. The overflow bucket is not included.
func HistogramBounds() []int64 {
	out := make([]int64, len(histogramBuckets))
	copy(out, histogramBuckets[:])
	return out
}

// Collector collects and aggregates metrics.
type Collector struct {
	// Counters
	scrapesDetailed   atomic.Int64
	scrapesSimple     atomic.Int64
	errorsTotal       atomic.Int64
	exchangesAnalyzed atomic.Int64
	malformedRecords  atomic.Int64
	bytesObserved     atomic.Int64
	retriesTotal      atomic.Int64
	rejectedTotal     atomic.Int64

	// Capture duration tracking
	captureTimesSum atomic.Int64
	captureTimesNum atomic.Int64
	captureBuckets  [numBuckets]atomic.Int64

	// Gauges
	inFlight         atomic.Int64
	browserPoolSize  atomic.Int64
	browserPoolInUse atomic.Int64

	errorCounts map[string]*atomic.Int64
	errorMu     sync.RWMutex

	statusCodes map[int]*atomic.Int64
	statusMu    sync.RWMutex

	startTime time.Time
}

// New creates a new metrics collector.
func New() *Collector {
	return &Collector{
		errorCounts: make(map[string]*atomic.Int64),
		statusCodes: make(map[int]*atomic.Int64),
		startTime:   time.Now(),
	}
}

// RecordScrape records a completed capture of the given mode.
func (c *Collector) RecordScrape(detailed bool, d time.Duration) {
	if detailed {
		c.scrapesDetailed.Add(1)
	} else {
		c.scrapesSimple.Add(1)
	}

	ms := d.Milliseconds()
	c.captureTimesSum.Add(ms)
	c.captureTimesNum.Add(1)
	c.captureBuckets[bucketFor(ms)].Add(1)
}

func bucketFor(ms int64) int {
	for i, upper := range histogramBuckets {
		if ms < upper {
			return i
		}
	}
	return numBuckets - 1
}

// RecordAnalysis records the size of an analyzed capture.
func (c *Collector) RecordAnalysis(exchanges, malformed int, bytes int64) {
	c.exchangesAnalyzed.Add(int64(exchanges))
	c.malformedRecords.Add(int64(malformed))
	c.bytesObserved.Add(bytes)
}

// RecordError records a failed scrape by error type.
func (c *Collector) RecordError(errorType string) {
	c.errorsTotal.Add(1)

	c.errorMu.Lock()
	if c.errorCounts[errorType] == nil {
		c.errorCounts[errorType] = &atomic.Int64{}
	}
	c.errorCounts[errorType].Add(1)
	c.errorMu.Unlock()
}

// RecordStatusCode records an HTTP status code sent to a client.
func (c *Collector) RecordStatusCode(code int) {
	c.statusMu.Lock()
	if c.statusCodes[code] == nil {
		c.statusCodes[code] = &atomic.Int64{}
	}
	c.statusCodes[code].Add(1)
	c.statusMu.Unlock()
}

// RecordRetry records a retried capture.
func (c *Collector) RecordRetry() {
	c.retriesTotal.Add(1)
}

// RecordRejected records a request refused by admission control or an open
// circuit.
func (c *Collector) RecordRejected() {
	c.rejectedTotal.Add(1)
}

// Begin marks a scrape as in flight and returns a func that ends it.
func (c *Collector) Begin() func() {
	c.inFlight.Add(1)
	return func() { c.inFlight.Add(-1) }
}

// SetBrowserPoolStats sets browser pool statistics.
func (c *Collector) SetBrowserPoolStats(size, inUse int64) {
	c.browserPoolSize.Store(size)
	c.browserPoolInUse.Store(inUse)
}

// GetAverageCaptureTime returns the mean capture duration.
func (c *Collector) GetAverageCaptureTime() time.Duration {
	sum := c.captureTimesSum.Load()
	num := c.captureTimesNum.Load()
	if num == 0 {
		return 0
	}
	return time.Duration(sum/num) * time.Millisecond
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:          time.Now(),
		Uptime:             time.Since(c.startTime),
		ScrapesDetailed:    c.scrapesDetailed.Load(),
		ScrapesSimple:      c.scrapesSimple.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
		ExchangesAnalyzed:  c.exchangesAnalyzed.Load(),
		MalformedRecords:   c.malformedRecords.Load(),
		BytesObserved:      c.bytesObserved.Load(),
		RetriesTotal:       c.retriesTotal.Load(),
		RejectedTotal:      c.rejectedTotal.Load(),
		InFlight:           c.inFlight.Load(),
		BrowserPoolSize:    c.browserPoolSize.Load(),
		BrowserPoolInUse:   c.browserPoolInUse.Load(),
		AverageCaptureTime: c.GetAverageCaptureTime(),
		CaptureTimeSumMs:   c.captureTimesSum.Load(),
		ErrorCounts:        make(map[string]int64),
		StatusCodes:        make(map[int]int64),
		CaptureTimeHist:    make([]int64, numBuckets),
	}

	c.errorMu.RLock()
	for k, v := range c.errorCounts {
		s.ErrorCounts[k] = v.Load()
	}
	c.errorMu.RUnlock()

	c.statusMu.RLock()
	for k, v := range c.statusCodes {
		s.StatusCodes[k] = v.Load()
	}
	c.statusMu.RUnlock()

	for i := range c.captureBuckets {
		s.CaptureTimeHist[i] = c.captureBuckets[i].Load()
	}

	return s
}

// Snapshot represents a point-in-time view of metrics.
type Snapshot struct {
	Timestamp          time.Time        `json:"timestamp"`
	Uptime             time.Duration    `json:"uptime"`
	ScrapesDetailed    int64            `json:"scrapes_detailed"`
	ScrapesSimple      int64            `json:"scrapes_simple"`
	ErrorsTotal        int64            `json:"errors_total"`
	ExchangesAnalyzed  int64            `json:"exchanges_analyzed"`
	MalformedRecords   int64            `json:"malformed_records"`
	BytesObserved      int64            `json:"bytes_observed"`
	RetriesTotal       int64            `json:"retries_total"`
	RejectedTotal      int64            `json:"rejected_total"`
	InFlight           int64            `json:"in_flight"`
	BrowserPoolSize    int64            `json:"browser_pool_size"`
	BrowserPoolInUse   int64            `json:"browser_pool_in_use"`
	AverageCaptureTime time.Duration    `json:"average_capture_time"`
	CaptureTimeSumMs   int64            `json:"capture_time_sum_ms"`
	ErrorCounts        map[string]int64 `json:"error_counts"`
	StatusCodes        map[int]int64    `json:"status_codes"`
	CaptureTimeHist    []int64          `json:"capture_time_histogram"`
}

// ScrapesTotal returns detailed plus simple scrapes.
func (s *Snapshot) ScrapesTotal() int64 {
	return s.ScrapesDetailed + s.ScrapesSimple
}

// ErrorRate returns errors / (scrapes + errors).
func (s *Snapshot) ErrorRate() float64 {
	attempts := s.ScrapesTotal() + s.ErrorsTotal
	if attempts == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(attempts)
}

// BrowserPoolUtilization returns the browser pool utilization (0-1).
func (s *Snapshot) BrowserPoolUtilization() float64 {
	if s.BrowserPoolSize == 0 {
		return 0
	}
	return float64(s.BrowserPoolInUse) / float64(s.BrowserPoolSize)
}

// Summary returns a compact human-readable summary.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":              s.Uptime.String(),
		"scrapes_total":       s.ScrapesTotal(),
		"errors_total":        s.ErrorsTotal,
		"error_rate":          s.ErrorRate(),
		"exchanges_analyzed":  s.ExchangesAnalyzed,
		"malformed_records":   s.MalformedRecords,
		"in_flight":           s.InFlight,
		"avg_capture_time_ms": s.AverageCaptureTime.Milliseconds(),
		"browser_pool_util":   s.BrowserPoolUtilization(),
		"rejected_total":      s.RejectedTotal,
	}
}
