package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "openscraper"

// PromCollector exposes a Collector to a Prometheus registry. Values are
// read from a fresh snapshot on every scrape.
type PromCollector struct {
	c *Collector

	scrapes     *prometheus.Desc
	errors      *prometheus.Desc
	exchanges   *prometheus.Desc
	malformed   *prometheus.Desc
	bytes       *prometheus.Desc
	retries     *prometheus.Desc
	rejected    *prometheus.Desc
	inFlight    *prometheus.Desc
	poolSize    *prometheus.Desc
	poolInUse   *prometheus.Desc
	responses   *prometheus.Desc
	captureTime *prometheus.Desc
}

// NewPromCollector wraps c.
func NewPromCollector(c *Collector) *PromCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &PromCollector{
		c:           c,
		scrapes:     desc("scrapes_total", "Completed scrapes by mode.", "mode"),
		errors:      desc("scrape_errors_total", "Failed scrapes by error type.", "type"),
		exchanges:   desc("exchanges_analyzed_total", "Capture exchanges passed through analysis."),
		malformed:   desc("malformed_records_total", "Capture records skipped as malformed."),
		bytes:       desc("observed_bytes_total", "Response body bytes seen in analyzed captures."),
		retries:     desc("capture_retries_total", "Capture attempts that were retried."),
		rejected:    desc("rejected_total", "Requests refused by rate limiting or an open circuit."),
		inFlight:    desc("scrapes_in_flight", "Scrapes currently running."),
		poolSize:    desc("browser_pool_size", "Configured browser pool size."),
		poolInUse:   desc("browser_pool_in_use", "Browsers currently checked out."),
		responses:   desc("http_responses_total", "HTTP responses by status code.", "code"),
		captureTime: desc("capture_duration_seconds", "Page capture duration."),
	}
}

// Describe implements prometheus.Collector.
func (p *PromCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		p.scrapes, p.errors, p.exchanges, p.malformed, p.bytes, p.retries,
		p.rejected, p.inFlight, p.poolSize, p.poolInUse, p.responses, p.captureTime,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (p *PromCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.c.Snapshot()

	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}

	counter(p.scrapes, s.ScrapesDetailed, "detailed")
	counter(p.scrapes, s.ScrapesSimple, "simple")
	for typ, n := range s.ErrorCounts {
		counter(p.errors, n, typ)
	}
	counter(p.exchanges, s.ExchangesAnalyzed)
	counter(p.malformed, s.MalformedRecords)
	counter(p.bytes, s.BytesObserved)
	counter(p.retries, s.RetriesTotal)
	counter(p.rejected, s.RejectedTotal)
	for code, n := range s.StatusCodes {
		counter(p.responses, n, strconv.Itoa(code))
	}

	gauge(p.inFlight, s.InFlight)
	gauge(p.poolSize, s.BrowserPoolSize)
	gauge(p.poolInUse, s.BrowserPoolInUse)

	// Prometheus buckets are cumulative; the snapshot's are not.
	buckets := make(map[float64]uint64, len(histogramBuckets))
	var cumulative, count uint64
	for i, upper := range histogramBuckets {
		cumulative += uint64(s.CaptureTimeHist[i])
		buckets[float64(upper)/1000] = cumulative
	}
	for _, n := range s.CaptureTimeHist {
		count += uint64(n)
	}
	ch <- prometheus.MustNewConstHistogram(p.captureTime, count, float64(s.CaptureTimeSumMs)/1000, buckets)
}
