package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gather(t *testing.T, c *Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewPromCollector(c)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func TestPromCollector(t *testing.T) {
	c := New()
	c.RecordScrape(true, 100*time.Millisecond)
	c.RecordScrape(false, 2*time.Second)
	c.RecordError("timeout")
	c.RecordStatusCode(200)
	c.RecordAnalysis(3, 1, 42)

	mfs := gather(t, c)

	scrapes := mfs["openscraper_scrapes_total"]
	if scrapes == nil || len(scrapes.GetMetric()) != 2 {
		t.Fatalf("scrapes_total = %v", scrapes)
	}
	for _, m := range scrapes.GetMetric() {
		if m.GetCounter().GetValue() != 1 {
			t.Errorf("scrapes_total%v = %v, want 1", m.GetLabel(), m.GetCounter().GetValue())
		}
	}

	if mf := mfs["openscraper_scrape_errors_total"]; mf == nil || mf.GetMetric()[0].GetLabel()[0].GetValue() != "timeout" {
		t.Errorf("scrape_errors_total = %v", mf)
	}
	if mf := mfs["openscraper_exchanges_analyzed_total"]; mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 3 {
		t.Errorf("exchanges_analyzed_total = %v", mf)
	}
	if mf := mfs["openscraper_http_responses_total"]; mf == nil || mf.GetMetric()[0].GetLabel()[0].GetValue() != "200" {
		t.Errorf("http_responses_total = %v", mf)
	}

	hist := mfs["openscraper_capture_duration_seconds"]
	if hist == nil {
		t.Fatal("capture_duration_seconds missing")
	}
	h := hist.GetMetric()[0].GetHistogram()
	if h.GetSampleCount() != 2 {
		t.Errorf("SampleCount = %d, want 2", h.GetSampleCount())
	}
	if h.GetSampleSum() != 2.1 {
		t.Errorf("SampleSum = %v, want 2.1", h.GetSampleSum())
	}
	// 100ms lands in the first bucket; 2s in the 2.5s bucket.
	for _, b := range h.GetBucket() {
		var want uint64
		switch {
		case b.GetUpperBound() < 2.5:
			want = 1
		default:
			want = 2
		}
		if b.GetCumulativeCount() != want {
			t.Errorf("bucket le=%v count = %d, want %d", b.GetUpperBound(), b.GetCumulativeCount(), want)
		}
	}
}

func TestPromCollector_Empty(t *testing.T) {
	mfs := gather(t, New())
	if _, ok := mfs["openscraper_scrape_errors_total"]; ok {
		t.Error("no error series expected before any error")
	}
	if _, ok := mfs["openscraper_scrapes_in_flight"]; !ok {
		t.Error("gauges should always be exported")
	}
}

func TestHistogramBounds(t *testing.T) {
	b := HistogramBounds()
	if len(b) != numBuckets-1 {
		t.Fatalf("len = %d, want %d", len(b), numBuckets-1)
	}
	b[0] = -1
	if histogramBuckets[0] == -1 {
		t.Error("HistogramBounds() must return a copy")
	}
}
