package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	c := New()
	s := c.Snapshot()

	if s.ScrapesTotal() != 0 || s.ErrorsTotal != 0 {
		t.Errorf("fresh collector should be zero: %+v", s)
	}
	if len(s.CaptureTimeHist) != numBuckets {
		t.Errorf("len(CaptureTimeHist) = %d, want %d", len(s.CaptureTimeHist), numBuckets)
	}
}

func TestCollector_RecordScrape(t *testing.T) {
	c := New()
	c.RecordScrape(true, 100*time.Millisecond)
	c.RecordScrape(true, 300*time.Millisecond)
	c.RecordScrape(false, 50*time.Second)

	s := c.Snapshot()
	if s.ScrapesDetailed != 2 || s.ScrapesSimple != 1 {
		t.Errorf("detailed=%d simple=%d", s.ScrapesDetailed, s.ScrapesSimple)
	}
	if s.CaptureTimeHist[0] != 1 || s.CaptureTimeHist[1] != 1 || s.CaptureTimeHist[numBuckets-1] != 1 {
		t.Errorf("CaptureTimeHist = %v", s.CaptureTimeHist)
	}
	want := (100*time.Millisecond + 300*time.Millisecond + 50*time.Second) / 3
	if s.AverageCaptureTime != want.Truncate(time.Millisecond) {
		t.Errorf("AverageCaptureTime = %v, want %v", s.AverageCaptureTime, want)
	}
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		ms   int64
		want int
	}{
		{0, 0},
		{249, 0},
		{250, 1},
		{999, 2},
		{29999, 6},
		{30000, 7},
	}
	for _, tt := range tests {
		if got := bucketFor(tt.ms); got != tt.want {
			t.Errorf("bucketFor(%d) = %d, want %d", tt.ms, got, tt.want)
		}
	}
}

func TestCollector_RecordAnalysis(t *testing.T) {
	c := New()
	c.RecordAnalysis(10, 1, 2048)
	c.RecordAnalysis(5, 0, 100)

	s := c.Snapshot()
	if s.ExchangesAnalyzed != 15 || s.MalformedRecords != 1 || s.BytesObserved != 2148 {
		t.Errorf("unexpected analysis counters: %+v", s)
	}
}

func TestCollector_RecordError(t *testing.T) {
	c := New()
	c.RecordError("timeout")
	c.RecordError("timeout")
	c.RecordError("upstream")

	s := c.Snapshot()
	if s.ErrorsTotal != 3 {
		t.Errorf("ErrorsTotal = %d, want 3", s.ErrorsTotal)
	}
	if s.ErrorCounts["timeout"] != 2 || s.ErrorCounts["upstream"] != 1 {
		t.Errorf("ErrorCounts = %v", s.ErrorCounts)
	}
}

func TestCollector_StatusCodesAndRejections(t *testing.T) {
	c := New()
	c.RecordStatusCode(200)
	c.RecordStatusCode(200)
	c.RecordStatusCode(400)
	c.RecordRejected()
	c.RecordRetry()

	s := c.Snapshot()
	if s.StatusCodes[200] != 2 || s.StatusCodes[400] != 1 {
		t.Errorf("StatusCodes = %v", s.StatusCodes)
	}
	if s.RejectedTotal != 1 || s.RetriesTotal != 1 {
		t.Errorf("rejected=%d retries=%d", s.RejectedTotal, s.RetriesTotal)
	}
}

func TestCollector_Begin(t *testing.T) {
	c := New()
	end1 := c.Begin()
	end2 := c.Begin()

	if got := c.Snapshot().InFlight; got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}
	end1()
	end2()
	if got := c.Snapshot().InFlight; got != 0 {
		t.Errorf("InFlight = %d, want 0", got)
	}
}

func TestSnapshot_Rates(t *testing.T) {
	c := New()
	c.SetBrowserPoolStats(4, 1)
	c.RecordScrape(true, time.Second)
	c.RecordScrape(false, time.Second)
	c.RecordScrape(false, time.Second)
	c.RecordError("timeout")

	s := c.Snapshot()
	if got := s.ErrorRate(); got != 0.25 {
		t.Errorf("ErrorRate() = %v, want 0.25", got)
	}
	if got := s.BrowserPoolUtilization(); got != 0.25 {
		t.Errorf("BrowserPoolUtilization() = %v, want 0.25", got)
	}

	summary := s.Summary()
	if summary["scrapes_total"] != int64(3) {
		t.Errorf("summary scrapes_total = %v", summary["scrapes_total"])
	}
}

func TestSnapshot_ZeroRates(t *testing.T) {
	s := New().Snapshot()
	if s.ErrorRate() != 0 || s.BrowserPoolUtilization() != 0 {
		t.Error("zero collector should report zero rates")
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.RecordScrape(i%2 == 0, time.Millisecond)
			c.RecordError("network")
			c.RecordStatusCode(500)
		}(i)
	}
	wg.Wait()

	s := c.Snapshot()
	if s.ScrapesTotal() != 50 || s.ErrorCounts["network"] != 50 || s.StatusCodes[500] != 50 {
		t.Errorf("unexpected totals: %+v", s)
	}
}
