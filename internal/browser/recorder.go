package browser

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/PentesterFlow/OpenScraper/pkg/har"
)

// Recorder assembles CDP network events into a capture. Exchanges keep the
// order in which their requests were sent.
type Recorder struct {
	mu           sync.Mutex
	entries      []*pendingExchange
	current      map[proto.NetworkRequestID]*pendingExchange
	inFlight     int
	lastActivity time.Time
	now          func() time.Time
}

type pendingExchange struct {
	url      string
	method   string
	started  time.Time
	sentAt   float64
	endAt    float64
	status   int
	headers  har.Headers
	mimeType string
	bodySize int64
	headerSz int64
	wait     float64
	done     bool
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		current:      make(map[proto.NetworkRequestID]*pendingExchange),
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

// OnRequest handles Network.requestWillBeSent. A redirect completes the
// previous hop under the same request id before the next hop starts.
func (r *Recorder) OnRequest(e *proto.NetworkRequestWillBeSent) {
	if e == nil || e.Request == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.current[e.RequestID]; ok && !prev.done {
		if e.RedirectResponse != nil {
			prev.applyResponse(e.RedirectResponse)
		}
		prev.finish(float64(e.Timestamp), -1)
		r.inFlight--
	}

	p := &pendingExchange{
		url:      e.Request.URL,
		method:   e.Request.Method,
		started:  wallTime(float64(e.WallTime)),
		sentAt:   float64(e.Timestamp),
		bodySize: -1,
	}
	r.entries = append(r.entries, p)
	r.current[e.RequestID] = p
	r.inFlight++
	r.lastActivity = r.now()
}

// OnResponse handles Network.responseReceived.
func (r *Recorder) OnResponse(e *proto.NetworkResponseReceived) {
	if e == nil || e.Response == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.current[e.RequestID]; ok {
		p.applyResponse(e.Response)
	}
	r.lastActivity = r.now()
}

// OnFinished handles Network.loadingFinished.
func (r *Recorder) OnFinished(e *proto.NetworkLoadingFinished) {
	if e == nil {
		return
	}
	r.complete(e.RequestID, float64(e.Timestamp), int64(e.EncodedDataLength))
}

// OnFailed handles Network.loadingFailed.
func (r *Recorder) OnFailed(e *proto.NetworkLoadingFailed) {
	if e == nil {
		return
	}
	r.complete(e.RequestID, float64(e.Timestamp), -1)
}

func (r *Recorder) complete(id proto.NetworkRequestID, ts float64, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.current[id]
	if !ok || p.done {
		return
	}
	p.finish(ts, size)
	r.inFlight--
	r.lastActivity = r.now()
}

func (p *pendingExchange) applyResponse(res *proto.NetworkResponse) {
	p.status = res.Status
	p.mimeType = res.MIMEType
	p.headers = toHeaders(res.Headers)
	p.headerSz = int64(res.EncodedDataLength)
	if t := res.Timing; t != nil && t.ReceiveHeadersEnd >= t.SendEnd {
		p.wait = t.ReceiveHeadersEnd - t.SendEnd
	}
}

// finish closes the exchange. A non-negative size is the total encoded
// length on the wire; the response headers counted in it are taken off.
func (p *pendingExchange) finish(ts float64, size int64) {
	if size >= 0 {
		size = max(size-p.headerSz, 0)
	}
	p.endAt = ts
	p.bodySize = size
	p.done = true
}

func toHeaders(h proto.NetworkHeaders) har.Headers {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(har.Headers, 0, len(names))
	for _, name := range names {
		out = append(out, har.Header{Name: name, Value: h[name].Str()})
	}
	return out
}

func wallTime(sec float64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// InFlight returns the number of requests still awaiting completion.
func (r *Recorder) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// WaitIdle blocks until no request has been in flight for quiet, or ctx is
// done.
func (r *Recorder) WaitIdle(ctx context.Context, quiet time.Duration) error {
	for {
		r.mu.Lock()
		wait := quiet / 5
		if r.inFlight <= 0 {
			since := r.now().Sub(r.lastActivity)
			if since >= quiet {
				r.mu.Unlock()
				return nil
			}
			wait = quiet - since
		}
		r.mu.Unlock()

		if wait <= 0 {
			wait = time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Capture returns the exchanges recorded so far. Requests without a
// response are omitted.
func (r *Recorder) Capture() *har.Capture {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &har.Capture{Exchanges: make([]har.Exchange, 0, len(r.entries))}
	for _, p := range r.entries {
		if p.status == 0 {
			continue
		}

		var elapsed float64
		if p.done && p.endAt >= p.sentAt {
			elapsed = (p.endAt - p.sentAt) * 1000
		}

		c.Exchanges = append(c.Exchanges, har.Exchange{
			StartedAt: p.started,
			ElapsedMs: elapsed,
			Request:   har.Request{URL: p.url, Method: p.method},
			Response: har.Response{
				Status:   p.status,
				Headers:  p.headers,
				Content:  har.Content{MimeType: p.mimeType},
				BodySize: p.bodySize,
			},
			Timings: har.Timings{Wait: p.wait},
		})
	}
	return c
}
