// Package har models the network capture recorded during a page load and
// decodes it from HTTP Archive (HAR 1.2) documents.
package har

import "time"

// Capture is the ordered set of exchanges observed while loading one page.
// A nil Capture behaves like an empty one.
type Capture struct {
	Exchanges []Exchange
}

// Exchange is one request/response pair.
type Exchange struct {
	StartedAt time.Time
	ElapsedMs float64
	Request   Request
	Response  Response
	Timings   Timings
}

// Request holds the parts of a request the analysis needs.
type Request struct {
	URL    string
	Method string
}

// Response holds the parts of a response the analysis needs.
type Response struct {
	Status   int
	Headers  Headers
	Content  Content
	BodySize int64
}

// Content describes the response body.
type Content struct {
	MimeType string
}

// Timings is the per-exchange timing breakdown.
type Timings struct {
	Wait float64
}

// Header is a single response header as it appeared on the wire.
type Header struct {
	Name  string
	Value string
}

// Headers is an ordered header list. Names are not guaranteed unique.
type Headers []Header

// Flatten reduces the list to a mapping. Pairs are applied in order so a
// later duplicate overwrites an earlier one. Names are compared as-is.
func (h Headers) Flatten() map[string]string {
	out := make(map[string]string, len(h))
	for _, hdr := range h {
		out[hdr.Name] = hdr.Value
	}
	return out
}

// Entries returns the exchanges in capture order.
func (c *Capture) Entries() []Exchange {
	if c == nil {
		return nil
	}
	return c.Exchanges
}

// Len returns the number of exchanges.
func (c *Capture) Len() int {
	return len(c.Entries())
}

// EndTime returns StartedAt plus the elapsed duration.
func (e Exchange) EndTime() time.Time {
	return e.StartedAt.Add(time.Duration(e.ElapsedMs * float64(time.Millisecond)))
}

// HasStart reports whether the exchange carries a usable start timestamp.
func (e Exchange) HasStart() bool {
	return !e.StartedAt.IsZero()
}
