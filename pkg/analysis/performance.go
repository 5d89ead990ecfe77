package analysis

import (
	"strings"
	"time"

	"github.com/PentesterFlow/OpenScraper/pkg/har"
)

// ResourceClass is the bucket a response body is counted in.
type ResourceClass int

const (
	// ClassOther is anything not matched by a more specific class.
	ClassOther ResourceClass = iota
	// ClassImage matches mime types containing "image".
	ClassImage
	// ClassScript matches mime types containing "javascript".
	ClassScript
	// ClassStylesheet matches mime types containing "css".
	ClassStylesheet
)

// String returns the string representation of ResourceClass.
func (c ResourceClass) String() string {
	switch c {
	case ClassImage:
		return "images"
	case ClassScript:
		return "scripts"
	case ClassStylesheet:
		return "stylesheets"
	default:
		return "other"
	}
}

// Classify buckets a mime type by substring containment. The checks run in
// priority order: image, javascript, css.
func Classify(mimeType string) ResourceClass {
	switch {
	case strings.Contains(mimeType, "image"):
		return ClassImage
	case strings.Contains(mimeType, "javascript"):
		return ClassScript
	case strings.Contains(mimeType, "css"):
		return ClassStylesheet
	default:
		return ClassOther
	}
}

// add counts size bytes in the bucket for class. Non-positive sizes are
// unknown and contribute nothing.
func (r *ResourceSizes) add(class ResourceClass, size int64) {
	if size <= 0 {
		return
	}
	switch class {
	case ClassImage:
		r.Images += size
	case ClassScript:
		r.Scripts += size
	case ClassStylesheet:
		r.Stylesheets += size
	default:
		r.Other += size
	}
}

// SummarizePerformance computes load time, time to first byte and resource
// sizes in a single ordered pass over the capture.
//
// The load time is the latest exchange end minus the earliest exchange start.
// Time to first byte is the wait time of the earliest-starting exchange; on a
// tie the first one in capture order wins. Exchanges without a start
// timestamp count toward sizes only.
func SummarizePerformance(c *har.Capture) PerformanceMetrics {
	var (
		metrics  PerformanceMetrics
		baseline time.Time
		latest   time.Time
		seen     bool
	)

	for _, ex := range c.Entries() {
		metrics.ResourceSizes.add(Classify(ex.Response.Content.MimeType), ex.Response.BodySize)

		if !ex.HasStart() {
			continue
		}

		if end := ex.EndTime(); !seen || end.After(latest) {
			latest = end
		}

		if !seen || ex.StartedAt.Before(baseline) {
			baseline = ex.StartedAt
			wait := ex.Timings.Wait
			metrics.TimeToFirstByteMs = &wait
		}
		seen = true
	}

	if seen {
		metrics.TotalLoadTimeMs = float64(latest.Sub(baseline)) / float64(time.Millisecond)
	}

	return metrics
}
