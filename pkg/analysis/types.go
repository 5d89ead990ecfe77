package analysis

import (
	"fmt"
)

// NetworkMapEntry summarizes one exchange of the capture.
type NetworkMapEntry struct {
	Hostname string `json:"hostname"`
	URL      string `json:"url"`
	Method   string `json:"method"`
	Status   int    `json:"status"`
	MimeType string `json:"mimeType"`
}

// HeaderIndexEntry pairs a request URL with its flattened response headers.
type HeaderIndexEntry struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// ResourceSizes holds body bytes per resource class.
type ResourceSizes struct {
	Images      int64 `json:"images"`
	Scripts     int64 `json:"scripts"`
	Stylesheets int64 `json:"stylesheets"`
	Other       int64 `json:"other"`
}

// Total returns the sum across all classes.
func (r ResourceSizes) Total() int64 {
	return r.Images + r.Scripts + r.Stylesheets + r.Other
}

// PerformanceMetrics aggregates timing and size data for a capture.
type PerformanceMetrics struct {
	TotalLoadTimeMs   float64       `json:"totalLoadTime"`
	TimeToFirstByteMs *float64      `json:"timeToFirstByte"`
	ResourceSizes     ResourceSizes `json:"resourceSizes"`
}

// Result is the combined output of the three extractors.
type Result struct {
	NetworkMap         []NetworkMapEntry  `json:"networkMap"`
	HeadersInfo        []HeaderIndexEntry `json:"headersInfo"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`

	// Diagnostics lists exchanges skipped by the network map.
	Diagnostics []RecordError `json:"-"`
}

// Skipped returns the number of exchanges dropped from the network map.
func (r *Result) Skipped() int {
	return len(r.Diagnostics)
}

// RecordError reports a single exchange that could not be processed.
type RecordError struct {
	Index int
	URL   string
	Cause error
}

// Error implements the error interface.
func (e RecordError) Error() string {
	return fmt.Sprintf("exchange %d (%q): %v", e.Index, e.URL, e.Cause)
}

// Unwrap returns the underlying error.
func (e RecordError) Unwrap() error {
	return e.Cause
}
