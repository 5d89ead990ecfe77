// Package analysis derives the network map, header index and performance
// summary from a page-load capture.
//
// Every function here is pure: it reads the capture, allocates fresh output
// and may be called concurrently for different captures.
package analysis

import "github.com/PentesterFlow/OpenScraper/pkg/har"

// Analyze runs the three extractors over c. A nil capture produces empty
// outputs. Malformed exchanges are reported in Result.Diagnostics and do not
// affect the header index or performance summary.
func Analyze(c *har.Capture) *Result {
	networkMap, diagnostics := MapNetwork(c)

	return &Result{
		NetworkMap:         networkMap,
		HeadersInfo:        IndexHeaders(c),
		PerformanceMetrics: SummarizePerformance(c),
		Diagnostics:        diagnostics,
	}
}
