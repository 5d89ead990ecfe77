package analysis

import "github.com/PentesterFlow/OpenScraper/pkg/har"

// IndexHeaders pairs every exchange's request URL with its flattened response
// headers, in capture order. The URL is echoed verbatim and never parsed.
func IndexHeaders(c *har.Capture) []HeaderIndexEntry {
	entries := make([]HeaderIndexEntry, 0, c.Len())
	for _, ex := range c.Entries() {
		entries = append(entries, HeaderIndexEntry{
			URL:     ex.Request.URL,
			Headers: ex.Response.Headers.Flatten(),
		})
	}
	return entries
}
