package analysis

import (
	"fmt"
	"net/url"

	apperrors "github.com/PentesterFlow/OpenScraper/internal/errors"
	"github.com/PentesterFlow/OpenScraper/pkg/har"
)

const opMapNetwork = "map_network"

// MapNetwork builds one entry per exchange, in capture order. Exchanges whose
// request URL is not a valid absolute URL are skipped and returned as
// diagnostics.
func MapNetwork(c *har.Capture) ([]NetworkMapEntry, []RecordError) {
	entries := make([]NetworkMapEntry, 0, c.Len())
	var diagnostics []RecordError

	for i, ex := range c.Entries() {
		hostname, err := hostnameOf(ex.Request.URL)
		if err != nil {
			diagnostics = append(diagnostics, RecordError{
				Index: i,
				URL:   ex.Request.URL,
				Cause: apperrors.NewMalformedError(ex.Request.URL, opMapNetwork, err),
			})
			continue
		}

		entries = append(entries, NetworkMapEntry{
			Hostname: hostname,
			URL:      ex.Request.URL,
			Method:   ex.Request.Method,
			Status:   ex.Response.Status,
			MimeType: ex.Response.Content.MimeType,
		})
	}

	return entries, diagnostics
}

// hostnameOf returns the host of an absolute URL without its port.
func hostnameOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("missing scheme")
	}
	if u.Host == "" && u.Opaque == "" {
		return "", fmt.Errorf("missing host")
	}
	return u.Hostname(), nil
}
