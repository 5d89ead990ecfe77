package har

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// CreatorName is written into the creator block of encoded documents.
const CreatorName = "OpenScraper"

// Version of the HAR format produced by Encode.
const Version = "1.2"

// Encode writes c as a HAR 1.2 document.
func Encode(w io.Writer, c *Capture, creatorVersion string, pretty bool) error {
	data, err := Marshal(c, creatorVersion, pretty)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write capture: %w", err)
	}
	return nil
}

// Marshal returns the HAR 1.2 encoding of c.
func Marshal(c *Capture, creatorVersion string, pretty bool) ([]byte, error) {
	entries := make([]entry, 0, c.Len())
	for _, ex := range c.Entries() {
		entries = append(entries, fromExchange(ex))
	}

	rawEntries, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capture entries: %w", err)
	}

	doc := Document{
		Log: &Log{
			Version: Version,
			Creator: &Creator{Name: CreatorName, Version: creatorVersion},
			Entries: rawEntries,
		},
	}

	var data []byte
	if pretty {
		data, err = json.MarshalIndent(doc, "", "  ")
	} else {
		data, err = json.Marshal(doc)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capture: %w", err)
	}
	return data, nil
}

func fromExchange(ex Exchange) entry {
	e := entry{
		Time: ex.ElapsedMs,
		Request: request{
			Method: ex.Request.Method,
			URL:    ex.Request.URL,
		},
		Response: response{
			Status:   ex.Response.Status,
			Headers:  make([]nameValue, 0, len(ex.Response.Headers)),
			Content:  content{MimeType: ex.Response.Content.MimeType},
			BodySize: float64(ex.Response.BodySize),
		},
		Timings: timings{Wait: ex.Timings.Wait},
	}
	for _, h := range ex.Response.Headers {
		e.Response.Headers = append(e.Response.Headers, nameValue{Name: h.Name, Value: h.Value})
	}
	if ex.HasStart() {
		e.StartedDateTime = ex.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	return e
}
