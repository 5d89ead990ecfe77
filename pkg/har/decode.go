package har

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Document is the HAR 1.2 envelope.
type Document struct {
	Log *Log `json:"log"`
}

// Log is the HAR log object. Entries is kept raw so a missing or non-array
// value can be tolerated instead of failing the whole decode.
type Log struct {
	Version string          `json:"version,omitempty"`
	Creator *Creator        `json:"creator,omitempty"`
	Entries json.RawMessage `json:"entries,omitempty"`
}

// Creator identifies the tool that produced a HAR file.
type Creator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type entry struct {
	StartedDateTime string   `json:"startedDateTime"`
	Time            float64  `json:"time"`
	Request         request  `json:"request"`
	Response        response `json:"response"`
	Timings         timings  `json:"timings"`
}

type request struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type response struct {
	Status   int         `json:"status"`
	Headers  []nameValue `json:"headers"`
	Content  content     `json:"content"`
	BodySize float64     `json:"bodySize"`
}

type content struct {
	MimeType string `json:"mimeType"`
}

type timings struct {
	Wait float64 `json:"wait"`
}

type nameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Decode reads a HAR document from r.
func Decode(r io.Reader) (*Capture, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read capture: %w", err)
	}
	return Parse(data)
}

// Parse decodes a HAR document. A document without a log object or without
// an entries array yields an empty capture; only malformed JSON is an error.
// A field of the wrong type is left zero and the rest of its entry is kept,
// so analysis can report the record instead of the whole capture failing.
func Parse(data []byte) (*Capture, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse capture: %w", err)
	}

	capture := &Capture{Exchanges: make([]Exchange, 0)}
	if doc.Log == nil || !isArray(doc.Log.Entries) {
		return capture, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(doc.Log.Entries, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse capture entries: %w", err)
	}

	for i, msg := range raw {
		var e entry
		if err := json.Unmarshal(msg, &e); err != nil {
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &typeErr) {
				return nil, fmt.Errorf("failed to parse capture entry %d: %w", i, err)
			}
		}
		capture.Exchanges = append(capture.Exchanges, e.toExchange())
	}

	return capture, nil
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func (e entry) toExchange() Exchange {
	ex := Exchange{
		ElapsedMs: e.Time,
		Request: Request{
			URL:    e.Request.URL,
			Method: e.Request.Method,
		},
		Response: Response{
			Status:   e.Response.Status,
			Content:  Content{MimeType: e.Response.Content.MimeType},
			BodySize: int64(e.Response.BodySize),
		},
		Timings: Timings{Wait: e.Timings.Wait},
	}

	if len(e.Response.Headers) > 0 {
		ex.Response.Headers = make(Headers, 0, len(e.Response.Headers))
		for _, h := range e.Response.Headers {
			ex.Response.Headers = append(ex.Response.Headers, Header{Name: h.Name, Value: h.Value})
		}
	}

	// Unparseable timestamps leave StartedAt zero.
	if t, err := time.Parse(time.RFC3339Nano, e.StartedDateTime); err == nil {
		ex.StartedAt = t
	}

	return ex
}
