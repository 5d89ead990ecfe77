// Package output writes command results to a file or stdout.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Config holds output configuration.
type Config struct {
	Pretty   bool
	FilePath string // empty means stdout
}

// Writer writes JSON values or raw documents to one destination.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	pretty bool
	closed bool
}

// New creates a writer on w. Close does not close w.
func New(w io.Writer, pretty bool) *Writer {
	return &Writer{w: w, pretty: pretty}
}

// Open creates the configured destination. The file is truncated if it
// exists.
func Open(config Config) (*Writer, error) {
	if config.FilePath == "" {
		return New(os.Stdout, config.Pretty), nil
	}

	f, err := os.Create(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	w := New(f, config.Pretty)
	w.file = f
	return w, nil
}

// WriteJSON encodes v followed by a newline. HTML characters are not
// escaped.
func (w *Writer) WriteJSON(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}

	enc := json.NewEncoder(w.w)
	enc.SetEscapeHTML(false)
	if w.pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// WriteRaw writes data unchanged.
func (w *Writer) WriteRaw(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	_, err := w.w.Write(data)
	return err
}

// Close closes the underlying file when the writer opened one.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}
