// Package archive stores captures from detailed scrapes in a BoltDB file so
// they can be fetched again as HAR documents.
package archive

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/PentesterFlow/OpenScraper/internal/errors"
	"github.com/PentesterFlow/OpenScraper/pkg/har"
)

var (
	bucketRecords  = []byte("records")
	bucketCaptures = []byte("captures")
)

// ErrNotFound is returned when no capture has the requested id.
var ErrNotFound = errors.New("capture not found")

// Config configures the archive.
type Config struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Path       string `yaml:"path" json:"path"`
	MaxEntries int    `yaml:"max_entries" json:"max_entries"`
}

// DefaultConfig returns the default archive configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    false,
		Path:       "./data/captures.db",
		MaxEntries: 1000,
	}
}

// Record describes one archived capture.
type Record struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	FinalURL  string    `json:"final_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Exchanges int       `json:"exchanges"`
	Skipped   int       `json:"skipped"`
	Size      int       `json:"size"`
}

// Store is a BoltDB-backed capture archive. Ids are UUIDv7 so key order is
// creation order.
type Store struct {
	db         *bolt.DB
	path       string
	maxEntries int
	version    string
}

// Open opens or creates the archive at cfg.Path. creatorVersion is written
// into stored HAR documents.
func Open(cfg Config, creatorVersion string) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewStorageError("open", fmt.Errorf("failed to create directory: %w", err))
	}

	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, apperrors.NewStorageError("open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRecords, bucketCaptures} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.NewStorageError("open", fmt.Errorf("failed to create buckets: %w", err))
	}

	return &Store{db: db, path: cfg.Path, maxEntries: cfg.MaxEntries, version: creatorVersion}, nil
}

// Put archives c and returns its record.
func (s *Store) Put(url, finalURL string, c *har.Capture, skipped int) (*Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, apperrors.NewStorageError("put", err)
	}

	doc, err := har.Marshal(c, s.version, false)
	if err != nil {
		return nil, apperrors.NewStorageError("put", err)
	}
	packed, err := compress(doc)
	if err != nil {
		return nil, apperrors.NewStorageError("put", err)
	}

	rec := &Record{
		ID:        id.String(),
		URL:       url,
		FinalURL:  finalURL,
		CreatedAt: time.Now().UTC(),
		Exchanges: c.Len(),
		Skipped:   skipped,
		Size:      len(doc),
	}
	meta, err := json.Marshal(rec)
	if err != nil {
		return nil, apperrors.NewStorageError("put", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(rec.ID)
		if err := tx.Bucket(bucketRecords).Put(key, meta); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCaptures).Put(key, packed); err != nil {
			return err
		}
		return s.pruneLocked(tx)
	})
	if err != nil {
		return nil, apperrors.NewStorageError("put", err)
	}

	return rec, nil
}

// pruneLocked drops the oldest entries beyond maxEntries.
func (s *Store) pruneLocked(tx *bolt.Tx) error {
	if s.maxEntries <= 0 {
		return nil
	}

	records := tx.Bucket(bucketRecords)
	excess := countKeys(records) - s.maxEntries
	if excess <= 0 {
		return nil
	}

	var stale [][]byte
	c := records.Cursor()
	for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
		stale = append(stale, append([]byte(nil), k...))
	}
	for _, k := range stale {
		if err := records.Delete(k); err != nil {
			return err
		}
		if err := tx.Bucket(bucketCaptures).Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func countKeys(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// Record returns the metadata for id.
func (s *Store) Record(id string) (*Record, error) {
	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRecords).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, wrap("get", err)
	}
	return &rec, nil
}

// HAR returns the stored HAR document for id.
func (s *Store) HAR(id string) ([]byte, error) {
	var packed []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCaptures).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		packed = append([]byte(nil), data...)
		return nil
	})
	if err != nil {
		return nil, wrap("get", err)
	}

	doc, err := decompress(packed)
	if err != nil {
		return nil, apperrors.NewStorageError("get", err)
	}
	return doc, nil
}

// Capture returns the stored capture for id.
func (s *Store) Capture(id string) (*har.Capture, error) {
	doc, err := s.HAR(id)
	if err != nil {
		return nil, err
	}
	c, err := har.Parse(doc)
	if err != nil {
		return nil, apperrors.NewStorageError("get", err)
	}
	return c, nil
}

// List returns up to limit records, newest first. A limit of zero or less
// returns all records.
func (s *Store) List(limit int) ([]Record, error) {
	out := make([]Record, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorageError("list", err)
	}
	return out, nil
}

// Delete removes id from the archive.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(id)
		if tx.Bucket(bucketRecords).Get(key) == nil {
			return ErrNotFound
		}
		if err := tx.Bucket(bucketRecords).Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketCaptures).Delete(key)
	})
	return wrap("delete", err)
}

// Count returns the number of archived captures.
func (s *Store) Count() int {
	var n int
	_ = s.db.View(func(tx *bolt.Tx) error {
		n = countKeys(tx.Bucket(bucketRecords))
		return nil
	})
	return n
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// wrap leaves ErrNotFound matchable with errors.Is.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return apperrors.NewStorageError(op, err)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	return io.ReadAll(gr)
}
