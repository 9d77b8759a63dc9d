// Package sink provides the external write targets the core pushes into:
// gzip JSONL shard files, a SQLite loss-of-separation store, a Postgres
// operations log, and a ClickHouse position archive.
package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/gzip"

	"adsb_actions/internal/adsb"
)

// JSONLSet manages the gzip-compressed JSONL output files written by
// emit_jsonl rule actions. One writer per path, opened on first use;
// parent directories are created as needed.
type JSONLSet struct {
	mu      sync.Mutex
	writers map[string]*jsonlWriter
}

type jsonlWriter struct {
	f  *os.File
	gz *gzip.Writer
}

// NewJSONLSet creates an empty writer set.
func NewJSONLSet() *JSONLSet {
	return &JSONLSet{writers: make(map[string]*jsonlWriter)}
}

// Emit appends the Location as one compact JSON line to the gzip file at
// path.
func (s *JSONLSet) Emit(path string, loc adsb.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.writers[path]
	if !ok {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open jsonl output: %w", err)
		}
		w = &jsonlWriter{f: f, gz: gzip.NewWriter(f)}
		s.writers[path] = w
	}

	line := append(loc.ToJSON(), '\n')
	if _, err := w.gz.Write(line); err != nil {
		return fmt.Errorf("write jsonl line: %w", err)
	}
	return nil
}

// Flush flushes every open writer without closing it.
func (s *JSONLSet) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path, w := range s.writers {
		if err := w.gz.Flush(); err != nil {
			return fmt.Errorf("flush %s: %w", path, err)
		}
	}
	return nil
}

// Close finalizes and closes all output files.
func (s *JSONLSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for path, w := range s.writers {
		if err := w.gz.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close gzip %s: %w", path, err)
		}
		if err := w.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", path, err)
		}
		delete(s.writers, path)
	}
	return firstErr
}
