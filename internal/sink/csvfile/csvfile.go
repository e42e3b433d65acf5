// Package csvfile implements the append-only CSV output sink.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/hash/sha256"
)

const columns = 5

// ErrCorrupt is returned when the existing file holds a malformed record
// that is not a torn final write.
var ErrCorrupt = errors.New("csv output corrupted")

// Sink appends one CSV row per item and never writes the same dedup key
// twice. The file itself is the persisted dedup set.
type Sink struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	seen   map[string]struct{}
	fsync  bool
	logger *zap.Logger
}

// Options configure Open.
type Options struct {
	// NoSync skips fsync after each row.
	NoSync bool
	Logger *zap.Logger
}

// Open opens or creates the output file, rebuilds the dedup set from its
// rows and drops a torn trailing record left by an interrupted write.
func Open(path string, opts Options) (*Sink, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create output dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644) //nolint:gosec // output path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	s := &Sink{path: path, file: f, seen: make(map[string]struct{}), fsync: !opts.NoSync, logger: logger}
	if err := s.load(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) load() error {
	data, err := io.ReadAll(io.NewSectionReader(s.file, 0, 1<<62))
	if err != nil {
		return fmt.Errorf("read output %s: %w", s.path, err)
	}
	keys, keep, err := scan(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
	}
	if keep < int64(len(data)) {
		s.logger.Warn("truncating torn record at end of output",
			zap.String("path", s.path),
			zap.Int64("offset", keep),
			zap.Int("dropped_bytes", len(data)-int(keep)),
		)
		if err := s.file.Truncate(keep); err != nil {
			return fmt.Errorf("truncate output %s: %w", s.path, err)
		}
	}
	for _, k := range keys {
		s.seen[k] = struct{}{}
	}
	return nil
}

// scan parses rows and returns their dedup keys plus the length of the
// valid prefix. Only the final record may be malformed; a final record
// without its newline is treated as torn.
func scan(data []byte) ([]string, int64, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = columns

	var (
		keys     []string
		lastGood int64
		prevGood int64
	)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if _, next := r.Read(); errors.Is(next, io.EOF) {
				return keys, lastGood, nil
			}
			return nil, 0, err
		}
		prevGood = lastGood
		lastGood = r.InputOffset()
		keys = append(keys, sha256.RecordKey(record))
	}
	if lastGood > 0 && data[lastGood-1] != '\n' {
		return keys[:len(keys)-1], prevGood, nil
	}
	return keys, lastGood, nil
}

// Append implements crawler.OutputSink.
func (s *Sink) Append(ctx context.Context, item crawler.Item) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("append canceled: %w", err)
	}
	key := sha256.ItemKey(item)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return false, errors.New("csv sink is closed")
	}
	if _, dup := s.seen[key]; dup {
		return false, nil
	}
	row, err := encode(item.Record())
	if err != nil {
		return false, err
	}
	// One write per row keeps concurrent appenders from interleaving.
	if _, err := s.file.Write(row); err != nil {
		return false, fmt.Errorf("write row to %s: %w", s.path, err)
	}
	if s.fsync {
		if err := s.file.Sync(); err != nil {
			return false, fmt.Errorf("sync %s: %w", s.path, err)
		}
	}
	s.seen[key] = struct{}{}
	return true, nil
}

// Contains reports whether an item with the same content is stored.
func (s *Sink) Contains(item crawler.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[sha256.ItemKey(item)]
	return ok
}

// Len returns the number of stored rows.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Close implements crawler.OutputSink.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", s.path, err)
	}
	return nil
}

func encode(record []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(record); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return buf.Bytes(), nil
}
