// Package checkpoint persists per-partition crawl progress.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/local"
)

const fileSuffix = ".checkpoint"

// FileStore keeps one file per partition holding the last completed unit.
// Every write replaces the whole file atomically.
type FileStore struct {
	files       *local.Store
	source      string
	granularity crawler.Granularity

	mu    sync.Mutex
	cache map[string]crawler.WorkUnit
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithGranularity tells the store how the source is walked, which decides
// how legacy "year,month,n" checkpoints are read.
func WithGranularity(g crawler.Granularity) Option {
	return func(s *FileStore) { s.granularity = g }
}

// NewFileStore builds a FileStore for one source under the state directory.
func NewFileStore(files *local.Store, source string, opts ...Option) (*FileStore, error) {
	if files == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("source is required")
	}
	s := &FileStore{
		files:  files,
		source: source,
		cache:  make(map[string]crawler.WorkUnit),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FileName returns the state file used for a partition.
func FileName(source, partition string) string {
	return source + "." + partition + fileSuffix
}

// Read returns the last completed unit of partition, or false when the
// partition has never completed a unit.
func (s *FileStore) Read(_ context.Context, partition string) (crawler.WorkUnit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked(partition)
}

func (s *FileStore) readLocked(partition string) (crawler.WorkUnit, bool, error) {
	if unit, ok := s.cache[partition]; ok {
		return unit, true, nil
	}
	name := FileName(s.source, partition)
	data, err := s.files.ReadFile(name)
	if errors.Is(err, os.ErrNotExist) {
		return crawler.WorkUnit{}, false, nil
	}
	if err != nil {
		return crawler.WorkUnit{}, false, fmt.Errorf("read checkpoint %s: %w", name, err)
	}
	unit, err := crawler.ParseWorkUnitFor(string(data), s.granularity)
	if err != nil {
		return crawler.WorkUnit{}, false, fmt.Errorf("%w: %s: %v", crawler.ErrCheckpointCorruption, name, err)
	}
	s.cache[partition] = unit
	return unit, true, nil
}

// Advance records unit as the last completed unit of partition. Moving
// backwards fails with ErrCheckpointRegression; repeating the stored value
// is a no-op.
func (s *FileStore) Advance(_ context.Context, partition string, unit crawler.WorkUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok, err := s.readLocked(partition)
	if err != nil {
		return err
	}
	if ok {
		switch c := unit.Compare(current); {
		case c == 0:
			return nil
		case c < 0:
			return fmt.Errorf("%w: %s -> %s", crawler.ErrCheckpointRegression, current, unit)
		}
	}
	name := FileName(s.source, partition)
	if err := s.files.WriteFileAtomic(name, []byte(unit.Key()+"\n")); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", name, err)
	}
	s.cache[partition] = unit
	return nil
}

// Partitions lists partitions with a persisted checkpoint.
func (s *FileStore) Partitions() ([]string, error) {
	names, err := s.files.Glob(s.source + ".*" + fileSuffix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		partition := strings.TrimSuffix(strings.TrimPrefix(name, s.source+"."), fileSuffix)
		out = append(out, partition)
	}
	return out, nil
}

// Memory is an in-memory CheckpointStore used by tests and dry runs.
type Memory struct {
	mu    sync.Mutex
	units map[string]crawler.WorkUnit
}

// NewMemory builds an empty Memory store.
func NewMemory() *Memory {
	return &Memory{units: make(map[string]crawler.WorkUnit)}
}

// Read implements crawler.CheckpointStore.
func (m *Memory) Read(_ context.Context, partition string) (crawler.WorkUnit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok := m.units[partition]
	return unit, ok, nil
}

// Advance implements crawler.CheckpointStore.
func (m *Memory) Advance(_ context.Context, partition string, unit crawler.WorkUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if current, ok := m.units[partition]; ok {
		if unit.Before(current) {
			return fmt.Errorf("%w: %s -> %s", crawler.ErrCheckpointRegression, current, unit)
		}
	}
	m.units[partition] = unit
	return nil
}
