// Package quota tracks how many items were captured per work unit.
package quota

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/storage/local"
)

// DefaultCap is the per-unit item cap when none is configured.
const DefaultCap = 10

// Tracker counts captured items per unit and persists the table as
// "<unit>,<count>" lines, rewriting the file atomically on every change.
// A Tracker built by NewMemory keeps counts in memory only.
type Tracker struct {
	files *local.Store
	name  string
	cap   int

	mu     sync.Mutex
	counts map[string]int
}

// FileName returns the quota file used for a source.
func FileName(source string) string {
	return source + ".quota"
}

// NewFileTracker loads (or creates) the quota table for source.
func NewFileTracker(files *local.Store, source string, limit int) (*Tracker, error) {
	if files == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("source is required")
	}
	t := newTracker(limit)
	t.files = files
	t.name = FileName(source)

	data, err := files.ReadFile(t.name)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return t, nil
	case err != nil:
		return nil, fmt.Errorf("read quota %s: %w", t.name, err)
	}
	counts, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", crawler.ErrCheckpointCorruption, t.name, err)
	}
	// Counts recorded under a larger cap are read back at the current one.
	for k, n := range counts {
		counts[k] = min(n, t.cap)
	}
	t.counts = counts
	return t, nil
}

// NewMemory builds a Tracker that never touches disk.
func NewMemory(limit int) *Tracker {
	return newTracker(limit)
}

func newTracker(limit int) *Tracker {
	if limit <= 0 {
		limit = DefaultCap
	}
	return &Tracker{cap: limit, counts: make(map[string]int)}
}

// Cap returns the per-unit item cap.
func (t *Tracker) Cap() int {
	return t.cap
}

// Get returns the number of items captured for unit.
func (t *Tracker) Get(_ context.Context, unit crawler.WorkUnit) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[unit.Key()], nil
}

// Remaining returns how many more items unit may capture.
func (t *Tracker) Remaining(_ context.Context, unit crawler.WorkUnit) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return max(0, t.cap-t.counts[unit.Key()]), nil
}

// Increment records one more captured item for unit and returns the new
// count. At the cap it returns ErrQuotaExceeded and leaves the count alone.
func (t *Tracker) Increment(_ context.Context, unit crawler.WorkUnit) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := unit.Key()
	current := t.counts[key]
	if current >= t.cap {
		return current, crawler.ErrQuotaExceeded
	}
	t.counts[key] = current + 1
	if err := t.persistLocked(); err != nil {
		t.counts[key] = current
		return current, err
	}
	return current + 1, nil
}

// Snapshot copies the table, keyed by unit key.
func (t *Tracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.counts))
	for k, v := range t.counts {
		out[k] = v
	}
	return out
}

func (t *Tracker) persistLocked() error {
	if t.files == nil {
		return nil
	}
	if err := t.files.WriteFileAtomic(t.name, encode(t.counts)); err != nil {
		return fmt.Errorf("write quota %s: %w", t.name, err)
	}
	return nil
}

func encode(counts map[string]int) []byte {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte(',')
		buf.WriteString(strconv.Itoa(counts[k]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func parse(data []byte) (map[string]int, error) {
	counts := make(map[string]int)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		rawUnit, rawCount, ok := strings.Cut(text, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: missing count", line)
		}
		unit, err := crawler.ParseWorkUnit(rawUnit)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		count, err := strconv.Atoi(strings.TrimSpace(rawCount))
		if err != nil || count < 0 {
			return nil, fmt.Errorf("line %d: invalid count %q", line, rawCount)
		}
		counts[unit.Key()] = count
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan quota: %w", err)
	}
	return counts, nil
}
