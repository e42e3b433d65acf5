// Package sink composes output sinks.
package sink

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

// Multi writes to a primary sink and mirrors new items to secondaries.
// The primary decides whether an item is new; mirrors deduplicate on their
// own. Mirror failures are logged and do not fail the append.
type Multi struct {
	primary crawler.OutputSink
	mirrors []crawler.OutputSink
	logger  *zap.Logger
}

// NewMulti builds a Multi. primary must not be nil.
func NewMulti(logger *zap.Logger, primary crawler.OutputSink, mirrors ...crawler.OutputSink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{primary: primary, mirrors: mirrors, logger: logger}
}

// Append implements crawler.OutputSink.
func (m *Multi) Append(ctx context.Context, item crawler.Item) (bool, error) {
	stored, err := m.primary.Append(ctx, item)
	if err != nil {
		return false, err
	}
	if !stored {
		return false, nil
	}
	for i, mirror := range m.mirrors {
		if _, err := mirror.Append(ctx, item); err != nil {
			m.logger.Error("mirror append failed", zap.Int("mirror", i), zap.String("title", item.Title), zap.Error(err))
		}
	}
	return true, nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close() error {
	errs := []error{m.primary.Close()}
	for _, mirror := range m.mirrors {
		errs = append(errs, mirror.Close())
	}
	return errors.Join(errs...)
}
