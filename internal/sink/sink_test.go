package sink

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
	"github.com/JakeFAU/news-archive-harvester/internal/crawler/crawlertest"
)

type failingSink struct{ closeErr error }

func (failingSink) Append(context.Context, crawler.Item) (bool, error) {
	return false, errors.New("mirror down")
}

func (f failingSink) Close() error { return f.closeErr }

func TestMultiMirrorsOnlyNewItems(t *testing.T) {
	t.Parallel()

	primary, mirror := crawlertest.NewSink(), crawlertest.NewSink()
	m := NewMulti(nil, primary, mirror)
	ctx := context.Background()
	item := crawler.Item{Source: "s", Title: "t"}

	stored, err := m.Append(ctx, item)
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = m.Append(ctx, item)
	require.NoError(t, err)
	assert.False(t, stored)

	assert.Len(t, primary.Items(), 1)
	assert.Len(t, mirror.Items(), 1)
	require.NoError(t, m.Close())
}

func TestMultiMirrorFailure(t *testing.T) {
	t.Parallel()

	m := NewMulti(zap.NewNop(), crawlertest.NewSink(), failingSink{closeErr: errors.New("close failed")})
	stored, err := m.Append(context.Background(), crawler.Item{Title: "x"})
	require.NoError(t, err)
	assert.True(t, stored, "primary write is kept")
	assert.ErrorContains(t, m.Close(), "close failed")
}
