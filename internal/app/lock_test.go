//go:build unix

package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archive-harvester/internal/storage/local"
)

func TestRunRefusesWhenStateDirIsLocked(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, 1, 1, 1)
	fetcher := site(1, 1)
	a, err := New(context.Background(), cfg, nil, sharedSession(fetcher))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close()) }()

	other, err := local.New(local.Config{BaseDir: cfg.Crawl.StateDir})
	require.NoError(t, err)
	unlock, err := other.Lock()
	require.NoError(t, err)

	_, err = a.Run(context.Background())
	require.ErrorIs(t, err, local.ErrLocked)
	assert.Zero(t, fetcher.TotalCalls())

	require.NoError(t, unlock())
	report, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals().Items)
}
