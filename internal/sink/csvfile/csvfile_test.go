package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archive-harvester/internal/crawler"
)

func item(n int) crawler.Item {
	return crawler.Item{
		Source:        "Le Monde",
		Title:         fmt.Sprintf("Titre %d", n),
		PublishedDate: "2015-01-01",
		Description:   "Une description, avec virgule",
		Body:          "Premier paragraphe \"cité\".\nSecond paragraphe.",
		URL:           fmt.Sprintf("https://www.lemonde.fr/politique/article/%d.html", n),
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestAppendWritesQuotedRowsWithoutHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "lemonde.csv")
	s, err := Open(path, Options{})
	require.NoError(t, err)

	stored, err := s.Append(context.Background(), item(1))
	require.NoError(t, err)
	assert.True(t, stored)
	require.NoError(t, s.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, item(1).Record(), rows[0])
}

func TestAppendDeduplicatesAcrossReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := Open(path, Options{NoSync: true})
	require.NoError(t, err)
	ctx := context.Background()

	stored, err := s.Append(ctx, item(1))
	require.NoError(t, err)
	assert.True(t, stored)
	stored, err = s.Append(ctx, item(1))
	require.NoError(t, err)
	assert.False(t, stored)
	require.NoError(t, s.Close())

	reopened, err := Open(path, Options{NoSync: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	assert.Equal(t, 1, reopened.Len())
	assert.True(t, reopened.Contains(item(1)))

	stored, err = reopened.Append(ctx, item(1))
	require.NoError(t, err)
	assert.False(t, stored)
	stored, err = reopened.Append(ctx, item(2))
	require.NoError(t, err)
	assert.True(t, stored)
	assert.Len(t, readRows(t, path), 2)
}

func TestOpenTruncatesTornTail(t *testing.T) {
	t.Parallel()

	good, err := encode(item(1).Record())
	require.NoError(t, err)
	second, err := encode(item(2).Record())
	require.NoError(t, err)

	tests := []struct {
		name string
		tail string
	}{
		{name: "inside quoted field", tail: string(second[:len(second)/2])},
		{name: "missing fields", tail: "Le Monde,Titre"},
		{name: "missing newline", tail: strings.TrimSuffix(string(second), "\n")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "out.csv")
			require.NoError(t, os.WriteFile(path, append(append([]byte(nil), good...), tc.tail...), 0o600))

			s, err := Open(path, Options{})
			require.NoError(t, err)
			assert.Equal(t, 1, s.Len())

			stored, err := s.Append(context.Background(), item(2))
			require.NoError(t, err)
			assert.True(t, stored)
			require.NoError(t, s.Close())

			rows := readRows(t, path)
			require.Len(t, rows, 2)
			assert.Equal(t, item(2).Record(), rows[1])
		})
	}
}

func TestOpenRejectsCorruptMiddle(t *testing.T) {
	t.Parallel()

	good, err := encode(item(1).Record())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "out.csv")
	content := "only,three,fields\n" + string(good)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err = Open(path, Options{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestConcurrentAppendsNeverInterleave(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := Open(path, Options{NoSync: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				_, err := s.Append(context.Background(), item(w*100+i%10))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, s.Close())

	rows := readRows(t, path)
	assert.Len(t, rows, 40)
	for _, row := range rows {
		assert.Len(t, row, columns)
	}
}

func TestAppendAfterCloseFails(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "out.csv"), Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Append(context.Background(), item(1))
	assert.Error(t, err)
}
