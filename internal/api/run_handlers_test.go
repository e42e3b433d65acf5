package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/news-archive-harvester/internal/store"
)

func seededRepo(t *testing.T) (*store.Memory, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	repo := store.NewMemory()
	runID := uuid.New()
	started := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, repo.StartRun(ctx, runID, "lemonde", started))
	require.NoError(t, repo.RecordUnits(ctx, []store.UnitRecord{
		{RunID: runID, Partition: "p0of1", Unit: "2015-01-01", Stored: 10, Filled: true, Duration: 3 * time.Second, CompletedAt: started.Add(time.Minute)},
		{RunID: runID, Partition: "p0of1", Unit: "2015-01-02", Stored: 6, Skipped: 2, CompletedAt: started.Add(2 * time.Minute)},
	}))
	require.NoError(t, repo.FinishRun(ctx, runID, started.Add(time.Hour), store.RunSuccess, nil))

	failed := uuid.New()
	msg := "session restart budget exhausted"
	require.NoError(t, repo.StartRun(ctx, failed, "lemonde", started.Add(2*time.Hour)))
	require.NoError(t, repo.FinishRun(ctx, failed, started.Add(3*time.Hour), store.RunError, &msg))
	return repo, runID
}

func TestRunHandlerListRuns(t *testing.T) {
	t.Parallel()

	repo, _ := seededRepo(t)
	s := NewServer(Options{Runs: repo})

	tests := []struct {
		name   string
		path   string
		code   int
		expect int
	}{
		{name: "all", path: "/v1/runs", code: http.StatusOK, expect: 2},
		{name: "by status", path: "/v1/runs?status=success", code: http.StatusOK, expect: 1},
		{name: "limited", path: "/v1/runs?limit=1", code: http.StatusOK, expect: 1},
		{name: "offset past end", path: "/v1/runs?offset=5", code: http.StatusOK, expect: 0},
		{name: "bad status", path: "/v1/runs?status=paused", code: http.StatusBadRequest},
		{name: "bad limit", path: "/v1/runs?limit=-1", code: http.StatusBadRequest},
		{name: "bad offset", path: "/v1/runs?offset=x", code: http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, s, tc.path)
			require.Equal(t, tc.code, rec.Code, rec.Body.String())
			if tc.code != http.StatusOK {
				return
			}
			var body struct {
				Runs []runDTO `json:"runs"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Len(t, body.Runs, tc.expect)
		})
	}
}

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	repo, runID := seededRepo(t)
	s := NewServer(Options{Runs: repo})

	rec := serve(t, s, "/v1/runs/"+runID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, runID.String(), body.Run.ID)
	assert.Equal(t, "success", body.Run.Status)
	assert.Equal(t, 2, body.Run.Units)
	assert.Equal(t, 16, body.Run.Items)

	assert.Equal(t, http.StatusNotFound, serve(t, s, "/v1/runs/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/runs/not-a-uuid").Code)
}

func TestRunHandlerListRunUnits(t *testing.T) {
	t.Parallel()

	repo, runID := seededRepo(t)
	s := NewServer(Options{Runs: repo})

	rec := serve(t, s, "/v1/runs/"+runID.String()+"/units")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Units []unitDTO `json:"units"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Units, 2)
	assert.Equal(t, "2015-01-02", body.Units[0].Unit, "newest first")
	assert.Equal(t, int64(3000), body.Units[1].DurationMS)

	assert.Equal(t, http.StatusBadRequest, serve(t, s, "/v1/runs/"+runID.String()+"/units?limit=0").Code)
}

func TestRunHandlerWithoutRepository(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	for _, path := range []string{"/v1/runs", "/v1/runs/" + uuid.NewString(), "/v1/runs/" + uuid.NewString() + "/units"} {
		assert.Equal(t, http.StatusServiceUnavailable, serve(t, s, path).Code, path)
	}
}

type failingRepo struct {
	store.RunRepository
}

func (failingRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.Run, error) {
	return nil, errors.New("db down")
}

func (failingRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, errors.New("db down")
}

func TestRunHandlerRepositoryErrors(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Runs: failingRepo{}})
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, "/v1/runs").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(t, s, "/v1/runs/"+uuid.NewString()).Code)
}
