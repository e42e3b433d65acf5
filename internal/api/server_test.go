package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archive-harvester/internal/schedule"
	"github.com/JakeFAU/news-archive-harvester/internal/status"
)

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{}), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServerReadyz(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		ready func() error
		want  int
	}{
		{name: "no probe", want: http.StatusOK},
		{name: "ready", ready: func() error { return nil }, want: http.StatusOK},
		{name: "not ready", ready: func() error { return errors.New("crawl finished") }, want: http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, NewServer(Options{Ready: tc.ready}), "/readyz")
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	serve(t, s, "/healthz")
	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServerProgress(t *testing.T) {
	t.Parallel()

	report := status.Report{
		Source:     "lemonde",
		Cap:        10,
		Partitions: []schedule.PartitionProgress{{Partition: "p0of1", Completed: 3, Total: 31}},
		Completed:  3,
		Total:      31,
		Items:      27,
		BelowCap:   []status.UnitCount{{Unit: "2015-01-02", Count: 7}},
	}
	s := NewServer(Options{
		Status: func(context.Context) (status.Report, error) { return report, nil },
		Logger: zap.NewNop(),
	})

	rec := serve(t, s, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var got status.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, report, got)
}

func TestServerProgressErrors(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(Options{}), "/v1/progress")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	failing := NewServer(Options{Status: func(context.Context) (status.Report, error) {
		return status.Report{}, errors.New("checkpoint unreadable")
	}})
	rec = serve(t, failing, "/v1/progress")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServerRecoversFromPanic(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{Status: func(context.Context) (status.Report, error) {
		panic("boom")
	}})
	rec := serve(t, s, "/v1/progress")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(Options{}).ListenAndServe(ctx, "127.0.0.1:0") }()
	cancel()
	require.NoError(t, <-done)
}
