package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/couchcryptid/grid-obs-bufr/internal/adapter/http"
	"github.com/couchcryptid/grid-obs-bufr/internal/domain"
	"github.com/couchcryptid/grid-obs-bufr/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockRuns struct {
	reports  []pipeline.Report
	err      error
	gotType  domain.ObsType
	gotLimit int
}

func (m *mockRuns) List(_ context.Context, obsType domain.ObsType, limit int) ([]pipeline.Report, error) {
	m.gotType, m.gotLimit = obsType, limit
	return m.reports, m.err
}

func (m *mockRuns) Get(_ context.Context, id string) (*pipeline.Report, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.reports {
		if m.reports[i].RunID == id {
			return &m.reports[i], nil
		}
	}
	return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, id)
}

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, nil, slog.Default())
}

func serve(srv *httpadapter.Server, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil), "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("no run has completed yet")), "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "no run has completed yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRunsNotRoutedWithoutLedger(t *testing.T) {
	rec := serve(newTestServer(nil), "/runs")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRuns(t *testing.T) {
	runs := &mockRuns{reports: []pipeline.Report{
		{RunID: "b", ObsType: domain.Surface, Stats: domain.Stats{FinalCount: 7}},
		{RunID: "a", ObsType: domain.Surface},
	}}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, runs, slog.Default())

	rec := serve(srv, "/runs?obs_type=surface&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.Surface, runs.gotType)
	assert.Equal(t, 2, runs.gotLimit)

	var body []pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 2)
	assert.Equal(t, "b", body[0].RunID)
	assert.Equal(t, 7, body[0].Stats.FinalCount)

	serve(srv, "/runs")
	assert.Equal(t, domain.ObsType(""), runs.gotType)
	assert.Equal(t, 50, runs.gotLimit)
}

func TestListRuns_BadQuery(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockRuns{}, slog.Default())

	for _, target := range []string{"/runs?obs_type=radar", "/runs?limit=0", "/runs?limit=many"} {
		rec := serve(srv, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListRuns_StoreError(t *testing.T) {
	srv := httpadapter.NewServer(":0", &mockReadiness{}, &mockRuns{err: errors.New("database is locked")}, slog.Default())

	rec := serve(srv, "/runs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetRun(t *testing.T) {
	runs := &mockRuns{reports: []pipeline.Report{{RunID: "run-1", OutputPath: "data/bufr/x.bufr"}}}
	srv := httpadapter.NewServer(":0", &mockReadiness{}, runs, slog.Default())

	rec := serve(srv, "/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "data/bufr/x.bufr", body.OutputPath)

	rec = serve(srv, "/runs/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
