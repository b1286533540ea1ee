package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dust.evalgo.org/data"
	"dust.evalgo.org/project"
	"dust.evalgo.org/run"
	"dust.evalgo.org/store"
)

func testServer(t *testing.T, apiKey string) (*Server, store.Store, project.Project) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "store.sqlite"))
	require.NoError(t, err)
	p, err := st.CreateProject(context.Background())
	require.NoError(t, err)
	return NewServer(st, p, Config{APIKey: apiKey}), st, p
}

func doRequest(s *Server, method, target, apiKey string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _, _ := testServer(t, "")
	rec := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAPIKeyRequired(t *testing.T) {
	s, _, _ := testServer(t, "secret")

	rec := doRequest(s, http.MethodGet, "/v1/runs", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/v1/runs", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(s, http.MethodGet, "/v1/runs", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListDatasets(t *testing.T) {
	s, st, p := testServer(t, "")

	path := filepath.Join(t.TempDir(), "d.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"x\":1}\n"), 0o644))
	d, err := data.FromJSONL("qa", path)
	require.NoError(t, err)
	require.NoError(t, st.RegisterDataset(context.Background(), p, d))

	rec := doRequest(s, http.MethodGet, "/v1/datasets", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), d.Hash)
}

func TestGetRun(t *testing.T) {
	s, st, p := testServer(t, "")

	r := run.NewRun("apphash", run.RunConfig{})
	r.Traces = []*run.BlockTrace{{
		BlockType: run.BlockTypeRoot,
		Name:      "root",
		Executions: [][]*run.BlockExecution{
			{{Value: map[string]interface{}{"x": "1"}, Hash: "h0"}},
		},
	}}
	require.NoError(t, st.CreateRunEmpty(context.Background(), p, r))
	require.NoError(t, st.AppendRunBlock(context.Background(), p, r, 0, run.BlockTypeRoot, "root"))

	rec := doRequest(s, http.MethodGet, "/v1/runs/"+r.RunID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "apphash")

	rec = doRequest(s, http.MethodGet, "/v1/runs/"+r.RunID+"/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), r.RunID)

	rec = doRequest(s, http.MethodGet, "/v1/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
