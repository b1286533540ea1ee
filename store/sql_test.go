package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dust.evalgo.org/data"
	"dust.evalgo.org/provider"
	"dust.evalgo.org/run"
	"dust.evalgo.org/web"
)

func testStore(t *testing.T) *SQL {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "store.sqlite"))
	require.NoError(t, err)
	return s
}

func testDataset(t *testing.T, id string, lines string) *data.Dataset {
	t.Helper()
	path := filepath.Join(t.TempDir(), "d.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))
	d, err := data.FromJSONL(id, path)
	require.NoError(t, err)
	return d
}

func TestCreateProjectMonotonic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p1, err := s.CreateProject(ctx)
	require.NoError(t, err)
	p2, err := s.CreateProject(ctx)
	require.NoError(t, err)
	assert.Greater(t, p2.ID, p1.ID)
}

func TestRegisterDatasetIdempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	d := testDataset(t, "qa", "{\"x\":1}\n{\"x\":2}\n")
	require.NoError(t, s.RegisterDataset(ctx, p, d))
	require.NoError(t, s.RegisterDataset(ctx, p, d))

	// A single dataset version and no duplicated points.
	versions, err := s.ListDatasets(ctx, p)
	require.NoError(t, err)
	require.Len(t, versions["qa"], 1)

	var pointCount int64
	require.NoError(t, s.db.Model(&datasetPointRow{}).Count(&pointCount).Error)
	assert.Equal(t, int64(2), pointCount)
}

func TestDatasetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	d := testDataset(t, "qa", "{\"a\":\"x\",\"n\":1.50}\n{\"a\":\"y\",\"n\":2}\n")
	require.NoError(t, s.RegisterDataset(ctx, p, d))

	hash, err := s.LatestDatasetHash(ctx, p, "qa")
	require.NoError(t, err)
	assert.Equal(t, d.Hash, hash)

	loaded, err := s.LoadDataset(ctx, p, "qa", hash)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, d.Hash, loaded.Hash)
	assert.Equal(t, d.Points, loaded.Points)

	missing, err := s.LoadDataset(ctx, p, "qa", "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDatasetPointsSharedAcrossVersions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	d1 := testDataset(t, "qa", "{\"x\":1}\n{\"x\":2}\n")
	d2 := testDataset(t, "qa", "{\"x\":2}\n{\"x\":3}\n")
	require.NoError(t, s.RegisterDataset(ctx, p, d1))
	require.NoError(t, s.RegisterDataset(ctx, p, d2))

	// {"x":2} is stored once.
	var pointCount int64
	require.NoError(t, s.db.Model(&datasetPointRow{}).Count(&pointCount).Error)
	assert.Equal(t, int64(3), pointCount)
}

func TestSpecificationLatest(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	hash, err := s.LatestSpecificationHash(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "", hash)

	require.NoError(t, s.RegisterSpecification(ctx, p, "h1", "root {\n}\n"))
	require.NoError(t, s.RegisterSpecification(ctx, p, "h1", "root {\n}\n"))

	hash, err = s.LatestSpecificationHash(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "h1", hash)

	spec, err := s.LoadSpecification(ctx, p, "h1")
	require.NoError(t, err)
	assert.Equal(t, "root {\n}\n", spec)
}

func makeRun(appHash string) *run.Run {
	r := run.NewRun(appHash, run.RunConfig{})
	r.Traces = []*run.BlockTrace{
		{
			BlockType: run.BlockTypeRoot,
			Name:      "root",
			Executions: [][]*run.BlockExecution{
				{{Value: map[string]interface{}{"x": "1"}, Hash: "exec-0-0"}},
				{{Value: map[string]interface{}{"x": "2"}, Hash: "exec-1-0"}},
			},
		},
	}
	return r
}

func TestRunRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	r := makeRun("apphash")
	require.NoError(t, s.CreateRunEmpty(ctx, p, r))
	require.NoError(t, s.AppendRunBlock(ctx, p, r, 0, run.BlockTypeRoot, "root"))

	r.Status.Status = run.StatusSucceeded
	require.NoError(t, s.UpdateRunStatus(ctx, p, r.RunID, &r.Status))

	loaded, err := s.LoadRun(ctx, p, r.RunID, nil)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, run.StatusSucceeded, loaded.Status.Status)
	assert.Equal(t, "apphash", loaded.AppHash)
	require.Len(t, loaded.Traces, 1)
	require.Len(t, loaded.Traces[0].Executions, 2)
	assert.Equal(t, "exec-0-0", loaded.Traces[0].Executions[0][0].Hash)

	// Shell-only load.
	shell, err := s.LoadRun(ctx, p, r.RunID, &BlockSelector{None: true})
	require.NoError(t, err)
	assert.Empty(t, shell.Traces)

	// Single-block load.
	one, err := s.LoadRun(ctx, p, r.RunID, &BlockSelector{
		Block: &BlockRef{Type: run.BlockTypeRoot, Name: "root"},
	})
	require.NoError(t, err)
	require.Len(t, one.Traces, 1)

	latest, err := s.LatestRunID(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, latest)
}

func TestAppendRunBlockReplacesJoins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	r := makeRun("apphash")
	require.NoError(t, s.CreateRunEmpty(ctx, p, r))
	require.NoError(t, s.AppendRunBlock(ctx, p, r, 0, run.BlockTypeRoot, "root"))

	// Simulate a while-style re-append with one more execution per input.
	r.Traces[0].Executions[0] = append(r.Traces[0].Executions[0],
		&run.BlockExecution{Value: true, Hash: "exec-0-1"})
	require.NoError(t, s.AppendRunBlock(ctx, p, r, 0, run.BlockTypeRoot, "root"))

	loaded, err := s.LoadRun(ctx, p, r.RunID, nil)
	require.NoError(t, err)
	require.Len(t, loaded.Traces[0].Executions[0], 2)
	assert.Equal(t, "exec-0-1", loaded.Traces[0].Executions[0][1].Hash)
}

func TestBlockExecutionCacheGloballyDeduplicated(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p1, err := s.CreateProject(ctx)
	require.NoError(t, err)
	p2, err := s.CreateProject(ctx)
	require.NoError(t, err)

	r1 := makeRun("apphash")
	require.NoError(t, s.CreateRunEmpty(ctx, p1, r1))
	require.NoError(t, s.AppendRunBlock(ctx, p1, r1, 0, run.BlockTypeRoot, "root"))

	r2 := makeRun("apphash")
	require.NoError(t, s.CreateRunEmpty(ctx, p2, r2))
	require.NoError(t, s.AppendRunBlock(ctx, p2, r2, 0, run.BlockTypeRoot, "root"))

	var count int64
	require.NoError(t, s.db.Model(&blockExecutionRow{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	exec, err := s.LoadBlockExecution(ctx, "exec-0-0")
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, "exec-0-0", exec.Hash)

	miss, err := s.LoadBlockExecution(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestRunIDUnique(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	r := makeRun("apphash")
	require.NoError(t, s.CreateRunEmpty(ctx, p, r))
	assert.Error(t, s.CreateRunEmpty(ctx, p, r))
}

func TestLLMCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	req := &provider.LLMRequest{ProviderID: "stub", ModelID: "m", Prompt: "hi", MaxTokens: 16}
	got, err := s.LLMCacheGet(ctx, p, req)
	require.NoError(t, err)
	assert.Empty(t, got)

	g := &provider.LLMGeneration{CreatedAt: 1, ProviderID: "stub", ModelID: "m", Prompt: "hi", Completion: "hello"}
	require.NoError(t, s.LLMCacheStore(ctx, p, req, g))

	got, err = s.LLMCacheGet(ctx, p, req)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Completion)

	// The cache is partitioned by project.
	other, err := s.CreateProject(ctx)
	require.NoError(t, err)
	got, err = s.LLMCacheGet(ctx, other, req)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHTTPCacheMostRecentPreferred(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	req, err := web.NewRequest("GET", "https://example.com/a", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.HTTPCacheStore(ctx, p, req, &web.Response{CreatedAt: 1, Status: 500, Body: "old"}))
	require.NoError(t, s.HTTPCacheStore(ctx, p, req, &web.Response{CreatedAt: 2, Status: 200, Body: "new"}))

	got, err := s.HTTPCacheGet(ctx, p, req)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, 200, got[0].Status)
	assert.Equal(t, "new", got[0].Body)
}
