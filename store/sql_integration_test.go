//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"dust.evalgo.org/data"
	"dust.evalgo.org/provider"
	"dust.evalgo.org/run"
)

// setupPostgresContainer starts a PostgreSQL container for testing
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())

	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return dsn, cleanup
}

func TestPostgres_Integration_FullCycle(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	s, err := NewPostgres(dsn)
	require.NoError(t, err)

	ctx := context.Background()
	p, err := s.CreateProject(ctx)
	require.NoError(t, err)

	// Dataset register / load round trip.
	path := filepath.Join(t.TempDir(), "d.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{\"x\":1}\n{\"x\":2}\n"), 0o644))
	d, err := data.FromJSONL("qa", path)
	require.NoError(t, err)
	require.NoError(t, s.RegisterDataset(ctx, p, d))
	require.NoError(t, s.RegisterDataset(ctx, p, d))

	hash, err := s.LatestDatasetHash(ctx, p, "qa")
	require.NoError(t, err)
	assert.Equal(t, d.Hash, hash)

	loaded, err := s.LoadDataset(ctx, p, "qa", hash)
	require.NoError(t, err)
	assert.Equal(t, d.Points, loaded.Points)

	// Run lifecycle.
	r := run.NewRun("apphash", run.RunConfig{})
	r.Traces = []*run.BlockTrace{{
		BlockType: run.BlockTypeRoot,
		Name:      "root",
		Executions: [][]*run.BlockExecution{
			{{Value: map[string]interface{}{"x": "1"}, Hash: "pg-exec-0"}},
		},
	}}
	require.NoError(t, s.CreateRunEmpty(ctx, p, r))
	require.NoError(t, s.AppendRunBlock(ctx, p, r, 0, run.BlockTypeRoot, "root"))
	r.Status.Status = run.StatusSucceeded
	require.NoError(t, s.UpdateRunStatus(ctx, p, r.RunID, &r.Status))

	fromDB, err := s.LoadRun(ctx, p, r.RunID, nil)
	require.NoError(t, err)
	assert.Equal(t, run.StatusSucceeded, fromDB.Status.Status)
	require.Len(t, fromDB.Traces, 1)

	// LLM cache.
	req := &provider.LLMRequest{ProviderID: "stub", ModelID: "m", Prompt: "hi"}
	g := &provider.LLMGeneration{CreatedAt: 1, Completion: "hello"}
	require.NoError(t, s.LLMCacheStore(ctx, p, req, g))
	cached, err := s.LLMCacheGet(ctx, p, req)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "hello", cached[0].Completion)
}
