// Package store persists projects, datasets, specifications, runs, block
// executions and the LLM/HTTP caches. The interface is identical whether it
// is backed by the embedded SQLite engine or a PostgreSQL server; both are
// served by the same GORM implementation.
package store

import (
	"context"

	"dust.evalgo.org/data"
	"dust.evalgo.org/project"
	"dust.evalgo.org/provider"
	"dust.evalgo.org/run"
	"dust.evalgo.org/web"
)

// DatasetVersion is one registered version of a dataset.
type DatasetVersion struct {
	Hash    string `json:"hash"`
	Created int64  `json:"created"`
}

// RunSummary is the listing shape of a run.
type RunSummary struct {
	RunID   string        `json:"run_id"`
	Created int64         `json:"created"`
	AppHash string        `json:"app_hash"`
	Config  run.RunConfig `json:"config"`
}

// BlockRef addresses one block of an app by type and name.
type BlockRef struct {
	Type run.BlockType `json:"block_type"`
	Name string        `json:"name"`
}

// BlockSelector controls which traces LoadRun hydrates. A nil selector
// loads every block; None loads the run shell only; a non-nil Block loads
// that single block's trace.
type BlockSelector struct {
	None  bool
	Block *BlockRef
}

// Store is the persistence capability handed to the engine and to blocks
// through Env. Every operation is atomic per call; appends and status
// updates during a run are never batched across blocks, so a run's
// observable state is always consistent with some prefix of its executions.
// Implementations must be safe for concurrent use; handles are cheap to
// share.
type Store interface {
	// Projects
	CreateProject(ctx context.Context) (project.Project, error)

	// Datasets
	LatestDatasetHash(ctx context.Context, p project.Project, datasetID string) (string, error)
	RegisterDataset(ctx context.Context, p project.Project, d *data.Dataset) error
	LoadDataset(ctx context.Context, p project.Project, datasetID, hash string) (*data.Dataset, error)
	ListDatasets(ctx context.Context, p project.Project) (map[string][]DatasetVersion, error)

	// Specifications
	LatestSpecificationHash(ctx context.Context, p project.Project) (string, error)
	RegisterSpecification(ctx context.Context, p project.Project, hash, spec string) error
	LoadSpecification(ctx context.Context, p project.Project, hash string) (string, error)

	// Runs
	LatestRunID(ctx context.Context, p project.Project) (string, error)
	AllRuns(ctx context.Context, p project.Project) ([]RunSummary, error)
	CreateRunEmpty(ctx context.Context, p project.Project, r *run.Run) error
	UpdateRunStatus(ctx context.Context, p project.Project, runID string, status *run.RunStatus) error
	AppendRunBlock(ctx context.Context, p project.Project, r *run.Run, blockIdx int, blockType run.BlockType, blockName string) error
	LoadRun(ctx context.Context, p project.Project, runID string, selector *BlockSelector) (*run.Run, error)

	// Execution cache, globally deduplicated across projects.
	LoadBlockExecution(ctx context.Context, hash string) (*run.BlockExecution, error)

	// LLM cache, partitioned by project; most recent generation first.
	LLMCacheGet(ctx context.Context, p project.Project, req *provider.LLMRequest) ([]*provider.LLMGeneration, error)
	LLMCacheStore(ctx context.Context, p project.Project, req *provider.LLMRequest, g *provider.LLMGeneration) error

	// HTTP cache, partitioned by project; most recent response first.
	HTTPCacheGet(ctx context.Context, p project.Project, req *web.Request) ([]*web.Response, error)
	HTTPCacheStore(ctx context.Context, p project.Project, req *web.Request, resp *web.Response) error
}
