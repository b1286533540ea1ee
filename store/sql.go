package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dust.evalgo.org/common"
	"dust.evalgo.org/data"
	"dust.evalgo.org/project"
	"dust.evalgo.org/provider"
	"dust.evalgo.org/run"
	"dust.evalgo.org/web"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQL implements Store on top of GORM. The same implementation serves the
// embedded SQLite engine and PostgreSQL; only the dialector differs.
type SQL struct {
	db *gorm.DB
}

// NewSQLite opens (and migrates) an embedded store at path.
func NewSQLite(path string) (*SQL, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	return initStore(db)
}

// NewPostgres opens (and migrates) a server store from a DSN.
func NewPostgres(dsn string) (*SQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return initStore(db)
}

func initStore(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return &SQL{db: db}, nil
}

func now() int64 {
	return time.Now().UnixMilli()
}

// decodeJSON unmarshals preserving number literals, so values loaded from
// the store hash identically to the values that were stored.
func decodeJSON(raw string, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	return dec.Decode(out)
}

// Projects

func (s *SQL) CreateProject(ctx context.Context) (project.Project, error) {
	row := projectRow{}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return project.Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	return project.Project{ID: row.ID}, nil
}

// Datasets

func (s *SQL) LatestDatasetHash(ctx context.Context, p project.Project, datasetID string) (string, error) {
	var row datasetRow
	err := s.db.WithContext(ctx).
		Where("project = ? AND dataset_id = ?", p.ID, datasetID).
		Order("created DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest dataset hash: %w", err)
	}
	return row.Hash, nil
}

func (s *SQL) RegisterDataset(ctx context.Context, p project.Project, d *data.Dataset) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Idempotent by (project, id, hash): re-registering identical content
		// leaves the store untouched.
		var count int64
		if err := tx.Model(&datasetRow{}).
			Where("project = ? AND dataset_id = ? AND hash = ?", p.ID, d.ID, d.Hash).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		ds := datasetRow{
			Project:   p.ID,
			Created:   now(),
			DatasetID: d.ID,
			Hash:      d.Hash,
		}
		if err := tx.Create(&ds).Error; err != nil {
			return err
		}

		for idx, point := range d.Points {
			canonical, err := common.CanonicalJSON(point)
			if err != nil {
				return err
			}
			pr := datasetPointRow{
				Hash: common.HashBytes(canonical),
				JSON: string(canonical),
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "hash"}},
				DoNothing: true,
			}).Create(&pr).Error; err != nil {
				return err
			}
			if pr.ID == 0 {
				// Point already known, resolve its id.
				if err := tx.Where("hash = ?", pr.Hash).First(&pr).Error; err != nil {
					return err
				}
			}
			if err := tx.Create(&datasetJoinRow{
				Dataset:  ds.ID,
				Point:    pr.ID,
				PointIdx: int64(idx),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQL) LoadDataset(ctx context.Context, p project.Project, datasetID, hash string) (*data.Dataset, error) {
	var ds datasetRow
	err := s.db.WithContext(ctx).
		Where("project = ? AND dataset_id = ? AND hash = ?", p.ID, datasetID, hash).
		Order("created DESC").
		First(&ds).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset: %w", err)
	}

	var points []datasetPointRow
	err = s.db.WithContext(ctx).
		Model(&datasetPointRow{}).
		Select("datasets_points.*").
		Joins("JOIN datasets_joins ON datasets_joins.point = datasets_points.id").
		Where("datasets_joins.dataset = ?", ds.ID).
		Order("datasets_joins.point_idx ASC").
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset points: %w", err)
	}

	raw := make([]string, len(points))
	for i, pt := range points {
		raw[i] = pt.JSON
	}
	d, err := data.FromPoints(datasetID, raw)
	if err != nil {
		return nil, err
	}
	if d.Hash != hash {
		return nil, fmt.Errorf("dataset `%s` content hash mismatch: expected %s, got %s", datasetID, hash, d.Hash)
	}
	return d, nil
}

func (s *SQL) ListDatasets(ctx context.Context, p project.Project) (map[string][]DatasetVersion, error) {
	var rows []datasetRow
	err := s.db.WithContext(ctx).
		Where("project = ?", p.ID).
		Order("dataset_id ASC, created ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	out := map[string][]DatasetVersion{}
	for _, row := range rows {
		out[row.DatasetID] = append(out[row.DatasetID], DatasetVersion{
			Hash:    row.Hash,
			Created: row.Created,
		})
	}
	return out, nil
}

// Specifications

func (s *SQL) LatestSpecificationHash(ctx context.Context, p project.Project) (string, error) {
	var row specificationRow
	err := s.db.WithContext(ctx).
		Where("project = ?", p.ID).
		Order("created DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest specification hash: %w", err)
	}
	return row.Hash, nil
}

func (s *SQL) RegisterSpecification(ctx context.Context, p project.Project, hash, spec string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&specificationRow{}).
		Where("project = ? AND hash = ?", p.ID, hash).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&specificationRow{
		Project:       p.ID,
		Created:       now(),
		Hash:          hash,
		Specification: spec,
	}).Error
}

func (s *SQL) LoadSpecification(ctx context.Context, p project.Project, hash string) (string, error) {
	var row specificationRow
	err := s.db.WithContext(ctx).
		Where("project = ? AND hash = ?", p.ID, hash).
		Order("created DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load specification: %w", err)
	}
	return row.Specification, nil
}

// Runs

func (s *SQL) LatestRunID(ctx context.Context, p project.Project) (string, error) {
	var row runRow
	err := s.db.WithContext(ctx).
		Where("project = ?", p.ID).
		Order("created DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load latest run: %w", err)
	}
	return row.RunID, nil
}

func (s *SQL) AllRuns(ctx context.Context, p project.Project) ([]RunSummary, error) {
	var rows []runRow
	err := s.db.WithContext(ctx).
		Where("project = ?", p.ID).
		Order("created DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]RunSummary, 0, len(rows))
	for _, row := range rows {
		var cfg run.RunConfig
		if err := decodeJSON(row.ConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("run %s has invalid config: %w", row.RunID, err)
		}
		out = append(out, RunSummary{
			RunID:   row.RunID,
			Created: row.Created,
			AppHash: row.AppHash,
			Config:  cfg,
		})
	}
	return out, nil
}

func (s *SQL) CreateRunEmpty(ctx context.Context, p project.Project, r *run.Run) error {
	configJSON, err := json.Marshal(r.Config)
	if err != nil {
		return err
	}
	statusJSON, err := json.Marshal(r.Status)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&runRow{
		Project:    p.ID,
		Created:    r.CreatedAt,
		RunID:      r.RunID,
		AppHash:    r.AppHash,
		ConfigJSON: string(configJSON),
		StatusJSON: string(statusJSON),
	}).Error
}

func (s *SQL) UpdateRunStatus(ctx context.Context, p project.Project, runID string, status *run.RunStatus) error {
	statusJSON, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(&runRow{}).
		Where("project = ? AND run_id = ?", p.ID, runID).
		Update("status_json", string(statusJSON)).Error
}

func (s *SQL) AppendRunBlock(
	ctx context.Context,
	p project.Project,
	r *run.Run,
	blockIdx int,
	blockType run.BlockType,
	blockName string,
) error {
	if blockIdx < 0 || blockIdx >= len(r.Traces) {
		return fmt.Errorf("block index %d out of range", blockIdx)
	}
	trace := r.Traces[blockIdx]

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row runRow
		if err := tx.Where("project = ? AND run_id = ?", p.ID, r.RunID).First(&row).Error; err != nil {
			return fmt.Errorf("run %s not found: %w", r.RunID, err)
		}

		// A block may be appended repeatedly as while iterations accumulate;
		// replace its joins wholesale so the persisted trace mirrors memory.
		if err := tx.Where("run = ? AND block_idx = ?", row.ID, blockIdx).
			Delete(&runJoinRow{}).Error; err != nil {
			return err
		}

		for inputIdx, execs := range trace.Executions {
			for mapIdx, exec := range execs {
				execJSON, err := json.Marshal(exec)
				if err != nil {
					return err
				}
				// Duplicate computes of the same fingerprint are tolerated;
				// the last writer's result wins.
				er := blockExecutionRow{
					Hash:      exec.Hash,
					Execution: string(execJSON),
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "hash"}},
					DoUpdates: clause.AssignmentColumns([]string{"execution"}),
				}).Create(&er).Error; err != nil {
					return err
				}
				if er.ID == 0 {
					if err := tx.Where("hash = ?", er.Hash).First(&er).Error; err != nil {
						return err
					}
				}
				if err := tx.Create(&runJoinRow{
					Run:            row.ID,
					BlockIdx:       int64(blockIdx),
					BlockType:      string(blockType),
					BlockName:      blockName,
					InputIdx:       int64(inputIdx),
					MapIdx:         int64(mapIdx),
					BlockExecution: er.ID,
				}).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// joinedExecution is the projection used to rebuild traces.
type joinedExecution struct {
	BlockIdx  int64
	BlockType string
	BlockName string
	InputIdx  int64
	MapIdx    int64
	Hash      string
	Execution string
}

func (s *SQL) LoadRun(
	ctx context.Context,
	p project.Project,
	runID string,
	selector *BlockSelector,
) (*run.Run, error) {
	var row runRow
	err := s.db.WithContext(ctx).
		Where("project = ? AND run_id = ?", p.ID, runID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	r := &run.Run{
		RunID:     row.RunID,
		CreatedAt: row.Created,
		AppHash:   row.AppHash,
	}
	if err := decodeJSON(row.ConfigJSON, &r.Config); err != nil {
		return nil, fmt.Errorf("run %s has invalid config: %w", runID, err)
	}
	if err := decodeJSON(row.StatusJSON, &r.Status); err != nil {
		return nil, fmt.Errorf("run %s has invalid status: %w", runID, err)
	}

	if selector != nil && selector.None {
		return r, nil
	}

	q := s.db.WithContext(ctx).
		Table("runs_joins").
		Select("runs_joins.block_idx, runs_joins.block_type, runs_joins.block_name, "+
			"runs_joins.input_idx, runs_joins.map_idx, "+
			"block_executions.hash, block_executions.execution").
		Joins("JOIN block_executions ON block_executions.id = runs_joins.block_execution").
		Where("runs_joins.run = ?", row.ID).
		Order("runs_joins.block_idx ASC, runs_joins.input_idx ASC, runs_joins.map_idx ASC")
	if selector != nil && selector.Block != nil {
		q = q.Where("runs_joins.block_type = ? AND runs_joins.block_name = ?",
			string(selector.Block.Type), selector.Block.Name)
	}

	var joined []joinedExecution
	if err := q.Scan(&joined).Error; err != nil {
		return nil, fmt.Errorf("failed to load run executions: %w", err)
	}

	traceByIdx := map[int64]*run.BlockTrace{}
	var order []int64
	for _, j := range joined {
		t, ok := traceByIdx[j.BlockIdx]
		if !ok {
			t = &run.BlockTrace{
				BlockType: run.BlockType(j.BlockType),
				Name:      j.BlockName,
			}
			traceByIdx[j.BlockIdx] = t
			order = append(order, j.BlockIdx)
		}
		var exec run.BlockExecution
		if err := decodeJSON(j.Execution, &exec); err != nil {
			return nil, fmt.Errorf("invalid execution %s: %w", j.Hash, err)
		}
		exec.Hash = j.Hash
		for int64(len(t.Executions)) <= j.InputIdx {
			t.Executions = append(t.Executions, nil)
		}
		t.Executions[j.InputIdx] = append(t.Executions[j.InputIdx], &exec)
	}
	for _, idx := range order {
		r.Traces = append(r.Traces, traceByIdx[idx])
	}
	return r, nil
}

// Execution cache

func (s *SQL) LoadBlockExecution(ctx context.Context, hash string) (*run.BlockExecution, error) {
	var row blockExecutionRow
	err := s.db.WithContext(ctx).Where("hash = ?", hash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load block execution: %w", err)
	}
	var exec run.BlockExecution
	if err := decodeJSON(row.Execution, &exec); err != nil {
		return nil, fmt.Errorf("invalid execution %s: %w", hash, err)
	}
	exec.Hash = row.Hash
	return &exec, nil
}

// LLM / HTTP caches. Both share the cache table; request hashes are domain
// separated so the streams cannot collide. The unique hash index makes a
// store an upsert: the most recent response wins.

func (s *SQL) cacheGet(ctx context.Context, p project.Project, hash string) ([]cacheRow, error) {
	var rows []cacheRow
	err := s.db.WithContext(ctx).
		Where("project = ? AND hash = ?", p.ID, hash).
		Order("created DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}
	return rows, nil
}

func (s *SQL) cacheStore(ctx context.Context, p project.Project, hash string, req, resp interface{}) error {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return err
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "hash"}},
		UpdateAll: true,
	}).Create(&cacheRow{
		Project:  p.ID,
		Created:  now(),
		Hash:     hash,
		Request:  string(reqJSON),
		Response: string(respJSON),
	}).Error
}

func (s *SQL) LLMCacheGet(ctx context.Context, p project.Project, req *provider.LLMRequest) ([]*provider.LLMGeneration, error) {
	rows, err := s.cacheGet(ctx, p, req.Hash())
	if err != nil {
		return nil, err
	}
	out := make([]*provider.LLMGeneration, 0, len(rows))
	for _, row := range rows {
		var g provider.LLMGeneration
		if err := decodeJSON(row.Response, &g); err != nil {
			return nil, fmt.Errorf("invalid cached generation %s: %w", row.Hash, err)
		}
		out = append(out, &g)
	}
	return out, nil
}

func (s *SQL) LLMCacheStore(ctx context.Context, p project.Project, req *provider.LLMRequest, g *provider.LLMGeneration) error {
	return s.cacheStore(ctx, p, req.Hash(), req, g)
}

func (s *SQL) HTTPCacheGet(ctx context.Context, p project.Project, req *web.Request) ([]*web.Response, error) {
	rows, err := s.cacheGet(ctx, p, req.Hash())
	if err != nil {
		return nil, err
	}
	out := make([]*web.Response, 0, len(rows))
	for _, row := range rows {
		var resp web.Response
		if err := decodeJSON(row.Response, &resp); err != nil {
			return nil, fmt.Errorf("invalid cached response %s: %w", row.Hash, err)
		}
		out = append(out, &resp)
	}
	return out, nil
}

func (s *SQL) HTTPCacheStore(ctx context.Context, p project.Project, req *web.Request, resp *web.Response) error {
	return s.cacheStore(ctx, p, req.Hash(), req, resp)
}
