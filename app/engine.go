package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"dust.evalgo.org/block"
	"dust.evalgo.org/common"
	"dust.evalgo.org/project"
	"dust.evalgo.org/run"
	"dust.evalgo.org/sandbox"
	"dust.evalgo.org/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency bounds simultaneous block executions when the caller
// does not choose a ceiling.
const DefaultConcurrency = 8

// RunParams configures one evaluation of an app over a dataset.
type RunParams struct {
	Project     project.Project
	Store       store.Store
	DatasetID   string
	Config      run.RunConfig
	Credentials map[string]string
	Concurrency int64

	// Events optionally receives one event per recorded execution. Sends
	// never block; events are dropped when the receiver lags.
	Events chan<- block.Event
}

// Run evaluates the app over the latest version of the dataset. Blocks are
// strictly ordered: every (input, map) execution of a block settles before
// the next block starts. Within a block, executions fan out under a single
// global semaphore of capacity Concurrency. Per-row errors are recorded in
// the trace and do not fail the run; fatal errors (store, credentials,
// configuration) abort it and mark the run errored.
func (a *App) Run(ctx context.Context, params RunParams) (*run.Run, error) {
	if params.Concurrency <= 0 {
		params.Concurrency = DefaultConcurrency
	}
	st := params.Store

	latest, err := st.LatestDatasetHash(ctx, params.Project, params.DatasetID)
	if err != nil {
		return nil, err
	}
	if latest == "" {
		return nil, fmt.Errorf("dataset `%s` is not registered", params.DatasetID)
	}
	d, err := st.LoadDataset(ctx, params.Project, params.DatasetID, latest)
	if err != nil {
		return nil, err
	}

	r := run.NewRun(a.hash, params.Config)
	for _, nb := range a.blocks {
		r.Traces = append(r.Traces, &run.BlockTrace{
			BlockType:  nb.Block.BlockType(),
			Name:       nb.Name,
			Executions: make([][]*run.BlockExecution, d.Len()),
		})
		r.Status.SetBlockStatus(&run.BlockStatus{
			BlockType: nb.Block.BlockType(),
			Name:      nb.Name,
			Status:    run.StatusRunning,
		})
	}
	if err := st.CreateRunEmpty(ctx, params.Project, r); err != nil {
		return nil, err
	}

	common.Logger.WithFields(logrus.Fields{
		"run_id":      r.RunID,
		"app_hash":    a.hash,
		"dataset":     params.DatasetID,
		"inputs":      d.Len(),
		"concurrency": params.Concurrency,
	}).Info("run started")

	e := &engine{
		app:    a,
		run:    r,
		params: params,
		sem:    semaphore.NewWeighted(params.Concurrency),
	}

	rows := make([]*row, d.Len())
	for n, point := range d.Points {
		rows[n] = &row{
			inputIdx: n,
			env: &block.Env{
				Project:     params.Project,
				Store:       st,
				Input:       block.Input{Value: point, Index: n},
				State:       map[string]interface{}{},
				Credentials: params.Credentials,
				Config:      params.Config,
			},
		}
	}

	if runErr := e.execSeq(ctx, a.tree, rows); runErr != nil {
		r.Status.Status = run.StatusErrored
		if err := st.UpdateRunStatus(context.WithoutCancel(ctx), params.Project, r.RunID, &r.Status); err != nil {
			common.Logger.WithError(err).Error("failed to persist errored run status")
		}
		common.Logger.WithFields(logrus.Fields{
			"run_id": r.RunID,
		}).WithError(runErr).Error("run errored")
		return r, runErr
	}

	r.Status.Status = run.StatusSucceeded
	if err := st.UpdateRunStatus(ctx, params.Project, r.RunID, &r.Status); err != nil {
		return r, err
	}
	common.Logger.WithFields(logrus.Fields{
		"run_id": r.RunID,
	}).Info("run succeeded")
	return r, nil
}

// row is one live (input, map) coordinate flowing through the block list.
type row struct {
	inputIdx int
	env      *block.Env
}

type engine struct {
	app    *App
	run    *run.Run
	params RunParams
	sem    *semaphore.Weighted
}

// execSeq runs a scope-tree sequence over rows, honoring the block barrier
// between consecutive elements.
func (e *engine) execSeq(ctx context.Context, nodes []*node, rows []*row) error {
	for _, n := range nodes {
		t := e.app.blocks[n.idx].Block.BlockType()
		var err error
		switch t {
		case run.BlockTypeMap:
			err = e.execMap(ctx, n, rows)
		case run.BlockTypeWhile:
			err = e.execWhile(ctx, n, rows)
		default:
			err = e.execBlock(ctx, n.idx, rows)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// execBlock runs one plain block over all rows, records the executions,
// folds outputs into state and persists incrementally.
func (e *engine) execBlock(ctx context.Context, idx int, rows []*row) error {
	name := e.app.blocks[idx].Name
	execs, err := e.runTasks(ctx, idx, rows)
	if err != nil {
		return err
	}
	for i, r := range rows {
		e.record(idx, r, execs[i])
		if execs[i].Error != "" {
			r.env.State[name] = nil
		} else {
			r.env.State[name] = execs[i].Value
		}
	}
	return e.persistBlock(ctx, idx)
}

// runTasks fans one block out over rows under the global semaphore and
// returns one execution per row, in row order. Only fatal errors are
// returned; per-row failures come back inside the executions.
func (e *engine) runTasks(ctx context.Context, idx int, rows []*row) ([]*run.BlockExecution, error) {
	name := e.app.blocks[idx].Name
	b := e.app.blocks[idx].Block
	useCache := e.params.Config.UseCache(name)

	execs := make([]*run.BlockExecution, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range rows {
		i, r := i, r
		g.Go(func() error {
			if err := e.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer e.sem.Release(1)

			hash, err := e.executionHash(idx, r.env)
			if err != nil {
				return err
			}

			// run_if gates execution; a false condition propagates a null
			// value downstream.
			if cond := b.RunIf(); cond != "" {
				ok, err := sandbox.CallBool(cond, r.env.Plain())
				if err != nil {
					execs[i] = &run.BlockExecution{Error: err.Error(), Hash: hash}
					return nil
				}
				if !ok {
					execs[i] = &run.BlockExecution{Value: nil, Hash: hash}
					return nil
				}
			}

			if useCache {
				cached, err := e.params.Store.LoadBlockExecution(gctx, hash)
				if err != nil {
					return err
				}
				if cached != nil {
					execs[i] = cached
					return nil
				}
			}

			v, err := b.Execute(gctx, name, r.env, e.params.Events)
			if err != nil {
				if common.IsFatal(err) {
					return err
				}
				execs[i] = &run.BlockExecution{Error: err.Error(), Hash: hash}
				return nil
			}
			execs[i] = &run.BlockExecution{Value: v, Hash: hash}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return execs, nil
}

// executionHash identifies one block execution:
// H(prefix_hash, input_value, map_scope_or_null). Inside a scope the map
// component covers both the iteration index and the fan-out value so that
// loop iterations do not collide in the execution cache.
func (e *engine) executionHash(idx int, env *block.Env) (string, error) {
	inputJSON, err := common.CanonicalString(env.Input.Value)
	if err != nil {
		return "", err
	}
	mapComponent := "null"
	if env.Map != nil {
		mapComponent, err = common.CanonicalString(map[string]interface{}{
			"iteration": json.Number(strconv.Itoa(env.Map.Iteration)),
			"value":     env.Map.Value,
		})
		if err != nil {
			return "", err
		}
	}
	return common.HashStrings(e.app.prefixHashes[idx], inputJSON, mapComponent), nil
}

// record appends an execution to the block's trace and updates counters.
func (e *engine) record(idx int, r *row, exec *run.BlockExecution) {
	trace := e.run.Traces[idx]
	trace.Executions[r.inputIdx] = append(trace.Executions[r.inputIdx], exec)

	nb := e.app.blocks[idx]
	status := e.run.Status.BlockStatusFor(nb.Block.BlockType(), nb.Name)
	if status == nil {
		status = &run.BlockStatus{
			BlockType: nb.Block.BlockType(),
			Name:      nb.Name,
			Status:    run.StatusRunning,
		}
		e.run.Status.SetBlockStatus(status)
	}
	if exec.Error != "" {
		status.ErrorCount++
	} else {
		status.SuccessCount++
	}

	if e.params.Events != nil {
		ev := block.Event{
			BlockType: nb.Block.BlockType(),
			Name:      nb.Name,
			InputIdx:  r.inputIdx,
			MapIdx:    len(trace.Executions[r.inputIdx]) - 1,
			Value:     exec.Value,
			Error:     exec.Error,
		}
		select {
		case e.params.Events <- ev:
		default:
		}
	}
}

// persistBlock appends the block's current trace and the updated run status.
// Appends are per block, never batched, so the persisted run is always a
// consistent prefix of the in-memory one.
func (e *engine) persistBlock(ctx context.Context, idx int) error {
	nb := e.app.blocks[idx]
	if status := e.run.Status.BlockStatusFor(nb.Block.BlockType(), nb.Name); status != nil {
		status.Status = run.StatusSucceeded
	}
	if err := e.params.Store.AppendRunBlock(
		ctx, e.params.Project, e.run, idx, nb.Block.BlockType(), nb.Name,
	); err != nil {
		return err
	}
	return e.params.Store.UpdateRunStatus(ctx, e.params.Project, e.run.RunID, &e.run.Status)
}

// execMap fans rows out over the map selector, runs the scope body on the
// expanded rows, then folds per-iteration outputs back and runs the reduce.
func (e *engine) execMap(ctx context.Context, n *node, rows []*row) error {
	mapName := e.app.blocks[n.idx].Name

	if err := e.execBlock(ctx, n.idx, rows); err != nil {
		return err
	}

	// Expand each row into one child per selector element. Rows whose
	// selector errored (state is nil) get zero children.
	var childRows []*row
	groups := make([][]*row, len(rows))
	for ri, r := range rows {
		seq, _ := r.env.State[mapName].([]interface{})
		for k, elem := range seq {
			env := r.env.Clone()
			env.Map = &block.MapState{Name: mapName, Iteration: k, Value: elem}
			child := &row{inputIdx: r.inputIdx, env: env}
			groups[ri] = append(groups[ri], child)
			childRows = append(childRows, child)
		}
	}

	if err := e.execSeq(ctx, n.children, childRows); err != nil {
		return err
	}

	// Fold: every block name inside the scope collapses to the ordered
	// vector of its per-iteration outputs. Empty expansions fold to [].
	for ri, r := range rows {
		for _, inner := range e.app.blocks[n.idx+1 : n.closeIdx] {
			collected := make([]interface{}, 0, len(groups[ri]))
			for _, child := range groups[ri] {
				collected = append(collected, child.env.State[inner.Name])
			}
			r.env.State[inner.Name] = collected
		}
	}

	return e.execBlock(ctx, n.closeIdx, rows)
}

// execWhile iterates the scope body per row while the condition holds, up to
// the block's iteration bound. Rows exit the loop independently; the
// condition's false evaluation is not recorded as an iteration.
func (e *engine) execWhile(ctx context.Context, n *node, rows []*row) error {
	whileIdx := n.idx
	whileName := e.app.blocks[whileIdx].Name

	outer := make([]*block.MapState, len(rows))
	for i, r := range rows {
		outer[i] = r.env.Map
	}

	active := append([]*row(nil), rows...)
	for iteration := 0; len(active) > 0; iteration++ {
		for _, r := range active {
			r.env.Map = &block.MapState{Name: whileName, Iteration: iteration}
		}

		execs, err := e.runTasks(ctx, whileIdx, active)
		if err != nil {
			return err
		}

		var continuing []*row
		for i, r := range active {
			exec := execs[i]
			if exec.Error != "" {
				e.record(whileIdx, r, exec)
				continue
			}
			if ok, _ := exec.Value.(bool); ok {
				e.record(whileIdx, r, exec)
				continuing = append(continuing, r)
			}
		}
		if err := e.persistBlock(ctx, whileIdx); err != nil {
			return err
		}

		if len(continuing) == 0 {
			break
		}
		if err := e.execSeq(ctx, n.children, continuing); err != nil {
			return err
		}
		active = continuing
	}

	for i, r := range rows {
		r.env.Map = outer[i]
	}
	return e.execBlock(ctx, n.closeIdx, rows)
}
