// Package run defines the persisted shape of an app run: its configuration,
// status, and per-block execution traces. These types are shared by the run
// engine, the store and the API surface.
package run

import (
	"time"

	"github.com/google/uuid"
)

// BlockType tags the variant of a block.
type BlockType string

const (
	BlockTypeRoot   BlockType = "root"
	BlockTypeData   BlockType = "data"
	BlockTypeCode   BlockType = "code"
	BlockTypeLLM    BlockType = "llm"
	BlockTypeMap    BlockType = "map"
	BlockTypeReduce BlockType = "reduce"
	BlockTypeWhile  BlockType = "while"
	BlockTypeEnd    BlockType = "end"
	BlockTypeSearch BlockType = "search"
	BlockTypeCurl   BlockType = "curl"
)

// Status is the lifecycle state of a run or of one of its blocks.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusErrored   Status = "errored"
)

// BlockExecution is one recorded execution of a block for a single
// (input, map) coordinate. Exactly one of Value and Error is meaningful.
// Hash is the content-addressed execution hash used as the cache key; it is
// persisted alongside the execution but not part of its JSON body.
type BlockExecution struct {
	Value interface{}            `json:"value"`
	Error string                 `json:"error,omitempty"`
	Meta  map[string]interface{} `json:"meta,omitempty"`

	Hash string `json:"-"`
}

// BlockStatus summarizes one block's progress within a run.
type BlockStatus struct {
	BlockType    BlockType `json:"block_type"`
	Name         string    `json:"name"`
	Status       Status    `json:"status"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
}

// RunStatus is the monotonic status of a run: counts only grow and Status
// transitions running → {succeeded, errored} exactly once.
type RunStatus struct {
	RunID  string         `json:"run_id"`
	Status Status         `json:"status"`
	Blocks []*BlockStatus `json:"blocks"`
}

// SetBlockStatus inserts or replaces the status entry for (blockType, name).
func (s *RunStatus) SetBlockStatus(b *BlockStatus) {
	for i, existing := range s.Blocks {
		if existing.BlockType == b.BlockType && existing.Name == b.Name {
			s.Blocks[i] = b
			return
		}
	}
	s.Blocks = append(s.Blocks, b)
}

// BlockStatusFor returns the status entry for (blockType, name), or nil.
func (s *RunStatus) BlockStatusFor(blockType BlockType, name string) *BlockStatus {
	for _, b := range s.Blocks {
		if b.BlockType == blockType && b.Name == name {
			return b
		}
	}
	return nil
}

// BlockTrace carries all executions of one block, indexed
// [input_idx][map_idx]. Outside any map or while scope the inner dimension
// has length one.
type BlockTrace struct {
	BlockType  BlockType           `json:"block_type"`
	Name       string              `json:"name"`
	Executions [][]*BlockExecution `json:"executions"`
}

// Run is a single evaluation of an app over a dataset.
type Run struct {
	RunID     string     `json:"run_id"`
	CreatedAt int64      `json:"created"`
	AppHash   string     `json:"app_hash"`
	Config    RunConfig  `json:"config"`
	Status    RunStatus  `json:"status"`
	Traces    []*BlockTrace `json:"traces"`
}

// NewRun creates an empty run with a fresh globally unique id.
func NewRun(appHash string, config RunConfig) *Run {
	runID := uuid.NewString()
	return &Run{
		RunID:     runID,
		CreatedAt: time.Now().UnixMilli(),
		AppHash:   appHash,
		Config:    config,
		Status: RunStatus{
			RunID:  runID,
			Status: StatusRunning,
		},
	}
}

// TraceFor returns the trace for (blockType, name), or nil.
func (r *Run) TraceFor(blockType BlockType, name string) *BlockTrace {
	for _, t := range r.Traces {
		if t.BlockType == blockType && t.Name == name {
			return t
		}
	}
	return nil
}
