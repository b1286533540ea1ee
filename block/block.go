// Package block implements the typed blocks an app is composed of: their
// parameters, content hashing and execution against a per-row environment.
// The run engine in package app walks the block list; everything a block may
// touch during execution is carried by Env.
package block

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"dust.evalgo.org/common"
	"dust.evalgo.org/project"
	"dust.evalgo.org/run"
	"dust.evalgo.org/store"
)

// Input is the dataset record a row executes against.
type Input struct {
	Value interface{} `json:"value"`
	Index int         `json:"index"`
}

// MapState is the iteration scope shared by `map/reduce` and `while/end`.
// Both scope kinds populate Name and Iteration; only `map/reduce` sets Value
// (the selector element for this fan-out branch), `while/end` leaves it nil.
type MapState struct {
	Name      string      `json:"name"`
	Iteration int         `json:"iteration"`
	Value     interface{} `json:"value"`
}

// Event is emitted on the optional per-block event channel as executions
// complete.
type Event struct {
	BlockType run.BlockType `json:"block_type"`
	Name      string        `json:"name"`
	InputIdx  int           `json:"input_idx"`
	MapIdx    int           `json:"map_idx"`
	Value     interface{}   `json:"value,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Env is the environment handed to one block execution. State maps
// already-executed block names in the current scope to their output; Map is
// set only inside a map…reduce or while…end scope. Credentials never reach
// user code; they are read by blocks that call external services.
type Env struct {
	Project     project.Project
	Store       store.Store
	Input       Input
	State       map[string]interface{}
	Map         *MapState
	Credentials map[string]string
	Config      run.RunConfig
}

// Clone deep-copies the environment's state map so fan-out branches can
// diverge. Values themselves are treated as immutable once produced.
func (e *Env) Clone() *Env {
	state := make(map[string]interface{}, len(e.State))
	for k, v := range e.State {
		state[k] = v
	}
	clone := *e
	clone.State = state
	if e.Map != nil {
		m := *e.Map
		clone.Map = &m
	}
	return &clone
}

// Plain marshals the environment to the JSON-shaped value passed into the
// sandbox: input, state and map only. The store handle and credentials are
// stripped; user code never sees either.
func (e *Env) Plain() interface{} {
	plain := map[string]interface{}{
		"input": map[string]interface{}{
			"value": e.Input.Value,
			"index": json.Number(fmt.Sprintf("%d", e.Input.Index)),
		},
		"state": e.State,
	}
	if e.Map != nil {
		plain["map"] = map[string]interface{}{
			"name":      e.Map.Name,
			"iteration": json.Number(fmt.Sprintf("%d", e.Map.Iteration)),
			"value":     e.Map.Value,
		}
	} else {
		plain["map"] = nil
	}
	return plain
}

// Credential resolves a credential key from the run's credential snapshot,
// falling back to a process environment variable of the same name. Missing
// both is an error surfaced by the needing block.
func (e *Env) Credential(key string) (string, error) {
	if v, ok := e.Credentials[key]; ok && v != "" {
		return v, nil
	}
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", common.Fatal(fmt.Errorf("credentials or environment variable `%s` is not set", key))
}

// Block is the shared capability of every block variant. InnerHash is a
// function of the block's parameters only, never of its inputs; RunIf
// returns the optional condition expression gating execution ("" when
// unset). Execution is pure with respect to env except for cache reads and
// writes performed through env.Store.
type Block interface {
	BlockType() run.BlockType
	InnerHash() string
	RunIf() string
	Execute(ctx context.Context, name string, env *Env, events chan<- Event) (interface{}, error)
}

// Named pairs a block with its app-unique name.
type Named struct {
	Name  string
	Block Block
}
