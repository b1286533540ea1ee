package block

import (
	"context"
	"fmt"

	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
)

// Map opens a fan-out scope. Its selector path must resolve to an ordered
// sequence; the engine duplicates each row once per element, setting the
// map value for all blocks up to the matching reduce.
type Map struct {
	From string
}

func (b *Map) BlockType() run.BlockType {
	return run.BlockTypeMap
}

func (b *Map) RunIf() string {
	return ""
}

func (b *Map) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("map")
	h.UpdateString(b.From)
	return h.Finalize()
}

// Execute resolves the selector and returns the sequence to fan out over.
// The expansion itself is performed by the engine.
func (b *Map) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	v, err := ResolvePath(b.From, env)
	if err != nil {
		return nil, err
	}
	seq, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("`from` of `map` block must resolve to an array, got `%s`", b.From)
	}
	return seq, nil
}

// Reduce closes a map scope, folding per-iteration outputs of the target
// block (by default the block immediately preceding the reduce) into a
// single ordered vector. The collapse is performed by the engine before the
// reduce executes; the block reads the already-folded value from state.
type Reduce struct {
	Target string
}

func (b *Reduce) BlockType() run.BlockType {
	return run.BlockTypeReduce
}

func (b *Reduce) RunIf() string {
	return ""
}

func (b *Reduce) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("reduce")
	h.UpdateString(b.Target)
	return h.Finalize()
}

func (b *Reduce) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	v, ok := env.State[b.Target]
	if !ok {
		return nil, fmt.Errorf("unknown `target` block `%s` in `reduce` block", b.Target)
	}
	return v, nil
}
