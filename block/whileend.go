package block

import (
	"context"
	"strconv"
	"strings"

	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
	"dust.evalgo.org/sandbox"
)

// MaxWhileIterations is the strict upper bound on `max_iterations`.
const MaxWhileIterations = 32

// While opens an iteration scope. Before each pass the condition expression
// runs in the sandbox against the environment; a non-boolean return is an
// error for the row. The block returns false without evaluating the
// condition once the iteration count reaches max_iterations.
type While struct {
	ConditionCode string
	MaxIterations int
}

func (b *While) BlockType() run.BlockType {
	return run.BlockTypeWhile
}

func (b *While) RunIf() string {
	return ""
}

func (b *While) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("while")
	h.UpdateString(b.ConditionCode)
	h.UpdateString(strconv.Itoa(b.MaxIterations))
	return h.Finalize()
}

func (b *While) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	if env.Map != nil && env.Map.Iteration >= b.MaxIterations {
		return false, nil
	}
	code := strings.ReplaceAll(b.ConditionCode, sandbox.TripleBackticksToken, "```")
	v, err := sandbox.CallBool(code, env.Plain())
	if err != nil {
		return nil, err
	}
	return v, nil
}

// End closes a while scope. It is a no-op closer; control flow is handled by
// the engine.
type End struct{}

func (b *End) BlockType() run.BlockType {
	return run.BlockTypeEnd
}

func (b *End) RunIf() string {
	return ""
}

func (b *End) InnerHash() string {
	return common.NewHasher().UpdateString("end").Finalize()
}

func (b *End) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	return nil, nil
}
