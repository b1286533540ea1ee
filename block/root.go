package block

import (
	"context"

	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
)

// Root returns the current input record unchanged. Every app starts with
// exactly one root block.
type Root struct{}

func (b *Root) BlockType() run.BlockType {
	return run.BlockTypeRoot
}

func (b *Root) RunIf() string {
	return ""
}

func (b *Root) InnerHash() string {
	return common.NewHasher().UpdateString("root").Finalize()
}

func (b *Root) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	return env.Input.Value, nil
}
