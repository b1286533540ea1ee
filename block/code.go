package block

import (
	"context"
	"strings"

	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
	"dust.evalgo.org/sandbox"
)

// Code evaluates a user `_fun(env)` expression over the environment. The
// inner hash is computed on the code as written in the specification; the
// triple-backtick escape token is substituted only at evaluation time.
type Code struct {
	Code  string
	runIf string
}

func (b *Code) BlockType() run.BlockType {
	return run.BlockTypeCode
}

func (b *Code) RunIf() string {
	return b.runIf
}

func (b *Code) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("code")
	h.UpdateString(b.Code)
	h.UpdateString(b.runIf)
	return h.Finalize()
}

func (b *Code) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	code := strings.ReplaceAll(b.Code, sandbox.TripleBackticksToken, "```")
	return sandbox.Call(code, env.Plain())
}
