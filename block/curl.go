package block

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
	"dust.evalgo.org/sandbox"
	"dust.evalgo.org/web"
)

// Curl issues a generic HTTP call. The URL is a template; headers and body
// are produced by optional user expressions evaluated against the
// environment. The response is returned whatever its status — the caller
// decides what counts as failure.
type Curl struct {
	Method      string
	URL         string
	HeadersCode string
	BodyCode    string
	runIf       string
}

func (b *Curl) BlockType() run.BlockType {
	return run.BlockTypeCurl
}

func (b *Curl) RunIf() string {
	return b.runIf
}

func (b *Curl) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("curl")
	h.UpdateString(b.Method)
	h.UpdateString(b.URL)
	h.UpdateString(b.HeadersCode)
	h.UpdateString(b.BodyCode)
	h.UpdateString(b.runIf)
	return h.Finalize()
}

func (b *Curl) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	useCache := env.Config.UseCache(name)

	target, err := Interpolate(b.URL, env)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if b.HeadersCode != "" {
		code := strings.ReplaceAll(b.HeadersCode, sandbox.TripleBackticksToken, "```")
		v, err := sandbox.Call(code, env.Plain())
		if err != nil {
			return nil, fmt.Errorf("error in `headers_code`: %w", err)
		}
		obj, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("`headers_code` must return an object of string values")
		}
		for k, hv := range obj {
			s, ok := hv.(string)
			if !ok {
				return nil, fmt.Errorf("`headers_code` header `%s` is not a string", k)
			}
			headers[k] = s
		}
	}

	var body interface{}
	if b.BodyCode != "" {
		code := strings.ReplaceAll(b.BodyCode, sandbox.TripleBackticksToken, "```")
		v, err := sandbox.Call(code, env.Plain())
		if err != nil {
			return nil, fmt.Errorf("error in `body_code`: %w", err)
		}
		body = v
	}

	req, err := web.NewRequest(b.Method, target, headers, body)
	if err != nil {
		return nil, err
	}
	resp, err := req.ExecuteWithCache(ctx, env.Project, env.Store, useCache)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"status": json.Number(fmt.Sprintf("%d", resp.Status)),
		"body":   resp.Body,
	}, nil
}
