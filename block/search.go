package block

import (
	"context"
	"fmt"
	"net/url"

	"dust.evalgo.org/common"
	"dust.evalgo.org/run"
	"dust.evalgo.org/web"
)

// Search queries SerpAPI with an interpolated query string. Responses are
// served through the project's HTTP cache; only a 200 status is a success.
type Search struct {
	Query  string
	Engine string
	runIf  string
}

func (b *Search) BlockType() run.BlockType {
	return run.BlockTypeSearch
}

func (b *Search) RunIf() string {
	return b.runIf
}

func (b *Search) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("search")
	h.UpdateString(b.Query)
	h.UpdateString(b.Engine)
	h.UpdateString(b.runIf)
	return h.Finalize()
}

func (b *Search) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	useCache := env.Config.UseCache(name)

	query, err := Interpolate(b.Query, env)
	if err != nil {
		return nil, err
	}

	apiKey, err := env.Credential("SERP_API_KEY")
	if err != nil {
		return nil, err
	}

	req, err := web.NewRequest(
		"GET",
		fmt.Sprintf(
			"https://serpapi.com/search?q=%s&engine=%s&api_key=%s",
			url.QueryEscape(query), b.Engine, apiKey,
		),
		nil,
		nil,
	)
	if err != nil {
		return nil, err
	}

	resp, err := req.ExecuteWithCache(ctx, env.Project, env.Store, useCache)
	if err != nil {
		return nil, err
	}
	if resp.Status != 200 {
		return nil, fmt.Errorf("SerpAPIError: unexpected error with HTTP status %d", resp.Status)
	}
	return resp.Body, nil
}
