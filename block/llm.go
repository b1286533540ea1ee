package block

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dust.evalgo.org/common"
	"dust.evalgo.org/provider"
	"dust.evalgo.org/run"
)

// LLM calls the configured provider and model with an interpolated prompt,
// optionally prefixed with few-shot examples rendered from an array-valued
// prior block. Generations are memoized per request hash in the project's
// LLM cache; the most recent generation is preferred on a hit.
type LLM struct {
	ProviderID       string
	ModelID          string
	Prompt           string
	Temperature      float64
	MaxTokens        int
	Stop             []string
	FewShotPreprompt string
	FewShotPrompt    string
	FewShotCount     int
	runIf            string
}

func (b *LLM) BlockType() run.BlockType {
	return run.BlockTypeLLM
}

func (b *LLM) RunIf() string {
	return b.runIf
}

func (b *LLM) InnerHash() string {
	h := common.NewHasher()
	h.UpdateString("llm")
	h.UpdateString(b.ProviderID)
	h.UpdateString(b.ModelID)
	h.UpdateString(b.Prompt)
	h.UpdateString(strconv.FormatFloat(b.Temperature, 'f', -1, 64))
	h.UpdateString(strconv.Itoa(b.MaxTokens))
	h.UpdateString(strings.Join(b.Stop, "\x00"))
	h.UpdateString(b.FewShotPreprompt)
	h.UpdateString(b.FewShotPrompt)
	h.UpdateString(strconv.Itoa(b.FewShotCount))
	h.UpdateString(b.runIf)
	return h.Finalize()
}

func (b *LLM) Execute(
	ctx context.Context,
	name string,
	env *Env,
	events chan<- Event,
) (interface{}, error) {
	cfg := env.Config
	useCache := cfg.UseCache(name)

	providerID := cfg.StringOption(name, "provider_id", b.ProviderID)
	if providerID == "" {
		providerID = cfg.DefaultProviderID
	}
	modelID := cfg.StringOption(name, "model_id", b.ModelID)
	if modelID == "" {
		modelID = cfg.DefaultModelID
	}
	if providerID == "" || modelID == "" {
		return nil, fmt.Errorf("no provider or model configured for `llm` block `%s`", name)
	}

	prompt, err := b.buildPrompt(name, env)
	if err != nil {
		return nil, err
	}

	req := &provider.LLMRequest{
		ProviderID:  providerID,
		ModelID:     modelID,
		Prompt:      prompt,
		MaxTokens:   cfg.IntOption(name, "max_tokens", b.MaxTokens),
		Temperature: cfg.FloatOption(name, "temperature", b.Temperature),
		Stop:        stopOption(cfg, name, b.Stop),
	}

	if useCache {
		cached, err := env.Store.LLMCacheGet(ctx, env.Project, req)
		if err != nil {
			return nil, common.Fatal(err)
		}
		if len(cached) > 0 {
			return generationValue(cached[0]), nil
		}
	}

	llm, err := provider.New(providerID, env.Credentials)
	if err != nil {
		return nil, err
	}
	g, err := llm.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("provider `%s` error: %w", providerID, err)
	}
	if g.CreatedAt == 0 {
		g.CreatedAt = time.Now().UnixMilli()
	}
	if err := env.Store.LLMCacheStore(ctx, env.Project, req, g); err != nil {
		return nil, common.Fatal(err)
	}
	return generationValue(g), nil
}

// buildPrompt assembles preprompt, few-shot examples and the main prompt.
func (b *LLM) buildPrompt(name string, env *Env) (string, error) {
	cfg := env.Config
	var sb strings.Builder

	preprompt := cfg.StringOption(name, "few_shot_preprompt", b.FewShotPreprompt)
	if preprompt != "" {
		rendered, err := Interpolate(preprompt, env)
		if err != nil {
			return "", err
		}
		sb.WriteString(rendered)
	}

	fewShotPrompt := cfg.StringOption(name, "few_shot_prompt", b.FewShotPrompt)
	count := cfg.IntOption(name, "few_shot_count", b.FewShotCount)
	if fewShotPrompt != "" {
		for i := 0; i < count; i++ {
			rendered, err := InterpolateIndexed(fewShotPrompt, env, i)
			if err != nil {
				return "", err
			}
			sb.WriteString(rendered)
		}
	}

	rendered, err := Interpolate(b.Prompt, env)
	if err != nil {
		return "", err
	}
	sb.WriteString(rendered)
	return sb.String(), nil
}

func generationValue(g *provider.LLMGeneration) interface{} {
	return map[string]interface{}{
		"provider_id": g.ProviderID,
		"model_id":    g.ModelID,
		"prompt":      g.Prompt,
		"completion":  g.Completion,
	}
}

func stopOption(cfg run.RunConfig, name string, def []string) []string {
	opts := cfg.ForBlock(name)
	if opts == nil {
		return def
	}
	raw, ok := opts["stop"]
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return def
}
