package run

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RunConfig carries per-block options and run-wide provider defaults.
// Recognized per-block options: use_cache, provider_id, model_id,
// temperature, max_tokens, stop, few_shot_preprompt, few_shot_prompt,
// few_shot_count.
type RunConfig struct {
	Blocks            map[string]map[string]interface{} `json:"blocks,omitempty"`
	DefaultProviderID string                            `json:"default_provider_id,omitempty"`
	DefaultModelID    string                            `json:"default_model_id,omitempty"`
}

// ParseRunConfig decodes a RunConfig from JSON.
func ParseRunConfig(raw []byte) (RunConfig, error) {
	var c RunConfig
	if err := json.Unmarshal(raw, &c); err != nil {
		return RunConfig{}, fmt.Errorf("invalid run config: %w", err)
	}
	return c, nil
}

// ForBlock returns the options map for a block name, possibly nil.
func (c RunConfig) ForBlock(name string) map[string]interface{} {
	if c.Blocks == nil {
		return nil
	}
	return c.Blocks[name]
}

// UseCache reports whether caching is enabled for a block. Defaults to true.
func (c RunConfig) UseCache(name string) bool {
	opts := c.ForBlock(name)
	if opts == nil {
		return true
	}
	v, ok := opts["use_cache"]
	if !ok {
		return true
	}
	b, ok := v.(bool)
	if !ok {
		return true
	}
	return b
}

// StringOption returns a string-valued option for a block, or def.
func (c RunConfig) StringOption(name, option, def string) string {
	opts := c.ForBlock(name)
	if opts == nil {
		return def
	}
	if v, ok := opts[option].(string); ok && v != "" {
		return v
	}
	return def
}

// IntOption returns an integer-valued option for a block, or def. JSON
// numbers arrive as float64 or json.Number depending on the decoder.
func (c RunConfig) IntOption(name, option string, def int) int {
	opts := c.ForBlock(name)
	if opts == nil {
		return def
	}
	switch v := opts[option].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// FloatOption returns a float-valued option for a block, or def.
func (c RunConfig) FloatOption(name, option string, def float64) float64 {
	opts := c.ForBlock(name)
	if opts == nil {
		return def
	}
	switch v := opts[option].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}
