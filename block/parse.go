package block

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dust.evalgo.org/run"
)

// An app specification is a sequence of stanzas:
//
//	type [name] {
//	  key: value
//	  key: ```
//	  multi
//	  line
//	  ```
//	}
//
// The name defaults to the type keyword when omitted. Triple-backtick fences
// delimit multiline values; inside a code value, literal fences are written
// as <DUST_TRIPLE_BACKTICKS>.
var headerPattern = regexp.MustCompile(
	`^(root|data|code|llm|map|reduce|while|end|search|curl)(?:\s+([a-zA-Z0-9_\-]+))?\s*\{\s*$`)

var pairPattern = regexp.MustCompile(`^([a-z_]+):\s*(.*)$`)

const fence = "```"

type stanza struct {
	blockType run.BlockType
	name      string
	pairs     map[string]string
	line      int
}

// Parse turns specification text into the validated block list: exactly one
// root block first, unique names, balanced and properly nested map/reduce
// and while/end scopes, and per-block parameter validation.
func Parse(spec string) ([]Named, error) {
	stanzas, err := scan(spec)
	if err != nil {
		return nil, err
	}
	if len(stanzas) == 0 {
		return nil, fmt.Errorf("empty specification")
	}

	blocks := make([]Named, 0, len(stanzas))
	seen := map[string]bool{}
	for i, s := range stanzas {
		if seen[s.name] {
			return nil, fmt.Errorf("line %d: duplicate block name `%s`", s.line, s.name)
		}
		seen[s.name] = true

		b, err := build(s, blocks)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", s.line, err)
		}
		if i == 0 && b.BlockType() != run.BlockTypeRoot {
			return nil, fmt.Errorf("line %d: first block must be `root`", s.line)
		}
		if i > 0 && b.BlockType() == run.BlockTypeRoot {
			return nil, fmt.Errorf("line %d: `root` must be unique and first", s.line)
		}
		blocks = append(blocks, Named{Name: s.name, Block: b})
	}

	if err := checkScopes(blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

func scan(spec string) ([]stanza, error) {
	lines := strings.Split(spec, "\n")
	var stanzas []stanza

	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" || strings.HasPrefix(line, "#") {
			i++
			continue
		}
		m := headerPattern.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("line %d: expected block header, got `%s`", i+1, line)
		}
		s := stanza{
			blockType: run.BlockType(m[1]),
			name:      m[2],
			pairs:     map[string]string{},
			line:      i + 1,
		}
		if s.name == "" {
			s.name = m[1]
		}
		i++

		closed := false
		for i < len(lines) {
			line = strings.TrimSpace(lines[i])
			if line == "}" {
				closed = true
				i++
				break
			}
			if line == "" {
				i++
				continue
			}
			pm := pairPattern.FindStringSubmatch(line)
			if pm == nil {
				return nil, fmt.Errorf("line %d: expected `key: value`, got `%s`", i+1, line)
			}
			key, value := pm[1], strings.TrimSpace(pm[2])
			i++
			if value == fence || value == "" && i < len(lines) && strings.TrimSpace(lines[i]) == fence {
				if value == "" {
					i++
				}
				var body []string
				terminated := false
				for i < len(lines) {
					if strings.TrimSpace(lines[i]) == fence {
						terminated = true
						i++
						break
					}
					body = append(body, lines[i])
					i++
				}
				if !terminated {
					return nil, fmt.Errorf("line %d: unterminated ``` fence for `%s`", s.line, key)
				}
				value = strings.Join(body, "\n")
			} else {
				value = strings.Trim(value, `"`)
			}
			if _, dup := s.pairs[key]; dup {
				return nil, fmt.Errorf("line %d: duplicate key `%s` in `%s` block", s.line, key, s.blockType)
			}
			s.pairs[key] = value
		}
		if !closed {
			return nil, fmt.Errorf("line %d: unterminated `%s` block", s.line, s.blockType)
		}
		stanzas = append(stanzas, s)
	}
	return stanzas, nil
}

func build(s stanza, prior []Named) (Block, error) {
	switch s.blockType {
	case run.BlockTypeRoot:
		if err := allowKeys(s, nil); err != nil {
			return nil, err
		}
		return &Root{}, nil

	case run.BlockTypeData:
		if err := allowKeys(s, []string{"dataset", "hash", "run_if"}); err != nil {
			return nil, err
		}
		if s.pairs["dataset"] == "" {
			return nil, fmt.Errorf("missing required `dataset` in `data` block")
		}
		return &Data{
			DatasetID: s.pairs["dataset"],
			Hash:      s.pairs["hash"],
			runIf:     s.pairs["run_if"],
		}, nil

	case run.BlockTypeCode:
		if err := allowKeys(s, []string{"code", "run_if"}); err != nil {
			return nil, err
		}
		if s.pairs["code"] == "" {
			return nil, fmt.Errorf("missing required `code` in `code` block")
		}
		return &Code{Code: s.pairs["code"], runIf: s.pairs["run_if"]}, nil

	case run.BlockTypeLLM:
		if err := allowKeys(s, []string{
			"provider_id", "model_id", "prompt", "temperature", "max_tokens", "stop",
			"few_shot_preprompt", "few_shot_prompt", "few_shot_count", "run_if",
		}); err != nil {
			return nil, err
		}
		if s.pairs["prompt"] == "" {
			return nil, fmt.Errorf("missing required `prompt` in `llm` block")
		}
		b := &LLM{
			ProviderID:       s.pairs["provider_id"],
			ModelID:          s.pairs["model_id"],
			Prompt:           s.pairs["prompt"],
			FewShotPreprompt: s.pairs["few_shot_preprompt"],
			FewShotPrompt:    s.pairs["few_shot_prompt"],
			runIf:            s.pairs["run_if"],
		}
		if v := s.pairs["temperature"]; v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid `temperature` in `llm` block, expecting number")
			}
			b.Temperature = f
		}
		if v := s.pairs["max_tokens"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid `max_tokens` in `llm` block, expecting integer")
			}
			b.MaxTokens = n
		}
		if v := s.pairs["few_shot_count"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid `few_shot_count` in `llm` block, expecting integer")
			}
			b.FewShotCount = n
		}
		if v := s.pairs["stop"]; v != "" {
			b.Stop = strings.Split(v, ",")
		}
		return b, nil

	case run.BlockTypeMap:
		if err := allowKeys(s, []string{"from"}); err != nil {
			return nil, err
		}
		if s.pairs["from"] == "" {
			return nil, fmt.Errorf("missing required `from` in `map` block")
		}
		return &Map{From: s.pairs["from"]}, nil

	case run.BlockTypeReduce:
		if err := allowKeys(s, []string{"target"}); err != nil {
			return nil, err
		}
		target := s.pairs["target"]
		if target == "" {
			if len(prior) == 0 {
				return nil, fmt.Errorf("`reduce` block has no preceding block to target")
			}
			target = prior[len(prior)-1].Name
		}
		return &Reduce{Target: target}, nil

	case run.BlockTypeWhile:
		if err := allowKeys(s, []string{"condition_code", "max_iterations"}); err != nil {
			return nil, err
		}
		if s.pairs["condition_code"] == "" {
			return nil, fmt.Errorf("missing required `condition_code` in `while` block")
		}
		if s.pairs["max_iterations"] == "" {
			return nil, fmt.Errorf("missing required `max_iterations` in `while` block")
		}
		n, err := strconv.Atoi(s.pairs["max_iterations"])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid `max_iterations` in `while` block, expecting unsigned integer")
		}
		if n > MaxWhileIterations {
			return nil, fmt.Errorf("`max_iterations` cannot be greater than %d", MaxWhileIterations)
		}
		return &While{ConditionCode: s.pairs["condition_code"], MaxIterations: n}, nil

	case run.BlockTypeEnd:
		if err := allowKeys(s, nil); err != nil {
			return nil, err
		}
		return &End{}, nil

	case run.BlockTypeSearch:
		if err := allowKeys(s, []string{"query", "engine", "run_if"}); err != nil {
			return nil, err
		}
		if s.pairs["query"] == "" {
			return nil, fmt.Errorf("missing required `query` in `search` block")
		}
		engine := s.pairs["engine"]
		if engine == "" {
			engine = "google"
		}
		return &Search{Query: s.pairs["query"], Engine: engine, runIf: s.pairs["run_if"]}, nil

	case run.BlockTypeCurl:
		if err := allowKeys(s, []string{"method", "url", "headers_code", "body_code", "run_if"}); err != nil {
			return nil, err
		}
		if s.pairs["method"] == "" || s.pairs["url"] == "" {
			return nil, fmt.Errorf("missing required `method` or `url` in `curl` block")
		}
		return &Curl{
			Method:      s.pairs["method"],
			URL:         s.pairs["url"],
			HeadersCode: s.pairs["headers_code"],
			BodyCode:    s.pairs["body_code"],
			runIf:       s.pairs["run_if"],
		}, nil
	}
	return nil, fmt.Errorf("unknown block type `%s`", s.blockType)
}

func allowKeys(s stanza, allowed []string) error {
	for key := range s.pairs {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("unexpected `%s` in `%s` block", key, s.blockType)
		}
	}
	return nil
}

// checkScopes verifies map/reduce and while/end are balanced and properly
// nested.
func checkScopes(blocks []Named) error {
	var stack []run.BlockType
	for _, nb := range blocks {
		switch nb.Block.BlockType() {
		case run.BlockTypeMap, run.BlockTypeWhile:
			stack = append(stack, nb.Block.BlockType())
		case run.BlockTypeReduce:
			if len(stack) == 0 || stack[len(stack)-1] != run.BlockTypeMap {
				return fmt.Errorf("`reduce` block `%s` has no matching `map`", nb.Name)
			}
			stack = stack[:len(stack)-1]
		case run.BlockTypeEnd:
			if len(stack) == 0 || stack[len(stack)-1] != run.BlockTypeWhile {
				return fmt.Errorf("`end` block `%s` has no matching `while`", nb.Name)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return fmt.Errorf("unclosed `%s` scope", stack[len(stack)-1])
	}
	return nil
}
