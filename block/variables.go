package block

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dust.evalgo.org/common"
)

// Template variables have the form ${root.path.to.field}. The root segment
// is a prior block name from state, `input` (the current dataset record), or
// `map` (the current fan-out value). Remaining segments index into objects
// by key and into arrays by decimal position.
var varPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_\-.]+)\}`)

// ResolvePath resolves a dotted path expression against the environment.
func ResolvePath(expr string, env *Env) (interface{}, error) {
	segs := strings.Split(expr, ".")

	var cur interface{}
	switch segs[0] {
	case "input":
		cur = env.Input.Value
	case "map":
		if env.Map == nil {
			return nil, fmt.Errorf("`map` is not set outside of a map or while scope")
		}
		cur = env.Map.Value
	default:
		v, ok := env.State[segs[0]]
		if !ok {
			return nil, fmt.Errorf("unknown block `%s` in `%s`", segs[0], expr)
		}
		cur = v
	}

	for _, seg := range segs[1:] {
		switch c := cur.(type) {
		case map[string]interface{}:
			v, ok := c[seg]
			if !ok {
				return nil, fmt.Errorf("missing field `%s` in `%s`", seg, expr)
			}
			cur = v
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("expected array index for `%s` in `%s`", seg, expr)
			}
			if idx < 0 || idx >= len(c) {
				return nil, fmt.Errorf("array index %d out of range in `%s`", idx, expr)
			}
			cur = c[idx]
		case nil:
			return nil, fmt.Errorf("null value at `%s` in `%s`", seg, expr)
		default:
			return nil, fmt.Errorf("cannot index scalar with `%s` in `%s`", seg, expr)
		}
	}
	return cur, nil
}

// resolvePathIndexed resolves a path whose root value is an array by first
// selecting element idx, as used by few-shot example templates.
func resolvePathIndexed(expr string, env *Env, idx int) (interface{}, error) {
	segs := strings.Split(expr, ".")
	root, err := ResolvePath(segs[0], env)
	if err != nil {
		return nil, err
	}
	arr, ok := root.([]interface{})
	if !ok {
		return ResolvePath(expr, env)
	}
	if idx < 0 || idx >= len(arr) {
		return nil, fmt.Errorf("example index %d out of range for `%s`", idx, segs[0])
	}
	if len(segs) == 1 {
		return arr[idx], nil
	}
	scoped := env.Clone()
	scoped.State["_example"] = arr[idx]
	return ResolvePath("_example."+strings.Join(segs[1:], "."), scoped)
}

// Interpolate replaces every ${...} variable in tpl with its resolved value.
// Strings substitute verbatim; other values substitute as canonical JSON.
// A variable that cannot be resolved is an error for the row.
func Interpolate(tpl string, env *Env) (string, error) {
	return interpolate(tpl, func(expr string) (interface{}, error) {
		return ResolvePath(expr, env)
	})
}

// InterpolateIndexed is Interpolate with array roots indexed at idx, for
// per-example rendering.
func InterpolateIndexed(tpl string, env *Env, idx int) (string, error) {
	return interpolate(tpl, func(expr string) (interface{}, error) {
		return resolvePathIndexed(expr, env, idx)
	})
}

func interpolate(tpl string, resolve func(string) (interface{}, error)) (string, error) {
	var firstErr error
	out := varPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		if firstErr != nil {
			return m
		}
		expr := varPattern.FindStringSubmatch(m)[1]
		v, err := resolve(expr)
		if err != nil {
			firstErr = err
			return m
		}
		s, err := stringify(v)
		if err != nil {
			firstErr = err
			return m
		}
		return s
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func stringify(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return common.CanonicalString(v)
	}
}
