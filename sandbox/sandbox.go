// Package sandbox evaluates user-supplied JavaScript expressions for the
// `code` block, `while` conditions, `run_if` conditions and the `curl`
// block's header and body expressions. `map` selectors are dotted paths
// resolved outside the sandbox, and `reduce` takes no fold expression.
// The evaluator is goja with no host bindings: no I/O, no network,
// no filesystem. Arguments cross the boundary as plain JSON-shaped data and
// the wall-clock deadline is enforced by the host through the interpreter's
// interrupt mechanism.
package sandbox

import (
	"encoding/json"
	"fmt"
	"time"

	"dust.evalgo.org/common"
	"github.com/dop251/goja"
)

// Timeout is the wall-clock deadline for one evaluation.
const Timeout = 10 * time.Second

// FunctionName is the entry point user code must define.
const FunctionName = "_fun"

// TripleBackticksToken is replaced with a triple-backtick fence in code
// strings immediately before evaluation. Hashes are computed on the
// pre-replacement form.
const TripleBackticksToken = "<DUST_TRIPLE_BACKTICKS>"

// Call evaluates code defining `_fun` and invokes `_fun(arg)`, returning the
// result as a JSON-shaped value (maps, slices, json.Number, string, bool,
// nil). Exceeding the deadline, failing to define `_fun`, or throwing are all
// errors.
func Call(code string, arg interface{}) (interface{}, error) {
	vm := goja.New()

	timer := time.AfterFunc(Timeout, func() {
		vm.Interrupt("execution timed out")
	})
	defer timer.Stop()

	if _, err := vm.RunString(code); err != nil {
		return nil, fmt.Errorf("code evaluation failed: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(FunctionName))
	if !ok {
		return nil, fmt.Errorf("code must define a `%s` function", FunctionName)
	}

	res, err := fn(goja.Undefined(), vm.ToValue(toGuest(arg)))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", FunctionName, err)
	}

	return fromGuest(res.Export())
}

// CallBool is Call constrained to a boolean result, as required by `while`
// conditions.
func CallBool(code string, arg interface{}) (bool, error) {
	v, err := Call(code, arg)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("invalid return value, expecting boolean")
	}
	return b, nil
}

// toGuest prepares a JSON-shaped value for the interpreter. json.Number
// would otherwise surface as a string inside the guest, so numbers are
// converted to their numeric representation.
func toGuest(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = toGuest(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = toGuest(e)
		}
		return out
	default:
		return v
	}
}

// fromGuest normalizes an exported interpreter value back to the engine's
// JSON shape through a canonical round trip, so downstream hashing sees the
// same representation whether a value came from a dataset or from user code.
func fromGuest(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := common.CanonicalJSON(v)
	if err != nil {
		return nil, fmt.Errorf("code returned a non-JSON value: %w", err)
	}
	return common.ParseJSON(raw)
}
