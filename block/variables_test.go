package block

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnv() *Env {
	return &Env{
		Input: Input{
			Value: map[string]interface{}{"q": "what is x", "n": json.Number("7")},
			Index: 0,
		},
		State: map[string]interface{}{
			"root": map[string]interface{}{"q": "what is x"},
			"examples": []interface{}{
				map[string]interface{}{"question": "a?", "answer": "1"},
				map[string]interface{}{"question": "b?", "answer": "2"},
			},
		},
	}
}

func TestInterpolateStateAndInput(t *testing.T) {
	env := testEnv()

	out, err := Interpolate("Q: ${root.q} N: ${input.n}", env)
	require.NoError(t, err)
	assert.Equal(t, "Q: what is x N: 7", out)
}

func TestInterpolateMapValue(t *testing.T) {
	env := testEnv()
	env.Map = &MapState{Name: "it", Iteration: 1, Value: map[string]interface{}{"v": "elem"}}

	out, err := Interpolate("item ${map.v}", env)
	require.NoError(t, err)
	assert.Equal(t, "item elem", out)
}

func TestInterpolateMissingVariable(t *testing.T) {
	env := testEnv()

	_, err := Interpolate("${nope.q}", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown block")

	_, err = Interpolate("${root.missing}", env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing field")
}

func TestInterpolateCompoundAsJSON(t *testing.T) {
	env := testEnv()

	out, err := Interpolate("all: ${root}", env)
	require.NoError(t, err)
	assert.Equal(t, `all: {"q":"what is x"}`, out)
}

func TestInterpolateIndexed(t *testing.T) {
	env := testEnv()

	out, err := InterpolateIndexed("Q: ${examples.question} A: ${examples.answer}\n", env, 1)
	require.NoError(t, err)
	assert.Equal(t, "Q: b? A: 2\n", out)

	_, err = InterpolateIndexed("${examples.question}", env, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestResolvePathArrayIndex(t *testing.T) {
	env := testEnv()

	v, err := ResolvePath("examples.0.answer", env)
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	_, err = ResolvePath("map.v", env)
	require.Error(t, err)
}
