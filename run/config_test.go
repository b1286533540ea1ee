package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRunConfig(t *testing.T) {
	raw := []byte(`{
		"blocks": {
			"gen": {"use_cache": false, "model_id": "m2", "temperature": 0.5, "max_tokens": 64}
		},
		"default_provider_id": "stub",
		"default_model_id": "m1"
	}`)
	cfg, err := ParseRunConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, "stub", cfg.DefaultProviderID)
	assert.Equal(t, "m1", cfg.DefaultModelID)

	assert.False(t, cfg.UseCache("gen"))
	assert.True(t, cfg.UseCache("other"))

	assert.Equal(t, "m2", cfg.StringOption("gen", "model_id", "def"))
	assert.Equal(t, "def", cfg.StringOption("gen", "provider_id", "def"))
	assert.Equal(t, 64, cfg.IntOption("gen", "max_tokens", 16))
	assert.Equal(t, 16, cfg.IntOption("other", "max_tokens", 16))
	assert.Equal(t, 0.5, cfg.FloatOption("gen", "temperature", 0.7))

	_, err = ParseRunConfig([]byte("{nope"))
	assert.Error(t, err)
}

func TestRunStatusUpsert(t *testing.T) {
	s := RunStatus{RunID: "r", Status: StatusRunning}
	s.SetBlockStatus(&BlockStatus{BlockType: BlockTypeCode, Name: "c", Status: StatusRunning})
	s.SetBlockStatus(&BlockStatus{BlockType: BlockTypeCode, Name: "c", Status: StatusSucceeded, SuccessCount: 2})
	require.Len(t, s.Blocks, 1)
	assert.Equal(t, StatusSucceeded, s.Blocks[0].Status)

	got := s.BlockStatusFor(BlockTypeCode, "c")
	require.NotNil(t, got)
	assert.Equal(t, 2, got.SuccessCount)
	assert.Nil(t, s.BlockStatusFor(BlockTypeLLM, "c"))
}

func TestNewRunUniqueIDs(t *testing.T) {
	a := NewRun("h", RunConfig{})
	b := NewRun("h", RunConfig{})
	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, StatusRunning, a.Status.Status)
	assert.Equal(t, a.RunID, a.Status.RunID)
}
