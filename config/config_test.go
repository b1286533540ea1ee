package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvConfig(t *testing.T) {
	t.Setenv("TESTCFG_NAME", "dust")
	t.Setenv("TESTCFG_PORT", "9000")
	t.Setenv("TESTCFG_DEBUG", "true")
	t.Setenv("TESTCFG_TIMEOUT", "5s")

	env := NewEnvConfig("TESTCFG")
	assert.Equal(t, "dust", env.GetString("NAME", "fallback"))
	assert.Equal(t, "fallback", env.GetString("MISSING", "fallback"))
	assert.Equal(t, 9000, env.GetInt("PORT", 1))
	assert.Equal(t, 1, env.GetInt("MISSING", 1))
	assert.Equal(t, true, env.GetBool("DEBUG", false))
	assert.Equal(t, 5*time.Second, env.GetDuration("TIMEOUT", time.Minute))
	assert.Equal(t, time.Minute, env.GetDuration("MISSING", time.Minute))
}

func TestLoadStoreConfig(t *testing.T) {
	cfg := LoadStoreConfig()
	assert.False(t, cfg.UsePostgres())

	t.Setenv("DUST_STORE_POSTGRES_DSN", "host=localhost dbname=dust")
	cfg = LoadStoreConfig()
	assert.True(t, cfg.UsePostgres())
}

func TestServerConfigValidate(t *testing.T) {
	cfg := LoadServerConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Port = 0
	assert.Error(t, cfg.Validate())
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
}
