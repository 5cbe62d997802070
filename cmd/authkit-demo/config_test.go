package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLayers(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "jwt", cfg.Sessions)

	env := map[string]string{
		"AUTH_SECRET": "from-env",
		"DEMO_STORE":  "memory",
		"DEMO_ADDR":   ":9000",
	}
	cfg.loadEnv(func(k string) string { return env[k] })
	assert.Equal(t, "from-env", cfg.Secret)
	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, ":9000", cfg.Addr)

	require.NoError(t, cfg.parseFlags([]string{"-addr", ":9100", "-sessions", "database", "-cooldown", "30s"}))
	assert.Equal(t, ":9100", cfg.Addr)
	assert.Equal(t, "database", cfg.Sessions)
	assert.Equal(t, 30*time.Second, cfg.ResendCooldown)
	assert.Equal(t, "memory", cfg.Store, "flags leave unset values alone")
	require.NoError(t, cfg.validate())
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.LoadDefaults()
		cfg.Secret = "s"
		return cfg
	}

	cfg := base()
	cfg.Secret = ""
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Sessions = "cookie"
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Store = "postgres:dsn"
	assert.Error(t, cfg.validate())

	cfg = base()
	cfg.Store = "fs:/tmp/users.json"
	assert.NoError(t, cfg.validate())
}

func TestOpenStore(t *testing.T) {
	logger := newLogger("error")

	a, err := openStore("memory", logger)
	require.NoError(t, err)
	assert.NotNil(t, a)

	a, err = openStore("fs:"+t.TempDir()+"/store.json", logger)
	require.NoError(t, err)
	assert.NotNil(t, a)

	a, err = openStore("sqlite:"+t.TempDir()+"/demo.db", logger)
	require.NoError(t, err)
	assert.NotNil(t, a)

	_, err = openStore("bogus", logger)
	assert.Error(t, err)
}
