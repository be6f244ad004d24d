package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Root)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, []string{"index.html"}, cfg.Entries)
	assert.Equal(t, "package.json", cfg.Optimizer.Manifest)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	viper.Set("server.port", 5173)
	viper.Set("root", "/tmp/project")
	viper.Set("entries", []string{"src/main.ts"})
	viper.Set("log.level", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5173, cfg.Server.Port)
	assert.Equal(t, "/tmp/project", cfg.Root)
	assert.Equal(t, []string{"src/main.ts"}, cfg.Entries)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(*ResolvedConfig)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(c *ResolvedConfig) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *ResolvedConfig) { c.Server.Port = 70000 },
			wantErr: "invalid port",
		},
		{
			name:    "no entries",
			mutate:  func(c *ResolvedConfig) { c.Entries = nil },
			wantErr: "entry point",
		},
		{
			name:    "bad log level",
			mutate:  func(c *ResolvedConfig) { c.Log.Level = "verbose" },
			wantErr: "invalid log level",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &ResolvedConfig{}
			applyDefaults(cfg)
			tc.mutate(cfg)

			err := Validate(cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}
