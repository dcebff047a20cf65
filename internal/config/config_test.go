package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igiconv/internal/qvmfmt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "C:/Games/ProjectIGI", cfg.GameDir)
	assert.NotEmpty(t, cfg.WorkDir)
	assert.GreaterOrEqual(t, cfg.Workers, 1)
	assert.Equal(t, "best-effort", cfg.Mode)
	assert.True(t, cfg.Cache)
	assert.False(t, cfg.Graph)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	require.NoError(t, cfg.Validate())
}

func TestDerivedPaths(t *testing.T) {
	cfg := &Config{WorkDir: "/work"}
	assert.Equal(t, filepath.Join("/work", "scripts"), cfg.ScriptsDir())
	assert.Equal(t, filepath.Join("/work", "decoded"), cfg.DecodedDir())
	assert.Equal(t, filepath.Join("/work", "build"), cfg.BuildDir())
	assert.Equal(t, filepath.Join("/work", "graphs"), cfg.GraphDir())
	assert.Equal(t, filepath.Join("/work", "report.json"), cfg.ReportPath())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		errContains string
	}{
		{"valid", func(*Config) {}, ""},
		{"no game dir", func(c *Config) { c.GameDir = "" }, "game_dir is required"},
		{"no work dir", func(c *Config) { c.WorkDir = "" }, "work_dir is required"},
		{"zero workers", func(c *Config) { c.Workers = 0 }, "workers must be positive"},
		{"bad mode", func(c *Config) { c.Mode = "lenient" }, "mode"},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"strict", func(c *Config) { c.Mode = "strict" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errContains == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, name := range []string{"igiconv.yaml", "igiconv.yml", "igiconv.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.GameDir = "/games/igi"
			cfg.WorkDir = "/work"
			cfg.Workers = 3
			cfg.Mode = "strict"
			cfg.Graph = true
			cfg.Log.Format = "json"
			require.NoError(t, cfg.Save(path))

			got, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, got)
			assert.Equal(t, qvmfmt.ModeStrict, got.Options().Mode)
		})
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igiconv.toml")
	require.NoError(t, os.WriteFile(path, []byte("game_dir = \"/games/igi\"\n[log]\nlevel = \"debug\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/games/igi", cfg.GameDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, cfg.Cache)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "config: read")

	json := filepath.Join(dir, "igiconv.json")
	require.NoError(t, os.WriteFile(json, []byte("{}"), 0644))
	_, err = Load(json)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("workers: [1"), 0644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "config: parse")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("workers: -1\n"), 0644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "workers must be positive")
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "igiconv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("game_dir: /from/file\nworkers: 2\n"), 0644))

	t.Setenv("IGICONV_GAME_DIR", "/from/env")
	t.Setenv("IGICONV_WORKERS", "7")
	t.Setenv("IGICONV_GRAPH", "true")
	t.Setenv("IGICONV_CACHE", "false")
	t.Setenv("IGICONV_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.GameDir)
	assert.Equal(t, 7, cfg.Workers)
	assert.True(t, cfg.Graph)
	assert.False(t, cfg.Cache)
	assert.Equal(t, "json", cfg.Log.Format)

	t.Setenv("IGICONV_WORKERS", "many")
	_, err = Load(path)
	assert.ErrorContains(t, err, "IGICONV_WORKERS")
}

func TestCheck(t *testing.T) {
	game := t.TempDir()
	cfg := DefaultConfig()
	cfg.GameDir = game
	cfg.WorkDir = filepath.Join(t.TempDir(), "work")

	err := cfg.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "igi.exe not found")

	require.NoError(t, os.WriteFile(filepath.Join(game, GameExe), nil, 0644))
	require.NoError(t, cfg.Check())
	assert.DirExists(t, cfg.WorkDir)

	cfg.GameDir = filepath.Join(game, GameExe)
	assert.ErrorContains(t, cfg.Check(), "not a directory")

	cfg.GameDir = filepath.Join(game, "missing")
	assert.ErrorContains(t, cfg.Check(), "game_dir")
}
