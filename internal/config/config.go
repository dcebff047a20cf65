// Package config loads the game and work directory settings used by
// batch conversion.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"igiconv/internal/qvmfmt"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = "igiconv.yaml"

// GameExe must exist in a valid game directory.
const GameExe = "igi.exe"

// ErrUnsupportedFormat is returned for config files that are neither YAML nor TOML.
var ErrUnsupportedFormat = errors.New("config: unsupported file extension")

// Config holds all configuration for igiconv.
type Config struct {
	// GameDir is the installed game, searched for *.qvm files.
	GameDir string `yaml:"game_dir" toml:"game_dir" env:"IGICONV_GAME_DIR"`

	// WorkDir receives decoded scripts, the recompile script and reports.
	WorkDir string `yaml:"work_dir" toml:"work_dir" env:"IGICONV_WORK_DIR"`

	// Workers bounds the number of modules decompiled at once.
	Workers int `yaml:"workers" toml:"workers" env:"IGICONV_WORKERS"`

	// Mode is "best-effort" or "strict".
	Mode string `yaml:"mode" toml:"mode" env:"IGICONV_MODE"`

	// Graph writes a CFG per module and a batch call graph.
	Graph bool `yaml:"graph" toml:"graph" env:"IGICONV_GRAPH"`

	// Cache skips inputs converted by an earlier run.
	Cache bool `yaml:"cache" toml:"cache" env:"IGICONV_CACHE"`

	Log LogConfig `yaml:"log" toml:"log"`
}

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" env:"IGICONV_LOG_LEVEL"`
	Format string `yaml:"format" toml:"format" env:"IGICONV_LOG_FORMAT"` // console or json
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return &Config{
		GameDir: "C:/Games/ProjectIGI",
		WorkDir: filepath.ToSlash(wd),
		Workers: runtime.NumCPU(),
		Mode:    qvmfmt.ModeBestEffort.String(),
		Graph:   false,
		Cache:   true,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// ScriptsDir holds the generated recompile scripts.
func (c *Config) ScriptsDir() string { return filepath.Join(c.WorkDir, "scripts") }

// DecodedDir mirrors GameDir with *.qvm replaced by *.qsc.
func (c *Config) DecodedDir() string { return filepath.Join(c.WorkDir, "decoded") }

// BuildDir receives recompiled modules.
func (c *Config) BuildDir() string { return filepath.Join(c.WorkDir, "build") }

// GraphDir receives DOT output.
func (c *Config) GraphDir() string { return filepath.Join(c.WorkDir, "graphs") }

// CachePath is the conversion manifest.
func (c *Config) CachePath() string { return filepath.Join(c.WorkDir, ".igiconv-cache") }

// ReportPath is the JSON batch report.
func (c *Config) ReportPath() string { return filepath.Join(c.WorkDir, "report.json") }

// Load reads the config file at path, applies environment overrides and
// validates the result. The format is chosen by extension.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := unmarshal(path, data, cfg); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to path in the format its extension names.
// It creates parent directories if they don't exist.
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	switch ext(path) {
	case "yaml":
		data, err = yaml.Marshal(c)
	case "toml":
		data, err = toml.Marshal(c)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("config: marshal %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

func unmarshal(path string, data []byte, cfg *Config) error {
	var err error
	switch ext(path) {
	case "yaml":
		err = yaml.Unmarshal(data, cfg)
	case "toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func ext(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	}
	return ""
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("IGICONV_GAME_DIR"); v != "" {
		cfg.GameDir = v
	}
	if v := os.Getenv("IGICONV_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("IGICONV_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: IGICONV_WORKERS: %w", err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("IGICONV_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv("IGICONV_GRAPH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: IGICONV_GRAPH: %w", err)
		}
		cfg.Graph = b
	}
	if v := os.Getenv("IGICONV_CACHE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: IGICONV_CACHE: %w", err)
		}
		cfg.Cache = b
	}
	if v := os.Getenv("IGICONV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("IGICONV_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	return nil
}

// Validate checks that the configuration values are usable. It does not
// touch the filesystem; see Check.
func (c *Config) Validate() error {
	if c.GameDir == "" {
		return fmt.Errorf("config: game_dir is required")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("config: work_dir is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be positive")
	}
	if _, err := qvmfmt.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("config: mode: %w", err)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return fmt.Errorf("config: invalid log.format: %s (must be 'console' or 'json')", c.Log.Format)
	}
	return nil
}

// Options returns the decompiler options the config selects.
func (c *Config) Options() qvmfmt.Options {
	mode, _ := qvmfmt.ParseMode(c.Mode)
	return qvmfmt.Options{Mode: mode}
}

// Check verifies the directories on disk: GameDir must be a directory
// holding the game executable, and WorkDir must be a directory or
// creatable.
func (c *Config) Check() error {
	st, err := os.Stat(c.GameDir)
	if err != nil {
		return fmt.Errorf("config: game_dir: %w", err)
	}
	if !st.IsDir() {
		return fmt.Errorf("config: game_dir %s is not a directory", c.GameDir)
	}
	exe := filepath.Join(c.GameDir, GameExe)
	if st, err := os.Lstat(exe); err != nil || !st.Mode().IsRegular() {
		return fmt.Errorf("config: %s not found in %s", GameExe, c.GameDir)
	}

	if err := os.MkdirAll(c.WorkDir, 0755); err != nil {
		return fmt.Errorf("config: work_dir: %w", err)
	}
	if st, err := os.Stat(c.WorkDir); err != nil || !st.IsDir() {
		return fmt.Errorf("config: work_dir %s is not a directory", c.WorkDir)
	}
	return nil
}
