// internal/config/config.go
//
// This package handles configuration and the .loom directory structure.
// Every project that uses Loom gets a .loom/ folder created in its root.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// LoomDir is the name of the directory we create in each project.
	LoomDir = ".loom"

	// RootEnv overrides project root resolution when set.
	RootEnv = "LOOM_ROOT"

	configName = "config.yaml"
)

const defaultConfigYAML = `# loom project configuration
version: 1

# Branch plans cut their working snapshots from.
base_branch: main

# Branch finished plans merge into. Empty means base_branch.
target_branch: ""

# Upper bound on concurrently running nodes per plan.
max_parallel: 4

# One of debug, info, warn, error.
log_level: info
`

// Config models .loom/config.yaml. Per-plan scaffold options override these
// project-wide defaults.
type Config struct {
	Version      int    `yaml:"version"`
	BaseBranch   string `yaml:"base_branch"`
	TargetBranch string `yaml:"target_branch,omitempty"`
	MaxParallel  int    `yaml:"max_parallel"`
	LogLevel     string `yaml:"log_level,omitempty"`
}

// DefaultConfig returns the configuration a fresh project starts with.
func DefaultConfig() Config {
	return Config{
		Version:     1,
		BaseBranch:  "main",
		MaxParallel: 4,
		LogLevel:    "info",
	}
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if strings.TrimSpace(c.BaseBranch) == "" {
		c.BaseBranch = "main"
	}
	if c.MaxParallel == 0 {
		c.MaxParallel = 4
	}
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = "info"
	}
}

func (c Config) validate() error {
	if c.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be >= 1")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}
	return nil
}

// ResolveRoot returns the project root: the LOOM_ROOT override when set,
// otherwise the working directory.
func ResolveRoot() (string, error) {
	if root := strings.TrimSpace(os.Getenv(RootEnv)); root != "" {
		return filepath.Clean(root), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: resolve working directory: %w", err)
	}
	return wd, nil
}

// DataDir returns the .loom directory for a project root. The plan store is
// rooted here.
func DataDir(root string) string {
	return filepath.Join(root, LoomDir)
}

// ConfigPath returns the on-disk location of the project config file.
func ConfigPath(root string) string {
	return filepath.Join(DataDir(root), configName)
}

// ManifestsDir returns where declarative plan manifests live.
func ManifestsDir(root string) string {
	return filepath.Join(DataDir(root), "manifests")
}

// WorktreesDir returns the default root for per-plan working trees.
func WorktreesDir(root string) string {
	return filepath.Join(DataDir(root), "worktrees")
}

// EnsureProject creates the .loom directory structure in the given project
// root and writes a default config if none exists.
//
// Structure created:
// .loom/
// ├── config.yaml
// ├── plans/       <- plan metadata and per-node spec files
// ├── manifests/   <- declarative plan manifests
// └── worktrees/   <- per-plan working trees
func EnsureProject(root string) error {
	dirs := []string{
		filepath.Join(DataDir(root), "plans"),
		ManifestsDir(root),
		WorktreesDir(root),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureConfig(ConfigPath(root))
}

// Load reads the project config, falling back to defaults when the file
// does not exist yet.
func Load(root string) (Config, error) {
	path := ConfigPath(root)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save persists the config back to .loom/config.yaml.
func Save(root string, cfg Config) error {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(DataDir(root), 0o755); err != nil {
		return fmt.Errorf("config: ensure %s: %w", DataDir(root), err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(root), data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", ConfigPath(root), err)
	}
	return nil
}

func ensureConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
