package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	root := t.TempDir()
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(DataDir(root), 0o755); err != nil {
		t.Fatal(err)
	}
	content := `version: 1
base_branch: develop
target_branch: release/2.1
max_parallel: 8
log_level: debug
`
	if err := os.WriteFile(ConfigPath(root), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.BaseBranch != "develop" || cfg.TargetBranch != "release/2.1" {
		t.Fatalf("unexpected branches: %+v", cfg)
	}
	if cfg.MaxParallel != 8 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected values: %+v", cfg)
	}
}

func TestLoadFillsPartialConfig(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(DataDir(root), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ConfigPath(root), []byte("base_branch: trunk\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("load returned error: %v", err)
	}
	if cfg.BaseBranch != "trunk" {
		t.Fatalf("base_branch = %q", cfg.BaseBranch)
	}
	if cfg.Version != 1 || cfg.MaxParallel != 4 || cfg.LogLevel != "info" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(DataDir(root), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ConfigPath(root), []byte("max_parallel: -2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(root); err == nil || !strings.Contains(err.Error(), "max_parallel") {
		t.Fatalf("expected max_parallel error, got %v", err)
	}
}

func TestEnsureProjectCreatesTree(t *testing.T) {
	root := t.TempDir()
	if err := EnsureProject(root); err != nil {
		t.Fatalf("ensure project: %v", err)
	}
	for _, dir := range []string{
		filepath.Join(DataDir(root), "plans"),
		ManifestsDir(root),
		WorktreesDir(root),
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("missing directory %s: %v", dir, err)
		}
	}
	data, err := os.ReadFile(ConfigPath(root))
	if err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if !strings.Contains(string(data), "base_branch: main") {
		t.Fatalf("unexpected default config:\n%s", data)
	}

	// A second call must not clobber the existing config.
	if err := os.WriteFile(ConfigPath(root), []byte("version: 1\nbase_branch: trunk\nmax_parallel: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := EnsureProject(root); err != nil {
		t.Fatalf("second ensure project: %v", err)
	}
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseBranch != "trunk" {
		t.Fatalf("ensure project overwrote the config: %+v", cfg)
	}
}

func TestSaveRoundTrips(t *testing.T) {
	root := t.TempDir()
	want := Config{Version: 1, BaseBranch: "main", TargetBranch: "release/3.0", MaxParallel: 2, LogLevel: "warn"}
	if err := Save(root, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestResolveRootHonorsEnv(t *testing.T) {
	t.Setenv(RootEnv, "/srv/projects/loom ")
	root, err := ResolveRoot()
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if root != "/srv/projects/loom" {
		t.Fatalf("root = %q", root)
	}

	t.Setenv(RootEnv, "")
	root, err = ResolveRoot()
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if root != wd {
		t.Fatalf("root = %q, want working directory %q", root, wd)
	}
}
