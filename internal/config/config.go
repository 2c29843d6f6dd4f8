// Package config provides configuration loading and management for crank.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/lemon07r/crank/internal/recipe"
)

// FileName is the project-local config file name.
const FileName = "crank.toml"

// Config holds all configuration for crank.
type Config struct {
	Workspace WorkspaceConfig          `toml:"workspace"`
	Runner    RunnerConfig             `toml:"runner"`
	Docker    DockerConfig             `toml:"docker"`
	Watch     WatchConfig              `toml:"watch"`
	Recipes   map[string]recipe.Recipe `toml:"recipes,omitempty"`
}

// WorkspaceConfig locates the Cargo workspace the recipes operate on.
type WorkspaceConfig struct {
	Root      string `toml:"root"`       // Directory commands run in
	Manifest  string `toml:"manifest"`   // Workspace manifest, relative to root
	TargetDir string `toml:"target_dir"` // Build-output directory name
	Lockfile  string `toml:"lockfile"`   // Lockfile name pattern
}

// RunnerConfig contains recipe execution settings.
type RunnerConfig struct {
	RunDir         string `toml:"run_dir"`          // Where run records are written
	Record         bool   `toml:"record"`           // Persist run records
	StepTimeout    int    `toml:"step_timeout"`     // Per-step timeout in seconds, 0 disables
	MaxOutputBytes int    `toml:"max_output_bytes"` // Captured output per step kept in the record
}

// DockerConfig contains settings for running recipes inside a container.
type DockerConfig struct {
	Image    string `toml:"image"`
	AutoPull bool   `toml:"auto_pull"`
	CacheDir string `toml:"cache_dir"` // Host directory for cargo home/target caches
}

// WatchConfig contains watch mode settings.
type WatchConfig struct {
	DebounceMS int      `toml:"debounce_ms"`
	Ignore     []string `toml:"ignore"` // Extra directory names to skip
}

// Default configuration values.
var Default = Config{
	Workspace: WorkspaceConfig{
		Root:      ".",
		Manifest:  "./Cargo.toml",
		TargetDir: "target",
		Lockfile:  "Cargo.lock",
	},
	Runner: RunnerConfig{
		RunDir:         ".crank/runs",
		Record:         true,
		StepTimeout:    0,
		MaxOutputBytes: 1 << 20,
	},
	Docker: DockerConfig{
		Image:    "rust:latest",
		AutoPull: true,
		CacheDir: ".crank/cache",
	},
	Watch: WatchConfig{
		DebounceMS: 300,
	},
}

// configPaths returns the list of paths to search for config files.
func configPaths() []string {
	paths := []string{"./" + FileName}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".crank.toml"))
		paths = append(paths, filepath.Join(home, ".config", "crank", "config.toml"))
	}

	return paths
}

// Load loads configuration from a file or discovers it automatically.
// If configFile is empty, it searches standard locations.
// Returns default config if no file is found.
func Load(configFile string) (*Config, error) {
	cfg := Default
	cfg.Watch.Ignore = append([]string(nil), Default.Watch.Ignore...)

	var path string
	if configFile != "" {
		path = configFile
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		for _, p := range configPaths() {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		return &cfg, nil
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in config %s: %v", path, undecoded)
	}

	// Ensure critical fields aren't zeroed out by partial config
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = Default.Workspace.Root
	}
	if cfg.Workspace.Manifest == "" {
		cfg.Workspace.Manifest = Default.Workspace.Manifest
	}
	if cfg.Workspace.TargetDir == "" {
		cfg.Workspace.TargetDir = Default.Workspace.TargetDir
	}
	if cfg.Workspace.Lockfile == "" {
		cfg.Workspace.Lockfile = Default.Workspace.Lockfile
	}
	if cfg.Runner.RunDir == "" {
		cfg.Runner.RunDir = Default.Runner.RunDir
	}
	if cfg.Runner.MaxOutputBytes <= 0 {
		cfg.Runner.MaxOutputBytes = Default.Runner.MaxOutputBytes
	}
	if cfg.Docker.Image == "" {
		cfg.Docker.Image = Default.Docker.Image
	}
	if cfg.Docker.CacheDir == "" {
		cfg.Docker.CacheDir = Default.Docker.CacheDir
	}
	if cfg.Watch.DebounceMS <= 0 {
		cfg.Watch.DebounceMS = Default.Watch.DebounceMS
	}

	return &cfg, nil
}

// Vars returns the placeholder values recipes are expanded with.
func (c *Config) Vars() recipe.Vars {
	return recipe.Vars{
		"manifest":   c.Workspace.Manifest,
		"target_dir": c.Workspace.TargetDir,
		"lockfile":   c.Workspace.Lockfile,
	}
}

// Book returns the built-in recipes with any configured recipes applied on top.
// A configured recipe replaces the built-in recipe of the same name.
func (c *Config) Book() (*recipe.Book, error) {
	book := recipe.Default()
	if err := book.Merge(c.Recipes); err != nil {
		return nil, err
	}
	if err := book.Validate(); err != nil {
		return nil, err
	}
	return book, nil
}

// StepTimeout returns the per-step timeout, or zero when disabled.
func (c *Config) StepTimeout() time.Duration {
	return time.Duration(c.Runner.StepTimeout) * time.Second
}

// WatchIgnore returns the path names watch mode never reacts to: the build
// output directory, the lockfile and any configured extras.
func (c *Config) WatchIgnore() []string {
	ignore := append([]string{c.Workspace.TargetDir, c.Workspace.Lockfile}, c.Watch.Ignore...)
	sort.Strings(ignore)
	return ignore
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
