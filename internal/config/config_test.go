package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Generation defaults
	if cfg.Generation.ParticleRadius != 0.1 {
		t.Errorf("expected particle radius 0.1, got %f", cfg.Generation.ParticleRadius)
	}
	if cfg.Generation.ParticleOverlap != 0.2 {
		t.Errorf("expected overlap 0.2, got %f", cfg.Generation.ParticleOverlap)
	}
	if cfg.Generation.SoftClusterRadius != 0.3 {
		t.Errorf("expected cluster radius 0.3, got %f", cfg.Generation.SoftClusterRadius)
	}
	if cfg.Generation.MaxAnisotropy != 3 {
		t.Errorf("expected max anisotropy 3, got %f", cfg.Generation.MaxAnisotropy)
	}
	if cfg.Generation.OneSided {
		t.Error("expected one_sided to be false by default")
	}

	// Skinning defaults
	if cfg.Skinning.Falloff != 1 {
		t.Errorf("expected falloff 1, got %f", cfg.Skinning.Falloff)
	}
	if cfg.Skinning.MaxDistance != 0.5 {
		t.Errorf("expected max distance 0.5, got %f", cfg.Skinning.MaxDistance)
	}

	// Solver defaults
	if cfg.Solver.TimeStep != 20*time.Millisecond {
		t.Errorf("expected time step 20ms, got %v", cfg.Solver.TimeStep)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "softbody.yaml")

	yamlContent := `
generation:
  particle_radius: 0.05
  particle_overlap: 0.4
  shape_smoothing: 1
  soft_cluster_radius: 0.25
  one_sided: true

skinning:
  falloff: 2
  max_distance: 0.75

solver:
  time_step: 5ms
  capacity: 4096

jobs:
  chunk_size: 64

logging:
  level: "debug"
  log_file: "softbody.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Generation.ParticleRadius != 0.05 {
		t.Errorf("expected radius 0.05, got %f", cfg.Generation.ParticleRadius)
	}
	if cfg.Generation.ParticleOverlap != 0.4 {
		t.Errorf("expected overlap 0.4, got %f", cfg.Generation.ParticleOverlap)
	}
	if !cfg.Generation.OneSided {
		t.Error("expected one_sided to be true")
	}
	// Untouched keys keep defaults
	if cfg.Generation.MaxAnisotropy != 3 {
		t.Errorf("expected default max anisotropy 3, got %f", cfg.Generation.MaxAnisotropy)
	}
	if cfg.Skinning.Falloff != 2 {
		t.Errorf("expected falloff 2, got %f", cfg.Skinning.Falloff)
	}
	if cfg.Solver.TimeStep != 5*time.Millisecond {
		t.Errorf("expected time step 5ms, got %v", cfg.Solver.TimeStep)
	}
	if cfg.Solver.Capacity != 4096 {
		t.Errorf("expected capacity 4096, got %d", cfg.Solver.Capacity)
	}
	if cfg.Jobs.ChunkSize != 64 {
		t.Errorf("expected chunk size 64, got %d", cfg.Jobs.ChunkSize)
	}
	if cfg.Logging.LogFile != "softbody.log" {
		t.Errorf("expected log file 'softbody.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
generation:
  particle_radius: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	if err := loadFromFile(cfg, "/nonexistent/path/softbody.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		verify  func(*testing.T, *Config)
	}{
		{
			name:   "overlap clamped",
			mutate: func(c *Config) { c.Generation.ParticleOverlap = 0.9 },
			verify: func(t *testing.T, c *Config) {
				if c.Generation.ParticleOverlap != 0.75 {
					t.Errorf("expected overlap clamped to 0.75, got %f", c.Generation.ParticleOverlap)
				}
			},
		},
		{
			name:   "smoothing clamped",
			mutate: func(c *Config) { c.Generation.ShapeSmoothing = -2 },
			verify: func(t *testing.T, c *Config) {
				if c.Generation.ShapeSmoothing != 0 {
					t.Errorf("expected smoothing clamped to 0, got %f", c.Generation.ShapeSmoothing)
				}
			},
		},
		{
			name:   "anisotropy floor",
			mutate: func(c *Config) { c.Generation.MaxAnisotropy = 0.5 },
			verify: func(t *testing.T, c *Config) {
				if c.Generation.MaxAnisotropy != 1 {
					t.Errorf("expected max anisotropy 1, got %f", c.Generation.MaxAnisotropy)
				}
			},
		},
		{
			name:    "zero radius",
			mutate:  func(c *Config) { c.Generation.ParticleRadius = 0 },
			wantErr: true,
		},
		{
			name:    "negative max distance",
			mutate:  func(c *Config) { c.Skinning.MaxDistance = -1 },
			wantErr: true,
		},
		{
			name:    "zero time step",
			mutate:  func(c *Config) { c.Solver.TimeStep = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.verify(t, cfg)
		})
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	configPath := filepath.Join(tmpDir, "softbody.yaml")
	if err := os.WriteFile(configPath, []byte("generation:\n  particle_radius: 0.2\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	if path := findConfigFile(); path == "" {
		t.Error("expected to find softbody.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "radius flag",
			setup: func() { *flagRadius = 0.25 },
			verify: func(cfg *Config) {
				if cfg.Generation.ParticleRadius != 0.25 {
					t.Errorf("expected radius 0.25, got %f", cfg.Generation.ParticleRadius)
				}
			},
			teardown: func() { *flagRadius = 0 },
		},
		{
			name:  "zero overlap flag",
			setup: func() { *flagOverlap = 0 },
			verify: func(cfg *Config) {
				if cfg.Generation.ParticleOverlap != 0 {
					t.Errorf("expected overlap 0, got %f", cfg.Generation.ParticleOverlap)
				}
			},
			teardown: func() { *flagOverlap = -1 },
		},
		{
			name:  "unset overlap flag keeps default",
			setup: func() {},
			verify: func(cfg *Config) {
				if cfg.Generation.ParticleOverlap != 0.2 {
					t.Errorf("expected overlap 0.2, got %f", cfg.Generation.ParticleOverlap)
				}
			},
			teardown: func() {},
		},
		{
			name:  "cluster radius flag",
			setup: func() { *flagClusterRadius = 0.6 },
			verify: func(cfg *Config) {
				if cfg.Generation.SoftClusterRadius != 0.6 {
					t.Errorf("expected cluster radius 0.6, got %f", cfg.Generation.SoftClusterRadius)
				}
			},
			teardown: func() { *flagClusterRadius = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			applyFlags(cfg)

			tt.verify(cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "softbody.yaml")

	yamlContent := `
generation:
  particle_radius: 0.3
  soft_cluster_radius: 0.9
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	*flagConfig = configPath
	*flagRadius = 0.15
	defer func() {
		*flagConfig = ""
		*flagRadius = 0
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Radius from flag, not file
	if cfg.Generation.ParticleRadius != 0.15 {
		t.Errorf("expected radius 0.15 from flag, got %f", cfg.Generation.ParticleRadius)
	}
	// Cluster radius from file
	if cfg.Generation.SoftClusterRadius != 0.9 {
		t.Errorf("expected cluster radius 0.9 from file, got %f", cfg.Generation.SoftClusterRadius)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "softbody.yaml")

	cfg := Default()
	cfg.Skinning.Falloff = 3
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("failed to reload: %v", err)
	}
	if loaded.Skinning.Falloff != 3 {
		t.Errorf("expected falloff 3 after reload, got %f", loaded.Skinning.Falloff)
	}
}

func TestSaveRequested(t *testing.T) {
	defer func() { *flagSaveConfig = "" }()

	cfg := Default()
	if path, err := cfg.SaveRequested(); err != nil || path != "" {
		t.Fatalf("expected no save without flag, got %q, %v", path, err)
	}

	target := filepath.Join(t.TempDir(), "effective.yaml")
	*flagSaveConfig = target
	cfg.Generation.ParticleRadius = 0.25
	path, err := cfg.SaveRequested()
	if err != nil {
		t.Fatalf("SaveRequested failed: %v", err)
	}
	if path != target {
		t.Errorf("expected %s, got %s", target, path)
	}

	// The saved file reproduces the settings through -config.
	*flagSaveConfig = ""
	*flagConfig = target
	defer func() { *flagConfig = "" }()
	loaded, err := Load()
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Generation.ParticleRadius != 0.25 {
		t.Errorf("expected radius 0.25 from saved file, got %f", loaded.Generation.ParticleRadius)
	}
}

func TestSaveRequestedDefault(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("config dir override relies on XDG_CONFIG_HOME")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	*flagSaveConfig = DefaultSaveTarget
	defer func() { *flagSaveConfig = "" }()

	path, err := Default().SaveRequested()
	if err != nil {
		t.Fatalf("SaveRequested failed: %v", err)
	}
	if path != DefaultPath() {
		t.Errorf("expected %s, got %s", DefaultPath(), path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected saved file: %v", err)
	}
}
