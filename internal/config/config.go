// Package config handles softbody tool configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by Validate for unusable settings.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds all settings.
type Config struct {
	Generation GenerationConfig `yaml:"generation"`
	Skinning   SkinningConfig   `yaml:"skinning"`
	Solver     SolverConfig     `yaml:"solver"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GenerationConfig holds particle generation settings.
type GenerationConfig struct {
	ParticleRadius         float32 `yaml:"particle_radius"`
	ParticleOverlap        float32 `yaml:"particle_overlap"` // Fraction in [0, 0.75]
	ShapeSmoothing         float32 `yaml:"shape_smoothing"`  // 0 = raw samples, 1 = fitted centroids
	AnisotropyNeighborhood float32 `yaml:"anisotropy_neighborhood"`
	MaxAnisotropy          float32 `yaml:"max_anisotropy"`
	SoftClusterRadius      float32 `yaml:"soft_cluster_radius"`
	OneSided               bool    `yaml:"one_sided"`
	SelfCollisions         bool    `yaml:"self_collisions"`
}

// SkinningConfig holds cluster skinning settings.
type SkinningConfig struct {
	Falloff     float32 `yaml:"falloff"`
	MaxDistance float32 `yaml:"max_distance"`
}

// SolverConfig holds settings for the reference solver.
type SolverConfig struct {
	TimeStep time.Duration `yaml:"time_step"`
	Capacity int           `yaml:"capacity"` // Max particles, 0 = unbounded
}

// JobsConfig holds incremental job settings.
type JobsConfig struct {
	ChunkSize int `yaml:"chunk_size"` // Items processed per job step
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			ParticleRadius:         0.1,
			ParticleOverlap:        0.2,
			ShapeSmoothing:         0.5,
			AnisotropyNeighborhood: 0.2,
			MaxAnisotropy:          3,
			SoftClusterRadius:      0.3,
			OneSided:               false,
			SelfCollisions:         false,
		},
		Skinning: SkinningConfig{
			Falloff:     1.0,
			MaxDistance: 0.5,
		},
		Solver: SolverConfig{
			TimeStep: 20 * time.Millisecond,
			Capacity: 0,
		},
		Jobs: JobsConfig{
			ChunkSize: 500,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate clamps fractional settings into range and rejects settings that
// cannot produce a softbody.
func (c *Config) Validate() error {
	g := &c.Generation
	if g.ParticleRadius <= 0 {
		return fmt.Errorf("%w: particle_radius must be positive, got %v", ErrInvalidConfig, g.ParticleRadius)
	}
	if g.SoftClusterRadius < 0 || g.AnisotropyNeighborhood < 0 {
		return fmt.Errorf("%w: radii must not be negative", ErrInvalidConfig)
	}
	g.ParticleOverlap = clamp(g.ParticleOverlap, 0, 0.75)
	g.ShapeSmoothing = clamp(g.ShapeSmoothing, 0, 1)
	if g.MaxAnisotropy < 1 {
		g.MaxAnisotropy = 1
	}

	if c.Skinning.MaxDistance < 0 {
		return fmt.Errorf("%w: skinning max_distance must not be negative", ErrInvalidConfig)
	}
	if c.Solver.TimeStep <= 0 {
		return fmt.Errorf("%w: solver time_step must be positive", ErrInvalidConfig)
	}
	if c.Jobs.ChunkSize <= 0 {
		c.Jobs.ChunkSize = 1
	}
	return nil
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
