package config

import "flag"

var (
	flagConfig        = flag.String("config", "", "Path to config file")
	flagDebug         = flag.Bool("debug", false, "Enable debug logging")
	flagLogFile       = flag.String("log-file", "", "Write logs to a rotating file")
	flagRadius        = flag.Float64("radius", 0, "Particle radius")
	flagOverlap       = flag.Float64("overlap", -1, "Particle overlap fraction [0, 0.75]")
	flagSmoothing     = flag.Float64("smoothing", -1, "Shape smoothing [0, 1]")
	flagClusterRadius = flag.Float64("cluster-radius", 0, "Soft cluster radius")
	flagSaveConfig    = flag.String("save-config", "", `Write the effective config to a path, or "default" for the user config dir`)
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// SaveConfigPath returns the -save-config target, if any.
func SaveConfigPath() string {
	return *flagSaveConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if *flagRadius > 0 {
		cfg.Generation.ParticleRadius = float32(*flagRadius)
	}
	if *flagOverlap >= 0 {
		cfg.Generation.ParticleOverlap = float32(*flagOverlap)
	}
	if *flagSmoothing >= 0 {
		cfg.Generation.ShapeSmoothing = float32(*flagSmoothing)
	}
	if *flagClusterRadius > 0 {
		cfg.Generation.SoftClusterRadius = float32(*flagClusterRadius)
	}
}
