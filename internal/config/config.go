// Package config loads the ocelot.toml runtime configuration.
package config

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/kaby76/gpuocelot/internal/trace"
	"github.com/kaby76/gpuocelot/internal/translate"
)

// TranslationConfig is the [translation] section.
type TranslationConfig struct {
	// Optimization is the default specialization tier.
	Optimization string `toml:"optimization"`
	// WarpSizes are the warp widths warmed up ahead of execution.
	WarpSizes []int `toml:"warp_sizes"`
}

// TraceConfig is the [trace] section.
type TraceConfig struct {
	Level string `toml:"level"`
}

// Config is the full runtime configuration.
type Config struct {
	Translation TranslationConfig `toml:"translation"`
	Trace       TraceConfig       `toml:"trace"`
}

// ErrNoWarpSizes indicates an explicitly empty [translation].warp_sizes list.
var ErrNoWarpSizes = errors.New("[translation].warp_sizes must not be empty")

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Translation: TranslationConfig{
			Optimization: translate.OptimizationBasic.String(),
			WarpSizes:    []int{1},
		},
		Trace: TraceConfig{Level: trace.LevelOff.String()},
	}
}

// Load parses a configuration file. Absent sections keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if meta.IsDefined("translation", "warp_sizes") && len(cfg.Translation.WarpSizes) == 0 {
		return Config{}, fmt.Errorf("%s: %w", path, ErrNoWarpSizes)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field parses to its typed form.
func (c Config) Validate() error {
	if _, err := translate.ParseOptimizationLevel(c.Translation.Optimization); err != nil {
		return err
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return err
	}
	for _, w := range c.Translation.WarpSizes {
		if w < 1 {
			return fmt.Errorf("invalid warp size %d", w)
		}
	}
	return nil
}

// OptimizationLevel returns the typed specialization tier.
func (c Config) OptimizationLevel() translate.OptimizationLevel {
	level, err := translate.ParseOptimizationLevel(c.Translation.Optimization)
	if err != nil {
		return translate.OptimizationBasic
	}
	return level
}

// TraceLevel returns the typed trace level.
func (c Config) TraceLevel() trace.Level {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.LevelOff
	}
	return level
}
