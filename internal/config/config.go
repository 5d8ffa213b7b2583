package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/soracane/utaq/internal/constants"
	"github.com/soracane/utaq/internal/structures"
)

// Load loads the configuration from a TOML file
func Load(path string) (*structures.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a TOML file
func Save(cfg *structures.Config, path string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Default returns the default configuration
func Default() *structures.Config {
	return &structures.Config{
		AudioQuality:  constants.AudioQualityMedium,
		DefaultVolume: 0.7,
		SeekSeconds:   5,

		PageBudget:   5,
		MaxAttempts:  3,
		RetryDelayMs: 500,
		SeedLimit:    5,
		// Yield per generation pass; divided across seed tracks.
		TargetYield:           24,
		SeedRandomness:        0.5,
		HistorySeedRandomness: 0.75,
		HistoryLimit:          200,

		GradientTop:    "#1a1b26", // Tokyo Night Storm background
		GradientBottom: "#3b4261", // Tokyo Night border
	}
}
