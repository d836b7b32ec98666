// Package config loads the bridge's JSON configuration files.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/overlaybridge/overlaybridge/pkg/models"
)

// FileConfigLoader loads configuration from a local JSON file.
type FileConfigLoader struct{}

// Load reads and unmarshals a JSON file into dst.
func (*FileConfigLoader) Load(_ context.Context, path string, dst interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file '%s': %w", path, err)
	}

	err = json.Unmarshal(data, dst)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON from '%s': %w", path, err)
	}

	return nil
}

// LoadBridgeConfig reads the daemon configuration and applies defaults.
func LoadBridgeConfig(ctx context.Context, path string) (*models.BridgeConfig, error) {
	var cfg models.BridgeConfig

	loader := &FileConfigLoader{}
	if err := loader.Load(ctx, path, &cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}
