// Package config loads the kiosk and verifier configuration files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mcuadros/go-defaults"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// load fills cfg with its default tags and then overlays the file at path.
// An empty path yields the defaults. JSON and TOML are accepted by
// extension.
func load(path string, cfg interface{ Validate() error }) error {
	defaults.SetDefaults(cfg)
	if path == "" {
		return cfg.Validate()
	}

	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch ext {
	case ".json":
		err = json.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config %s: %w", cleanPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, v)
	}
	return d, nil
}

// mustDuration is used by accessors after Validate has accepted the value.
func mustDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Broker holds MQTT connection settings shared by both binaries.
type Broker struct {
	URL      string `json:"url" toml:"url" default:"tcp://localhost:1883"`
	ClientID string `json:"client_id" toml:"client_id"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
}

func (b Broker) validate() error {
	if b.URL == "" {
		return fmt.Errorf("broker url is required")
	}
	return nil
}
