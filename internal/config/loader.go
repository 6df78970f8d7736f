package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/giantswarm/ctrlloop/pkg/logging"
)

const (
	userConfigDir  = ".config/ctrlloop"
	configFileName = "config.yaml"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// DefaultConfigPath returns $HOME/.config/ctrlloop/config.yaml.
func DefaultConfigPath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

// LoadConfig loads the configuration file at path on top of the defaults.
// With an empty path the default location is tried, and a missing file
// there yields the defaults. An explicitly named file must exist.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
	}

	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", path)
			return config, nil
		}
		return Config{}, fmt.Errorf("error reading config from %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		// config malformed
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return config, nil
}
