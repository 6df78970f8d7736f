package app

import (
	"io"

	"github.com/giantswarm/ctrlloop/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level
	Debug bool

	// Silent discards all log output
	Silent bool

	// Custom configuration file (optional)
	// When empty, ~/.config/ctrlloop/config.yaml is used if present
	ConfigPath string

	// LogOutput receives log output. Defaults to stderr.
	LogOutput io.Writer

	// Controller configuration, loaded during bootstrap unless preset
	CtrlConfig *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
