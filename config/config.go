// Package config defines the configuration document of the reconstruction service.
package config

import (
	"github.com/photocloud/photocloud/jobmanager"
	"github.com/photocloud/photocloud/logging"
	"github.com/photocloud/photocloud/vision/reconstruction"
	"github.com/photocloud/photocloud/web"
)

// Config is the whole configuration document. Every section is optional and missing fields
// keep their defaults.
type Config struct {
	ConfigFilePath string `json:"-"`

	Reconstruction *reconstruction.Config `json:"reconstruction,omitempty"`
	Jobs           *jobmanager.Config     `json:"jobs,omitempty"`
	Web            *web.Config            `json:"web,omitempty"`
	Log            LogConfig              `json:"log"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level,omitempty"`
}

// Default returns a config with every section set to its defaults.
func Default() *Config {
	return &Config{
		Reconstruction: reconstruction.DefaultConfig(),
		Jobs:           jobmanager.DefaultConfig(),
		Web:            web.DefaultConfig(),
		Log:            LogConfig{Level: "info"},
	}
}

// Ensure fills in missing sections and validates the whole document.
func (c *Config) Ensure() error {
	defaults := Default()
	if c.Reconstruction == nil {
		c.Reconstruction = defaults.Reconstruction
	}
	if c.Jobs == nil {
		c.Jobs = defaults.Jobs
	}
	if c.Web == nil {
		c.Web = defaults.Web
	}
	if err := c.Reconstruction.Validate("reconstruction"); err != nil {
		return err
	}
	if err := c.Jobs.Validate("jobs"); err != nil {
		return err
	}
	if err := c.Web.Validate("web"); err != nil {
		return err
	}
	_, err := c.LogLevel()
	return err
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (logging.Level, error) {
	return logging.LevelFromString(c.Log.Level)
}
