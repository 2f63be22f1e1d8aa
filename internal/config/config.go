// Package config loads application configuration the same way it is laid
// out on disk: a YAML file in the platform config dir, overridable through
// LMSX_* environment variables. Passwords never enter the config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	UI      UIConfig      `mapstructure:"ui"`
}

// ServerConfig is the resolved connection tuple, minus the password, which
// is prompted for or replaced by a saved token.
type ServerConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Service  string `mapstructure:"service"` // web-service shortname
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// UIConfig holds UI preferences
type UIConfig struct {
	FuzzyFilter   bool `mapstructure:"fuzzy_filter"`   // fuzzy instead of substring filtering
	ShowHidden    bool `mapstructure:"show_hidden"`    // include courses marked invisible
	RememberLogin bool `mapstructure:"remember_login"` // persist the token between runs
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Service: "moodle_mobile_app",
		},
		Logging: LoggingConfig{
			File:  filepath.Join(DataDir(), "lmsx.log"),
			Level: "INFO",
		},
		UI: UIConfig{
			ShowHidden:    true,
			RememberLogin: true,
		},
	}
}

// DataDir returns the per-user data directory (logs, session db).
func DataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "lmsx")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "lmsx")
	}
}

// configDir returns the per-user config directory.
func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "lmsx")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "lmsx")
	}
}

// Load reads configuration from file and environment. A missing config file
// is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir())
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("LMSX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// IsConfigured reports whether enough is present to attempt a connection.
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Username != ""
}
