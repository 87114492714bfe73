// Package config loads plejdctl's runtime configuration: Plejd account
// credentials, the site to connect to, and the mesh runtime's timing
// knobs, layered from a config file, environment variables, and CLI
// flags via viper — the same layering EdgxCloud-EdgeFlow's internal/config
// uses, adapted from the teacher's bare pkg/config.Config literal.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for plejdctl.
type Config struct {
	Plejd PlejdConfig `mapstructure:"plejd"`
	Mesh  MeshConfig  `mapstructure:"mesh"`
	Log   LogConfig   `mapstructure:"log"`
}

// PlejdConfig holds the cloud account and site identifying which mesh to
// manage.
type PlejdConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	SiteID   string `mapstructure:"site_id"`
}

// MeshConfig holds the mesh runtime's timing knobs.
type MeshConfig struct {
	ScanTimeout      time.Duration `mapstructure:"scan_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	GATTTimeout      time.Duration `mapstructure:"gatt_timeout"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file, then environment
// variables prefixed PLEJDCTL_, applying defaults for anything unset.
// configPath may be empty, in which case config.yaml is searched for in
// the current directory and $HOME/.plejdctl.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("PLEJDCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mesh.scan_timeout", 10*time.Second)
	v.SetDefault("mesh.ping_interval", 10*time.Minute)
	v.SetDefault("mesh.connect_timeout", 10*time.Second)
	v.SetDefault("mesh.gatt_timeout", 5*time.Second)
	v.SetDefault("mesh.reconnect_backoff", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".plejdctl")
}

// NewLogger builds a logrus.Logger configured from LogConfig, keeping the
// teacher's logrus.TextFormatter{FullTimestamp: true} recipe for the text
// format and adding a JSON option for scripted/CI use.
func (c LogConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if c.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return logger
}
