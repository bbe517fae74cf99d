package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the loraspect configuration file
// (~/.config/loraspect/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// block-weights
	OutputFormat string `yaml:"output_format"`
	BarWidth     *int   `yaml:"bar_width"`

	// Loading
	CacheSize *int  `yaml:"cache_size"`
	Eager     *bool `yaml:"eager"`

	// Server
	ServerAddress  string `yaml:"server_address"`
	MaxUploadBytes *int64 `yaml:"max_upload_bytes"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "loraspect", "config.yaml")
}

// LoadConfig reads the config file at path, or the default location when
// path is empty. A missing default file yields a zero Config; a missing
// explicit file or malformed YAML is an error.
func LoadConfig(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyLoggingConfig fills logging settings the user did not pass as flags.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

func applyLoadConfig(c *cli.Command, cfg Config) {
	if cfg.CacheSize != nil && !c.IsSet("cache-size") {
		cacheSize = *cfg.CacheSize
	}
	if cfg.Eager != nil && !c.IsSet("eager") {
		eager = *cfg.Eager
	}
}

func applyBlockWeightsConfig(c *cli.Command, cfg Config, outputFormat *string, barWidth *int) {
	if cfg.OutputFormat != "" && !c.IsSet("output-format") {
		*outputFormat = cfg.OutputFormat
	}
	if cfg.BarWidth != nil && !c.IsSet("bar-width") {
		*barWidth = *cfg.BarWidth
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxUpload *int64) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.MaxUploadBytes != nil && !c.IsSet("max-upload-bytes") {
		*maxUpload = *cfg.MaxUploadBytes
	}
}
