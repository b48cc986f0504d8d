// Copyright (c) 2025 HostPulse authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Metric sources.
const (
	SourceLocal        = "local"
	SourceNodeExporter = "node_exporter"
)

// Config holds the application configuration.
type Config struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	StaticDir       string        `mapstructure:"static_dir" yaml:"static_dir"`
	SampleInterval  time.Duration `mapstructure:"sample_interval" yaml:"sample_interval"`
	Source          string        `mapstructure:"source" yaml:"source"`
	NodeExporterURL string        `mapstructure:"node_exporter_url" yaml:"node_exporter_url"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	LogLevel        string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat       string        `mapstructure:"log_format" yaml:"log_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8082,
		StaticDir:      "", // embedded dashboard
		SampleInterval: 200 * time.Millisecond,
		Source:         SourceLocal,
		WriteTimeout:   10 * time.Second,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("static_dir", d.StaticDir)
	v.SetDefault("sample_interval", d.SampleInterval)
	v.SetDefault("source", d.Source)
	v.SetDefault("node_exporter_url", "")
	v.SetDefault("write_timeout", d.WriteTimeout)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
}

// Load resolves the configuration from defaults, a YAML file, HOSTPULSE_*
// environment variables and whatever flags the caller bound on v.
//
// If path is empty the file is searched in:
// 1. ~/.hostpulse/config.yaml
// 2. /etc/hostpulse/config.yaml
//
// A missing file is not an error; an unreadable or invalid one is.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix("hostpulse")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(expandHome(path))
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".hostpulse"))
		}
		v.AddConfigPath("/etc/hostpulse")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.StaticDir = expandHome(cfg.StaticDir)
	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SampleInterval <= 0 {
		return fmt.Errorf("sample_interval must be positive, got %s", c.SampleInterval)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %s", c.WriteTimeout)
	}
	switch c.Source {
	case SourceLocal:
	case SourceNodeExporter:
		if c.NodeExporterURL == "" {
			return errors.New("source node_exporter requires node_exporter_url")
		}
	default:
		return fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceLocal, SourceNodeExporter)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// YAML renders the effective configuration in config file syntax.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}
