// CLAUDE:SUMMARY Defines the navbridge daemon config structs and parses YAML configuration files with defaults.
// Package config handles navbridge configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level navbridge configuration.
type Config struct {
	Browser  BrowserConfig `yaml:"browser"`
	Session  SessionConfig `yaml:"session"`
	Paths    PathsConfig   `yaml:"paths"`
	Sinks    []SinkConfig  `yaml:"sinks"`
	Metrics  MetricsConfig `yaml:"metrics"`
	LogLevel string        `yaml:"log_level"`
}

// BrowserConfig controls Chrome lifecycle for the chrome runtime.
type BrowserConfig struct {
	Remote  string `yaml:"remote"`
	Mode    string `yaml:"mode"` // headless | headful
	Stealth *bool  `yaml:"stealth"`
	Bin     string `yaml:"bin"`
}

// StealthEnabled reports whether stealth evasions apply. Unset means on.
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// SessionConfig names the session and where it boots.
type SessionConfig struct {
	Name         string `yaml:"name"`
	RootLocation string `yaml:"root_location"`
	Runtime      string `yaml:"runtime"` // chrome | script
}

// PathsConfig points at the path rules. File wins over DB.
type PathsConfig struct {
	File     string        `yaml:"file"`
	DB       string        `yaml:"db"`
	Interval time.Duration `yaml:"interval"`
}

// SinkConfig defines an event output backend.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// MetricsConfig controls the HTTP health and metrics listener.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty = disabled
}

// Runtimes accepted by SessionConfig.Runtime.
const (
	RuntimeChrome = "chrome"
	RuntimeScript = "script"
)

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Parse decodes YAML data and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

func (c *Config) applyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Session.Runtime == "" {
		c.Session.Runtime = RuntimeChrome
	}
	if c.Paths.Interval <= 0 {
		c.Paths.Interval = time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Sinks {
		if c.Sinks[i].Type == "webhook" && c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
}

func (c *Config) validate() error {
	switch c.Session.Runtime {
	case RuntimeChrome, RuntimeScript:
	default:
		return fmt.Errorf("config: unknown runtime %q", c.Session.Runtime)
	}
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: unknown browser mode %q", c.Browser.Mode)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sink %d: webhook without url", i)
			}
		default:
			return fmt.Errorf("config: sink %d: unknown type %q", i, s.Type)
		}
	}
	return nil
}
