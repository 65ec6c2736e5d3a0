// SPDX-License-Identifier: MIT

// Package config loads the application configuration from an optional YAML
// file, applies C64BRIDGE_* environment overrides on top, and validates the
// result. The returned AppConfig is treated as immutable after Load.
package config

import (
	"fmt"
	"time"
)

// AppConfig is the complete application configuration.
type AppConfig struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"logLevel"`
	Device    DeviceConfig    `yaml:"device"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Demo      DemoConfig      `yaml:"demo"`
	FTP       FTPConfig       `yaml:"ftp"`
	Trace     TraceConfig     `yaml:"trace"`

	// MaxConcurrentRequests caps in-flight REST calls against the device.
	MaxConcurrentRequests int `yaml:"maxConcurrentRequests"`
}

// DeviceConfig identifies the real device.
type DeviceConfig struct {
	Host     string `yaml:"host"`
	APIPort  int    `yaml:"apiPort"`
	Password string `yaml:"password"`
}

// BaseURL returns the device's REST endpoint, or "" when no host is set.
func (d DeviceConfig) BaseURL() string {
	if d.Host == "" {
		return ""
	}
	if d.APIPort == 80 {
		return "http://" + d.Host
	}
	return fmt.Sprintf("http://%s:%d", d.Host, d.APIPort)
}

// DiscoveryConfig tunes backend discovery and health probing.
type DiscoveryConfig struct {
	ProbeTimeout           time.Duration `yaml:"probeTimeout"`
	ProbeInterval          time.Duration `yaml:"probeInterval"`
	MaxConsecutiveFailures int           `yaml:"maxConsecutiveFailures"`
	MaxUnreachable         time.Duration `yaml:"maxUnreachable"`
	CacheWindow            time.Duration `yaml:"cacheWindow"`
}

// DemoConfig controls the fallback demo backend.
type DemoConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Force           bool   `yaml:"force"`
	ExternalMockURL string `yaml:"externalMockUrl"`
}

// FTPConfig holds the device's FTP credentials and transfer mode.
type FTPConfig struct {
	Port     int           `yaml:"port"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Mode     string        `yaml:"mode"` // "passive" or "active"
	Timeout  time.Duration `yaml:"timeout"`
}

// TraceConfig sizes the in-memory trace ring.
type TraceConfig struct {
	Capacity int `yaml:"capacity"`
}

// Default returns the built-in configuration.
func Default() AppConfig {
	return AppConfig{
		Listen:   ":8464",
		LogLevel: "info",
		Device: DeviceConfig{
			APIPort: 80,
		},
		Discovery: DiscoveryConfig{
			ProbeTimeout:           3 * time.Second,
			ProbeInterval:          5 * time.Second,
			MaxConsecutiveFailures: 3,
			MaxUnreachable:         30 * time.Second,
			CacheWindow:            10 * time.Second,
		},
		Demo: DemoConfig{
			Enabled: true,
		},
		FTP: FTPConfig{
			Port:    21,
			User:    "anonymous",
			Mode:    "passive",
			Timeout: 10 * time.Second,
		},
		Trace: TraceConfig{
			Capacity: 2000,
		},
		MaxConcurrentRequests: 4,
	}
}

// Validate reports the first invalid setting.
func (c AppConfig) Validate() error {
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid logLevel %q", c.LogLevel)
	}
	if c.Listen == "" {
		return fmt.Errorf("config: listen must not be empty")
	}
	if c.Device.APIPort < 1 || c.Device.APIPort > 65535 {
		return fmt.Errorf("config: device.apiPort %d out of range", c.Device.APIPort)
	}
	if c.FTP.Port < 1 || c.FTP.Port > 65535 {
		return fmt.Errorf("config: ftp.port %d out of range", c.FTP.Port)
	}
	switch c.FTP.Mode {
	case "passive", "active":
	default:
		return fmt.Errorf("config: invalid ftp.mode %q", c.FTP.Mode)
	}
	if c.MaxConcurrentRequests < 1 {
		return fmt.Errorf("config: maxConcurrentRequests must be >= 1")
	}
	if c.Trace.Capacity < 1 {
		return fmt.Errorf("config: trace.capacity must be >= 1")
	}
	if c.Discovery.ProbeTimeout <= 0 || c.Discovery.ProbeInterval <= 0 {
		return fmt.Errorf("config: discovery timings must be positive")
	}
	return nil
}

// Redacted returns a copy safe for logs and diagnostics exports: secrets are
// masked, everything else is kept verbatim.
func (c AppConfig) Redacted() AppConfig {
	if c.Device.Password != "" {
		c.Device.Password = "***"
	}
	if c.FTP.Password != "" {
		c.FTP.Password = "***"
	}
	return c
}
