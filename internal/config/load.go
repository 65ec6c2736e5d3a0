// SPDX-License-Identifier: MIT

package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load builds the effective configuration: built-in defaults, then the YAML
// file at path (optional, "" skips it), then C64BRIDGE_* environment
// overrides. The result is validated before being returned.
func Load(path string) (AppConfig, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return AppConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	cfg.Listen = ParseString("C64BRIDGE_LISTEN", cfg.Listen)
	cfg.LogLevel = ParseString("C64BRIDGE_LOG_LEVEL", cfg.LogLevel)

	cfg.Device.Host = ParseString("C64BRIDGE_DEVICE_HOST", cfg.Device.Host)
	cfg.Device.APIPort = ParseInt("C64BRIDGE_DEVICE_API_PORT", cfg.Device.APIPort)
	cfg.Device.Password = ParseString("C64BRIDGE_DEVICE_PASSWORD", cfg.Device.Password)

	cfg.Discovery.ProbeTimeout = ParseDuration("C64BRIDGE_PROBE_TIMEOUT", cfg.Discovery.ProbeTimeout)
	cfg.Discovery.ProbeInterval = ParseDuration("C64BRIDGE_PROBE_INTERVAL", cfg.Discovery.ProbeInterval)
	cfg.Discovery.MaxConsecutiveFailures = ParseInt("C64BRIDGE_MAX_CONSECUTIVE_FAILURES", cfg.Discovery.MaxConsecutiveFailures)
	cfg.Discovery.MaxUnreachable = ParseDuration("C64BRIDGE_MAX_UNREACHABLE", cfg.Discovery.MaxUnreachable)
	cfg.Discovery.CacheWindow = ParseDuration("C64BRIDGE_CACHE_WINDOW", cfg.Discovery.CacheWindow)

	cfg.Demo.Enabled = ParseBool("C64BRIDGE_DEMO_ENABLED", cfg.Demo.Enabled)
	cfg.Demo.Force = ParseBool("C64BRIDGE_DEMO_FORCE", cfg.Demo.Force)
	cfg.Demo.ExternalMockURL = ParseString("C64BRIDGE_EXTERNAL_MOCK_URL", cfg.Demo.ExternalMockURL)

	cfg.FTP.Port = ParseInt("C64BRIDGE_FTP_PORT", cfg.FTP.Port)
	cfg.FTP.User = ParseString("C64BRIDGE_FTP_USER", cfg.FTP.User)
	cfg.FTP.Password = ParseString("C64BRIDGE_FTP_PASSWORD", cfg.FTP.Password)
	cfg.FTP.Mode = ParseString("C64BRIDGE_FTP_MODE", cfg.FTP.Mode)
	cfg.FTP.Timeout = ParseDuration("C64BRIDGE_FTP_TIMEOUT", cfg.FTP.Timeout)

	cfg.Trace.Capacity = ParseInt("C64BRIDGE_TRACE_CAPACITY", cfg.Trace.Capacity)
	cfg.MaxConcurrentRequests = ParseInt("C64BRIDGE_MAX_CONCURRENT_REQUESTS", cfg.MaxConcurrentRequests)
}
