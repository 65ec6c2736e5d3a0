// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	xlog "github.com/chrisgleissner/c64bridge/internal/log"
)

// ParseString reads a string from an environment variable or returns the
// default. The chosen source is logged; sensitive values are not echoed.
func ParseString(key, defaultValue string) string {
	logger := xlog.WithComponent("config")
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue
	}
	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "password") || strings.Contains(lowerKey, "token") {
		logger.Debug().
			Str("key", key).
			Str("source", "environment").
			Bool("sensitive", true).
			Msg("using environment variable")
	} else {
		logger.Debug().
			Str("key", key).
			Str("value", value).
			Str("source", "environment").
			Msg("using environment variable")
	}
	return value
}

// ParseInt reads an integer, falling back to the default on absence or parse
// error.
func ParseInt(key string, defaultValue int) int {
	logger := xlog.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Int("default", defaultValue).
			Msg("invalid integer in environment, using default")
		return defaultValue
	}
	return i
}

// ParseBool reads a boolean ("true"/"false"/"1"/"0"), falling back to the
// default on absence or parse error.
func ParseBool(key string, defaultValue bool) bool {
	logger := xlog.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Bool("default", defaultValue).
			Msg("invalid boolean in environment, using default")
		return defaultValue
	}
	return b
}

// ParseDuration reads a time.Duration ("5s", "2m"), falling back to the
// default on absence or parse error.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := xlog.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Dur("default", defaultValue).
			Msg("invalid duration in environment, using default")
		return defaultValue
	}
	return d
}
