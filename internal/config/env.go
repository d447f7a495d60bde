// Package config loads runtime configuration from environment variables
// (and, optionally, a YAML overlay file), with support for hot reload on
// file change via fsnotify.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/encodis/encodis/internal/log"
)

// ParseString reads a string from an environment variable or returns
// defaultValue, logging which source was used.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Str("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	lower := strings.ToLower(key)
	if strings.Contains(lower, "token") || strings.Contains(lower, "key") {
		logger.Debug().Str("key", key).Bool("sensitive", true).Str("source", "environment").Msg("using environment variable")
	} else {
		logger.Debug().Str("key", key).Str("value", v).Str("source", "environment").Msg("using environment variable")
	}
	return v
}

// ParseInt reads an integer from an environment variable, falling back to
// defaultValue on absence or parse failure.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		logger.Debug().Str("key", key).Int("default", defaultValue).Str("source", "default").Msg("using default value")
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

// ParseStringSlice reads a comma-separated list, trimming whitespace and
// dropping empty elements.
func ParseStringSlice(key string) []string {
	raw := ParseString(key, "")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
