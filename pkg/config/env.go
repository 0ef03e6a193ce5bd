// Package config reads service settings from the process environment, after
// optionally overlaying local .env files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// envFiles are overlaid in order; a later file overrides an earlier one and
// both override the process environment.
var envFiles = []string{".env", ".env.dev"}

// LoadEnv overlays the local env files that exist in the working directory.
func LoadEnv(logger *logrus.Logger) {
	var loaded []string
	for _, file := range envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Overload(file); err != nil {
			if logger != nil {
				logger.WithError(err).WithField("file", file).Warn("Skipping unreadable env file")
			}
			continue
		}
		loaded = append(loaded, file)
	}
	if logger != nil && len(loaded) > 0 {
		logger.WithField("files", loaded).Debug("Loaded env files")
	}
}

func lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

// parsed returns parse(value) for a set variable, else defaultValue.
// Unparseable values also fall back to the default.
func parsed[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	value, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	v, err := parse(value)
	if err != nil {
		return defaultValue
	}
	return v
}

func GetEnv(key, defaultValue string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return defaultValue
}

func GetEnvInt(key string, defaultValue int) int {
	return parsed(key, defaultValue, strconv.Atoi)
}

// GetEnvDuration accepts Go durations ("10s", "250ms") or bare seconds.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return parsed(key, defaultValue, func(s string) (time.Duration, error) {
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		secs, err := strconv.Atoi(s)
		return time.Duration(secs) * time.Second, err
	})
}

// GetEnvList splits a comma separated variable and drops blank items.
func GetEnvList(key string) []string {
	value, ok := lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetLogLevel reads LOG_LEVEL, defaulting to info.
func GetLogLevel() logrus.Level {
	return parsed("LOG_LEVEL", logrus.InfoLevel, logrus.ParseLevel)
}
