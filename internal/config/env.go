package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"qaworker/internal/common/fsutil"
)

// LoadEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. With no files it loads ./.env
// when present.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if !fsutil.PathExists(".env") {
			return nil
		}
		files = []string{".env"}
	}
	return godotenv.Load(files...)
}

// EnvStr returns the value of key, or def when unset or empty.
func EnvStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvInt returns key parsed as an int, or def when unset or malformed.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// EnvDuration returns key parsed as a Go duration, or def when unset or malformed.
func EnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

// SplitCSV splits a comma-separated list, trimming blanks and dropping empties.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
