package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// LoadEnv loads ".env.<env>" (falling back to ".env") into the process
// environment. Variables already present in the environment win.
func LoadEnv(env string) error {
	candidates := []string{".env." + env, ".env"}
	for _, name := range candidates {
		f, err := os.Open(name)
		if err != nil {
			continue
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			if !ok {
				continue
			}
			key = strings.TrimSpace(key)
			value = strings.Trim(strings.TrimSpace(value), `"'`)
			if _, exists := os.LookupEnv(key); !exists {
				os.Setenv(key, value)
			}
		}
		return scanner.Err()
	}
	return fmt.Errorf("no env file found for %q", env)
}

// GetEnv returns the value of key, or the optional default when unset.
func GetEnv(key string, def ...string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	if len(def) > 0 {
		return def[0]
	}
	return ""
}

func GetIntEnv(key string, def ...int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return cast.ToInt64(v)
	}
	if len(def) > 0 {
		return def[0]
	}
	return 0
}

func GetBoolEnv(key string, def ...bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return cast.ToBool(v)
	}
	if len(def) > 0 {
		return def[0]
	}
	return false
}

func GetFloatEnv(key string, def ...float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return cast.ToFloat64(v)
	}
	if len(def) > 0 {
		return def[0]
	}
	return 0
}

// GetDurationEnv parses a time.Duration value ("3s", "500ms").
func GetDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		return cast.ToDuration(v)
	}
	return def
}
