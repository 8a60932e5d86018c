// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// TakeSecret reads one secret from the environment and removes it from the
// process environment so later readers (child processes, env dumps, crash
// reporters) cannot recover it. The returned buffer is owned by the caller,
// who is expected to zero it after use.
func TakeSecret(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("secret key name is required")
	}
	value, ok := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		return nil, fmt.Errorf("unset %s: %w", key, err)
	}
	if !ok || strings.TrimSpace(value) == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	return []byte(strings.TrimSpace(value)), nil
}
