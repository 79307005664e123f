// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings (internal use)
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "BIRDTAG_DEBUG", validateEnvBool},
		{"main.name", "BIRDTAG_NAME", nil},

		{"output.sqlite.enabled", "BIRDTAG_SQLITE_ENABLED", validateEnvBool},
		{"output.sqlite.path", "BIRDTAG_SQLITE_PATH", nil},
		{"output.mysql.enabled", "BIRDTAG_MYSQL_ENABLED", validateEnvBool},
		{"output.mysql.username", "BIRDTAG_MYSQL_USERNAME", nil},
		{"output.mysql.password", "BIRDTAG_MYSQL_PASSWORD", nil},
		{"output.mysql.database", "BIRDTAG_MYSQL_DATABASE", nil},
		{"output.mysql.host", "BIRDTAG_MYSQL_HOST", nil},
		{"output.mysql.port", "BIRDTAG_MYSQL_PORT", validateEnvPort},

		{"query.defaultpagesize", "BIRDTAG_QUERY_PAGESIZE", validateEnvPositiveInt},
		{"query.maxpagesize", "BIRDTAG_QUERY_MAXPAGESIZE", validateEnvPositiveInt},

		{"subscriptions.cacheenabled", "BIRDTAG_SUBSCRIPTIONS_CACHE", validateEnvBool},
		{"subscriptions.cachettl", "BIRDTAG_SUBSCRIPTIONS_CACHETTL", validateEnvDuration},

		{"notification.enabled", "BIRDTAG_NOTIFICATION_ENABLED", validateEnvBool},
		{"notification.workers", "BIRDTAG_NOTIFICATION_WORKERS", validateEnvPositiveInt},
		{"notification.maxretries", "BIRDTAG_NOTIFICATION_MAXRETRIES", validateEnvNonNegativeInt},
		{"notification.retrydelay", "BIRDTAG_NOTIFICATION_RETRYDELAY", validateEnvDuration},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	bindings := getEnvBindings()
	var warnings []string

	for _, binding := range bindings {
		// Bind the environment variable to the config key
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		// Validate the value if it's set and validation function is provided
		if binding.Validate != nil {
			if envValue := os.Getenv(binding.EnvVar); envValue != "" {
				if err := binding.Validate(envValue); err != nil {
					warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, envValue, err))
				}
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

// Environment variable validation functions

// validateEnvBool validates boolean environment variables
func validateEnvBool(value string) error {
	_, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0, t/f, TRUE/FALSE, T/F", value)
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("must be positive, got %d", n)
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration '%s': expected values like '30s' or '5m'", value)
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// configureEnvironmentVariables sets up environment variable support for Viper
func configureEnvironmentVariables() error {
	// Set up key replacer for nested config keys
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind specific environment variables with validation
	return bindEnvVars()
}
