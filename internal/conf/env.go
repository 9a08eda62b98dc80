// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // Viper config key
	EnvVar    string             // Environment variable name
	Validate  func(string) error // Optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "WILDWATCH_DEBUG", validateEnvBool},

		// Pipeline decisions
		{"pipeline.threshold", "WILDWATCH_THRESHOLD", validateEnvProbability},
		{"pipeline.cooldown", "WILDWATCH_COOLDOWN", validateEnvDuration},
		{"pipeline.cooldownbackend", "WILDWATCH_COOLDOWN_BACKEND", validateEnvCooldownBackend},
		{"pipeline.heartbeattimeout", "WILDWATCH_HEARTBEAT_TIMEOUT", validateEnvDuration},
		{"pipeline.unknownanimalid", "WILDWATCH_UNKNOWN_ANIMAL_ID", validateEnvUint},

		// HTTP
		{"webserver.listen", "WILDWATCH_LISTEN", nil},
		{"webserver.apikey", "WILDWATCH_API_KEY", nil},

		// Collaborators
		{"classifier.enabled", "WILDWATCH_CLASSIFIER_ENABLED", validateEnvBool},
		{"classifier.url", "WILDWATCH_CLASSIFIER_URL", nil},
		{"mqtt.enabled", "WILDWATCH_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "WILDWATCH_MQTT_BROKER", nil},
		{"mqtt.username", "WILDWATCH_MQTT_USERNAME", nil},
		{"mqtt.password", "WILDWATCH_MQTT_PASSWORD", nil},
		{"push.fcm.credentialsfile", "WILDWATCH_FCM_CREDENTIALS", nil},
		{"push.fcm.projectid", "WILDWATCH_FCM_PROJECT", nil},

		// Storage
		{"database.driver", "WILDWATCH_DB_DRIVER", validateEnvDriver},
		{"database.sqlite.path", "WILDWATCH_SQLITE_PATH", nil},
		{"database.mysql.host", "WILDWATCH_MYSQL_HOST", nil},
		{"database.mysql.username", "WILDWATCH_MYSQL_USER", nil},
		{"database.mysql.password", "WILDWATCH_MYSQL_PASSWORD", nil},

		{"sentry.dsn", "WILDWATCH_SENTRY_DSN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value '%s': %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvProbability(value string) error {
	p, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid probability: %w", err)
	}
	if p < 0 || p > 1 {
		return fmt.Errorf("must be between 0 and 1, got %g", p)
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if d < 0 {
		return fmt.Errorf("must not be negative, got %s", d)
	}
	return nil
}

func validateEnvUint(value string) error {
	if _, err := strconv.ParseUint(value, 10, 64); err != nil {
		return fmt.Errorf("invalid unsigned integer: %w", err)
	}
	return nil
}

func validateEnvCooldownBackend(value string) error {
	switch value {
	case CooldownBackendMemory, CooldownBackendDatabase:
		return nil
	}
	return fmt.Errorf("must be %q or %q", CooldownBackendMemory, CooldownBackendDatabase)
}

func validateEnvDriver(value string) error {
	switch value {
	case DriverSQLite, DriverMySQL:
		return nil
	}
	return fmt.Errorf("must be %q or %q", DriverSQLite, DriverMySQL)
}
