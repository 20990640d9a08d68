// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

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
		{"main.name", "FIELDPIN_NAME", nil},
		{"main.deviceid", "FIELDPIN_DEVICE_ID", nil},
		{"debug", "FIELDPIN_DEBUG", validateEnvBool},

		// Persistence
		{"datastore.sqlite.path", "FIELDPIN_SQLITE_PATH", nil},
		{"datastore.mysql.enabled", "FIELDPIN_MYSQL_ENABLED", validateEnvBool},
		{"datastore.mysql.host", "FIELDPIN_MYSQL_HOST", nil},
		{"datastore.mysql.port", "FIELDPIN_MYSQL_PORT", validateEnvPort},
		{"datastore.mysql.username", "FIELDPIN_MYSQL_USERNAME", nil},
		{"datastore.mysql.password", "FIELDPIN_MYSQL_PASSWORD", nil},
		{"datastore.mysql.database", "FIELDPIN_MYSQL_DATABASE", nil},

		// Change feed
		{"sync.enabled", "FIELDPIN_SYNC_ENABLED", validateEnvBool},
		{"sync.broker", "FIELDPIN_SYNC_BROKER", validateEnvBrokerURL},
		{"sync.username", "FIELDPIN_SYNC_USERNAME", nil},
		{"sync.password", "FIELDPIN_SYNC_PASSWORD", nil},

		// Blob storage
		{"blobstore.backend", "FIELDPIN_BLOB_BACKEND", validateEnvBlobBackend},
		{"blobstore.baseurl", "FIELDPIN_BLOB_BASEURL", nil},
		{"blobstore.sftp.password", "FIELDPIN_SFTP_PASSWORD", nil},
		{"blobstore.ftp.password", "FIELDPIN_FTP_PASSWORD", nil},

		// Integrations
		{"textservice.apikey", "FIELDPIN_TEXTSERVICE_APIKEY", nil},
		{"telemetry.sentry.dsn", "FIELDPIN_SENTRY_DSN", nil},
		{"webserver.listen", "FIELDPIN_LISTEN", nil},
	}
}

// bindEnvVars sets up environment variable bindings with validation (internal)
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

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

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("invalid boolean value '%s': must be true/false, 1/0", value)
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

func validateEnvBrokerURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid broker URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts":
		return nil
	default:
		return fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

func validateEnvBlobBackend(value string) error {
	switch value {
	case BlobBackendLocal, BlobBackendSFTP, BlobBackendFTP, BlobBackendDrive:
		return nil
	default:
		return fmt.Errorf("unknown blob backend %q", value)
	}
}
