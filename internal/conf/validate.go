// validate.go - settings validation
package conf

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/tphakala/fieldpin/internal/errors"
)

// Blob backend names accepted in blobstore.backend.
const (
	BlobBackendLocal = "local"
	BlobBackendSFTP  = "sftp"
	BlobBackendFTP   = "ftp"
	BlobBackendDrive = "gdrive"
)

// ValidationError collects every problem found in one pass.
type ValidationError struct {
	Errors []string
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings checks settings and fills derived values such as the device id.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if settings.Main.DeviceID == "" {
		settings.Main.DeviceID = uuid.NewString()
	}

	if settings.Datastore.MySQL.Enabled && settings.Datastore.SQLite.Enabled {
		ve.Errors = append(ve.Errors, "datastore: sqlite and mysql cannot both be enabled")
	}
	if !settings.Datastore.MySQL.Enabled && !settings.Datastore.SQLite.Enabled {
		ve.Errors = append(ve.Errors, "datastore: one of sqlite or mysql must be enabled")
	}
	if settings.Datastore.SQLite.Enabled && settings.Datastore.SQLite.Path == "" {
		ve.Errors = append(ve.Errors, "datastore.sqlite.path must be set")
	}
	if settings.Datastore.MySQL.Enabled && settings.Datastore.MySQL.Database == "" {
		ve.Errors = append(ve.Errors, "datastore.mysql.database must be set")
	}

	if settings.Sync.Enabled {
		if err := validateEnvBrokerURL(settings.Sync.Broker); err != nil {
			ve.Errors = append(ve.Errors, "sync.broker: "+err.Error())
		}
		if settings.Sync.QoS > 2 {
			ve.Errors = append(ve.Errors, fmt.Sprintf("sync.qos must be 0, 1 or 2, got %d", settings.Sync.QoS))
		}
		if strings.ContainsAny(settings.Sync.TopicPrefix, "+#") {
			ve.Errors = append(ve.Errors, "sync.topicprefix must not contain MQTT wildcards")
		}
	}

	ve.Errors = append(ve.Errors, validateBlobStore(&settings.BlobStore)...)

	if settings.Tracking.PhysicalWidth <= 0 {
		ve.Errors = append(ve.Errors, fmt.Sprintf("tracking.physicalwidth must be positive, got %g", settings.Tracking.PhysicalWidth))
	}

	if settings.TextService.Enabled {
		if settings.TextService.Endpoint == "" {
			ve.Errors = append(ve.Errors, "textservice.endpoint must be set when the text service is enabled")
		}
		if settings.TextService.RateLimit <= 0 {
			ve.Errors = append(ve.Errors, "textservice.ratelimit must be positive")
		}
	}

	if settings.Telemetry.Sentry.Enabled && settings.Telemetry.Sentry.DSN == "" {
		ve.Errors = append(ve.Errors, "telemetry.sentry.dsn must be set when sentry is enabled")
	}

	if len(ve.Errors) > 0 {
		return errors.New(ve).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("error_count", len(ve.Errors)).
			Build()
	}
	return nil
}

func validateBlobStore(bs *BlobStoreSettings) []string {
	var problems []string

	if err := validateEnvBlobBackend(bs.Backend); err != nil {
		return []string{"blobstore.backend: " + err.Error()}
	}

	if bs.Backend != BlobBackendDrive {
		if u, err := url.Parse(bs.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			problems = append(problems, fmt.Sprintf("blobstore.baseurl must be an absolute URL, got %q", bs.BaseURL))
		}
	}

	switch bs.Backend {
	case BlobBackendLocal:
		if bs.Local.Path == "" {
			problems = append(problems, "blobstore.local.path must be set")
		}
	case BlobBackendSFTP:
		if bs.SFTP.Host == "" || bs.SFTP.Username == "" {
			problems = append(problems, "blobstore.sftp.host and blobstore.sftp.username must be set")
		}
		if bs.SFTP.Password == "" && bs.SFTP.KeyFile == "" {
			problems = append(problems, "blobstore.sftp needs a password or a keyfile")
		}
	case BlobBackendFTP:
		if bs.FTP.Host == "" {
			problems = append(problems, "blobstore.ftp.host must be set")
		}
	case BlobBackendDrive:
		if bs.Drive.CredentialsFile == "" {
			problems = append(problems, "blobstore.gdrive.credentialsfile must be set")
		}
	}

	return problems
}
