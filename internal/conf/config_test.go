package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/fieldpin/internal/errors"
)

// validSettings returns settings that pass ValidateSettings.
func validSettings() *Settings {
	s := &Settings{}
	s.Datastore.SQLite.Enabled = true
	s.Datastore.SQLite.Path = "fieldpin.db"
	s.BlobStore.Backend = BlobBackendLocal
	s.BlobStore.BaseURL = "http://localhost:8080/blobs"
	s.BlobStore.Local.Path = "blobs"
	s.Tracking.PhysicalWidth = 0.2
	return s
}

func TestEmbeddedDefaultConfigParses(t *testing.T) {
	t.Parallel()

	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Contains(t, parsed, "blobstore")
	assert.Contains(t, parsed, "sync")
}

func TestLoadReadsConfigFromWorkingDirectory(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	t.Chdir(dir)

	data, err := configFiles.ReadFile("config.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o600))

	t.Setenv("FIELDPIN_NAME", "plant-7")

	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "plant-7", settings.Main.Name)
	assert.NotEmpty(t, settings.Main.DeviceID, "device id is generated")
	assert.Equal(t, 200*time.Millisecond, settings.Datastore.SlowThreshold)
	assert.Equal(t, BlobBackendLocal, settings.BlobStore.Backend)
	assert.InDelta(t, 0.2, settings.Tracking.PhysicalWidth, 1e-9)
	assert.Equal(t, []string{"png", "jpg", "jpeg"}, settings.ImageLoader.Extensions)
	assert.Same(t, settings, GetSettings())
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid", func(*Settings) {}, ""},
		{"both databases", func(s *Settings) { s.Datastore.MySQL.Enabled = true; s.Datastore.MySQL.Database = "x" }, "cannot both be enabled"},
		{"no database", func(s *Settings) { s.Datastore.SQLite.Enabled = false }, "must be enabled"},
		{"bad broker", func(s *Settings) { s.Sync.Enabled = true; s.Sync.Broker = "http://broker" }, "unsupported broker scheme"},
		{"wildcard prefix", func(s *Settings) { s.Sync.Enabled = true; s.Sync.Broker = "tcp://b:1883"; s.Sync.TopicPrefix = "a/#" }, "wildcards"},
		{"unknown backend", func(s *Settings) { s.BlobStore.Backend = "s3" }, "unknown blob backend"},
		{"sftp without auth", func(s *Settings) {
			s.BlobStore.Backend = BlobBackendSFTP
			s.BlobStore.SFTP.Host = "files"
			s.BlobStore.SFTP.Username = "tech"
		}, "password or a keyfile"},
		{"relative base url", func(s *Settings) { s.BlobStore.BaseURL = "/blobs" }, "absolute URL"},
		{"zero width", func(s *Settings) { s.Tracking.PhysicalWidth = 0 }, "physicalwidth"},
		{"sentry without dsn", func(s *Settings) { s.Telemetry.Sentry.Enabled = true }, "dsn"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(s)

			err := ValidateSettings(s)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.NotEmpty(t, s.Main.DeviceID)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
		})
	}
}

func TestSaveYAMLConfigReplacesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old: true\n"), 0o600))

	s := validSettings()
	s.Main.Name = "saved"
	require.NoError(t, SaveYAMLConfig(path, s))

	data, err := os.ReadFile(path) //nolint:gosec // test temp path
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: saved")
	assert.NotContains(t, string(data), "old: true")
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateEnvPort("1883"))
	require.Error(t, validateEnvPort("70000"))
	require.NoError(t, validateEnvBrokerURL("ssl://broker:8883"))
	require.Error(t, validateEnvBool("maybe"))
	require.NoError(t, validateEnvBlobBackend(BlobBackendDrive))
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("FIELDPIN_TEST_BROKER_PASSWORD", "broker-pass")
	keyFile := filepath.Join(t.TempDir(), "apikey")
	require.NoError(t, os.WriteFile(keyFile, []byte("sk-from-file\n"), 0o600))

	s := &Settings{}
	s.Sync.Password = "${FIELDPIN_TEST_BROKER_PASSWORD}"
	s.TextService.APIKey = "file:" + keyFile
	s.BlobStore.FTP.Password = "literal"

	require.NoError(t, resolveSecrets(s))
	assert.Equal(t, "broker-pass", s.Sync.Password)
	assert.Equal(t, "sk-from-file", s.TextService.APIKey)
	assert.Equal(t, "literal", s.BlobStore.FTP.Password)

	s.Datastore.MySQL.Password = "${FIELDPIN_TEST_UNSET_PASSWORD}"
	err := resolveSecrets(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FIELDPIN_TEST_UNSET_PASSWORD")
}
