// config.go - configuration loading for FieldPin
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/fieldpin/internal/errors"
	"github.com/tphakala/fieldpin/internal/logger"
	"github.com/tphakala/fieldpin/internal/secrets"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings identifies this installation.
type MainSettings struct {
	Name     string `yaml:"name" mapstructure:"name"`         // installation name shown in notifications
	DeviceID string `yaml:"deviceid" mapstructure:"deviceid"` // origin id used on the change feed, generated when empty
}

// SQLiteSettings configures the embedded document database.
type SQLiteSettings struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// MySQLSettings configures a shared MySQL document database.
type MySQLSettings struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
}

// DatastoreSettings selects and configures the document persistence backend.
type DatastoreSettings struct {
	SQLite        SQLiteSettings `yaml:"sqlite" mapstructure:"sqlite"`
	MySQL         MySQLSettings  `yaml:"mysql" mapstructure:"mysql"`
	SlowThreshold time.Duration  `yaml:"slowthreshold" mapstructure:"slowthreshold"`
}

// SyncSettings configures the MQTT change feed between devices.
type SyncSettings struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Broker         string        `yaml:"broker" mapstructure:"broker"`
	Username       string        `yaml:"username" mapstructure:"username"`
	Password       string        `yaml:"password" mapstructure:"password"`
	TopicPrefix    string        `yaml:"topicprefix" mapstructure:"topicprefix"`
	QoS            byte          `yaml:"qos" mapstructure:"qos"`
	ConnectTimeout time.Duration `yaml:"connecttimeout" mapstructure:"connecttimeout"`
	PublishTimeout time.Duration `yaml:"publishtimeout" mapstructure:"publishtimeout"`
}

// SFTPSettings configures the SFTP blob backend.
type SFTPSettings struct {
	Host       string        `yaml:"host" mapstructure:"host"`
	Port       int           `yaml:"port" mapstructure:"port"`
	Username   string        `yaml:"username" mapstructure:"username"`
	Password   string        `yaml:"password" mapstructure:"password"`
	KeyFile    string        `yaml:"keyfile" mapstructure:"keyfile"`
	KnownHosts string        `yaml:"knownhosts" mapstructure:"knownhosts"`
	BasePath   string        `yaml:"basepath" mapstructure:"basepath"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// FTPSettings configures the FTP blob backend.
type FTPSettings struct {
	Host     string        `yaml:"host" mapstructure:"host"`
	Port     int           `yaml:"port" mapstructure:"port"`
	Username string        `yaml:"username" mapstructure:"username"`
	Password string        `yaml:"password" mapstructure:"password"`
	BasePath string        `yaml:"basepath" mapstructure:"basepath"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxConns int           `yaml:"maxconns" mapstructure:"maxconns"`
}

// DriveSettings configures the Google Drive blob backend.
type DriveSettings struct {
	CredentialsFile string `yaml:"credentialsfile" mapstructure:"credentialsfile"`
	FolderID        string `yaml:"folderid" mapstructure:"folderid"`
}

// BlobStoreSettings selects where annotation and procedure media are stored.
type BlobStoreSettings struct {
	Backend string        `yaml:"backend" mapstructure:"backend"` // local, sftp, ftp or gdrive
	BaseURL string        `yaml:"baseurl" mapstructure:"baseurl"` // public URL prefix for local, sftp and ftp blobs
	Local   struct {
		Path string `yaml:"path" mapstructure:"path"`
	} `yaml:"local" mapstructure:"local"`
	SFTP  SFTPSettings  `yaml:"sftp" mapstructure:"sftp"`
	FTP   FTPSettings   `yaml:"ftp" mapstructure:"ftp"`
	Drive DriveSettings `yaml:"gdrive" mapstructure:"gdrive"`
}

// ImageLoaderSettings configures reference image retrieval.
type ImageLoaderSettings struct {
	CacheTTL   time.Duration `yaml:"cachettl" mapstructure:"cachettl"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxBytes   int64         `yaml:"maxbytes" mapstructure:"maxbytes"`
	Extensions []string      `yaml:"extensions" mapstructure:"extensions"` // tried in order
}

// TrackingSettings configures image tracking sessions.
type TrackingSettings struct {
	PhysicalWidth  float64       `yaml:"physicalwidth" mapstructure:"physicalwidth"`   // reference image width in meters
	StillLookingAt time.Duration `yaml:"stilllookingat" mapstructure:"stilllookingat"` // delay before the "still looking" hint, 0 disables
}

// TextServiceSettings configures the OpenAI compatible text service.
type TextServiceSettings struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey    string        `yaml:"apikey" mapstructure:"apikey"`
	Model     string        `yaml:"model" mapstructure:"model"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64       `yaml:"ratelimit" mapstructure:"ratelimit"` // requests per second
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled        bool     `yaml:"enabled" mapstructure:"enabled"`
	Listen         string   `yaml:"listen" mapstructure:"listen"`
	AllowedOrigins []string `yaml:"allowedorigins" mapstructure:"allowedorigins"` // CORS origins
	BodyLimit      string   `yaml:"bodylimit" mapstructure:"bodylimit"`           // e.g. "32M", bounds media uploads
}

// NotificationSettings configures user-visible messages and push forwarding.
type NotificationSettings struct {
	BufferSize int      `yaml:"buffersize" mapstructure:"buffersize"`
	Push       struct {
		Enabled  bool     `yaml:"enabled" mapstructure:"enabled"`
		URLs     []string `yaml:"urls" mapstructure:"urls"` // shoutrrr service URLs
		MinLevel string   `yaml:"minlevel" mapstructure:"minlevel"`
	} `yaml:"push" mapstructure:"push"`
}

// TelemetrySettings configures error reporting and metrics.
type TelemetrySettings struct {
	Sentry struct {
		Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
		DSN         string `yaml:"dsn" mapstructure:"dsn"`
		Environment string `yaml:"environment" mapstructure:"environment"`
	} `yaml:"sentry" mapstructure:"sentry"`
	Metrics struct {
		Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	} `yaml:"metrics" mapstructure:"metrics"`
}

// Settings contains all configuration options for FieldPin.
type Settings struct {
	Debug bool `yaml:"debug" mapstructure:"debug"`

	Main         MainSettings         `yaml:"main" mapstructure:"main"`
	Logging      logger.LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Datastore    DatastoreSettings    `yaml:"datastore" mapstructure:"datastore"`
	Sync         SyncSettings         `yaml:"sync" mapstructure:"sync"`
	BlobStore    BlobStoreSettings    `yaml:"blobstore" mapstructure:"blobstore"`
	ImageLoader  ImageLoaderSettings  `yaml:"imageloader" mapstructure:"imageloader"`
	Tracking     TrackingSettings     `yaml:"tracking" mapstructure:"tracking"`
	TextService  TextServiceSettings  `yaml:"textservice" mapstructure:"textservice"`
	WebServer    WebServerSettings    `yaml:"webserver" mapstructure:"webserver"`
	Notification NotificationSettings `yaml:"notification" mapstructure:"notification"`
	Telemetry    TelemetrySettings    `yaml:"telemetry" mapstructure:"telemetry"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, .env file and environment variables.
// A missing config file is created from the embedded default.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// .env is optional; values already in the environment win
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "load-dotenv").
			Build()
	}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := resolveSecrets(settings); err != nil {
		return nil, err
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// resolveSecrets expands environment references and "file:" paths in
// credential fields.
func resolveSecrets(settings *Settings) error {
	fields := map[string]*string{
		"datastore.mysql.password": &settings.Datastore.MySQL.Password,
		"sync.password":            &settings.Sync.Password,
		"blobstore.sftp.password":  &settings.BlobStore.SFTP.Password,
		"blobstore.ftp.password":   &settings.BlobStore.FTP.Password,
		"textservice.apikey":       &settings.TextService.APIKey,
		"telemetry.sentry.dsn":     &settings.Telemetry.Sentry.DSN,
	}
	for key, field := range fields {
		value, err := secrets.Resolve(*field)
		if err != nil {
			return errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("key", key).
				Build()
		}
		*field = value
	}
	return nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		return err
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[min(1, len(configPaths)-1)])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back.
func createDefaultConfig(dir string) error {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded default config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath through a temporary file and rename.
// Comments in the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName) //nolint:errcheck // best effort cleanup, file is gone after rename

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}

	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml. When a
// config file exists in one of them only that directory is returned.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "get-home-directory").
			Build()
	}

	configPaths := []string{
		".",
		filepath.Join(homeDir, ".config", "fieldpin"),
		"/etc/fieldpin",
	}

	for _, path := range configPaths {
		if _, err := os.Stat(filepath.Join(path, "config.yaml")); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}
