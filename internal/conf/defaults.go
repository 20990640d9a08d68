// defaults.go - default configuration values
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets default values for every configuration key.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "fieldpin")
	viper.SetDefault("main.deviceid", "")

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", true)
	viper.SetDefault("logging.file_output.path", "logs/fieldpin.log")
	viper.SetDefault("logging.file_output.level", "info")

	viper.SetDefault("datastore.sqlite.enabled", true)
	viper.SetDefault("datastore.sqlite.path", "fieldpin.db")
	viper.SetDefault("datastore.mysql.enabled", false)
	viper.SetDefault("datastore.mysql.host", "localhost")
	viper.SetDefault("datastore.mysql.port", 3306)
	viper.SetDefault("datastore.mysql.database", "fieldpin")
	viper.SetDefault("datastore.slowthreshold", 200*time.Millisecond)

	viper.SetDefault("sync.enabled", false)
	viper.SetDefault("sync.broker", "tcp://localhost:1883")
	viper.SetDefault("sync.topicprefix", "fieldpin")
	viper.SetDefault("sync.qos", 1)
	viper.SetDefault("sync.connecttimeout", 30*time.Second)
	viper.SetDefault("sync.publishtimeout", 10*time.Second)

	viper.SetDefault("blobstore.backend", "local")
	viper.SetDefault("blobstore.baseurl", "http://localhost:8080/blobs")
	viper.SetDefault("blobstore.local.path", "blobs")
	viper.SetDefault("blobstore.sftp.port", 22)
	viper.SetDefault("blobstore.sftp.basepath", "fieldpin")
	viper.SetDefault("blobstore.sftp.timeout", 30*time.Second)
	viper.SetDefault("blobstore.ftp.port", 21)
	viper.SetDefault("blobstore.ftp.basepath", "fieldpin")
	viper.SetDefault("blobstore.ftp.timeout", 30*time.Second)
	viper.SetDefault("blobstore.ftp.maxconns", 3)

	viper.SetDefault("imageloader.cachettl", 24*time.Hour)
	viper.SetDefault("imageloader.timeout", 30*time.Second)
	viper.SetDefault("imageloader.maxbytes", 20<<20)
	viper.SetDefault("imageloader.extensions", []string{"png", "jpg", "jpeg"})

	viper.SetDefault("tracking.physicalwidth", 0.2)
	viper.SetDefault("tracking.stilllookingat", 10*time.Second)

	viper.SetDefault("textservice.enabled", false)
	viper.SetDefault("textservice.endpoint", "https://api.openai.com/v1")
	viper.SetDefault("textservice.model", "gpt-4o-mini")
	viper.SetDefault("textservice.timeout", 60*time.Second)
	viper.SetDefault("textservice.ratelimit", 1.0)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.allowedorigins", []string{"*"})
	viper.SetDefault("webserver.bodylimit", "32M")

	viper.SetDefault("notification.buffersize", 32)
	viper.SetDefault("notification.push.enabled", false)
	viper.SetDefault("notification.push.minlevel", "error")

	viper.SetDefault("telemetry.sentry.enabled", false)
	viper.SetDefault("telemetry.sentry.environment", "production")
	viper.SetDefault("telemetry.metrics.enabled", true)
}
