// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Default pipeline values. These are the only literals for the decision
// gates; every caller reads PipelineSettings.
const (
	DefaultThreshold        = 0.5
	DefaultCooldown         = 5 * time.Second
	DefaultHeartbeatTimeout = 20 * time.Second
	DefaultTopK             = 3
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.file_output.enabled", false)
	viper.SetDefault("logging.file_output.path", "logs/wildwatch.log")

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.environment", "production")
	viper.SetDefault("sentry.samplerate", 1.0)

	viper.SetDefault("pipeline.threshold", DefaultThreshold)
	viper.SetDefault("pipeline.cooldown", DefaultCooldown)
	viper.SetDefault("pipeline.cooldownbackend", "memory")
	viper.SetDefault("pipeline.heartbeattimeout", DefaultHeartbeatTimeout)
	viper.SetDefault("pipeline.unknownanimalid", 0)
	viper.SetDefault("pipeline.topk", DefaultTopK)
	viper.SetDefault("pipeline.grouped", false)

	viper.SetDefault("taxonomy.path", "")
	viper.SetDefault("taxonomy.cachettl", 5*time.Minute)

	viper.SetDefault("classifier.enabled", false)
	viper.SetDefault("classifier.url", "http://localhost:8501/v1/predict")
	viper.SetDefault("classifier.timeout", 5*time.Second)
	viper.SetDefault("classifier.hintfallback", true)

	viper.SetDefault("webserver.listen", ":8080")
	viper.SetDefault("webserver.bodylimit", "10M")
	viper.SetDefault("webserver.ratelimit", 20.0)

	viper.SetDefault("broadcast.sendtimeout", 500*time.Millisecond)
	viper.SetDefault("broadcast.clientbuffer", 32)
	viper.SetDefault("broadcast.maxclients", 100)
	viper.SetDefault("broadcast.keepalive", 30*time.Second)

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientid", "wildwatch")
	viper.SetDefault("mqtt.topic", "wildwatch/detections")
	viper.SetDefault("mqtt.qos", 0)
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.timeout", 3*time.Second)

	viper.SetDefault("push.enabled", false)
	viper.SetDefault("push.chunksize", 500)
	viper.SetDefault("push.concurrency", 4)
	viper.SetDefault("push.timeout", 5*time.Second)
	viper.SetDefault("push.fcm.enabled", false)
	viper.SetDefault("push.shoutrrr.enabled", false)

	viper.SetDefault("database.driver", "sqlite")
	viper.SetDefault("database.slowquerythreshold", 200*time.Millisecond)
	viper.SetDefault("database.sqlite.path", "wildwatch.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", 3306)
	viper.SetDefault("database.mysql.database", "wildwatch")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}
