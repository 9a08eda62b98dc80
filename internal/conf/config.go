// Package conf loads and validates application settings.
package conf

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/tphakala/wildwatch/internal/errors"
	"github.com/tphakala/wildwatch/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings is the root configuration
type Settings struct {
	Debug bool

	Logging    logger.LoggingConfig
	Sentry     SentrySettings
	Pipeline   PipelineSettings
	Taxonomy   TaxonomySettings
	Classifier ClassifierSettings
	WebServer  WebServerSettings
	Broadcast  BroadcastSettings
	MQTT       MQTTSettings
	Push       PushSettings
	Database   DatabaseSettings
	Metrics    MetricsSettings
	Streams    []StreamSettings
}

// PipelineSettings is the single source of truth for ingestion decisions.
type PipelineSettings struct {
	Threshold        float64       // minimum model probability for a report
	Cooldown         time.Duration // per device+species report spacing
	CooldownBackend  string        // "memory" or "database"
	HeartbeatTimeout time.Duration // device counts as online within this window
	UnknownAnimalID  uint          // catalog fallback when resolution fails, 0 leaves the report unresolved
	TopK             int           // groups returned by grouped prediction
	Grouped          bool          // classify into ambiguity groups and report the top group
}

// TaxonomySettings locates the alias and ambiguity-group tables
type TaxonomySettings struct {
	Path     string        // optional YAML override of the embedded taxonomy
	CacheTTL time.Duration // catalog snapshot lifetime for the species resolver
}

// ClassifierSettings configures the remote model-serving endpoint
type ClassifierSettings struct {
	Enabled      bool
	URL          string
	Timeout      time.Duration
	HintFallback bool // use filename hints when the model is unavailable
}

// WebServerSettings configures the HTTP API
type WebServerSettings struct {
	Listen    string
	APIKey    string
	BodyLimit string
	RateLimit float64 // requests per second per client, 0 disables
}

// BroadcastSettings configures live fan-out
type BroadcastSettings struct {
	SendTimeout  time.Duration
	ClientBuffer int
	MaxClients   int
	KeepAlive    time.Duration
}

// MQTTSettings configures the MQTT broadcast sink
type MQTTSettings struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      int
	Retain   bool
	Timeout  time.Duration
}

// PushSettings configures push delivery
type PushSettings struct {
	Enabled     bool
	ChunkSize   int
	Concurrency int
	Timeout     time.Duration
	FCM         FCMSettings
	Shoutrrr    ShoutrrrSettings
}

// FCMSettings configures Firebase Cloud Messaging
type FCMSettings struct {
	Enabled         bool
	ProjectID       string
	CredentialsFile string
	Endpoint        string // override for testing or proxies
}

// ShoutrrrSettings configures operator notification channels
type ShoutrrrSettings struct {
	Enabled bool
	URLs    []string
}

// DatabaseSettings selects and configures the store
type DatabaseSettings struct {
	Driver             string // "sqlite" or "mysql"
	SlowQueryThreshold time.Duration
	SQLite             SQLiteSettings
	MySQL              MySQLSettings
}

// SQLiteSettings configures the SQLite store
type SQLiteSettings struct {
	Path string
}

// MySQLSettings configures the MySQL store
type MySQLSettings struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// MetricsSettings configures the prometheus endpoint
type MetricsSettings struct {
	Enabled bool
	Path    string
}

// SentrySettings configures error telemetry
type SentrySettings struct {
	Enabled     bool
	DSN         string
	Environment string
	SampleRate  float64
}

// StreamSettings configures one CCTV stream worker
type StreamSettings struct {
	Enabled      bool
	DeviceID     string
	URL          string
	PollInterval time.Duration
	JoinTimeout  time.Duration
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file, .env and environment variables into
// Settings. An empty configFile searches the default config paths.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper applies defaults, env bindings and reads the config file, falling
// back to the embedded default config when none is found.
func initViper(configFile string) error {
	viper.SetConfigType("yaml")
	setDefaultConfig()

	if err := loadDotEnv(); err != nil {
		return err
	}
	if err := bindEnvVars(); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("fatal error reading config file %s: %w", configFile, err)
		}
		return nil
	}

	viper.SetConfigName("config")
	for _, path := range GetDefaultConfigPaths() {
		viper.AddConfigPath(path)
	}

	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if !errors.As(err, &notFound) {
		return fmt.Errorf("fatal error reading config file: %w", err)
	}
	return viper.ReadConfig(bytes.NewReader(defaultConfig()))
}

// loadDotEnv loads ./.env into the process environment if present
func loadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("error loading .env: %w", err)
	}
	return nil
}

// GetDefaultConfigPaths returns the directories searched for config.yaml
func GetDefaultConfigPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "wildwatch"))
	}
	return append(paths, "/etc/wildwatch")
}

// defaultConfig returns the embedded default config.yaml
func defaultConfig() []byte {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		// embedded at build time, cannot fail at runtime
		panic(fmt.Sprintf("embedded config.yaml missing: %v", err))
	}
	return data
}

// GetSettings returns the last loaded settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Stream returns the stream settings for a device, if configured
func (s *Settings) Stream(deviceID string) (StreamSettings, bool) {
	for _, st := range s.Streams {
		if st.DeviceID == deviceID {
			return st, true
		}
	}
	return StreamSettings{}, false
}
