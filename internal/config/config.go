package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the config directory.
const FileName = "roadsight_viewer.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. ROADSIGHT_API_SERVERURL.
const EnvPrefix = "ROADSIGHT"

// ErrConfigNotFound is returned by Load when no config file exists. Defaults
// and environment overrides still apply.
var ErrConfigNotFound = errors.New("config file not found")

// APIConfig holds the backend request/response settings.
type APIConfig struct {
	ServerURL      string        `mapstructure:"serverUrl" validate:"required,url"`
	APIKey         string        `mapstructure:"apiKey"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
	StatusInterval time.Duration `mapstructure:"statusInterval" validate:"gt=0"`
}

// StreamConfig holds the real-time channel settings.
type StreamConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	Quality      string `mapstructure:"quality" validate:"oneof=high medium low"`
	MaxReconnect int    `mapstructure:"maxReconnect" validate:"gte=0"`
}

// AlertsConfig holds the alert feed settings.
type AlertsConfig struct {
	Window        time.Duration `mapstructure:"window" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweepInterval" validate:"gt=0"`
}

// ViewerConfig holds the local viewer API settings.
type ViewerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen" validate:"required_if=Enabled true"`
}

// HistoryConfig holds the alert history store settings.
type HistoryConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Driver        string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	SQLitePath    string        `mapstructure:"sqlitePath"`
	DSN           string        `mapstructure:"dsn" validate:"required_if=Driver postgres"`
	FlushInterval time.Duration `mapstructure:"flushInterval" validate:"gt=0"`
}

// InfluxConfig holds the InfluxDB writer settings.
type InfluxConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Protocol string `mapstructure:"protocol" validate:"omitempty,oneof=http https"`
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
	Bucket   string `mapstructure:"bucket" validate:"required_if=Enabled true"`
}

// GraylogConfig holds the GELF output settings.
type GraylogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

// OTelConfig holds the OpenTelemetry settings.
type OTelConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"serviceName"`
	BatchTimeout   time.Duration `mapstructure:"batchTimeout"`
	MetricInterval time.Duration `mapstructure:"metricInterval"`
	Endpoint       string        `mapstructure:"endpoint"`
	Insecure       bool          `mapstructure:"insecure"`
}

// MonitorConfig holds the engine stats sampler settings.
type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gt=0"`
}

// Config is the typed program configuration.
type Config struct {
	LogLevel string `mapstructure:"logLevel" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogsDir  string `mapstructure:"logsDir" validate:"required"`

	API     APIConfig     `mapstructure:"api"`
	Stream  StreamConfig  `mapstructure:"stream"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	Viewer  ViewerConfig  `mapstructure:"viewer"`
	History HistoryConfig `mapstructure:"history"`
	Influx  InfluxConfig  `mapstructure:"influx"`
	Graylog GraylogConfig `mapstructure:"graylog"`
	OTel    OTelConfig    `mapstructure:"otel"`
	Monitor MonitorConfig `mapstructure:"monitor"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("api.serverUrl", "http://localhost:5000")
	viper.SetDefault("api.apiKey", "")
	viper.SetDefault("api.timeout", 30*time.Second)
	viper.SetDefault("api.statusInterval", time.Second)

	viper.SetDefault("stream.url", "ws://localhost:5000/ws")
	viper.SetDefault("stream.quality", "high")
	viper.SetDefault("stream.maxReconnect", 10)

	viper.SetDefault("alerts.window", 5*time.Second)
	viper.SetDefault("alerts.sweepInterval", 250*time.Millisecond)

	viper.SetDefault("viewer.enabled", true)
	viper.SetDefault("viewer.listen", "127.0.0.1:8090")

	viper.SetDefault("history.enabled", true)
	viper.SetDefault("history.driver", "sqlite")
	viper.SetDefault("history.sqlitePath", "./data/alerts.db")
	viper.SetDefault("history.dsn", "")
	viper.SetDefault("history.flushInterval", 2*time.Second)

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "roadsight")
	viper.SetDefault("influx.bucket", "viewer")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "roadsight-viewer")
	viper.SetDefault("otel.batchTimeout", 5*time.Second)
	viper.SetDefault("otel.metricInterval", time.Minute)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("monitor.interval", 10*time.Second)
}

// Load sets default values, applies a .env file from configDir if present,
// enables ROADSIGHT_* environment overrides and reads the JSON config file.
// A missing config file yields ErrConfigNotFound; everything else is still
// configured, so callers may continue on defaults.
func Load(configDir string) error {
	setDefaults()

	if err := godotenv.Load(filepath.Join(configDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error reading .env file: %w", err)
	}

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return fmt.Errorf("%w in %s", ErrConfigNotFound, configDir)
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// Get decodes and validates the loaded configuration.
func Get() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
