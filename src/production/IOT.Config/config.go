package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RefreshRatesMs is the enumerated set of live refresh periods in milliseconds.
var RefreshRatesMs = []int{1000, 3000, 5000, 10000}

// DefaultRefreshRateMs is used when POLL_REFRESH_MS is not set.
const DefaultRefreshRateMs = 5000

// Config holds all application configuration
type Config struct {
	// Backend REST API
	API APIConfig `json:"api"`

	// Session persistence
	Session SessionConfig `json:"session"`

	// Live poller
	Poller PollerConfig `json:"poller"`

	// Local dashboard HTTP server
	Server ServerConfig `json:"server"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`

	// MQTT snapshot publisher (disabled when BrokerHost is empty)
	MQTT MQTTConfig `json:"mqtt"`

	// Telemetry archive (disabled when MongoURI is empty)
	Archive ArchiveConfig `json:"archive"`

	// Battery alerts
	Alerts AlertsConfig `json:"alerts"`
}

// APIConfig holds the backend connection settings
type APIConfig struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	UserAgent string        `json:"user_agent"`
}

// SessionConfig holds where the session is persisted
type SessionConfig struct {
	FilePath string `json:"file_path"`
}

// PollerConfig holds live poller settings
type PollerConfig struct {
	RefreshRateMs int `json:"refresh_rate_ms"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"broker_pass"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	ClientID    string        `json:"client_id"`
	TopicPrefix string        `json:"topic_prefix"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// ArchiveConfig holds the Mongo telemetry archive configuration
type ArchiveConfig struct {
	MongoURI    string        `json:"mongo_uri"`
	DBName      string        `json:"db_name"`
	Collection  string        `json:"collection"`
	BatchSize   int           `json:"batch_size"`
	BatchWindow time.Duration `json:"batch_window"`
}

// AlertsConfig holds battery alert configuration
type AlertsConfig struct {
	TelegramBotToken       string  `json:"telegram_bot_token"`
	TelegramChatIDs        []int64 `json:"telegram_chat_ids"`
	BatteryCriticalPercent int     `json:"battery_critical_percent"`
}

// Load loads configuration from environment variables with fallback defaults
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	env := &envReader{}
	config := &Config{
		API: APIConfig{
			BaseURL:   env.str("API_BASE_URL", "http://localhost:3000"),
			Timeout:   env.duration("API_TIMEOUT", 30*time.Second),
			UserAgent: env.str("API_USER_AGENT", "iot-dashboard"),
		},
		Session: SessionConfig{
			FilePath: env.str("SESSION_FILE", defaultSessionFile()),
		},
		Poller: PollerConfig{
			RefreshRateMs: env.integer("POLL_REFRESH_MS", DefaultRefreshRateMs),
		},
		Server: ServerConfig{
			Port:         env.str("PORT", "8088"),
			ReadTimeout:  env.duration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: env.duration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("IDLE_TIMEOUT", 120*time.Second),
		},
		Logging: LoggingConfig{
			Level:        env.str("LOG_LEVEL", "info"),
			Format:       env.str("LOG_FORMAT", "text"),
			Output:       env.str("LOG_OUTPUT", "stdout"),
			EnableCaller: env.boolean("LOG_ENABLE_CALLER", false),
		},
		CORS: CORSConfig{
			AllowedOrigins:   env.stringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			AllowedMethods:   env.stringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
			AllowedHeaders:   env.stringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			AllowCredentials: env.boolean("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           env.integer("CORS_MAX_AGE", 43200), // 12 hours
		},
		MQTT: MQTTConfig{
			BrokerHost:  env.str("BROKER_HOST", ""),
			BrokerPort:  env.integer("BROKER_PORT", 1883),
			BrokerUser:  env.str("BROKER_USER", ""),
			BrokerPass:  env.str("BROKER_PASS", ""),
			UseTLS:      env.boolean("BROKER_TLS", false),
			CACertPath:  env.str("BROKER_CA_FILE", ""),
			ClientID:    env.str("MQTT_CLIENT_ID", "iot-dashboard"),
			TopicPrefix: env.str("MQTT_TOPIC_PREFIX", "dashboard"),
			KeepAlive:   env.duration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout: env.duration("MQTT_PING_TIMEOUT", 10*time.Second),
		},
		Archive: ArchiveConfig{
			MongoURI:    env.str("MONGODB_URI", ""),
			DBName:      env.str("DB_NAME", "iot"),
			Collection:  env.str("COLL_NAME", "telemetry"),
			BatchSize:   env.integer("BATCH_SIZE", 200),
			BatchWindow: env.duration("BATCH_WINDOW", 2*time.Second),
		},
		Alerts: AlertsConfig{
			TelegramBotToken:       env.str("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatIDs:        env.int64Slice("TELEGRAM_CHAT_IDS"),
			BatteryCriticalPercent: env.integer("BATTERY_CRITICAL_PERCENT", 20),
		},
	}

	if err := env.err(); err != nil {
		return nil, fmt.Errorf("configuration parsing failed: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("API_BASE_URL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("API_BASE_URL %q is not an absolute URL", c.API.BaseURL)
	}
	if !IsRefreshRate(c.Poller.RefreshRateMs) {
		return fmt.Errorf("POLL_REFRESH_MS must be one of %v, got %d", RefreshRatesMs, c.Poller.RefreshRateMs)
	}
	if c.Session.FilePath == "" {
		return errors.New("SESSION_FILE is required")
	}
	if c.Archive.BatchSize <= 0 {
		return errors.New("BATCH_SIZE must be positive")
	}
	if c.Alerts.BatteryCriticalPercent < 0 || c.Alerts.BatteryCriticalPercent > 100 {
		return errors.New("BATTERY_CRITICAL_PERCENT must be between 0 and 100")
	}
	return nil
}

// IsRefreshRate reports whether ms is one of the enumerated refresh periods
func IsRefreshRate(ms int) bool {
	for _, r := range RefreshRatesMs {
		if r == ms {
			return true
		}
	}
	return false
}

// MQTTEnabled reports whether a broker is configured
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.BrokerHost != ""
}

// ArchiveEnabled reports whether the Mongo archive is configured
func (c *Config) ArchiveEnabled() bool {
	return c.Archive.MongoURI != ""
}

// TelegramEnabled reports whether Telegram alerts are configured
func (c *Config) TelegramEnabled() bool {
	return c.Alerts.TelegramBotToken != "" && len(c.Alerts.TelegramChatIDs) > 0
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *Config) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.MQTT.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".iotdash", "session.json")
	}
	return filepath.Join(home, ".iotdash", "session.json")
}

// envReader reads typed environment variables and collects parse errors
type envReader struct {
	errs []error
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) str(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (e *envReader) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return intValue
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	switch value {
	case "1", "true", "TRUE":
		return true
	case "0", "false", "FALSE":
		return false
	}
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %q (expected true/false or 1/0)", key, value))
	return defaultValue
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return d
}

func (e *envReader) stringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func (e *envReader) int64Slice(key string) []int64 {
	var out []int64
	for _, part := range e.stringSlice(key, nil) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			e.errs = append(e.errs, fmt.Errorf("invalid %s entry %q: %w", key, part, err))
			continue
		}
		out = append(out, id)
	}
	return out
}
