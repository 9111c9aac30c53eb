package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the main configuration for the netspace tracker
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Auth      AuthConfig      `json:"auth"`
	Mail      MailConfig      `json:"mail"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Features  FeatureConfig   `json:"features"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Port    int    `json:"port"`
	Host    string `json:"host"`
	BaseURL string `json:"base_url"`
	// SubscribeRate is the number of subscribe/unsubscribe requests allowed per client per minute
	SubscribeRate int `json:"subscribe_rate"`
}

// DatabaseConfig contains database-related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// AuthConfig contains admin authentication configuration
type AuthConfig struct {
	AdminEmail    string        `json:"admin_email"`
	AdminPassword string        `json:"admin_password"`
	TokenTTL      time.Duration `json:"token_ttl"`
}

// AdminEnabled reports whether admin routes can be used at all
func (a AuthConfig) AdminEnabled() bool {
	return a.AdminPassword != ""
}

// MailConfig contains outbound mail configuration
type MailConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	From          string `json:"from"`
	SMTP2GOAPIKey string `json:"smtp2go_api_key"`
}

// TelemetryConfig contains tracing and event stream configuration
type TelemetryConfig struct {
	OTLPEndpoint     string   `json:"otlp_endpoint"`
	ServiceName      string   `json:"service_name"`
	KafkaBrokers     []string `json:"kafka_brokers"`
	KafkaStatusTopic string   `json:"kafka_status_topic"`
}

// TracingEnabled reports whether an OTLP collector is configured
func (t TelemetryConfig) TracingEnabled() bool {
	return t.OTLPEndpoint != ""
}

// StreamEnabled reports whether status events should be published to Kafka
func (t TelemetryConfig) StreamEnabled() bool {
	return len(t.KafkaBrokers) > 0 && t.KafkaStatusTopic != ""
}

// FeatureConfig contains feature-specific configuration
type FeatureConfig struct {
	NetStatus NetStatusConfig `json:"netstatus"`
}

// NetStatusConfig contains network status monitoring configuration
type NetStatusConfig struct {
	Enabled             bool          `json:"enabled"`
	CheckInterval       time.Duration `json:"check_interval"`
	SourceTimeout       time.Duration `json:"source_timeout"`
	UptimeRobotAPIKey   string        `json:"uptime_robot_api_key"`
	UptimeRobotMonitors []string      `json:"uptime_robot_monitors"`
	UptimeRobotAPIURL   string        `json:"uptime_robot_api_url"`
	Endpoints           []string      `json:"endpoints"`
	SourcesFile         string        `json:"sources_file"`
	EmailBatchSize      int           `json:"email_batch_size"`
	EmailBatchPause     time.Duration `json:"email_batch_pause"`
	WebhookTimeout      time.Duration `json:"webhook_timeout"`
	WebhookConcurrency  int           `json:"webhook_concurrency"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	smtpUser := getEnvOrDefault("SMTP_SERVER_USERNAME", "")

	config := &Config{
		Server: ServerConfig{
			Port:          getEnvAsInt("NETSPACE_PORT", 3000),
			Host:          getEnvOrDefault("NETSPACE_HOST", "0.0.0.0"),
			BaseURL:       strings.TrimRight(getEnvOrDefault("NEXT_PUBLIC_BASE_URL", getEnvOrDefault("NETSPACE_BASE_URL", "http://localhost:3000")), "/"),
			SubscribeRate: getEnvAsInt("NETSTATUS_SUBSCRIBE_RATE", 10),
		},
		Database: DatabaseConfig{
			Path: getEnvOrDefault("NETSPACE_DB_PATH", "./data/subscriptions.db"),
		},
		Auth: AuthConfig{
			AdminEmail:    getEnvOrDefault("NETSPACE_ADMIN_EMAIL", "admin@localhost"),
			AdminPassword: getEnvOrDefault("NETSPACE_ADMIN_PASSWORD", ""),
			TokenTTL:      getEnvAsDuration("NETSPACE_ADMIN_TOKEN_TTL", 24*time.Hour),
		},
		Mail: MailConfig{
			Host:          getEnvOrDefault("SMTP_SERVER_HOST", "smtp.gmail.com"),
			Port:          getEnvAsInt("SMTP_SERVER_PORT", 587),
			Username:      smtpUser,
			Password:      getEnvOrDefault("SMTP_SERVER_PASSWORD", ""),
			From:          getEnvOrDefault("SMTP_FROM", smtpUser),
			SMTP2GOAPIKey: getEnvOrDefault("SMTP2GO_API_KEY", ""),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:     getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName:      getEnvOrDefault("OTEL_SERVICE_NAME", "netspace-tracker"),
			KafkaBrokers:     getEnvAsList("KAFKA_BROKERS"),
			KafkaStatusTopic: getEnvOrDefault("KAFKA_STATUS_TOPIC", ""),
		},
		Features: FeatureConfig{
			NetStatus: NetStatusConfig{
				Enabled:             getEnvAsBool("NETSTATUS_ENABLED", true),
				CheckInterval:       getEnvAsDuration("NETSTATUS_CHECK_INTERVAL", 60*time.Second),
				SourceTimeout:       getEnvAsDuration("NETSTATUS_SOURCE_TIMEOUT", 10*time.Second),
				UptimeRobotAPIKey:   getEnvOrDefault("UPTIME_ROBOT_API_KEY", ""),
				UptimeRobotMonitors: getEnvAsList("UPTIME_ROBOT_MONITOR_IDS"),
				UptimeRobotAPIURL:   strings.TrimRight(getEnvOrDefault("UPTIME_ROBOT_API_URL", "https://api.uptimerobot.com/v2"), "/"),
				Endpoints:           nonEmpty(os.Getenv("PRIMARY_MONITORING_ENDPOINT"), os.Getenv("SECONDARY_MONITORING_ENDPOINT")),
				SourcesFile:         getEnvOrDefault("NETSTATUS_SOURCES_FILE", ""),
				EmailBatchSize:      getEnvAsInt("NETSTATUS_EMAIL_BATCH_SIZE", 20),
				EmailBatchPause:     getEnvAsDuration("NETSTATUS_EMAIL_BATCH_PAUSE", 5*time.Second),
				WebhookTimeout:      getEnvAsDuration("NETSTATUS_WEBHOOK_TIMEOUT", 10*time.Second),
				WebhookConcurrency:  getEnvAsInt("NETSTATUS_WEBHOOK_CONCURRENCY", 10),
			},
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	if c.Server.SubscribeRate <= 0 {
		return fmt.Errorf("subscribe rate must be positive")
	}

	if c.Features.NetStatus.Enabled {
		ns := c.Features.NetStatus
		if ns.CheckInterval < time.Second {
			return fmt.Errorf("network status check interval must be at least 1s, got %s", ns.CheckInterval)
		}
		if ns.SourceTimeout <= 0 {
			return fmt.Errorf("network status source timeout must be positive")
		}
	}

	return nil
}

// IsFeatureEnabled checks if a feature is enabled
func (c *Config) IsFeatureEnabled(featureName string) bool {
	switch strings.ToLower(featureName) {
	case "netstatus":
		return c.Features.NetStatus.Enabled
	default:
		return false
	}
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go duration strings ("90s") or a bare number of seconds
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var parts []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
