package netstatus

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"netspace-tracker/internal/core"
	"netspace-tracker/internal/features/netstatus/services"
)

// EndpointConfig describes one custom status endpoint
type EndpointConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// sourcesFile is the layout of NETSTATUS_SOURCES_FILE
type sourcesFile struct {
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// Config represents network status feature configuration
type Config struct {
	Enabled             bool
	BaseURL             string
	CheckInterval       time.Duration
	SourceTimeout       time.Duration
	UptimeRobotAPIKey   string
	UptimeRobotMonitors []string
	UptimeRobotAPIURL   string
	Endpoints           []EndpointConfig
	SourcesFile         string
	Dispatch            services.DispatcherConfig
	KafkaBrokers        []string
	KafkaTopic          string
}

// NewConfig creates network status config from core config
func NewConfig(coreConfig *core.Config) *Config {
	ns := coreConfig.Features.NetStatus

	config := &Config{
		Enabled:             ns.Enabled,
		BaseURL:             coreConfig.Server.BaseURL,
		CheckInterval:       ns.CheckInterval,
		SourceTimeout:       ns.SourceTimeout,
		UptimeRobotAPIKey:   ns.UptimeRobotAPIKey,
		UptimeRobotMonitors: ns.UptimeRobotMonitors,
		UptimeRobotAPIURL:   ns.UptimeRobotAPIURL,
		SourcesFile:         ns.SourcesFile,
		Dispatch: services.DispatcherConfig{
			BaseURL:            coreConfig.Server.BaseURL,
			EmailBatchSize:     ns.EmailBatchSize,
			EmailBatchPause:    ns.EmailBatchPause,
			WebhookTimeout:     ns.WebhookTimeout,
			WebhookConcurrency: ns.WebhookConcurrency,
		},
	}

	for i, u := range ns.Endpoints {
		name := "primary"
		if i > 0 {
			name = "secondary"
		}
		config.Endpoints = append(config.Endpoints, EndpointConfig{Name: name, URL: u})
	}

	if coreConfig.Telemetry.StreamEnabled() {
		config.KafkaBrokers = coreConfig.Telemetry.KafkaBrokers
		config.KafkaTopic = coreConfig.Telemetry.KafkaStatusTopic
	}

	return config
}

// LoadSourcesFile appends the endpoints listed in the YAML sources file.
// A missing path is not an error.
func (c *Config) LoadSourcesFile() error {
	if c.SourcesFile == "" {
		return nil
	}

	content, err := os.ReadFile(c.SourcesFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sources file: %w", err)
	}

	var file sourcesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return fmt.Errorf("parse sources file: %w", err)
	}

	for i, ep := range file.Endpoints {
		if ep.Name == "" {
			ep.Name = fmt.Sprintf("endpoint-%d", i+1)
		}
		c.Endpoints = append(c.Endpoints, ep)
	}
	return nil
}

// Validate validates the network status configuration
func (c *Config) Validate() error {
	if c.CheckInterval < time.Second {
		return fmt.Errorf("check interval must be at least 1s")
	}

	if c.SourceTimeout <= 0 {
		return fmt.Errorf("source timeout must be positive")
	}

	for _, ep := range c.Endpoints {
		u, err := url.Parse(ep.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("endpoint %s has invalid url %q", ep.Name, ep.URL)
		}
		if ep.Timeout < 0 {
			return fmt.Errorf("endpoint %s has negative timeout", ep.Name)
		}
	}

	return nil
}

// BuildSources returns the configured sources in priority order: UptimeRobot
// first when it has credentials, then each endpoint in the order listed.
func (c *Config) BuildSources(client *http.Client, sanitizer *services.Sanitizer) []services.Source {
	var sources []services.Source

	if c.UptimeRobotAPIKey != "" && len(c.UptimeRobotMonitors) > 0 {
		sources = append(sources, services.NewUptimeRobotSource(
			c.UptimeRobotAPIURL, c.UptimeRobotAPIKey, c.UptimeRobotMonitors, c.SourceTimeout, client, sanitizer))
	}

	for _, ep := range c.Endpoints {
		timeout := ep.Timeout
		if timeout == 0 {
			timeout = c.SourceTimeout
		}
		sources = append(sources, services.NewEndpointSource(ep.Name, ep.URL, ep.Headers, timeout, client, sanitizer))
	}

	return sources
}
