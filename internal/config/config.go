package config

import (
	"errors"
	"fmt"
	"os"

	"indexator/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig            `yaml:"app"`
	Database     DatabaseConfig       `yaml:"database"`
	Redis        RedisConfig          `yaml:"redis"`
	Monitoring   MonitoringConfig     `yaml:"monitoring"`
	Logging      LoggingConfig        `yaml:"logging"`
	API          APIConfig            `yaml:"api"`
	Queue        QueueConfig          `yaml:"queue"`
	Quota        QuotaConfig          `yaml:"quota"`
	Exports      ExportConfig         `yaml:"exports"`
	Integrations []models.Integration `yaml:"integrations"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type QueueConfig struct {
	MaxAttempts         int `yaml:"max_attempts"`
	FailureThreshold    int `yaml:"failure_threshold"`
	RefreshFastSeconds  int `yaml:"refresh_fast_seconds"`
	RefreshSlowSeconds  int `yaml:"refresh_slow_seconds"`
	RetryInitialSeconds int `yaml:"retry_initial_seconds"`
	RetryMaxSeconds     int `yaml:"retry_max_seconds"`
}

type QuotaConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	SnapshotTTLSeconds  int `yaml:"snapshot_ttl_seconds"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; values are substituted into the YAML below
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	return ValidateIntegrations(c.Integrations)
}

// ValidateIntegrations rejects duplicate ids and non-positive daily limits.
func ValidateIntegrations(integrations []models.Integration) error {
	ids := make(map[int64]bool)
	for _, in := range integrations {
		if in.ID == 0 {
			return fmt.Errorf("integration '%s' has invalid ID 0", in.Name)
		}
		if ids[in.ID] {
			return fmt.Errorf("duplicate integration ID found: %d", in.ID)
		}
		if in.DailyLimit <= 0 {
			return fmt.Errorf("integration '%s' has non-positive daily_limit %d", in.Name, in.DailyLimit)
		}
		if in.SiteID == 0 {
			return fmt.Errorf("integration '%s' has invalid site_id 0", in.Name)
		}
		ids[in.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Queue.FailureThreshold == 0 {
		c.Queue.FailureThreshold = models.DefaultFailureThreshold
	}
	if c.Queue.RefreshFastSeconds == 0 {
		c.Queue.RefreshFastSeconds = models.DefaultRefreshFastSeconds
	}
	if c.Queue.RefreshSlowSeconds == 0 {
		c.Queue.RefreshSlowSeconds = models.DefaultRefreshSlowSeconds
	}
	if c.Queue.RetryInitialSeconds == 0 {
		c.Queue.RetryInitialSeconds = 60
	}
	if c.Queue.RetryMaxSeconds == 0 {
		c.Queue.RetryMaxSeconds = 3600
	}

	if c.Quota.PollIntervalSeconds == 0 {
		c.Quota.PollIntervalSeconds = models.DefaultQuotaPollSeconds
	}
	if c.Quota.SnapshotTTLSeconds == 0 {
		c.Quota.SnapshotTTLSeconds = models.DefaultSnapshotTTLSeconds
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

// SiteIDs returns the distinct site ids across the integration catalog.
func (c *Config) SiteIDs() []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, in := range c.Integrations {
		if !seen[in.SiteID] {
			seen[in.SiteID] = true
			ids = append(ids, in.SiteID)
		}
	}
	return ids
}
