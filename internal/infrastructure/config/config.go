package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for meterflow.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	BulkAPI    BulkAPIConfig    `yaml:"bulk_api"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Silver     SilverConfig     `yaml:"silver"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// BulkAPIConfig contains the remote measurement API settings.
type BulkAPIConfig struct {
	HostURL string `yaml:"host_url"`
	APIKey  string `yaml:"api_key"`
	// Timeout is the per-request timeout in seconds. Bulk responses are slow.
	Timeout             int           `yaml:"timeout"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	Retry               RetryConfig   `yaml:"retry"`
	Breaker             BreakerConfig `yaml:"breaker"`
}

// RetryConfig contains per-request retry settings.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	// InitialBackoff and MaxBackoff are in milliseconds.
	InitialBackoff int     `yaml:"initial_backoff"`
	MaxBackoff     int     `yaml:"max_backoff"`
	Multiplier     float64 `yaml:"multiplier"`
	StatusCodes    []int   `yaml:"status_codes"`
}

// BreakerConfig contains circuit breaker settings for the bulk API.
type BreakerConfig struct {
	Enabled             bool `yaml:"enabled"`
	ConsecutiveFailures int  `yaml:"consecutive_failures"`
	// OpenTimeout is how long the breaker stays open, in seconds.
	OpenTimeout int `yaml:"open_timeout"`
}

// PipelineConfig contains ingestion and staging settings.
type PipelineConfig struct {
	RawDir          string `yaml:"raw_dir"`
	BronzeDir       string `yaml:"bronze_dir"`
	SilverDir       string `yaml:"silver_dir"`
	AssociationPath string `yaml:"association_path"`
	UsagePointsDir  string `yaml:"usage_points_dir"`

	// From and To bound the fetched range (RFC 3339).
	From string `yaml:"from"`
	To   string `yaml:"to"`

	Resolution           int      `yaml:"resolution"`
	Types                []string `yaml:"types"`
	SamplesPerBatchLimit int      `yaml:"samples_per_batch_limit"`
	IsUTC                bool     `yaml:"is_utc"`
}

// SilverConfig contains the reconstruction window.
type SilverConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// SupervisorConfig contains the outer ingestion retry policy.
type SupervisorConfig struct {
	// Cooldown and MaxCooldown are in seconds.
	Cooldown    int     `yaml:"cooldown"`
	MaxCooldown int     `yaml:"max_cooldown"`
	Multiplier  float64 `yaml:"multiplier"`
	// MaxAttempts limits runs. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite registry database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
	// BatchSize is the number of points per write request.
	BatchSize int `yaml:"batch_size"`
}

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	// File is used when Output is "file".
	File string `yaml:"file"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: METERFLOW_SECTION_KEY
// For example: METERFLOW_BULK_API_KEY, METERFLOW_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		BulkAPI: BulkAPIConfig{
			Timeout:             600,
			MaxIdleConnsPerHost: 4,
			Retry: RetryConfig{
				MaxAttempts:    5,
				InitialBackoff: 1000,
				MaxBackoff:     60000,
				Multiplier:     2.0,
				StatusCodes:    []int{400, 401, 429, 500, 502, 503, 504},
			},
			Breaker: BreakerConfig{
				Enabled:             true,
				ConsecutiveFailures: 5,
				OpenTimeout:         300,
			},
		},
		Pipeline: PipelineConfig{
			RawDir:               "./data/raw/ami",
			BronzeDir:            "./data/bronze/ami",
			SilverDir:            "./data/silver/ami",
			AssociationPath:      "./data/bronze/usagepoints.parquet",
			UsagePointsDir:       "./data/raw/usagepoints",
			Resolution:           1,
			Types:                []string{"load", "production"},
			SamplesPerBatchLimit: 20000,
			IsUTC:                true,
		},
		Supervisor: SupervisorConfig{
			Cooldown:    1800,
			MaxCooldown: 1800,
			Multiplier:  1.0,
			MaxAttempts: 0,
		},
		Database: DatabaseConfig{
			Path:        "./data/raw/ami/registry.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "meterflow",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize: 5000,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 60,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Bulk API - the key should only ever come from the environment in production
	if v := os.Getenv("METERFLOW_BULK_API_HOST_URL"); v != "" {
		cfg.BulkAPI.HostURL = v
	}
	if v := os.Getenv("METERFLOW_BULK_API_KEY"); v != "" {
		cfg.BulkAPI.APIKey = v
	}

	// Pipeline
	if v := os.Getenv("METERFLOW_PIPELINE_RAW_DIR"); v != "" {
		cfg.Pipeline.RawDir = v
	}
	if v := os.Getenv("METERFLOW_PIPELINE_FROM"); v != "" {
		cfg.Pipeline.From = v
	}
	if v := os.Getenv("METERFLOW_PIPELINE_TO"); v != "" {
		cfg.Pipeline.To = v
	}
	if v := os.Getenv("METERFLOW_PIPELINE_SAMPLES_PER_BATCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.SamplesPerBatchLimit = n
		}
	}

	// Database
	if v := os.Getenv("METERFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("METERFLOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("METERFLOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("METERFLOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("METERFLOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("METERFLOW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
}

// maxSamplesPerBatchLimit matches the batch planner's upper bound.
const maxSamplesPerBatchLimit = 1_000_000

// Validate checks the configuration for errors.
//
// All problems are collected and reported together so a broken file
// can be fixed in one pass.
func (c *Config) Validate() error {
	var errs []string

	// Bulk API
	if c.BulkAPI.HostURL == "" {
		errs = append(errs, "bulk_api.host_url is required")
	}
	if c.BulkAPI.APIKey == "" {
		errs = append(errs, "bulk_api.api_key is required (set METERFLOW_BULK_API_KEY environment variable)")
	}
	if c.BulkAPI.Timeout <= 0 {
		errs = append(errs, "bulk_api.timeout must be positive")
	}
	if c.BulkAPI.Retry.MaxAttempts < 1 {
		errs = append(errs, "bulk_api.retry.max_attempts must be at least 1")
	}
	if c.BulkAPI.Retry.Multiplier < 1 {
		errs = append(errs, "bulk_api.retry.multiplier must be >= 1")
	}

	// Pipeline
	if c.Pipeline.RawDir == "" {
		errs = append(errs, "pipeline.raw_dir is required")
	}
	if c.Pipeline.SamplesPerBatchLimit < 1 || c.Pipeline.SamplesPerBatchLimit > maxSamplesPerBatchLimit {
		errs = append(errs, fmt.Sprintf("pipeline.samples_per_batch_limit must be between 1 and %d", maxSamplesPerBatchLimit))
	}
	if c.Pipeline.Resolution < 1 {
		errs = append(errs, "pipeline.resolution must be at least 1")
	}
	if len(c.Pipeline.Types) == 0 {
		errs = append(errs, "pipeline.types must name at least one measurement type")
	}
	errs = append(errs, validateRange("pipeline", c.Pipeline.From, c.Pipeline.To)...)
	if c.Silver.From != "" || c.Silver.To != "" {
		errs = append(errs, validateRange("silver", c.Silver.From, c.Silver.To)...)
	}

	// Supervisor
	if c.Supervisor.Cooldown < 0 {
		errs = append(errs, "supervisor.cooldown must not be negative")
	}
	if c.Supervisor.Multiplier < 1 {
		errs = append(errs, "supervisor.multiplier must be >= 1")
	}

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func validateRange(section, from, to string) []string {
	var errs []string
	f, err := time.Parse(time.RFC3339, from)
	if err != nil {
		errs = append(errs, section+".from must be an RFC 3339 timestamp")
	}
	t, err2 := time.Parse(time.RFC3339, to)
	if err2 != nil {
		errs = append(errs, section+".to must be an RFC 3339 timestamp")
	}
	if err == nil && err2 == nil && !f.Before(t) {
		errs = append(errs, section+".from must be before "+section+".to")
	}
	return errs
}

// GetRange returns the parsed ingestion range. Only valid after Validate.
func (c *Config) GetRange() (from, to time.Time) {
	from, _ = time.Parse(time.RFC3339, c.Pipeline.From)
	to, _ = time.Parse(time.RFC3339, c.Pipeline.To)
	return from.UTC(), to.UTC()
}

// GetSilverWindow returns the reconstruction window, falling back to the
// ingestion range when no silver window is configured.
func (c *Config) GetSilverWindow() (from, to time.Time) {
	if c.Silver.From == "" {
		return c.GetRange()
	}
	from, _ = time.Parse(time.RFC3339, c.Silver.From)
	to, _ = time.Parse(time.RFC3339, c.Silver.To)
	return from.UTC(), to.UTC()
}

// GetRequestTimeout returns the bulk API request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.BulkAPI.Timeout) * time.Second
}

// GetCooldown returns the supervisor cooldown as a Duration.
func (c *Config) GetCooldown() time.Duration {
	return time.Duration(c.Supervisor.Cooldown) * time.Second
}

// GetMaxCooldown returns the supervisor cooldown cap as a Duration.
func (c *Config) GetMaxCooldown() time.Duration {
	return time.Duration(c.Supervisor.MaxCooldown) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
