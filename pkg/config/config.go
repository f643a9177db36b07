package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// DQREVIEW_SERVER_LISTEN overrides server.listen.
	EnvPrefix = "DQREVIEW"

	// WarehouseEnvVar is the legacy connection-string variable the review
	// tool has always read its warehouse endpoint from.
	WarehouseEnvVar = "RSR_CONN"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultWarehouseDriver is the default warehouse database driver.
	DefaultWarehouseDriver = "postgres"

	// DefaultCSID is the collection set pre-filled in the review form.
	DefaultCSID = 12610

	// DefaultMaxCSID is the upper bound accepted for a CSID.
	DefaultMaxCSID = 10000000

	// DefaultResultsDir is the default directory for exported reviews.
	DefaultResultsDir = "./reviews"
)

// DefaultPeriods are the product period suffixes used to label collection sets.
var DefaultPeriods = []string{"2025-1H", "2025-2H"}

// Config is the root configuration for dqreview.
type Config struct {
	Global         GlobalConfig    `yaml:"global" mapstructure:"global"`
	Server         ServerConfig    `yaml:"server" mapstructure:"server"`
	Auth           AuthConfig      `yaml:"auth" mapstructure:"auth"`
	Warehouse      WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Review         ReviewConfig    `yaml:"review" mapstructure:"review"`
	ThresholdsFile string          `yaml:"thresholds_file,omitempty" mapstructure:"thresholds_file"`
	Export         ExportConfig    `yaml:"export" mapstructure:"export"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// WarehouseConfig contains the warehouse connection settings.
type WarehouseConfig struct {
	Driver       string `yaml:"driver" mapstructure:"driver"`
	DSN          string `yaml:"dsn" mapstructure:"dsn"`
	QueryTimeout string `yaml:"query_timeout,omitempty" mapstructure:"query_timeout"`
	MaxOpenConns int    `yaml:"max_open_conns,omitempty" mapstructure:"max_open_conns"`
}

// ReviewConfig bounds the review form input and labels product periods.
type ReviewConfig struct {
	DefaultCSID int64    `yaml:"default_csid" mapstructure:"default_csid"`
	MinCSID     int64    `yaml:"min_csid" mapstructure:"min_csid"`
	MaxCSID     int64    `yaml:"max_csid" mapstructure:"max_csid"`
	Periods     []string `yaml:"periods" mapstructure:"periods"`
}

// ExportConfig controls where review bundles are written.
type ExportConfig struct {
	ResultsDir string          `yaml:"results_dir" mapstructure:"results_dir"`
	S3         *S3UploadConfig `yaml:"s3,omitempty" mapstructure:"s3"`
}

// S3UploadConfig contains settings for uploading review bundles to S3.
type S3UploadConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	Concurrency     int    `yaml:"concurrency,omitempty" mapstructure:"concurrency"`
}

// Load reads and merges the given configuration files (in order), applies
// environment overrides and defaults. With no paths, configuration comes
// from the environment only.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	for _, path := range paths {
		v.SetConfigFile(path)

		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv(
		"warehouse.dsn", EnvPrefix+"_WAREHOUSE_DSN", WarehouseEnvVar,
	); err != nil {
		return nil, fmt.Errorf("binding warehouse env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override keys
// that are absent from the config files.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.review.requests_per_minute", 0)
	v.SetDefault("server.rate_limit.api.requests_per_minute", 0)
	v.SetDefault("auth.basic.enabled", false)
	v.SetDefault("warehouse.driver", DefaultWarehouseDriver)
	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.query_timeout", "")
	v.SetDefault("warehouse.max_open_conns", 0)
	v.SetDefault("review.default_csid", DefaultCSID)
	v.SetDefault("review.min_csid", 1)
	v.SetDefault("review.max_csid", DefaultMaxCSID)
	v.SetDefault("review.periods", DefaultPeriods)
	v.SetDefault("thresholds_file", "")
	v.SetDefault("export.results_dir", DefaultResultsDir)

	// Export.S3 stays nil unless a file or the environment sets one of its
	// keys, so the keys are bound instead of defaulted.
	for _, key := range s3Keys {
		_ = v.BindEnv("export.s3." + key)
	}
}

var s3Keys = []string{
	"enabled",
	"endpoint_url",
	"region",
	"bucket",
	"access_key_id",
	"secret_access_key",
	"prefix",
	"force_path_style",
	"concurrency",
}

// applyDefaults sets default values for options an explicit empty value
// would otherwise leave unset.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Warehouse.Driver == "" {
		c.Warehouse.Driver = DefaultWarehouseDriver
	}

	if c.Review.MaxCSID == 0 {
		c.Review.MaxCSID = DefaultMaxCSID
	}

	if c.Review.MinCSID == 0 {
		c.Review.MinCSID = 1
	}

	if c.Review.DefaultCSID == 0 {
		c.Review.DefaultCSID = DefaultCSID
	}

	if len(c.Review.Periods) == 0 {
		c.Review.Periods = append([]string(nil), DefaultPeriods...)
	}

	if c.Export.ResultsDir == "" {
		c.Export.ResultsDir = DefaultResultsDir
	}

	if c.Export.S3 != nil && c.Export.S3.Concurrency <= 0 {
		c.Export.S3.Concurrency = 4
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Warehouse.DSN) == "" {
		return fmt.Errorf(
			"warehouse dsn is required (set %s or %s_WAREHOUSE_DSN)",
			WarehouseEnvVar, EnvPrefix,
		)
	}

	if !isValidDriver(c.Warehouse.Driver) {
		return fmt.Errorf("unsupported warehouse driver %q", c.Warehouse.Driver)
	}

	if _, err := c.Warehouse.QueryTimeoutDuration(); err != nil {
		return err
	}

	if c.Review.MinCSID < 1 {
		return fmt.Errorf("review.min_csid must be positive")
	}

	if c.Review.MaxCSID < c.Review.MinCSID {
		return fmt.Errorf(
			"review.max_csid (%d) is below review.min_csid (%d)",
			c.Review.MaxCSID, c.Review.MinCSID,
		)
	}

	if c.Review.DefaultCSID < c.Review.MinCSID ||
		c.Review.DefaultCSID > c.Review.MaxCSID {
		return fmt.Errorf(
			"review.default_csid %d is outside [%d, %d]",
			c.Review.DefaultCSID, c.Review.MinCSID, c.Review.MaxCSID,
		)
	}

	for i, p := range c.Review.Periods {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("review.periods[%d] is empty", i)
		}
	}

	if err := c.Server.validate(); err != nil {
		return err
	}

	if err := c.Auth.validate(); err != nil {
		return err
	}

	if s3 := c.Export.S3; s3 != nil && s3.Enabled && s3.Bucket == "" {
		return errors.New("export.s3.bucket is required when s3 is enabled")
	}

	return nil
}

// QueryTimeoutDuration parses the per-query timeout. Zero means no timeout.
func (w *WarehouseConfig) QueryTimeoutDuration() (time.Duration, error) {
	if w.QueryTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(w.QueryTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing warehouse.query_timeout: %w", err)
	}

	if d < 0 {
		return 0, fmt.Errorf("warehouse.query_timeout must not be negative")
	}

	return d, nil
}

// validDrivers is the list of supported warehouse drivers.
var validDrivers = map[string]struct{}{
	"postgres": {},
	"sqlite":   {},
}

func isValidDriver(driver string) bool {
	_, ok := validDrivers[driver]

	return ok
}
