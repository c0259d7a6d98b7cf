// Package config holds capplanner's settings. Values are layered: built-in
// defaults, an optional YAML file, .env files, CAPPLANNER_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/capplanner/internal/loadtest"
	"github.com/FairForge/capplanner/internal/scenario"
)

// Load generator drivers
const (
	DriverK6     = "k6"
	DriverVegeta = "vegeta"
)

type Config struct {
	Target        TargetConfig        `yaml:"target"`
	Run           RunConfig           `yaml:"run"`
	LoadGenerator LoadGeneratorConfig `yaml:"load_generator"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Report        ReportConfig        `yaml:"report"`
	Scenarios     scenario.Table      `yaml:"scenarios" env:"-"`
	LogLevel      string              `yaml:"log_level" env:"LOG_LEVEL"`
}

type TargetConfig struct {
	BaseURL       string        `yaml:"base_url" env:"BASE_URL"`
	FrontendURL   string        `yaml:"frontend_url" env:"FRONTEND_URL"`
	APIToken      string        `yaml:"api_token" env:"API_TOKEN"`
	HealthPath    string        `yaml:"health_path" env:"HEALTH_PATH"`
	APIPaths      []string      `yaml:"api_paths" env:"API_PATHS" envSeparator:","`
	FrontendPaths []string      `yaml:"frontend_paths" env:"FRONTEND_PATHS" envSeparator:","`
	ThinkTime     time.Duration `yaml:"think_time" env:"THINK_TIME"`
}

type RunConfig struct {
	ParallelScenarios bool          `yaml:"parallel_scenarios" env:"PARALLEL_SCENARIOS"`
	MaxParallel       int           `yaml:"max_parallel" env:"MAX_PARALLEL"`
	CoolDown          time.Duration `yaml:"cool_down" env:"COOL_DOWN"`
	TimeoutGrace      time.Duration `yaml:"timeout_grace" env:"TIMEOUT_GRACE"`
	AutoScalingTest   bool          `yaml:"auto_scaling_test" env:"AUTO_SCALING_TEST"`
	WorkDir           string        `yaml:"work_dir" env:"WORK_DIR"`
}

type LoadGeneratorConfig struct {
	Driver string `yaml:"driver" env:"LOAD_GENERATOR"`
	Binary string `yaml:"binary" env:"LOAD_GENERATOR_BINARY"`
}

type MonitoringConfig struct {
	Enabled          bool              `yaml:"enabled" env:"RESOURCE_MONITORING_ENABLED"`
	PrometheusURL    string            `yaml:"prometheus_url" env:"PROMETHEUS_URL"`
	QueryTimeout     time.Duration     `yaml:"query_timeout" env:"PROMETHEUS_QUERY_TIMEOUT"`
	QueriesPerSecond float64           `yaml:"queries_per_second" env:"PROMETHEUS_QPS"`
	FailureThreshold uint32            `yaml:"failure_threshold" env:"PROMETHEUS_FAILURE_THRESHOLD"`
	Queries          map[string]string `yaml:"queries" env:"-"`
	ReplicaQuery     string            `yaml:"replica_query" env:"PROMETHEUS_REPLICA_QUERY"`
}

type ReportConfig struct {
	Dir        string   `yaml:"dir" env:"REPORT_DIR"`
	ArchiveRaw bool     `yaml:"archive_raw" env:"ARCHIVE_RAW"`
	S3         S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket" env:"S3_BUCKET"`
	Prefix    string `yaml:"prefix" env:"S3_PREFIX"`
	Region    string `yaml:"region" env:"S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"S3_SECRET_KEY"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			BaseURL:       "http://localhost:8080",
			HealthPath:    "/health",
			APIPaths:      []string{"/health"},
			FrontendPaths: []string{"/"},
			ThinkTime:     time.Second,
		},
		Run: RunConfig{
			CoolDown:     30 * time.Second,
			TimeoutGrace: 2 * time.Minute,
		},
		LoadGenerator: LoadGeneratorConfig{
			Driver: DriverK6,
		},
		Monitoring: MonitoringConfig{
			QueryTimeout:     10 * time.Second,
			QueriesPerSecond: 5,
			FailureThreshold: 3,
		},
		Report: ReportConfig{
			Dir:        "./capacity-reports",
			ArchiveRaw: true,
		},
		Scenarios: scenario.Defaults(),
		LogLevel:  "info",
	}
}

// LoadFile overlays the YAML file at path onto c. A scenarios list in the
// file replaces the whole table.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// Validate checks the settings needed before any load is generated.
func (c *Config) Validate() error {
	var errs []error

	if err := validateURL("target.base_url", c.Target.BaseURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("target.frontend_url", c.Target.FrontendURL, false); err != nil {
		errs = append(errs, err)
	}
	if len(c.Target.APIPaths) == 0 && len(c.Target.FrontendPaths) == 0 {
		errs = append(errs, errors.New("config: target needs at least one api or frontend path"))
	}
	if c.Target.ThinkTime < 0 {
		errs = append(errs, errors.New("config: target.think_time must not be negative"))
	}

	switch c.LoadGenerator.Driver {
	case DriverK6, DriverVegeta:
	default:
		errs = append(errs, fmt.Errorf("config: unknown load generator %q (want %s or %s)",
			c.LoadGenerator.Driver, DriverK6, DriverVegeta))
	}

	if c.Run.CoolDown < 0 {
		errs = append(errs, errors.New("config: run.cool_down must not be negative"))
	}
	if c.Run.TimeoutGrace <= 0 {
		errs = append(errs, errors.New("config: run.timeout_grace must be positive"))
	}
	if c.Run.MaxParallel < 0 {
		errs = append(errs, errors.New("config: run.max_parallel must not be negative"))
	}

	if c.Monitoring.Enabled {
		if err := validateURL("monitoring.prometheus_url", c.Monitoring.PrometheusURL, true); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Monitoring.QueryTimeout <= 0 {
		errs = append(errs, errors.New("config: monitoring.query_timeout must be positive"))
	}

	if c.Report.Dir == "" {
		errs = append(errs, errors.New("config: report.dir is required"))
	}
	if err := validateURL("report.s3.endpoint", c.Report.S3.Endpoint, false); err != nil {
		errs = append(errs, err)
	}

	if err := c.Scenarios.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: unknown log level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}

// HealthURL is the URL probed before a run.
func (c *Config) HealthURL() string {
	return strings.TrimRight(c.Target.BaseURL, "/") + c.Target.HealthPath
}

// Format is the raw output format of the configured driver.
func (c *Config) Format() loadtest.Format {
	if c.LoadGenerator.Driver == DriverVegeta {
		return loadtest.FormatVegeta
	}
	return loadtest.FormatK6
}

// LoadTarget is the target as the load generator sees it.
func (c *Config) LoadTarget() loadtest.Target {
	return loadtest.Target{
		BaseURL:       c.Target.BaseURL,
		FrontendURL:   c.Target.FrontendURL,
		APIToken:      c.Target.APIToken,
		APIPaths:      c.Target.APIPaths,
		FrontendPaths: c.Target.FrontendPaths,
		ThinkTime:     c.Target.ThinkTime,
	}
}

// Driver builds the configured load generator driver.
func (c *Config) Driver() loadtest.Driver {
	if c.LoadGenerator.Driver == DriverVegeta {
		return loadtest.NewVegetaDriver(c.LoadGenerator.Binary)
	}
	return loadtest.NewK6Driver(c.LoadGenerator.Binary)
}

func validateURL(field, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("config: %s is required", field)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", field, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: %s must be an absolute http(s) URL, got %q", field, raw)
	}
	return nil
}
