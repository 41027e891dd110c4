package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Configuration struct {
	Server     ServerConfig          `validate:"required"`
	Logging    LoggingConfig         `validate:"required"`
	Postgres   PostgresConfig        `validate:"required"`
	Retention  RetentionConfig       `validate:"required"`
	Deriver    DeriverConfig         `validate:"required"`
	Metrics    ExternalMetricsConfig `validate:"required"`
	Rating     RatingConfig          `validate:"required"`
	Prometheus PrometheusConfig
}

type ServerConfig struct {
	Address string `mapstructure:"address" validate:"required"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

func (c PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

type RetentionConfig struct {
	// EventRetentionDays is the TTL for raw events
	EventRetentionDays int `mapstructure:"event_retention_days" validate:"min=1"`
	// RatedUsageRetentionDays is the TTL for rated usage rows
	RatedUsageRetentionDays int `mapstructure:"rated_usage_retention_days" validate:"min=1"`
}

type DeriverConfig struct {
	// WindowMinutes is the aggregation window size for the deriver
	WindowMinutes int `mapstructure:"window_minutes" validate:"min=1"`
	// BatchSize bounds a single derivation scan
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`
}

func (c DeriverConfig) WindowSize() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

type ExternalMetricsConfig struct {
	// IntervalSec is the pull period for external metric collection
	IntervalSec int `mapstructure:"interval_sec" validate:"min=1"`
	// MaxConcurrent bounds parallel connector runs
	MaxConcurrent int `mapstructure:"max_concurrent" validate:"min=1"`
}

func (c ExternalMetricsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

type RatingConfig struct {
	// WorkerConcurrency bounds parallel per-customer rating
	WorkerConcurrency int `mapstructure:"worker_concurrency" validate:"min=1"`
}

type PrometheusConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	BearerToken string `mapstructure:"bearer_token"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
}

func NewConfig() (*Configuration, error) {
	// Load .env if present; env vars still take precedence via viper
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/kachi")

	v.SetEnvPrefix("KACHI")
	v.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, err
		}
	}

	var config Configuration
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "kachi")
	v.SetDefault("postgres.dbname", "kachi")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_open_conns", 10)
	v.SetDefault("postgres.max_idle_conns", 5)
	v.SetDefault("retention.event_retention_days", 90)
	v.SetDefault("retention.rated_usage_retention_days", 365)
	v.SetDefault("deriver.window_minutes", 5)
	v.SetDefault("deriver.batch_size", 1000)
	v.SetDefault("metrics.interval_sec", 300)
	v.SetDefault("metrics.max_concurrent", 5)
	v.SetDefault("rating.worker_concurrency", 8)
}

func (c Configuration) Validate() error {
	validate := validator.New()
	return validate.Struct(c)
}

// GetDefaultConfig returns a default configuration for tests and scripts
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Server:  ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{Level: "debug"},
		Postgres: PostgresConfig{
			Host: "localhost", Port: 5432, User: "kachi", DBName: "kachi", SSLMode: "disable",
			MaxOpenConns: 10, MaxIdleConns: 5,
		},
		Retention: RetentionConfig{EventRetentionDays: 90, RatedUsageRetentionDays: 365},
		Deriver:   DeriverConfig{WindowMinutes: 5, BatchSize: 1000},
		Metrics:   ExternalMetricsConfig{IntervalSec: 300, MaxConcurrent: 5},
		Rating:    RatingConfig{WorkerConcurrency: 8},
	}
}
