/*-------------------------------------------------------------------------
 *
 * config.go
 *    Configuration loading for grow
 *
 * Configuration is assembled from built-in defaults, an optional YAML
 * file and GROW_* environment variables, in that order of precedence
 * (environment wins).
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/config/config.go
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Logging       LoggingConfig       `yaml:"logging"`
	Meta          MetaConfig          `yaml:"meta"`
	Apify         ApifyConfig         `yaml:"apify"`
	Inference     InferenceConfig     `yaml:"inference"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Approvals     ApprovalsConfig     `yaml:"approvals"`
	Spy           SpyConfig           `yaml:"spy"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CronSecret   string        `yaml:"cron_secret"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database" validate:"required"`
	SSLMode         string        `yaml:"sslmode" validate:"oneof=disable require verify-ca verify-full prefer allow"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

/* ConnString renders a lib/pq key=value connection string */
func (d DatabaseConfig) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode)
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr" validate:"required_if=Enabled true"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"min=0"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format" validate:"oneof=json console"`
	File   string `yaml:"file"`
}

type MetaConfig struct {
	APIBase           string  `yaml:"api_base" validate:"required,url"`
	APIVersion        string  `yaml:"api_version" validate:"required"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"min=1"`
}

type ApifyConfig struct {
	APIBase           string  `yaml:"api_base" validate:"required,url"`
	Token             string  `yaml:"token"`
	ActorID           string  `yaml:"actor_id" validate:"required"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
}

type InferenceConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=openai"`
	Model       string  `yaml:"model" validate:"required"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `yaml:"max_tokens" validate:"min=1"`
}

type NotificationsConfig struct {
	WebhookTimeout   time.Duration `yaml:"webhook_timeout"`
	DashboardBaseURL string        `yaml:"dashboard_base_url"`
}

type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	MaxConcurrent int           `yaml:"max_concurrent" validate:"min=1"`
}

type ApprovalsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type SpyConfig struct {
	PollAttempts int           `yaml:"poll_attempts" validate:"min=1"`
	PollDelay    time.Duration `yaml:"poll_delay"`
}

/* DefaultConfig returns the built-in configuration */
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "grow",
			Database:        "grow",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			LockTTL: 15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Meta: MetaConfig{
			APIBase:           "https://graph.facebook.com",
			APIVersion:        "v25.0",
			RequestsPerSecond: 5,
			Burst:             10,
		},
		Apify: ApifyConfig{
			APIBase:           "https://api.apify.com/v2",
			ActorID:           "apify/facebook-ads-scraper",
			RequestsPerSecond: 2,
		},
		Inference: InferenceConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
		},
		Notifications: NotificationsConfig{
			WebhookTimeout: 10 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			Interval:      5 * time.Minute,
			MaxConcurrent: 4,
		},
		Approvals: ApprovalsConfig{
			TTL:           24 * time.Hour,
			SweepInterval: 15 * time.Minute,
		},
		Spy: SpyConfig{
			PollAttempts: 20,
			PollDelay:    15 * time.Second,
		},
	}
}

/* LoadConfig reads a YAML file over the defaults, then applies environment overrides */
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: path='%s', error=%w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: path='%s', error=%w", path, err)
	}

	LoadFromEnv(cfg)
	return cfg, nil
}

/* Validate checks struct constraints on the loaded configuration */
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid configuration: field='%s', rule='%s', error=%w", first.Namespace(), first.Tag(), err)
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
