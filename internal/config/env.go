/*-------------------------------------------------------------------------
 *
 * env.go
 *    Environment variable overrides
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/config/env.go
 *
 *-------------------------------------------------------------------------
 */

package config

import (
	"os"
	"strconv"
	"time"
)

/* LoadFromEnv applies GROW_* environment variables on top of cfg */
func LoadFromEnv(cfg *Config) {
	cfg.Server.Host = getEnv("GROW_SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("GROW_SERVER_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("GROW_SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("GROW_SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.CronSecret = getEnv("GROW_CRON_SECRET", cfg.Server.CronSecret)

	cfg.Database.Host = getEnv("GROW_DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("GROW_DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("GROW_DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("GROW_DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("GROW_DB_NAME", cfg.Database.Database)
	cfg.Database.SSLMode = getEnv("GROW_DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MaxOpenConns = getEnvInt("GROW_DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("GROW_DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Redis.Enabled = getEnvBool("GROW_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("GROW_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("GROW_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("GROW_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.LockTTL = getEnvDuration("GROW_REDIS_LOCK_TTL", cfg.Redis.LockTTL)

	cfg.Logging.Level = getEnv("GROW_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("GROW_LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("GROW_LOG_FILE", cfg.Logging.File)

	cfg.Meta.APIBase = getEnv("GROW_META_API_BASE", cfg.Meta.APIBase)
	cfg.Meta.APIVersion = getEnv("GROW_META_API_VERSION", cfg.Meta.APIVersion)

	cfg.Apify.APIBase = getEnv("GROW_APIFY_API_BASE", cfg.Apify.APIBase)
	cfg.Apify.Token = getEnv("GROW_APIFY_TOKEN", cfg.Apify.Token)
	cfg.Apify.ActorID = getEnv("GROW_APIFY_ACTOR_ID", cfg.Apify.ActorID)

	cfg.Inference.Model = getEnv("GROW_INFERENCE_MODEL", cfg.Inference.Model)
	cfg.Inference.APIKey = getEnv("GROW_OPENAI_API_KEY", cfg.Inference.APIKey)
	cfg.Inference.BaseURL = getEnv("GROW_INFERENCE_BASE_URL", cfg.Inference.BaseURL)

	cfg.Notifications.DashboardBaseURL = getEnv("GROW_DASHBOARD_BASE_URL", cfg.Notifications.DashboardBaseURL)

	cfg.Scheduler.Enabled = getEnvBool("GROW_SCHEDULER_ENABLED", cfg.Scheduler.Enabled)
	cfg.Scheduler.Interval = getEnvDuration("GROW_SCHEDULER_INTERVAL", cfg.Scheduler.Interval)
	cfg.Scheduler.MaxConcurrent = getEnvInt("GROW_SCHEDULER_MAX_CONCURRENT", cfg.Scheduler.MaxConcurrent)

	cfg.Approvals.TTL = getEnvDuration("GROW_APPROVAL_TTL", cfg.Approvals.TTL)
	cfg.Approvals.SweepInterval = getEnvDuration("GROW_APPROVAL_SWEEP_INTERVAL", cfg.Approvals.SweepInterval)

	cfg.Spy.PollAttempts = getEnvInt("GROW_SPY_POLL_ATTEMPTS", cfg.Spy.PollAttempts)
	cfg.Spy.PollDelay = getEnvDuration("GROW_SPY_POLL_DELAY", cfg.Spy.PollDelay)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
