/*-------------------------------------------------------------------------
 *
 * app.go
 *    Component wiring shared by the server and the operator CLI
 *
 * Builds the database pool, stores, collaborator clients, run locker and
 * orchestration service from configuration, and releases them in
 * reverse order on Close.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/app/app.go
 *
 *-------------------------------------------------------------------------
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rakshittt/grow/internal/agents"
	"github.com/rakshittt/grow/internal/approval"
	"github.com/rakshittt/grow/internal/clients/adplatform"
	"github.com/rakshittt/grow/internal/clients/inference"
	"github.com/rakshittt/grow/internal/clients/scraper"
	"github.com/rakshittt/grow/internal/config"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
	"github.com/rakshittt/grow/internal/notifications"
	"github.com/rakshittt/grow/internal/optimizer"
	"github.com/rakshittt/grow/internal/scheduler"
	"github.com/rakshittt/grow/internal/spy"
	"github.com/rakshittt/grow/internal/workflow"
	"github.com/redis/go-redis/v9"
)

type App struct {
	Config      *config.Config
	DB          *db.DB
	Queries     *db.Queries
	Approvals   approval.Store
	Checkpoints workflow.CheckpointStore
	Service     *agents.Service

	closers []func() error
}

/* OpenDB connects to Postgres only; enough for migrations */
func OpenDB(cfg *config.Config) (*db.DB, error) {
	database, err := db.NewDB(cfg.Database.ConnString(), db.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return nil, err
	}
	return database, nil
}

/* New builds every component the pipelines need */
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	shutdownTracing := InitTracing("grow")
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdownTracing(sctx)
	})

	database, err := OpenDB(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)

	a.Queries = db.NewQueries(database.DB)
	a.Approvals = approval.NewPostgresStore(a.Queries, cfg.Approvals.TTL, time.Now)
	a.Checkpoints = workflow.NewPostgresCheckpointStore(a.Queries)

	locker, err := a.locker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	model, err := inference.NewOpenAIModel(cfg.Inference)
	if err != nil {
		a.Close()
		return nil, err
	}
	llm, err := inference.NewLLMService(model, cfg.Inference)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Apify.Token == "" {
		metrics.WarnWithContext(ctx, "Apify token is not configured; spy runs will fail to trigger", nil)
	}
	notifier := notifications.NewSlackNotifier(notifications.NewWebhookSender(cfg.Notifications.WebhookTimeout))

	svc, err := agents.NewService(agents.Config{
		Store:       a.Queries,
		Approvals:   a.Approvals,
		Checkpoints: a.Checkpoints,
		Locker:      locker,
		Optimizer: optimizer.Deps{
			Platform:  adplatform.NewMetaClient(cfg.Meta),
			Inference: llm,
		},
		Spy: spy.Deps{
			Scraper:          scraper.NewApifyClient(cfg.Apify),
			Inference:        llm,
			Notifier:         notifier,
			PollAttempts:     cfg.Spy.PollAttempts,
			PollDelay:        cfg.Spy.PollDelay,
			DashboardBaseURL: cfg.Notifications.DashboardBaseURL,
		},
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

/* locker picks Redis when configured so several replicas share run locks */
func (a *App) locker(ctx context.Context) (workflow.Locker, error) {
	rc := a.Config.Redis
	if !rc.Enabled {
		return workflow.NewLocalLocker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: addr='%s', error=%w", rc.Addr, err)
	}
	a.closers = append(a.closers, client.Close)

	metrics.InfoWithContext(ctx, "Using Redis run locks", map[string]interface{}{"addr": rc.Addr})
	return workflow.NewRedisLocker(client, rc.LockTTL), nil
}

func (a *App) Scheduler() *scheduler.Scheduler {
	return scheduler.New(a.Service, a.Config.Scheduler.Interval)
}

/* Sweeper expires stale approvals and lets their runs continue */
func (a *App) Sweeper() *approval.Sweeper {
	return approval.NewSweeper(a.Approvals, a.Config.Approvals.SweepInterval, time.Now, a.Service.ContinueAfterExpiry)
}

/* Health checks the database pool */
func (a *App) Health(ctx context.Context) error {
	return a.DB.HealthCheck(ctx)
}

/* Close releases resources in reverse order of acquisition */
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

/*
 * LoadConfig resolves configuration from a file path, falling back to
 * CONFIG_PATH and then to defaults with environment overrides. The
 * result is always validated.
 */
func LoadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: path='%s', error=%w", path, err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
		config.LoadFromEnv(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
