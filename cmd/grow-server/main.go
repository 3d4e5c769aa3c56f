/*-------------------------------------------------------------------------
 *
 * main.go
 *    Main entry point for the grow server
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/cmd/grow-server/main.go
 *
 *-------------------------------------------------------------------------
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rakshittt/grow/internal/api"
	"github.com/rakshittt/grow/internal/app"
	"github.com/rakshittt/grow/internal/db"
	"github.com/rakshittt/grow/internal/metrics"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion    = flag.Bool("version", false, "Show version information")
		configPath     = flag.String("c", "", "Path to configuration file")
		configPathLong = flag.String("config", "", "Path to configuration file")
		skipMigrate    = flag.Bool("skip-migrate", false, "Do not apply pending migrations at startup")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "grow server - ad optimizer and competitor spy with approval gates\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nConfiguration:\n")
		fmt.Fprintf(os.Stderr, "  - Command line flag: -c or --config\n")
		fmt.Fprintf(os.Stderr, "  - Environment variable: CONFIG_PATH\n")
		fmt.Fprintf(os.Stderr, "  - GROW_* environment variables\n")
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("grow-server version %s\n", version)
		fmt.Printf("Build date: %s\n", buildDate)
		fmt.Printf("Git commit: %s\n", gitCommit)
		os.Exit(0)
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = *configPathLong
	}
	cfg, err := app.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	metrics.InitLogging(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	ctx := context.Background()

	a, err := app.New(ctx, cfg)
	if err != nil {
		metrics.ErrorWithContext(ctx, "Failed to initialize components", err, nil)
		os.Exit(1)
	}
	defer a.Close()

	if !*skipMigrate {
		applied, err := db.Migrate(ctx, a.DB.DB)
		if err != nil {
			metrics.ErrorWithContext(ctx, "Failed to apply migrations", err, nil)
			os.Exit(1)
		}
		metrics.InfoWithContext(ctx, "Migrations applied", map[string]interface{}{"applied": applied})
	}

	handlers := api.NewHandlers(a.Queries, a.Approvals, a.Service, a.Health)
	router := api.NewRouter(handlers, cfg.Server.CronSecret)
	if cfg.Server.CronSecret == "" {
		metrics.WarnWithContext(ctx, "Cron secret is empty; cron routes are disabled", nil)
	}

	/* Start background workers */
	if cfg.Scheduler.Enabled {
		sched := a.Scheduler()
		sched.Start()
		defer sched.Stop()
	}
	sweeper := a.Sweeper()
	sweeper.Start()
	defer sweeper.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		metrics.InfoWithContext(ctx, "Server starting", map[string]interface{}{
			"addr":    addr,
			"version": version,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		metrics.InfoWithContext(ctx, "Shutting down server", map[string]interface{}{"signal": sig.String()})
	case err := <-serverErr:
		metrics.ErrorWithContext(ctx, "Server failed", err, map[string]interface{}{"addr": addr})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		metrics.WarnWithContext(ctx, "Server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}

	metrics.InfoWithContext(ctx, "Server exited", nil)
}
