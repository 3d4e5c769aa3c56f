/*-------------------------------------------------------------------------
 *
 * connection.go
 *    Database connection management for grow
 *
 * Provides PostgreSQL connection pooling, retry with jittered backoff
 * and health checks.
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/db/connection.go
 *
 *-------------------------------------------------------------------------
 */

package db

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rakshittt/grow/internal/metrics"
)

/* ConnectionInfo holds details about the database connection */
type ConnectionInfo struct {
	Host     string
	Port     int
	Database string
	User     string
}

func (c *ConnectionInfo) String() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s", c.Host, c.Port, c.Database, c.User)
}

/* DB manages PostgreSQL connections */
type DB struct {
	*sqlx.DB
	poolConfig PoolConfig
	connInfo   *ConnectionInfo
}

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

/* NewDB creates a new database instance */
func NewDB(connStr string, poolConfig PoolConfig) (*DB, error) {
	return NewDBWithRetry(connStr, poolConfig, 3, 2*time.Second)
}

/* jitter spreads a delay by +/-25% */
func jitter(delay time.Duration) time.Duration {
	spread := float64(delay) * 0.25
	return delay + time.Duration(spread*(rand.Float64()*2-1))
}

/* NewDBWithRetry creates a new database instance with retry logic */
func NewDBWithRetry(connStr string, poolConfig PoolConfig, maxRetries int, retryDelay time.Duration) (*DB, error) {
	connInfo := parseConnectionInfo(connStr)
	ctx := context.Background()

	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		var conn *sqlx.DB
		conn, err = sqlx.Connect("postgres", connStr)
		if err == nil {
			conn.SetMaxOpenConns(poolConfig.MaxOpenConns)
			conn.SetMaxIdleConns(poolConfig.MaxIdleConns)
			conn.SetConnMaxLifetime(poolConfig.ConnMaxLifetime)
			conn.SetConnMaxIdleTime(poolConfig.ConnMaxIdleTime)

			metrics.InfoWithContext(ctx, "Database connection established", map[string]interface{}{
				"attempt":    attempt + 1,
				"connection": connInfo.Host,
				"database":   connInfo.Database,
			})
			return &DB{DB: conn, poolConfig: poolConfig, connInfo: connInfo}, nil
		}

		if attempt < maxRetries-1 {
			delay := jitter(retryDelay)
			metrics.WarnWithContext(ctx, "Database connection failed, retrying", map[string]interface{}{
				"attempt":     attempt + 1,
				"max_retries": maxRetries,
				"retry_delay": delay.String(),
				"error":       err.Error(),
				"connection":  connInfo.Host,
			})
			time.Sleep(delay)
			retryDelay *= 2
		}
	}

	return nil, fmt.Errorf("failed to connect to %s after %d attempts (last error: %w)", connInfo, maxRetries, err)
}

/* parseConnectionInfo extracts connection information from a key=value connection string */
func parseConnectionInfo(connStr string) *ConnectionInfo {
	info := &ConnectionInfo{
		Host:     "unknown",
		Port:     5432,
		Database: "unknown",
		User:     "unknown",
	}

	for _, part := range strings.Fields(connStr) {
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch key {
		case "host":
			info.Host = value
		case "port":
			fmt.Sscanf(value, "%d", &info.Port)
		case "dbname":
			info.Database = value
		case "user":
			info.User = value
		}
	}

	return info
}

/* GetConnInfoString returns a formatted string of connection details */
func (d *DB) GetConnInfoString() string {
	if d.connInfo == nil {
		return "unknown database connection"
	}
	return d.connInfo.String()
}

/* HealthCheck tests the database connection */
func (d *DB) HealthCheck(ctx context.Context) error {
	if d.DB == nil {
		return fmt.Errorf("database connection not established: %s", d.GetConnInfoString())
	}

	var result int
	if err := d.DB.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check failed on %s: query='SELECT 1', error=%w", d.GetConnInfoString(), err)
	}

	stats := d.DB.Stats()
	metrics.RecordDBPoolStats(d.connInfoDatabase(), stats.OpenConnections, stats.Idle, stats.InUse)
	return nil
}

func (d *DB) connInfoDatabase() string {
	if d.connInfo == nil {
		return "unknown"
	}
	return d.connInfo.Database
}

/* Close closes the pool */
func (d *DB) Close() error {
	if d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
