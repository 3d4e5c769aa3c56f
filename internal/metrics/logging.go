/*-------------------------------------------------------------------------
 *
 * logging.go
 *    Global logger initialization
 *
 * Copyright (c) 2025-2026, The grow Authors
 *
 * IDENTIFICATION
 *    grow/internal/metrics/logging.go
 *
 *-------------------------------------------------------------------------
 */

package metrics

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

/* InitLogging configures the global zerolog logger to write to stdout */
func InitLogging(level, format, file string) {
	InitLoggingTo(os.Stdout, level, format, file)
}

/* InitLoggingTo is InitLogging with an explicit primary writer */
func InitLoggingTo(w io.Writer, level, format, file string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	out := w
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	if file != "" {
		/* Rotate at 100MB, keep a week of history */
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotating)
	}

	logger := zerolog.New(out).With().Timestamp().Str("service", "grow").Logger()
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
}
