// Package logging constructs the loggers used across todosync.
//
// Every component takes a *log.Logger with a bracketed prefix. When a log
// file is configured, output goes to both stderr and a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"todosync/internal/config"
)

// New creates a logger with the given prefix, e.g. "[hub] ".
func New(prefix string, cfg config.LogConfig) *log.Logger {
	var out io.Writer = os.Stderr

	if cfg.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
	}

	return log.New(out, prefix, log.LstdFlags)
}
