// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger.
//
// The dashboard owns the terminal, so logs go to a JSON file under
// ~/.billdash by default. Verbose mode tees a console encoder to stderr for
// the one-shot CLI commands.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	// Level is debug, info, warn or error.
	Level string
	// File is the log file path. Empty selects ~/.billdash/billdash.log;
	// "-" disables the file.
	File string
	// Verbose also writes human-readable logs to stderr.
	Verbose bool
}

// DefaultFile returns ~/.billdash/billdash.log.
func DefaultFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".billdash", "billdash.log"), nil
}

// ParseLevel converts a level name. Unknown names are an error.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// New builds a logger from opts and installs it as the zap global.
// The returned func flushes and closes the log file.
func New(opts Options) (*zap.Logger, func(), error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	level := zap.NewAtomicLevelAt(lvl)

	var (
		cores   []zapcore.Core
		closers []func()
	)

	if opts.File != "-" {
		path := opts.File
		if path == "" {
			if path, err = DefaultFile(); err != nil {
				return nil, nil, fmt.Errorf("locate log file: %w", err)
			}
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		closers = append(closers, func() { _ = f.Close() })

		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}

	if opts.Verbose {
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level))
	}

	if len(cores) == 0 {
		logger := zap.NewNop()
		return logger, func() {}, nil
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller()).Named("billdash")
	undo := zap.ReplaceGlobals(logger)

	cleanup := func() {
		_ = logger.Sync()
		undo()
		for _, c := range closers {
			c()
		}
	}
	return logger, cleanup, nil
}
