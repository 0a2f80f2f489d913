// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package rinnelog builds the zap logger shared by every pipe. Nothing in
// rinne reaches for a package-level logger — New returns a *zap.Logger that
// callers thread through pipe constructors explicitly, the same arrangement
// the backup-agent this module is patterned after uses for its own workers.
package rinnelog

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the four levels rinne's CLI exposes; anything finer-grained
// than zap's own levels is unnecessary for a single-process CLI tool.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func (l Level) zapLevel() (zapcore.Level, error) {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("rinnelog: unknown level %q", l)
	}
}

// New builds a logger writing console-encoded entries to stderr and
// JSON-encoded entries to each of extraSinks. extraSinks is typically the repository's .rinne/logs/ file, opened
// by the caller — log-file redirection itself is an external collaborator
// per the spec, so this package only accepts the already-opened sink.
func New(level Level, extraSinks ...zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := level.zapLevel()
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(zapcore.AddSync(os.Stderr)), lvl),
	}
	for _, sink := range extraSinks {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, lvl))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// Nop returns a logger that discards everything, for callers (and tests)
// that do not care about diagnostics.
func Nop() *zap.Logger { return zap.NewNop() }
