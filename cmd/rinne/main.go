// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Command rinne is the CLI dispatcher for the snapshot-based history
// manager: it wires the CAS pipes (compact/restore/tidy/recompose) and the
// convenience read operations (log/show/diff) together, plus the ZIP-backend
// backup/import flow, around a single repository root.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rinne-vcs/rinne/internal/casstore"
	"github.com/rinne-vcs/rinne/internal/filemetacache"
	"github.com/rinne-vcs/rinne/internal/ignore"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/repo"
	"github.com/rinne-vcs/rinne/internal/rinnelog"
)

var (
	version = "dev"
	commit  = "none"
)

// globalConfig holds the persistent flags every subcommand reads.
type globalConfig struct {
	root     string
	space    string
	logLevel string
	zstd     int
	workers  int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &globalConfig{}

	root := &cobra.Command{
		Use:           "rinne",
		Short:         "rinne — snapshot-based history manager for large binary trees",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfg.root, "root", envOrDefault("RINNE_ROOT", "."), "repository root (contains or will contain .rinne/)")
	root.PersistentFlags().StringVar(&cfg.space, "space", envOrDefault("RINNE_SPACE", ""), "space name (empty = repository's current space)")
	root.PersistentFlags().StringVar(&cfg.logLevel, "log-level", envOrDefault("RINNE_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	root.PersistentFlags().IntVar(&cfg.zstd, "zstd-level", 3, "zstd compression level for blob storage")
	root.PersistentFlags().IntVar(&cfg.workers, "workers", 0, "bounded worker count (0 = runtime.NumCPU)")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newCompactCmd(cfg))
	root.AddCommand(newRestoreCmd(cfg))
	root.AddCommand(newLogCmd(cfg))
	root.AddCommand(newShowCmd(cfg))
	root.AddCommand(newDiffCmd(cfg))
	root.AddCommand(newTidyCmd(cfg))
	root.AddCommand(newRecomposeCmd(cfg))
	root.AddCommand(newBackupCmd(cfg))
	root.AddCommand(newImportCmd(cfg))
	root.AddCommand(newSpaceCmd(cfg))

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rinne %s (commit: %s)\n", version, commit)
		},
	}
}

// buildLogger opens the repository's log file (if its directory can be
// created) as an extra zap sink alongside stderr.
func buildLogger(cfg *globalConfig) (*zap.Logger, error) {
	layout := pathlayout.New(cfg.root)
	if err := os.MkdirAll(layout.LogsDir(), 0o755); err != nil {
		return rinnelog.New(rinnelog.Level(cfg.logLevel))
	}
	f, err := os.OpenFile(filepath.Join(layout.LogsDir(), "rinne.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return rinnelog.New(rinnelog.Level(cfg.logLevel))
	}
	return rinnelog.New(rinnelog.Level(cfg.logLevel), zapcore.AddSync(f))
}

func openRepo(cfg *globalConfig) (*repo.Repo, string) {
	r := repo.New(cfg.root)
	space := cfg.space
	if space == "" {
		space = r.CurrentSpace()
	} else {
		space = pathlayout.SanitizeSpace(space)
	}
	return r, space
}

func openStore(cfg *globalConfig) (*casstore.Store, error) {
	layout := pathlayout.New(cfg.root)
	return casstore.New(layout, cfg.zstd, casstore.DefaultDirectoryDepth)
}

func openCache(cfg *globalConfig) (*filemetacache.Cache, error) {
	layout := pathlayout.New(cfg.root)
	if err := os.MkdirAll(layout.StoreMetaDir(), 0o755); err != nil {
		return nil, err
	}
	return filemetacache.Open(filepath.Join(layout.StoreMetaDir(), "filemeta.db"))
}

func loadIgnore(cfg *globalConfig) (*ignore.Matcher, error) {
	layout := pathlayout.New(cfg.root)
	return ignore.NewFromFile(layout.RinneignoreFile())
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
