// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/restore"
)

func newRestoreCmd(cfg *globalConfig) *cobra.Command {
	var selectors []string
	var outDir string

	cmd := &cobra.Command{
		Use:   "restore <snapshot-id>",
		Short: "materialise a snapshot's manifest back into a directory tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := buildLogger(cfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			store, err := openStore(cfg)
			if err != nil {
				return err
			}

			layout := pathlayout.New(cfg.root)
			id := args[0]

			if outDir == "" {
				outDir = "."
			}

			pipe := restore.New(store, log)
			err = pipe.Run(cmd.Context(), restore.Options{
				ManifestPath: layout.ManifestFile(id),
				OutputDir:    outDir,
				Workers:      cfg.workers,
				Selectors:    selectors,
			})
			if err != nil {
				return err
			}
			fmt.Printf("snapshot %s restored into %s\n", id, outDir)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&selectors, "selector", nil, "restrict restore to this path or path-prefix (repeatable)")
	cmd.Flags().StringVar(&outDir, "out", "", "destination directory (default: current directory)")

	return cmd
}
