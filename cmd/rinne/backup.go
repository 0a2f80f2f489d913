// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/repo"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
	"github.com/rinne-vcs/rinne/internal/zipbackend"
)

func newBackupCmd(cfg *globalConfig) *cobra.Command {
	var message string
	var dest string
	var conflict string

	cmd := &cobra.Command{
		Use:   "backup <source-dir>",
		Short: "save a ZIP-backend snapshot of source-dir, then optionally mirror the whole .rinne tree to dest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, space := openRepo(cfg)
			layout := pathlayout.New(cfg.root)

			matcher, err := loadIgnore(cfg)
			if err != nil {
				return err
			}

			backend := zipbackend.New(layout, space)
			res, err := backend.Save(cmd.Context(), zipbackend.SaveOptions{
				SourceDir: args[0],
				Message:   message,
				Ignore:    matcher,
			})
			if err != nil {
				return err
			}
			fmt.Printf("zip snapshot %s (seq %d) written to %s\n", res.Id, res.Seq, res.ZipAbs)

			if dest == "" {
				return nil
			}

			mode, err := parseConflictMode(conflict)
			if err != nil {
				return err
			}
			if err := repo.CopyRepository(cfg.root, dest, mode); err != nil {
				return err
			}
			fmt.Printf("mirrored .rinne tree to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "message recorded in the snapshot's chain metadata")
	cmd.Flags().StringVar(&dest, "mirror-to", "", "also copy the whole .rinne tree to this repository root")
	cmd.Flags().StringVar(&conflict, "on-conflict", "fail", "when --mirror-to already has a .rinne tree: fail, rename, or clean")

	return cmd
}

func parseConflictMode(s string) (repo.ConflictMode, error) {
	switch s {
	case "fail", "":
		return repo.ConflictFail, nil
	case "rename":
		return repo.ConflictRename, nil
	case "clean":
		return repo.ConflictClean, nil
	default:
		return 0, rinneerr.New("parseConflictMode", rinneerr.KindInvalidArgument, fmt.Errorf("unknown conflict mode %q (want fail, rename, or clean)", s))
	}
}
