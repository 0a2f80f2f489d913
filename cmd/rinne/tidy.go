// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/tidy"
)

func newTidyCmd(cfg *globalConfig) *cobra.Command {
	var keep, latest int
	var before string
	var match []string
	var runGc, dryRun bool

	cmd := &cobra.Command{
		Use:   "tidy",
		Short: "delete snapshots by retention policy, then garbage-collect unreferenced blobs",
		Args:  cobra.NoArgs,
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
			_, space := openRepo(cfg)

			sel := tidy.Selector{Keep: keep, Latest: latest, Match: match}
			if before != "" {
				t, perr := time.Parse(time.RFC3339, before)
				if perr != nil {
					return perr
				}
				sel.Before = t
			}

			tidier := tidy.New(layout, store, log)
			ids, err := tidier.SelectForDeletion(space, sel)
			if err != nil {
				return err
			}

			delRes := tidier.Delete(space, ids, dryRun)
			fmt.Printf("deleted %d snapshots, %d failed\n", len(delRes.Deleted), len(delRes.Failed))

			if runGc {
				gcRes, err := tidier.Gc(dryRun)
				if err != nil {
					return err
				}
				fmt.Printf("gc: examined=%d deletable=%d bytesFreed=%d\n", gcRes.Examined, gcRes.Deletable, gcRes.BytesFreed)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 0, "keep the newest N snapshots, delete the rest")
	cmd.Flags().IntVar(&latest, "latest", 0, "delete the newest N snapshots")
	cmd.Flags().StringVar(&before, "before", "", "delete snapshots created before this RFC3339 timestamp")
	cmd.Flags().StringArrayVar(&match, "match", nil, "delete snapshots whose id matches all of these globs (repeatable)")
	cmd.Flags().BoolVar(&runGc, "gc", false, "also run blob garbage collection after deletion")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview without deleting anything")

	return cmd
}
