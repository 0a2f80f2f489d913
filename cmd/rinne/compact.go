// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rinne-vcs/rinne/internal/atomicfile"
	"github.com/rinne-vcs/rinne/internal/compact"
	"github.com/rinne-vcs/rinne/internal/fastcdc"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/snapid"
)

// snapshotMeta mirrors the SnapshotMeta JSON document from spec §6.
type snapshotMeta struct {
	V            int    `json:"v"`
	HashAlg      string `json:"hashAlg"`
	SnapshotHash string `json:"snapshotHash"`
	FileCount    int    `json:"fileCount"`
	TotalBytes   int64  `json:"totalBytes"`
}

func newCompactCmd(cfg *globalConfig) *cobra.Command {
	var fullHashCheck bool
	var avgSize, minSize, maxSize int
	var message string

	cmd := &cobra.Command{
		Use:   "compact <source-dir>",
		Short: "chunk and deduplicate a directory into the CAS store as a new snapshot",
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
			cache, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer cache.Close()

			matcher, err := loadIgnore(cfg)
			if err != nil {
				return err
			}

			_, space := openRepo(cfg)
			id, err := snapid.NewTimeUUID(snapid.SystemClock{})
			if err != nil {
				return err
			}

			layout := pathlayout.New(cfg.root)
			manifestPath := layout.ManifestFile(id)
			if err := os.MkdirAll(layout.ManifestsDir(), 0o755); err != nil {
				return err
			}

			pipe := compact.New(store, cache, log)
			m, err := pipe.Run(cmd.Context(), compact.Options{
				InputDir:      args[0],
				ManifestPath:  manifestPath,
				Workers:       cfg.workers,
				ZstdLevel:     cfg.zstd,
				Chunker:       fastcdc.Params{AvgSize: avgSize, MinSize: minSize, MaxSize: maxSize},
				FullHashCheck: fullHashCheck,
				Ignore:        matcher,
			})
			if err != nil {
				return err
			}

			snapDir := layout.SnapshotDir(space, id)
			if err := os.MkdirAll(snapDir, 0o755); err != nil {
				return err
			}
			meta := snapshotMeta{V: 1, HashAlg: "sha256", SnapshotHash: m.OriginalSha256, FileCount: m.FileCount, TotalBytes: m.TotalBytes}
			data, err := json.MarshalIndent(meta, "", "  ")
			if err != nil {
				return err
			}
			if err := atomicfile.WriteBytes(layout.SnapshotMetaFile(space, id), true, data); err != nil {
				return err
			}
			if message != "" {
				if err := atomicfile.WriteBytes(layout.SnapshotNoteFile(space, id), true, []byte(message)); err != nil {
					return err
				}
			}

			fmt.Printf("snapshot %s created in space %q (%d files, %d bytes)\n", id, space, m.FileCount, m.TotalBytes)
			return nil
		},
	}

	cmd.Flags().BoolVar(&fullHashCheck, "full-hash-check", false, "re-verify whole-file hash before trusting the file meta cache")
	cmd.Flags().IntVar(&avgSize, "chunk-avg", 1<<16, "target average chunk size in bytes")
	cmd.Flags().IntVar(&minSize, "chunk-min", 1<<13, "minimum chunk size in bytes")
	cmd.Flags().IntVar(&maxSize, "chunk-max", 1<<19, "maximum chunk size in bytes")
	cmd.Flags().StringVar(&message, "message", "", "optional note recorded alongside the snapshot")

	return cmd
}
