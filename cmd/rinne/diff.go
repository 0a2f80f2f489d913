// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rinne-vcs/rinne/internal/manifest"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
)

func newDiffCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <old-snapshot-id> <new-snapshot-id>",
		Short: "structurally compare two snapshots' manifests",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout := pathlayout.New(cfg.root)

			oldM, err := readManifest(layout.ManifestFile(args[0]))
			if err != nil {
				return err
			}
			newM, err := readManifest(layout.ManifestFile(args[1]))
			if err != nil {
				return err
			}

			d := manifest.Compare(oldM, newM)
			for _, p := range d.Added {
				fmt.Printf("+ %s\n", p)
			}
			for _, p := range d.Removed {
				fmt.Printf("- %s\n", p)
			}
			for _, p := range d.Modified {
				fmt.Printf("~ %s\n", p)
			}
			if len(d.Added)+len(d.Removed)+len(d.Modified) == 0 {
				fmt.Println("no differences")
			}
			return nil
		},
	}
}

func readManifest(path string) (manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manifest.Manifest{}, err
	}
	return manifest.Unmarshal(data)
}
