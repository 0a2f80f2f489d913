// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/txrestore"
)

func newImportCmd(cfg *globalConfig) *cobra.Command {
	var workingTree string

	cmd := &cobra.Command{
		Use:   "import <zip-path>",
		Short: "transactionally overlay a ZIP-backend snapshot onto a working tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			matcher, err := loadIgnore(cfg)
			if err != nil {
				return err
			}

			zr, err := zip.OpenReader(args[0])
			if err != nil {
				return err
			}
			defer zr.Close()

			if workingTree == "" {
				workingTree = cfg.root
			}

			entries := make([]txrestore.Entry, 0, len(zr.File))
			for _, f := range zr.File {
				if f.FileInfo().IsDir() {
					continue
				}
				f := f
				entries = append(entries, txrestore.Entry{
					RelativePath: f.Name,
					Open: func() (io.ReadCloser, error) {
						return f.Open()
					},
				})
			}

			layout := pathlayout.New(cfg.root)
			if err := txrestore.Run(cmd.Context(), layout, txrestore.Options{
				WorkingTree: workingTree,
				Entries:     entries,
				Ignore:      matcher,
			}); err != nil {
				return err
			}
			fmt.Printf("imported %s onto %s\n", args[0], workingTree)
			return nil
		},
	}

	cmd.Flags().StringVar(&workingTree, "working-tree", "", "working tree to overlay (default: --root)")

	return cmd
}
