// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rinne-vcs/rinne/internal/repo"
)

func newSpaceCmd(cfg *globalConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "space",
		Short: "list or select the repository's current space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := repo.New(cfg.root)
			spaces, err := r.ListSpaces()
			if err != nil {
				return err
			}
			current := r.CurrentSpace()
			if len(spaces) == 0 {
				fmt.Printf("no spaces yet (current: %s)\n", current)
				return nil
			}
			for _, s := range spaces {
				marker := "  "
				if s == current {
					marker = "* "
				}
				fmt.Printf("%s%s\n", marker, s)
			}
			return nil
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "use <name>",
		Short: "select the repository's current space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := repo.New(cfg.root)
			if err := r.SetCurrentSpace(args[0]); err != nil {
				return err
			}
			fmt.Printf("current space set to %q\n", r.CurrentSpace())
			return nil
		},
	})

	return root
}
