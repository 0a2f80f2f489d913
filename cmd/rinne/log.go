// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLogCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "log",
		Short: "list a space's snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, space := openRepo(cfg)
			snaps, err := r.ListSnapshots(space)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Printf("space %q has no snapshots\n", space)
				return nil
			}
			for _, s := range snaps {
				fmt.Printf("%s  files=%d  bytes=%d\n", s.Id, s.FileCount, s.TotalBytes)
			}
			return nil
		},
	}
}

func newShowCmd(cfg *globalConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show <snapshot-id>",
		Short: "print a single snapshot's details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, space := openRepo(cfg)
			detail, err := r.ShowSnapshot(space, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("id:          %s\n", detail.Id)
			fmt.Printf("space:       %s\n", space)
			fmt.Printf("position:    %d\n", detail.ChainPos)
			fmt.Printf("files:       %d\n", detail.FileCount)
			fmt.Printf("totalBytes:  %d\n", detail.TotalBytes)
			fmt.Printf("avgSize:     %d\n", detail.AvgSizeBytes)
			fmt.Printf("minSize:     %d\n", detail.MinSizeBytes)
			fmt.Printf("maxSize:     %d\n", detail.MaxSizeBytes)
			fmt.Printf("root:        %s\n", detail.Root)
			return nil
		},
	}
}
