// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package recompose implements Recompose (C13): merging one or more source
// snapshots (each possibly in a different space) left-wins into a new
// snapshot in a target space.
package recompose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rinne-vcs/rinne/internal/casstore"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/restore"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
	"github.com/rinne-vcs/rinne/internal/snapid"
)

// Source names one snapshot to merge in, by space and selector.
type Source struct {
	Space         string
	Id            string // exact id or unique prefix; empty if using NthFromNewest
	NthFromNewest int    // 1 = newest; used only when Id == ""
}

// Options configure a single recompose run.
type Options struct {
	TargetSpace      string
	Sources          []Source
	EphemeralHydrate bool
	AutoHydrate      bool
	Clock            snapid.Clock
}

// Recomposer resolves sources and merges them into a target space.
type Recomposer struct {
	layout pathlayout.Layout
	store  *casstore.Store
	log    *zap.Logger
}

// New builds a Recomposer.
func New(layout pathlayout.Layout, store *casstore.Store, log *zap.Logger) *Recomposer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recomposer{layout: layout, store: store, log: log}
}

// ListSnapshotIds returns the snapshot ids present under a CAS space, in
// creation order (oldest first).
func (r *Recomposer) ListSnapshotIds(space string) ([]string, error) {
	dir := r.layout.SpaceDir(space)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rinneerr.New("recompose.ListSnapshotIds", rinneerr.KindIoFailed, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Slice(ids, func(i, j int) bool { return snapid.Less(ids[i], ids[j]) })
	return ids, nil
}

// ResolveSelector implements spec §4.13's selector resolution: exact id
// wins; else a unique prefix among the space's ids; else nth-from-newest.
func (r *Recomposer) ResolveSelector(space string, src Source) (string, error) {
	ids, err := r.ListSnapshotIds(space)
	if err != nil {
		return "", err
	}

	if src.Id != "" {
		for _, id := range ids {
			if id == src.Id {
				return id, nil
			}
		}
		var matches []string
		for _, id := range ids {
			if strings.HasPrefix(id, src.Id) {
				matches = append(matches, id)
			}
		}
		if len(matches) == 1 {
			return matches[0], nil
		}
		if len(matches) > 1 {
			return "", rinneerr.New("recompose.ResolveSelector", rinneerr.KindAmbiguousSelector, fmt.Errorf("selector %q matches %d snapshots in space %q", src.Id, len(matches), space))
		}
		return "", rinneerr.New("recompose.ResolveSelector", rinneerr.KindNotFound, fmt.Errorf("no snapshot matching %q in space %q", src.Id, space))
	}

	if src.NthFromNewest > 0 {
		if src.NthFromNewest > len(ids) {
			return "", rinneerr.New("recompose.ResolveSelector", rinneerr.KindOutOfRange, fmt.Errorf("space %q has only %d snapshots, requested %d-from-newest", space, len(ids), src.NthFromNewest))
		}
		return ids[len(ids)-src.NthFromNewest], nil
	}

	return "", rinneerr.New("recompose.ResolveSelector", rinneerr.KindInvalidArgument, fmt.Errorf("source for space %q has neither an id nor NthFromNewest", space))
}

// Run resolves every source, stages a left-wins merge of their payloads, and
// moves the result into place as a new snapshot in opts.TargetSpace.
func (r *Recomposer) Run(ctx context.Context, opts Options) (string, error) {
	stageUUID, err := uuid.NewRandom()
	if err != nil {
		return "", rinneerr.New("recompose.Run", rinneerr.KindIoFailed, err)
	}

	targetDir := r.layout.SpaceDir(opts.TargetSpace)
	stageRoot := filepath.Join(targetDir, fmt.Sprintf(".recompose_tmp_%s", stageUUID.String()))
	stagePayload := filepath.Join(stageRoot, "snapshots")

	if err := os.MkdirAll(stagePayload, 0o755); err != nil {
		return "", rinneerr.New("recompose.Run", rinneerr.KindIoFailed, err)
	}

	var tempHydrates []string
	cleanup := func() {
		os.RemoveAll(stageRoot)
		for _, d := range tempHydrates {
			os.RemoveAll(d)
		}
	}

	for _, src := range opts.Sources {
		resolvedId, err := r.ResolveSelector(src.Space, src)
		if err != nil {
			cleanup()
			return "", err
		}

		sourceTree, tempDir, err := r.hydrate(ctx, src.Space, resolvedId, opts)
		if err != nil {
			cleanup()
			return "", err
		}
		if tempDir != "" {
			tempHydrates = append(tempHydrates, tempDir)
		}

		if err := mergeLeftWins(sourceTree, stagePayload); err != nil {
			cleanup()
			return "", err
		}
	}

	newId, err := snapid.NewTimeUUID(opts.Clock)
	if err != nil {
		cleanup()
		return "", err
	}

	finalDir := r.layout.SnapshotDir(opts.TargetSpace, newId)
	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		cleanup()
		return "", rinneerr.New("recompose.Run", rinneerr.KindIoFailed, err)
	}
	if err := os.Rename(stageRoot, finalDir); err != nil {
		cleanup()
		return "", rinneerr.New("recompose.Run", rinneerr.KindIoFailed, err)
	}

	for _, d := range tempHydrates {
		os.RemoveAll(d)
	}

	r.log.Info("recompose finished", zap.String("targetSpace", opts.TargetSpace), zap.String("newId", newId), zap.Int("sources", len(opts.Sources)))
	return newId, nil
}

// hydrate returns a readable source tree for (space, id): the materialised
// payload dir if present, else an ephemeral/auto hydrate via RestorePipe, per
// spec §4.13 step 1. tempDir is non-empty only for ephemeral hydrates, so
// the caller can clean it up after merging.
func (r *Recomposer) hydrate(ctx context.Context, space, id string, opts Options) (string, string, error) {
	payloadDir := r.layout.SnapshotPayloadDir(space, id)
	if info, err := os.Stat(payloadDir); err == nil && info.IsDir() {
		return payloadDir, "", nil
	}

	manifestPath := r.layout.ManifestFile(id)
	if _, err := os.Stat(manifestPath); err != nil {
		return "", "", rinneerr.New("recompose.hydrate", rinneerr.KindNotFound, fmt.Errorf("no manifest for snapshot %s in space %s", id, space))
	}

	if opts.EphemeralHydrate {
		tmp, err := os.MkdirTemp(r.layout.TempDir(), "recompose_hydrate_")
		if err != nil {
			return "", "", rinneerr.New("recompose.hydrate", rinneerr.KindIoFailed, err)
		}
		rp := restore.New(r.store, r.log)
		if err := rp.Run(ctx, restore.Options{ManifestPath: manifestPath, OutputDir: tmp}); err != nil {
			os.RemoveAll(tmp)
			return "", "", err
		}
		return tmp, tmp, nil
	}

	if opts.AutoHydrate {
		rp := restore.New(r.store, r.log)
		if err := rp.Run(ctx, restore.Options{ManifestPath: manifestPath, OutputDir: payloadDir}); err != nil {
			return "", "", err
		}
		return payloadDir, "", nil
	}

	return "", "", rinneerr.New("recompose.hydrate", rinneerr.KindInvalidArgument, fmt.Errorf("snapshot %s in space %s has no materialised payload and neither hydrate option is set", id, space))
}

// mergeLeftWins copies every file under srcDir into dstDir, skipping any
// relative path that already exists in dstDir, per spec §4.13 step 3.
func mergeLeftWins(srcDir, dstDir string) error {
	return filepath.WalkDir(srcDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, rerr := filepath.Rel(srcDir, path)
		if rerr != nil {
			return rerr
		}
		if rel == ".rinne" || strings.HasPrefix(rel, ".rinne"+string(filepath.Separator)) {
			return nil
		}

		dest := filepath.Join(dstDir, rel)
		if d.IsDir() {
			if _, err := os.Stat(dest); err == nil {
				return nil
			}
			return os.MkdirAll(dest, 0o755)
		}

		if _, err := os.Stat(dest); err == nil {
			return nil // left-wins: already present from an earlier source
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		return copyFile(path, dest)
	})
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return rinneerr.New("recompose.copyFile", rinneerr.KindIoFailed, err)
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return rinneerr.New("recompose.copyFile", rinneerr.KindIoFailed, err)
	}
	return nil
}
