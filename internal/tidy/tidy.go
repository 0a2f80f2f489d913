// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package tidy implements Tidy/GC (C14): retention-driven snapshot deletion
// plus blob garbage collection over the CAS store.
package tidy

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rinne-vcs/rinne/internal/atomicfile"
	"github.com/rinne-vcs/rinne/internal/casstore"
	"github.com/rinne-vcs/rinne/internal/manifest"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
	"github.com/rinne-vcs/rinne/internal/snapid"
)

// Selector picks exactly one retention rule, per spec §4.14.
type Selector struct {
	Keep   int       // keep the newest N (delete everything else)
	Latest int       // delete the newest M
	Before time.Time // delete snapshots created before this time
	Match  []string  // delete snapshots whose id matches ALL of these globs
}

// Options configure a single tidy run.
type Options struct {
	Space    string
	Selector Selector
	RunGc    bool
	DryRun   bool
}

// DeleteResult reports the outcome of the deletion phase.
type DeleteResult struct {
	Deleted []string
	Failed  []string
}

// GcResult reports the outcome of the GC phase, per spec §4.14.
type GcResult struct {
	Examined   int
	Deletable  int
	BytesFreed int64
	Candidates []string
}

// Tidier runs retention deletion and GC against one repository.
type Tidier struct {
	layout pathlayout.Layout
	store  *casstore.Store
	log    *zap.Logger
}

// New builds a Tidier.
func New(layout pathlayout.Layout, store *casstore.Store, log *zap.Logger) *Tidier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tidier{layout: layout, store: store, log: log}
}

// ListSnapshotIds returns every CAS snapshot id in space, oldest first.
func (t *Tidier) ListSnapshotIds(space string) ([]string, error) {
	dir := t.layout.SpaceDir(space)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rinneerr.New("tidy.ListSnapshotIds", rinneerr.KindIoFailed, err)
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

// SelectForDeletion computes the set of snapshot ids sel picks for
// deletion, per spec §4.14.
func (t *Tidier) SelectForDeletion(space string, sel Selector) ([]string, error) {
	set := 0
	for _, on := range []bool{sel.Keep > 0, sel.Latest > 0, !sel.Before.IsZero(), len(sel.Match) > 0} {
		if on {
			set++
		}
	}
	if set != 1 {
		return nil, rinneerr.New("tidy.SelectForDeletion", rinneerr.KindInvalidArgument, errNoSelector)
	}

	ids, err := t.ListSnapshotIds(space)
	if err != nil {
		return nil, err
	}

	switch {
	case sel.Keep > 0:
		if sel.Keep >= len(ids) {
			return nil, nil
		}
		return append([]string(nil), ids[:len(ids)-sel.Keep]...), nil

	case sel.Latest > 0:
		n := sel.Latest
		if n > len(ids) {
			n = len(ids)
		}
		return append([]string(nil), ids[len(ids)-n:]...), nil

	case !sel.Before.IsZero():
		var out []string
		for _, id := range ids {
			parsed, err := snapid.Parse(id)
			if err != nil {
				continue
			}
			if parsed.Time.Before(sel.Before) {
				out = append(out, id)
			}
		}
		return out, nil

	case len(sel.Match) > 0:
		var out []string
		for _, id := range ids {
			if matchesAll(id, sel.Match) {
				out = append(out, id)
			}
		}
		return out, nil

	default:
		return nil, rinneerr.New("tidy.SelectForDeletion", rinneerr.KindInvalidArgument, errNoSelector)
	}
}

var errNoSelector = errors.New("tidy: exactly one of keep/latest/before/match must be set")

func matchesAll(id string, globs []string) bool {
	for _, g := range globs {
		ok, err := filepath.Match(g, id)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// Delete removes the snapshot directories and manifests for ids, continuing
// past individual failures and reporting them, per spec §4.14.
func (t *Tidier) Delete(space string, ids []string, dryRun bool) DeleteResult {
	var res DeleteResult
	if dryRun {
		res.Deleted = ids
		return res
	}

	for _, id := range ids {
		snapDir := t.layout.SnapshotDir(space, id)
		manifestPath := t.layout.ManifestFile(id)

		failed := false
		if err := os.RemoveAll(snapDir); err != nil {
			t.log.Warn("failed to delete snapshot dir", zap.String("id", id), zap.Error(err))
			failed = true
		}
		if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
			t.log.Warn("failed to delete manifest", zap.String("id", id), zap.Error(err))
			failed = true
		}

		if failed {
			res.Failed = append(res.Failed, id)
		} else {
			res.Deleted = append(res.Deleted, id)
		}
	}
	return res
}

// Gc scans every manifest remaining under the store's manifests directory,
// computes blob reference counts, and deletes (or, in dry-run mode,
// previews) unreferenced blobs, per spec §4.14.
func (t *Tidier) Gc(dryRun bool) (GcResult, error) {
	refCount, err := t.computeRefCounts()
	if err != nil {
		return GcResult{}, err
	}

	refPath := t.layout.RefcountFile()
	if dryRun {
		refPath = refPath + ".preview"
	}
	data, err := json.MarshalIndent(refCount, "", "  ")
	if err != nil {
		return GcResult{}, rinneerr.New("tidy.Gc", rinneerr.KindIoFailed, err)
	}
	if err := atomicfile.WriteBytes(refPath, true, data); err != nil {
		return GcResult{}, err
	}

	var res GcResult
	err = t.store.WalkBlobs(func(hashHex, path string) error {
		res.Examined++
		if refCount[hashHex] > 0 {
			return nil
		}
		res.Candidates = append(res.Candidates, hashHex)
		res.Deletable++

		info, statErr := os.Stat(path)
		if statErr == nil {
			res.BytesFreed += info.Size()
		}

		if !dryRun {
			if err := t.store.Remove(hashHex); err != nil {
				t.log.Warn("failed to delete unreferenced blob", zap.String("hash", hashHex), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return GcResult{}, rinneerr.New("tidy.Gc", rinneerr.KindIoFailed, err)
	}

	return res, nil
}

func (t *Tidier) computeRefCounts() (map[string]int, error) {
	dir := t.layout.ManifestsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, rinneerr.New("tidy.computeRefCounts", rinneerr.KindIoFailed, err)
	}

	refCount := make(map[string]int)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		m, err := manifest.Unmarshal(data)
		if err != nil {
			t.log.Warn("skipping unreadable manifest during gc", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		for _, f := range m.Files {
			for _, h := range f.ChunkHashes {
				refCount[strings.ToLower(h)]++
			}
		}
	}
	return refCount, nil
}
