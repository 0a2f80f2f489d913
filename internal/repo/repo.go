// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package repo provides the space-lifecycle and read-path helpers that back
// rinne's convenience operations (log, show, backup/import), layered on top
// of pathlayout and manifest.
package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rinne-vcs/rinne/internal/atomicfile"
	"github.com/rinne-vcs/rinne/internal/manifest"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
	"github.com/rinne-vcs/rinne/internal/snapid"
)

// Repo is a thin wrapper around a pathlayout.Layout offering repository- and
// space-level operations.
type Repo struct {
	Layout pathlayout.Layout
}

// New builds a Repo rooted at root.
func New(root string) *Repo {
	return &Repo{Layout: pathlayout.New(root)}
}

// ListSpaces returns every space name with a CAS snapshot area on disk,
// sorted lexicographically.
func (r *Repo) ListSpaces() ([]string, error) {
	dir := filepath.Join(r.Layout.SnapshotsDir(), "space")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rinneerr.New("repo.ListSpaces", rinneerr.KindIoFailed, err)
	}
	var spaces []string
	for _, e := range entries {
		if e.IsDir() {
			spaces = append(spaces, e.Name())
		}
	}
	sort.Strings(spaces)
	return spaces, nil
}

// CurrentSpace returns the repository's selected space, defaulting to
// pathlayout.DefaultSpace.
func (r *Repo) CurrentSpace() string {
	return r.Layout.ResolveSpace("")
}

// SetCurrentSpace records name (sanitised) as the repository's selected
// space.
func (r *Repo) SetCurrentSpace(name string) error {
	sanitised := pathlayout.SanitizeSpace(name)
	return atomicfile.WriteBytes(r.Layout.CurrentSpaceFile(), true, []byte(sanitised+"\n"))
}

// SnapshotSummary is one entry in a space's log.
type SnapshotSummary struct {
	Id         string
	FileCount  int
	TotalBytes int64
}

// ListSnapshots returns every CAS snapshot in space, oldest first, with its
// manifest summary, backing the "log" convenience operation.
func (r *Repo) ListSnapshots(space string) ([]SnapshotSummary, error) {
	dir := r.Layout.SpaceDir(space)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rinneerr.New("repo.ListSnapshots", rinneerr.KindIoFailed, err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Slice(ids, func(i, j int) bool { return snapid.Less(ids[i], ids[j]) })

	out := make([]SnapshotSummary, 0, len(ids))
	for _, id := range ids {
		summary := SnapshotSummary{Id: id}
		if m, err := r.readManifest(id); err == nil {
			summary.FileCount = m.FileCount
			summary.TotalBytes = m.TotalBytes
		}
		out = append(out, summary)
	}
	return out, nil
}

// SnapshotDetail is the full descriptive record behind the "show" operation.
type SnapshotDetail struct {
	Id           string
	FileCount    int
	TotalBytes   int64
	AvgSizeBytes int
	MinSizeBytes int
	MaxSizeBytes int
	Root         string
	ChainPos     int // 1-based position among the space's snapshots, 0 if unknown
}

// ShowSnapshot resolves a single snapshot in space to a SnapshotDetail.
func (r *Repo) ShowSnapshot(space, id string) (SnapshotDetail, error) {
	m, err := r.readManifest(id)
	if err != nil {
		return SnapshotDetail{}, err
	}

	detail := SnapshotDetail{
		Id:           id,
		FileCount:    m.FileCount,
		TotalBytes:   m.TotalBytes,
		AvgSizeBytes: m.AvgSizeBytes,
		MinSizeBytes: m.MinSizeBytes,
		MaxSizeBytes: m.MaxSizeBytes,
		Root:         m.Root,
	}

	ids, err := r.ListSnapshots(space)
	if err == nil {
		for i, s := range ids {
			if s.Id == id {
				detail.ChainPos = i + 1
				break
			}
		}
	}
	return detail, nil
}

func (r *Repo) readManifest(id string) (manifest.Manifest, error) {
	data, err := os.ReadFile(r.Layout.ManifestFile(id))
	if err != nil {
		if os.IsNotExist(err) {
			return manifest.Manifest{}, rinneerr.New("repo.readManifest", rinneerr.KindNotFound, err)
		}
		return manifest.Manifest{}, rinneerr.New("repo.readManifest", rinneerr.KindIoFailed, err)
	}
	return manifest.Unmarshal(data)
}

// ConflictMode controls how CopyRepository reacts to a pre-existing
// destination .rinne tree, per spec §9's backup/import open question.
type ConflictMode int

const (
	ConflictFail ConflictMode = iota
	ConflictRename
	ConflictClean
)

// CopyRepository copies srcRoot's .rinne tree to dstRoot's .rinne tree,
// handling a pre-existing destination per mode. This is the primitive a
// layered backup/import operation calls; PathLayout alone cannot express
// what happens on conflict.
func CopyRepository(srcRoot, dstRoot string, mode ConflictMode) error {
	srcDot := pathlayout.New(srcRoot).Dot()
	dstDot := pathlayout.New(dstRoot).Dot()

	if _, err := os.Stat(dstDot); err == nil {
		switch mode {
		case ConflictFail:
			return rinneerr.New("repo.CopyRepository", rinneerr.KindAlreadyExists, fmt.Errorf("destination %q already has a .rinne tree", dstRoot))
		case ConflictRename:
			renamed := dstDot + ".bak"
			if err := os.RemoveAll(renamed); err != nil {
				return rinneerr.New("repo.CopyRepository", rinneerr.KindIoFailed, err)
			}
			if err := os.Rename(dstDot, renamed); err != nil {
				return rinneerr.New("repo.CopyRepository", rinneerr.KindIoFailed, err)
			}
		case ConflictClean:
			if err := os.RemoveAll(dstDot); err != nil {
				return rinneerr.New("repo.CopyRepository", rinneerr.KindIoFailed, err)
			}
		}
	}

	return copyTree(srcDot, dstDot)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(src, path)
		if rerr != nil {
			return rerr
		}
		dest := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(dest, 0o755)
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return rinneerr.New("repo.copyTree", rinneerr.KindIoFailed, rerr)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return rinneerr.New("repo.copyTree", rinneerr.KindIoFailed, err)
		}
		return os.WriteFile(dest, data, 0o644)
	})
}
