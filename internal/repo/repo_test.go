// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rinne-vcs/rinne/internal/manifest"
)

func writeManifest(t *testing.T, l interface{ ManifestFile(string) string }, id string, m manifest.Manifest) {
	t.Helper()
	data, err := manifest.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	path := l.ManifestFile(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSetCurrentSpaceThenResolve(t *testing.T) {
	r := New(t.TempDir())
	if got := r.CurrentSpace(); got != "main" {
		t.Fatalf("expected default space main, got %q", got)
	}
	if err := r.SetCurrentSpace("Feature/One"); err != nil {
		t.Fatal(err)
	}
	if got := r.CurrentSpace(); got != "Feature-One" {
		t.Fatalf("expected sanitised current space, got %q", got)
	}
}

func TestListSpacesAndSnapshots(t *testing.T) {
	r := New(t.TempDir())

	for _, sp := range []string{"main", "staging"} {
		if err := os.MkdirAll(r.Layout.SpaceDir(sp), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	ids := []string{"00000001_20260101T000000000", "00000002_20260102T000000000"}
	for _, id := range ids {
		if err := os.MkdirAll(r.Layout.SnapshotDir("main", id), 0o755); err != nil {
			t.Fatal(err)
		}
		writeManifest(t, r.Layout, id, manifest.Manifest{
			Version:   "cas:2",
			Root:      "deadbeef",
			FileCount: 3,
		})
	}

	spaces, err := r.ListSpaces()
	if err != nil {
		t.Fatal(err)
	}
	if len(spaces) != 2 || spaces[0] != "main" || spaces[1] != "staging" {
		t.Fatalf("unexpected spaces: %v", spaces)
	}

	snaps, err := r.ListSnapshots("main")
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].Id != ids[0] || snaps[1].Id != ids[1] {
		t.Fatalf("expected snapshots ordered oldest first, got %+v", snaps)
	}
	if snaps[0].FileCount != 3 {
		t.Fatalf("expected manifest summary to be attached, got %+v", snaps[0])
	}
}

func TestShowSnapshotReportsChainPosition(t *testing.T) {
	r := New(t.TempDir())
	ids := []string{"00000001_20260101T000000000", "00000002_20260102T000000000"}
	for i, id := range ids {
		if err := os.MkdirAll(r.Layout.SnapshotDir("main", id), 0o755); err != nil {
			t.Fatal(err)
		}
		writeManifest(t, r.Layout, id, manifest.Manifest{
			Version:   "cas:2",
			Root:      "hash",
			FileCount: i + 1,
		})
	}

	detail, err := r.ShowSnapshot("main", ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if detail.ChainPos != 2 {
		t.Fatalf("expected chain position 2, got %d", detail.ChainPos)
	}
	if detail.FileCount != 2 {
		t.Fatalf("expected file count from manifest, got %d", detail.FileCount)
	}
}

func TestCopyRepositoryConflictModes(t *testing.T) {
	src := t.TempDir()
	srcLayout := New(src).Layout
	if err := os.MkdirAll(srcLayout.ConfigDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcLayout.ConfigDir(), "version.txt"), []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	if err := CopyRepository(src, dst, ConflictFail); err != nil {
		t.Fatal(err)
	}
	dstLayout := New(dst).Layout
	if _, err := os.Stat(filepath.Join(dstLayout.ConfigDir(), "version.txt")); err != nil {
		t.Fatalf("expected version.txt copied: %v", err)
	}

	if err := CopyRepository(src, dst, ConflictFail); err == nil {
		t.Fatal("expected conflict error on second copy with ConflictFail")
	}

	if err := CopyRepository(src, dst, ConflictClean); err != nil {
		t.Fatalf("expected ConflictClean to succeed: %v", err)
	}
}
