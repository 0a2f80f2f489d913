// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rinne-vcs/rinne/internal/casstore"
	"github.com/rinne-vcs/rinne/internal/compact"
	"github.com/rinne-vcs/rinne/internal/fastcdc"
	"github.com/rinne-vcs/rinne/internal/filemetacache"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
)

func setupRoundTrip(t *testing.T) (store *casstore.Store, manifestPath string, layout pathlayout.Layout) {
	t.Helper()
	root := t.TempDir()
	layout = pathlayout.New(root)

	var err error
	store, err = casstore.New(layout, 3, casstore.DefaultDirectoryDepth)
	if err != nil {
		t.Fatal(err)
	}
	cache, err := filemetacache.Open(filepath.Join(root, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })

	input := t.TempDir()
	if err := os.MkdirAll(filepath.Join(input, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(input, "a.txt"), []byte("root file contents for restore round trip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(input, "sub", "b.txt"), []byte("nested file contents, a bit longer so chunking has something to do"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(input, "empty.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	manifestPath = filepath.Join(root, "manifest.json")
	pipe := compact.New(store, cache, nil)
	_, err = pipe.Run(context.Background(), compact.Options{
		InputDir:     input,
		ManifestPath: manifestPath,
		Workers:      2,
		ZstdLevel:    3,
		Chunker:      fastcdc.Params{MinSize: 64, AvgSize: 256, MaxSize: 1024},
	})
	if err != nil {
		t.Fatal(err)
	}

	return store, manifestPath, layout
}

func TestRunRestoresAllFilesByteForByte(t *testing.T) {
	store, manifestPath, layout := setupRoundTrip(t)
	outDir := filepath.Join(layout.Root, "restored")

	p := New(store, nil)
	if err := p.Run(context.Background(), Options{ManifestPath: manifestPath, OutputDir: outDir, Workers: 2}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(outDir, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "root file contents for restore round trip" {
		t.Fatalf("unexpected content: %q", got)
	}

	gotNested, err := os.ReadFile(filepath.Join(outDir, "sub", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(gotNested) != "nested file contents, a bit longer so chunking has something to do" {
		t.Fatalf("unexpected nested content: %q", gotNested)
	}

	info, err := os.Stat(filepath.Join(outDir, "empty.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Fatalf("expected zero-byte file, got size %d", info.Size())
	}
}

func TestRunWithSelectorRestrictsOutput(t *testing.T) {
	store, manifestPath, layout := setupRoundTrip(t)
	outDir := filepath.Join(layout.Root, "partial")

	p := New(store, nil)
	if err := p.Run(context.Background(), Options{
		ManifestPath: manifestPath,
		OutputDir:    outDir,
		Workers:      2,
		Selectors:    []string{"sub"},
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "sub", "b.txt")); err != nil {
		t.Fatalf("expected selected file to be restored: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "a.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected unselected file to be absent, stat err=%v", err)
	}
}

func TestAncestorsReturnsAllParents(t *testing.T) {
	got := ancestors("a/b/c.txt")
	want := []string{"a", "a/b"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
