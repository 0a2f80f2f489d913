// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package compact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rinne-vcs/rinne/internal/casstore"
	"github.com/rinne-vcs/rinne/internal/fastcdc"
	"github.com/rinne-vcs/rinne/internal/filemetacache"
	"github.com/rinne-vcs/rinne/internal/manifest"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
)

func testParams() fastcdc.Params {
	return fastcdc.Params{MinSize: 64, AvgSize: 256, MaxSize: 1024}
}

func newTestPipe(t *testing.T) (*Pipe, pathlayout.Layout) {
	t.Helper()
	root := t.TempDir()
	layout := pathlayout.New(root)
	store, err := casstore.New(layout, 3, casstore.DefaultDirectoryDepth)
	if err != nil {
		t.Fatal(err)
	}
	cache, err := filemetacache.Open(filepath.Join(root, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	return New(store, cache, nil), layout
}

func writeInputTree(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world, this is file a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("file b contents, somewhat longer than a to force multiple chunks maybe"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "empty.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunProducesManifestWithAllFiles(t *testing.T) {
	pipe, layout := newTestPipe(t)
	input := t.TempDir()
	writeInputTree(t, input)

	manifestPath := filepath.Join(layout.Root, "out.json")
	m, err := pipe.Run(context.Background(), Options{
		InputDir:     input,
		ManifestPath: manifestPath,
		Workers:      2,
		ZstdLevel:    3,
		Chunker:      testParams(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if m.FileCount != 3 {
		t.Fatalf("expected 3 files, got %d: %+v", m.FileCount, m.Files)
	}
	if m.Version != manifest.Version {
		t.Fatalf("expected version %q, got %q", manifest.Version, m.Version)
	}

	if _, err := os.Stat(manifestPath); err != nil {
		t.Fatalf("expected manifest file on disk: %v", err)
	}
}

func TestRunIsDeterministicAcrossRuns(t *testing.T) {
	pipe, layout := newTestPipe(t)
	input := t.TempDir()
	writeInputTree(t, input)

	opts := Options{
		InputDir:     input,
		ManifestPath: filepath.Join(layout.Root, "out1.json"),
		Workers:      1,
		ZstdLevel:    3,
		Chunker:      testParams(),
	}
	m1, err := pipe.Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	opts.ManifestPath = filepath.Join(layout.Root, "out2.json")
	m2, err := pipe.Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	if m1.Root != m2.Root {
		t.Fatalf("expected identical root hash across runs, got %s vs %s", m1.Root, m2.Root)
	}
}

func TestRunReusesCacheOnSecondPass(t *testing.T) {
	pipe, layout := newTestPipe(t)
	input := t.TempDir()
	writeInputTree(t, input)

	opts := Options{
		InputDir:     input,
		ManifestPath: filepath.Join(layout.Root, "out.json"),
		Workers:      2,
		ZstdLevel:    3,
		Chunker:      testParams(),
	}
	first, err := pipe.Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	row, ok, err := pipe.cache.TryGet(context.Background(), "a.txt")
	if err != nil || !ok {
		t.Fatalf("expected a cache row for a.txt after the first pass, ok=%v err=%v", ok, err)
	}

	opts.ManifestPath = filepath.Join(layout.Root, "out2.json")
	second, err := pipe.Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	if first.Root != second.Root {
		t.Fatal("expected same root hash when nothing changed")
	}

	for _, f := range second.Files {
		if f.RelativePath != "a.txt" {
			continue
		}
		if len(f.ChunkHashes) != len(row.ChunkHashes) {
			t.Fatalf("second pass chunk list %v differs from cached %v", f.ChunkHashes, row.ChunkHashes)
		}
		for i := range f.ChunkHashes {
			if f.ChunkHashes[i] != row.ChunkHashes[i] {
				t.Fatalf("second pass chunk list %v differs from cached %v", f.ChunkHashes, row.ChunkHashes)
			}
		}
	}
}
