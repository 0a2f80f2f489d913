// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package filemetacache

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStageCommitTryGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Stage("a.txt", 5, 1000, "FILEHASH", []string{"C1", "C2"}, "SNAPHASH", 2000)
	if err := c.CommitStaged(ctx); err != nil {
		t.Fatal(err)
	}

	row, ok, err := c.TryGet(ctx, "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected row to exist after commit")
	}
	if row.FileHash != "FILEHASH" || row.Size != 5 || row.MtimeTicks != 1000 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if len(row.ChunkHashes) != 2 || row.ChunkHashes[0] != "C1" || row.ChunkHashes[1] != "C2" {
		t.Fatalf("unexpected chunk hashes: %+v", row.ChunkHashes)
	}
}

func TestTryGetMissReturnsFalse(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, ok, err := c.TryGet(context.Background(), "missing.txt")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss for unknown path")
	}
}

func TestSetStagedChunkHashFillsPreSizedSlice(t *testing.T) {
	ctx := context.Background()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Stage("a.txt", 5, 1000, "", make([]string, 2), "", 2000)
	if err := c.SetStagedChunkHash("a.txt", 0, "C1"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetStagedChunkHash("a.txt", 1, "C2"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetStagedChunkHash("a.txt", 2, "C3"); err == nil {
		t.Fatal("expected out-of-range error")
	}
	if err := c.SetStagedChunkHash("never-staged.txt", 0, "X"); err == nil {
		t.Fatal("expected error for unstaged path")
	}

	if err := c.CommitStaged(ctx); err != nil {
		t.Fatal(err)
	}
	row, ok, err := c.TryGet(ctx, "a.txt")
	if err != nil || !ok {
		t.Fatalf("expected committed row, ok=%v err=%v", ok, err)
	}
	if row.ChunkHashes[0] != "C1" || row.ChunkHashes[1] != "C2" {
		t.Fatalf("unexpected chunk hashes: %+v", row.ChunkHashes)
	}
}

func TestUpsertOverwritesExistingRow(t *testing.T) {
	ctx := context.Background()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Stage("a.txt", 5, 1000, "OLD", []string{"C1"}, "S1", 2000)
	if err := c.CommitStaged(ctx); err != nil {
		t.Fatal(err)
	}
	c.Stage("a.txt", 6, 1001, "NEW", []string{"C2"}, "S2", 2001)
	if err := c.CommitStaged(ctx); err != nil {
		t.Fatal(err)
	}

	row, ok, err := c.TryGet(ctx, "a.txt")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if row.FileHash != "NEW" || row.Size != 6 {
		t.Fatalf("expected overwritten row, got %+v", row)
	}
}

func TestGarbageCollectRemovesStaleDeadRows(t *testing.T) {
	ctx := context.Background()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.Stage("alive.txt", 1, 1, "H", []string{"C"}, "S", 100)
	c.Stage("dead-old.txt", 1, 1, "H", []string{"C"}, "S", 50)
	c.Stage("dead-new.txt", 1, 1, "H", []string{"C"}, "S", 500)
	if err := c.CommitStaged(ctx); err != nil {
		t.Fatal(err)
	}

	alive := map[string]bool{"alive.txt": true}
	deleted, err := c.GarbageCollect(ctx, alive, 200)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 row deleted (dead-old.txt), got %d", deleted)
	}

	if _, ok, _ := c.TryGet(ctx, "dead-old.txt"); ok {
		t.Fatal("dead-old.txt should have been collected")
	}
	if _, ok, _ := c.TryGet(ctx, "dead-new.txt"); !ok {
		t.Fatal("dead-new.txt is newer than cutoff and should survive")
	}
	if _, ok, _ := c.TryGet(ctx, "alive.txt"); !ok {
		t.Fatal("alive.txt is in alivePaths and should survive regardless of age")
	}
}
