// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package chainmeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rinne-vcs/rinne/internal/pathlayout"
)

func writeZip(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAppendChainsSequentialRecords(t *testing.T) {
	layout := pathlayout.New(t.TempDir())
	chain := New(layout, "main")

	zip1 := filepath.Join(t.TempDir(), "1.zip")
	zip2 := filepath.Join(t.TempDir(), "2.zip")
	writeZip(t, zip1, "archive one contents")
	writeZip(t, zip2, "archive two contents")

	r1, err := chain.Append(1, "id1", "2026-01-01T00:00:00Z", zip1, "first snapshot", nil, "id1.zip")
	if err != nil {
		t.Fatal(err)
	}
	if r1.Hash.Chain.Prev != "" {
		t.Fatalf("expected empty prev for first record, got %q", r1.Hash.Chain.Prev)
	}

	r2, err := chain.Append(2, "id2", "2026-01-01T00:01:00Z", zip2, "second snapshot", nil, "id2.zip")
	if err != nil {
		t.Fatal(err)
	}
	if r2.Hash.Chain.Prev != r1.Hash.Chain.This {
		t.Fatalf("expected r2.Prev == r1.This, got %q vs %q", r2.Hash.Chain.Prev, r1.Hash.Chain.This)
	}
	if r2.Hash.Chain.PrevId != r1.Id {
		t.Fatalf("expected r2.PrevId == r1.Id, got %q vs %q", r2.Hash.Chain.PrevId, r1.Id)
	}
}

func TestVerifyDetectsTamperedRecord(t *testing.T) {
	layout := pathlayout.New(t.TempDir())
	chain := New(layout, "main")

	zipDir := t.TempDir()
	zip1 := filepath.Join(zipDir, "1.zip")
	writeZip(t, zip1, "archive one contents")
	if _, err := chain.Append(1, "id1", "2026-01-01T00:00:00Z", zip1, "", nil, "id1.zip"); err != nil {
		t.Fatal(err)
	}

	res, err := chain.Verify(func(seq int) string { return zip1 })
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsOk {
		t.Fatalf("expected clean chain, got %+v", res)
	}

	// Tamper with the archive after recording its hash.
	writeZip(t, zip1, "tampered contents")
	res2, err := chain.Verify(func(seq int) string { return zip1 })
	if err != nil {
		t.Fatal(err)
	}
	if res2.IsOk {
		t.Fatal("expected verify to detect tampered archive")
	}
	if len(res2.Details) == 0 {
		t.Fatal("expected at least one detail line")
	}
}

func TestRestitchRecomputesChainAfterDeletion(t *testing.T) {
	layout := pathlayout.New(t.TempDir())
	chain := New(layout, "main")

	zipDir := t.TempDir()
	zip1 := filepath.Join(zipDir, "1.zip")
	zip2 := filepath.Join(zipDir, "2.zip")
	zip3 := filepath.Join(zipDir, "3.zip")
	writeZip(t, zip1, "one")
	writeZip(t, zip2, "two")
	writeZip(t, zip3, "three")

	if _, err := chain.Append(1, "id1", "t1", zip1, "", nil, "id1.zip"); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.Append(2, "id2", "t2", zip2, "", nil, "id2.zip"); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.Append(3, "id3", "t3", zip3, "", nil, "id3.zip"); err != nil {
		t.Fatal(err)
	}

	if err := chain.Delete(2); err != nil {
		t.Fatal(err)
	}
	if err := chain.Restitch(); err != nil {
		t.Fatal(err)
	}

	records, err := chain.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records after deletion, got %d", len(records))
	}
	if records[0].Seq != 1 || records[1].Seq != 3 {
		t.Fatalf("unexpected seqs: %d, %d", records[0].Seq, records[1].Seq)
	}
	if records[1].Hash.Chain.Prev != records[0].Hash.Chain.This {
		t.Fatal("expected restitched record 3 to chain directly off record 1")
	}
	if records[1].Hash.Chain.PrevId != records[0].Id {
		t.Fatal("expected restitched record 3's PrevId to point at record 1")
	}

	zipPaths := map[int]string{1: zip1, 3: zip3}
	res, err := chain.Verify(func(seq int) string { return zipPaths[seq] })
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsOk {
		t.Fatalf("expected restitched chain to verify OK, got %+v", res)
	}
}
