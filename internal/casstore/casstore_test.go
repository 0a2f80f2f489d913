// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package casstore

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rinne-vcs/rinne/internal/hashstream"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	layout := pathlayout.New(t.TempDir())
	s, err := New(layout, 3, DefaultDirectoryDepth)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPutIfAbsentIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	data := []byte("the quick brown fox")

	h1, err := s.PutIfAbsent(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := s.PutIfAbsent(ctx, data)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatalf("hash not stable: %s vs %s", h1, h2)
	}

	want := strings.ToLower(hashstream.HexBytes(data))
	if h1 != want {
		t.Fatalf("got %s want %s", h1, want)
	}

	if !s.Exists(h1) {
		t.Fatal("blob should exist")
	}

	if _, err := os.Stat(s.PathFor(h1)); err != nil {
		t.Fatal(err)
	}
}

func TestGetRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	data := []byte("round trip me")

	h, err := s.PutIfAbsent(ctx, data)
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(h)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q want %q", got, data)
	}

	if err := s.VerifyBlob(ctx, h); err != nil {
		t.Fatal(err)
	}
}

func TestDirectorySharding(t *testing.T) {
	s := newStore(t)
	h := "abcdef0123456789"
	path := s.PathFor(h)
	if !strings.Contains(path, "/ab/cd/") && !strings.Contains(path, "\\ab\\cd\\") {
		t.Fatalf("expected sharded path, got %s", path)
	}
}

func TestWalkBlobsAndRemove(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	h1, _ := s.PutIfAbsent(ctx, []byte("one"))
	h2, _ := s.PutIfAbsent(ctx, []byte("two"))

	seen := map[string]bool{}
	if err := s.WalkBlobs(func(hashHex, path string) error {
		seen[hashHex] = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if !seen[h1] || !seen[h2] {
		t.Fatalf("expected to see both blobs, saw %v", seen)
	}

	if err := s.Remove(h1); err != nil {
		t.Fatal(err)
	}
	if s.Exists(h1) {
		t.Fatal("blob should be gone after Remove")
	}
	if !s.Exists(h2) {
		t.Fatal("unrelated blob should remain")
	}
}
