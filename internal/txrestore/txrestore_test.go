// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package txrestore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rinne-vcs/rinne/internal/pathlayout"
)

func openerFor(content string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader([]byte(content))), nil
	}
}

func TestRunReplacesWorkingTreeContents(t *testing.T) {
	root := t.TempDir()
	layout := pathlayout.New(root)
	if err := os.MkdirAll(layout.Dot(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "old.txt"), []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{RelativePath: "new.txt", Open: openerFor("fresh content")},
	}

	if err := Run(context.Background(), layout, Options{
		WorkingTree: root,
		Entries:     entries,
		StageId:     "t1",
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(root, "old.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected old.txt to be removed, stat err=%v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "new.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "fresh content" {
		t.Fatalf("unexpected content: %q", got)
	}
	if _, err := os.Stat(layout.Dot()); err != nil {
		t.Fatalf("expected .rinne to survive: %v", err)
	}
}

func TestRunRejectsZipSlipEntry(t *testing.T) {
	root := t.TempDir()
	layout := pathlayout.New(root)
	if err := os.MkdirAll(layout.Dot(), 0o755); err != nil {
		t.Fatal(err)
	}

	entries := []Entry{
		{RelativePath: "../escape.txt", Open: openerFor("evil")},
	}

	err := Run(context.Background(), layout, Options{
		WorkingTree: root,
		Entries:     entries,
		StageId:     "t2",
	})
	if err == nil {
		t.Fatal("expected zip-slip rejection")
	}

	if _, statErr := os.Stat(filepath.Join(filepath.Dir(root), "escape.txt")); !os.IsNotExist(statErr) {
		t.Fatal("escape.txt must never be created outside the working tree")
	}
}

func TestRunRollsBackOnExtractFailure(t *testing.T) {
	root := t.TempDir()
	layout := pathlayout.New(root)
	if err := os.MkdirAll(layout.Dot(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "keep.txt"), []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	failingOpen := func() (io.ReadCloser, error) { return nil, os.ErrPermission }
	entries := []Entry{
		{RelativePath: "good.txt", Open: openerFor("good content")},
		{RelativePath: "bad.txt", Open: failingOpen},
	}

	err := Run(context.Background(), layout, Options{
		WorkingTree: root,
		Entries:     entries,
		StageId:     "t3",
	})
	if err == nil {
		t.Fatal("expected extraction failure")
	}

	got, rerr := os.ReadFile(filepath.Join(root, "keep.txt"))
	if rerr != nil {
		t.Fatalf("expected keep.txt restored after rollback: %v", rerr)
	}
	if string(got) != "original" {
		t.Fatalf("expected original content restored, got %q", got)
	}
}
