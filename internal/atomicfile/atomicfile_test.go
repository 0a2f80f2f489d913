// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package atomicfile

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

func TestWriteBytesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "a", "b.txt")

	if err := WriteBytes(dest, false, []byte("hello")); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file should not survive a successful write")
	}
}

func TestWriteBytesRejectsOverwrite(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "x.txt")

	if err := WriteBytes(dest, false, []byte("v1")); err != nil {
		t.Fatal(err)
	}
	err := WriteBytes(dest, false, []byte("v2"))
	if rinneerr.Of(err) != rinneerr.KindAlreadyExists {
		t.Fatalf("expected AlreadyExists, got %v", err)
	}
}

func TestWriteStreamFailureLeavesOriginalUntouched(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "x.txt")

	if err := WriteBytes(dest, false, []byte("original")); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := WriteStream(dest, true, func(w io.Writer) error {
		w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, rerr := os.ReadFile(dest)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if string(got) != "original" {
		t.Fatalf("destination was mutated on failure: %q", got)
	}
	if _, err := os.Stat(dest + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file should be cleaned up on failure")
	}
}
