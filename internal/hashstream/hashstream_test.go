// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package hashstream

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHexBytes(t *testing.T) {
	sum := sha256.Sum256([]byte("hello"))
	want := strings.ToUpper(hex.EncodeToString(sum[:]))
	if got := HexBytes([]byte("hello")); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestHexOrderedFilesDeterministicUnderReordering(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) string {
		p := filepath.Join(dir, rel)
		os.MkdirAll(filepath.Dir(p), 0o755)
		os.WriteFile(p, []byte(content), 0o644)
		return p
	}

	aPath := write("a.txt", "hello\n")
	cPath := write("b/c.txt", "world\n")
	dPath := write("b/d.bin", "\x00\x01\x02")

	files := map[string]string{
		"b/d.bin": dPath,
		"a.txt":   aPath,
		"b/c.txt": cPath,
	}

	got, err := HexOrderedFiles(context.Background(), files)
	if err != nil {
		t.Fatal(err)
	}

	want := HexBytes([]byte("hello\nworld\n\x00\x01\x02"))
	if got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestTeeHasher(t *testing.T) {
	var buf bytes.Buffer
	th := NewTeeHasher(&buf)
	th.Write([]byte("abc"))
	th.Write([]byte("def"))

	if buf.String() != "abcdef" {
		t.Fatalf("inner writer got %q", buf.String())
	}
	if got := th.SumHex(); got != HexBytes([]byte("abcdef")) {
		t.Fatalf("hash mismatch: %s", got)
	}
}
