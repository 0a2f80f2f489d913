// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package hashstream provides the SHA-256 primitives shared by every
// content-addressed component: one-shot hashing of a buffer, incremental
// hashing of a stream, and the ordered-multi-file "root hash" used to make a
// snapshot's identity independent of chunk boundaries or platform-specific
// enumeration order.
package hashstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"sort"
	"strings"
)

// MaxBufferSize bounds the pooled read buffer (spec: "≤ 64 MiB").
const MaxBufferSize = 64 * 1024 * 1024

// DefaultBufferSize is used when callers don't need a larger buffer.
const DefaultBufferSize = 1024 * 1024

// HexBytes returns the upper-case hex SHA-256 of data.
func HexBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// HexReader computes the upper-case hex SHA-256 of everything read from r,
// honoring ctx cancellation between buffer fills.
func HexReader(ctx context.Context, r io.Reader) (string, error) {
	h := sha256.New()
	if err := copyWithCancel(ctx, h, r, DefaultBufferSize); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// HexFile computes the upper-case hex SHA-256 of a single file's contents.
func HexFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HexReader(ctx, f)
}

// HexOrderedFiles computes a single SHA-256 over the concatenation, in
// code-point-ordered relative-path order, of the raw bytes of every file in
// files. This is the "root hash" / OriginalSha256 described in spec §3 and
// §8 scenario 1: it is a property of the original tree, independent of how
// it gets chunked.
//
// files maps relative path -> absolute path to read from.
func HexOrderedFiles(ctx context.Context, files map[string]string) (string, error) {
	paths := make([]string, 0, len(files))
	for rel := range files {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, rel := range paths {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		f, err := os.Open(files[rel])
		if err != nil {
			return "", err
		}
		err = copyWithCancel(ctx, h, f, DefaultBufferSize)
		f.Close()
		if err != nil {
			return "", err
		}
	}
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}

// TeeHasher forwards every byte written to it into an inner io.Writer while
// also hashing it, so a caller can hash a stream as it writes it through
// without buffering twice.
type TeeHasher struct {
	inner io.Writer
	h     hash.Hash
}

// NewTeeHasher wraps inner with a SHA-256 accumulator.
func NewTeeHasher(inner io.Writer) *TeeHasher {
	return &TeeHasher{inner: inner, h: sha256.New()}
}

func (t *TeeHasher) Write(p []byte) (int, error) {
	n, err := t.inner.Write(p)
	if n > 0 {
		t.h.Write(p[:n])
	}
	return n, err
}

// SumHex returns the upper-case hex digest of everything written so far.
func (t *TeeHasher) SumHex() string {
	return strings.ToUpper(hex.EncodeToString(t.h.Sum(nil)))
}

// copyWithCancel is io.CopyBuffer with a cancellation check between reads,
// per spec §5 ("every stream read/write" is a suspension point).
func copyWithCancel(ctx context.Context, dst io.Writer, src io.Reader, bufSize int) error {
	if bufSize > MaxBufferSize {
		bufSize = MaxBufferSize
	}
	buf := make([]byte, bufSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
