// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

package fastcdc

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func readAll(t *testing.T, r io.Reader, p Params) []Chunk {
	t.Helper()
	c, err := New(r, p)
	if err != nil {
		t.Fatal(err)
	}
	var chunks []Chunk
	for {
		ch, err := c.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		chunks = append(chunks, ch)
	}
	return chunks
}

func TestEmptySourceProducesNoChunks(t *testing.T) {
	chunks := readAll(t, bytes.NewReader(nil), Params{AvgSize: 1024, MinSize: 256, MaxSize: 4096})
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestChunksReassembleToOriginal(t *testing.T) {
	data := make([]byte, 5*1024*1024)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	params := Params{AvgSize: 16 * 1024, MinSize: 4 * 1024, MaxSize: 64 * 1024}
	chunks := readAll(t, bytes.NewReader(data), params)

	if len(chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	var out []byte
	for i, c := range chunks {
		if c.Index != i {
			t.Fatalf("chunk index out of order: got %d want %d", c.Index, i)
		}
		if len(c.Bytes) > params.MaxSize {
			t.Fatalf("chunk %d exceeds MaxSize: %d > %d", i, len(c.Bytes), params.MaxSize)
		}
		out = append(out, c.Bytes...)
	}

	if !bytes.Equal(out, data) {
		t.Fatal("reassembled data does not match original")
	}
}

func TestDeterministicAcrossRuns(t *testing.T) {
	data := make([]byte, 2*1024*1024)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	params := Params{AvgSize: 8 * 1024, MinSize: 2 * 1024, MaxSize: 32 * 1024}

	c1 := readAll(t, bytes.NewReader(data), params)
	c2 := readAll(t, bytes.NewReader(data), params)

	if len(c1) != len(c2) {
		t.Fatalf("chunk counts differ: %d vs %d", len(c1), len(c2))
	}
	for i := range c1 {
		if !bytes.Equal(c1[i].Bytes, c2[i].Bytes) {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestBoundaryAtExactSizes(t *testing.T) {
	for _, size := range []int{256, 1024, 4096} {
		data := bytes.Repeat([]byte{0x42}, size)
		params := Params{AvgSize: 1024, MinSize: 256, MaxSize: 4096}
		chunks := readAll(t, bytes.NewReader(data), params)
		if len(chunks) == 0 {
			t.Fatalf("size %d: expected >=1 chunk", size)
		}
		var total int
		for _, c := range chunks {
			if len(c.Bytes) > params.MaxSize {
				t.Fatalf("size %d: chunk exceeds MaxSize", size)
			}
			total += len(c.Bytes)
		}
		if total != size {
			t.Fatalf("size %d: total bytes %d != %d", size, total, size)
		}
	}
}

func TestInvalidParams(t *testing.T) {
	if _, err := New(bytes.NewReader(nil), Params{AvgSize: 10, MinSize: 20, MaxSize: 30}); err == nil {
		t.Fatal("expected validation error when min > avg")
	}
}
