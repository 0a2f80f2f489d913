// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package casstore implements the content-addressable blob store (C6): a
// Zstd-compressed, SHA-256-keyed directory tree with idempotent writes and
// per-hash write serialisation, in the style the DGIT and gastrolog
// reference implementations use klauspost/compress/zstd for.
package casstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/rinne-vcs/rinne/internal/hashstream"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// DefaultDirectoryDepth is the number of 2-hex-digit directory levels used
// to shard blobs, matching spec §3 ("default 2, giving 256×256 directories").
const DefaultDirectoryDepth = 2

// Store is a Zstd-compressed, content-addressed blob store rooted at a
// repository's .rinne/store directory.
type Store struct {
	layout         pathlayout.Layout
	directoryDepth int
	level          zstd.EncoderLevel

	mu     sync.Mutex
	hashMu map[string]*sync.Mutex // per-hash write locks, lazily created
}

// New builds a Store. level must be in [1,22] (spec §6); it is mapped onto
// klauspost/compress/zstd's coarser EncoderLevel scale.
func New(layout pathlayout.Layout, level int, directoryDepth int) (*Store, error) {
	if level < 1 || level > 22 {
		return nil, rinneerr.New("casstore.New", rinneerr.KindInvalidArgument, fmt.Errorf("level %d out of range [1,22]", level))
	}
	if directoryDepth <= 0 {
		directoryDepth = DefaultDirectoryDepth
	}
	return &Store{
		layout:         layout,
		directoryDepth: directoryDepth,
		level:          levelFromInt(level),
		hashMu:         make(map[string]*sync.Mutex),
	}, nil
}

// levelFromInt buckets the spec's [1,22] integer scale onto zstd's four
// named speed/ratio tiers.
func levelFromInt(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

// PathFor returns the deterministic on-disk path for a blob's hash.
func (s *Store) PathFor(hashHex string) string {
	return s.layout.BlobPath(strings.ToLower(hashHex), s.directoryDepth)
}

// Exists reports whether a blob for hashHex is already stored.
func (s *Store) Exists(hashHex string) bool {
	_, err := os.Stat(s.PathFor(hashHex))
	return err == nil
}

// lockFor returns (creating if needed) the mutex guarding writes for hashHex.
func (s *Store) lockFor(hashHex string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.hashMu[hashHex]
	if !ok {
		m = &sync.Mutex{}
		s.hashMu[hashHex] = m
	}
	return m
}

// PutIfAbsent computes the SHA-256 of data and writes it, Zstd-compressed,
// to the store if no blob with that hash exists yet. It is idempotent and
// safe for concurrent use within one process: a per-hash mutex serialises
// writers racing on the same content, and the final placement uses
// create-new semantics (a hard link) so a concurrent winner's file is kept;
// only where hard links fail does it fall back to a rename, which replaces
// an existing blob with byte-identical content.
func (s *Store) PutIfAbsent(ctx context.Context, data []byte) (string, error) {
	hashHex := strings.ToLower(hashstream.HexBytes(data))

	if s.Exists(hashHex) {
		return hashHex, nil
	}

	lock := s.lockFor(hashHex)
	lock.Lock()
	defer lock.Unlock()

	if s.Exists(hashHex) {
		return hashHex, nil
	}

	dest := s.PathFor(hashHex)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", rinneerr.New("casstore.PutIfAbsent", rinneerr.KindIoFailed, err)
	}

	tmp := filepath.Join(filepath.Dir(dest), fmt.Sprintf(".%s.%x.tmp", hashHex, rand.Uint64()))

	if err := writeCompressed(tmp, data, s.level); err != nil {
		os.Remove(tmp)
		return "", rinneerr.New("casstore.PutIfAbsent", rinneerr.KindStoreWriteFailed, err)
	}

	// Create-new rename: if a concurrent writer (another process) already
	// produced dest, leave it alone and discard our temp file.
	if err := linkOrRenameCreateNew(tmp, dest); err != nil {
		os.Remove(tmp)
		if !s.Exists(hashHex) {
			return "", rinneerr.New("casstore.PutIfAbsent", rinneerr.KindStoreWriteFailed, err)
		}
	}
	os.Remove(tmp)

	if !s.Exists(hashHex) {
		return "", rinneerr.New("casstore.PutIfAbsent", rinneerr.KindStoreWriteFailed, fmt.Errorf("blob %s missing after write", hashHex))
	}

	return hashHex, nil
}

// linkOrRenameCreateNew attempts to atomically place tmp at dest without
// overwriting a pre-existing dest. os.Link fails if dest exists, giving us
// create-new semantics; on success tmp is still removed by the caller, on
// EEXIST we silently yield to the existing winner.
func linkOrRenameCreateNew(tmp, dest string) error {
	if err := os.Link(tmp, dest); err != nil {
		if os.IsExist(err) {
			return nil
		}
		// Some filesystems don't support hard links (e.g. across devices);
		// fall back to a rename, which is atomic but can clobber — acceptable
		// here because blobs are content-addressed and therefore idempotent:
		// a clobber replaces a file with byte-identical content.
		return os.Rename(tmp, dest)
	}
	return nil
}

func writeCompressed(path string, data []byte, level zstd.EncoderLevel) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(level))
	if err != nil {
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

// Get decompresses and returns the plaintext bytes for hashHex.
func (s *Store) Get(hashHex string) ([]byte, error) {
	f, err := os.Open(s.PathFor(hashHex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rinneerr.New("casstore.Get", rinneerr.KindNotFound, err)
		}
		return nil, rinneerr.New("casstore.Get", rinneerr.KindIoFailed, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, rinneerr.New("casstore.Get", rinneerr.KindCorrupt, err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, rinneerr.New("casstore.Get", rinneerr.KindCorrupt, err)
	}
	return data, nil
}

// OpenDecompressed opens hashHex's blob and returns a ReadCloser over its
// decompressed plaintext, for callers streaming large chunks into place
// (RestorePipe) rather than materialising them in memory via Get.
func (s *Store) OpenDecompressed(hashHex string) (io.ReadCloser, error) {
	f, err := os.Open(s.PathFor(hashHex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, rinneerr.New("casstore.OpenDecompressed", rinneerr.KindNotFound, err)
		}
		return nil, rinneerr.New("casstore.OpenDecompressed", rinneerr.KindIoFailed, err)
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, rinneerr.New("casstore.OpenDecompressed", rinneerr.KindCorrupt, err)
	}

	return &decompressedReadCloser{dec: dec, f: f}, nil
}

type decompressedReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (d *decompressedReadCloser) Read(p []byte) (int, error) { return d.dec.Read(p) }

func (d *decompressedReadCloser) Close() error {
	d.dec.Close()
	return d.f.Close()
}

// VerifyBlob recomputes the SHA-256 of a blob's decompressed plaintext and
// compares it to the hash encoded in its filename, per spec §8's blob
// invariant.
func (s *Store) VerifyBlob(ctx context.Context, hashHex string) error {
	data, err := s.Get(hashHex)
	if err != nil {
		return err
	}
	got := strings.ToLower(hashstream.HexBytes(data))
	want := strings.ToLower(hashHex)
	if got != want {
		return rinneerr.New("casstore.VerifyBlob", rinneerr.KindHashMismatch, fmt.Errorf("blob %s decompresses to content hashing to %s", want, got))
	}
	return nil
}

// Remove deletes a blob file, used by GC. Not an error if it's already gone.
func (s *Store) Remove(hashHex string) error {
	err := os.Remove(s.PathFor(hashHex))
	if err != nil && !os.IsNotExist(err) {
		return rinneerr.New("casstore.Remove", rinneerr.KindIoFailed, err)
	}
	return nil
}

// WalkBlobs calls fn for every blob currently on disk, with its lower-case
// hex hash (derived from the filename) and full path. Used by GC.
func (s *Store) WalkBlobs(fn func(hashHex, path string) error) error {
	root := s.layout.StoreDir()
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasSuffix(name, ".zst") {
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil // stray temp file
		}
		hashHex := strings.TrimSuffix(name, ".zst")
		if _, err := hex.DecodeString(hashHex); err != nil {
			return nil
		}
		return fn(strings.ToLower(hashHex), path)
	})
}
