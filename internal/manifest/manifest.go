// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest defines the serialisable chunk-plan form of a snapshot
// (C8): its root hash, chunker parameters, and per-file chunk lists. JSON
// field names and the "cas:2" version tag are fixed by the external wire
// contract in spec §6, so unlike the teacher's msgpack tree objects this
// package deliberately uses encoding/json.
package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// Version is the only manifest schema version this build accepts.
const Version = "cas:2"

// FileEntry is one file recorded in a manifest.
type FileEntry struct {
	RelativePath string   `json:"RelativePath"`
	Bytes        int64    `json:"Bytes"`
	ChunkHashes  []string `json:"ChunkHashes"`
}

// Manifest is the full serialisable record of a compact run.
type Manifest struct {
	Version        string      `json:"Version"`
	Root           string      `json:"Root"`
	OriginalSha256 string      `json:"OriginalSha256"`
	TotalBytes     int64       `json:"TotalBytes"`
	AvgSizeBytes   int         `json:"AvgSizeBytes"`
	MinSizeBytes   int         `json:"MinSizeBytes"`
	MaxSizeBytes   int         `json:"MaxSizeBytes"`
	Level          int         `json:"Level"`
	FileCount      int         `json:"FileCount"`
	Files          []FileEntry `json:"Files"`
	Dirs           []string    `json:"Dirs"`
}

// flexManifest accepts numeric fields encoded as either JSON numbers or
// numeric strings, per spec §4.8.
type flexManifest struct {
	Version        string          `json:"Version"`
	Root           string          `json:"Root"`
	OriginalSha256 string          `json:"OriginalSha256"`
	TotalBytes     json.RawMessage `json:"TotalBytes"`
	AvgSizeBytes   json.RawMessage `json:"AvgSizeBytes"`
	MinSizeBytes   json.RawMessage `json:"MinSizeBytes"`
	MaxSizeBytes   json.RawMessage `json:"MaxSizeBytes"`
	Level          json.RawMessage `json:"Level"`
	FileCount      json.RawMessage `json:"FileCount"`
	Files          []flexFileEntry `json:"Files"`
	Dirs           []string        `json:"Dirs"`
}

type flexFileEntry struct {
	RelativePath string          `json:"RelativePath"`
	Bytes        json.RawMessage `json:"Bytes"`
	ChunkHashes  []string        `json:"ChunkHashes"`
}

func flexInt(raw json.RawMessage, field string) (int64, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("manifest: field %s: not a number: %q", field, s)
		}
		return v, nil
	}
	return 0, fmt.Errorf("manifest: field %s: unsupported numeric encoding", field)
}

// Marshal serialises m to JSON with deterministic field ordering (struct
// field order is preserved by encoding/json, matching spec §4.8).
func Marshal(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Unmarshal parses manifest JSON, accepting numeric fields as either JSON
// numbers or numeric strings, and rejects any version other than "cas:2".
func Unmarshal(data []byte) (Manifest, error) {
	var fx flexManifest
	if err := json.Unmarshal(data, &fx); err != nil {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
	}

	if fx.Version != Version {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, fmt.Errorf("unsupported manifest version %q, want %q", fx.Version, Version))
	}

	totalBytes, err := flexInt(fx.TotalBytes, "TotalBytes")
	if err != nil {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
	}
	avg, err := flexInt(fx.AvgSizeBytes, "AvgSizeBytes")
	if err != nil {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
	}
	min, err := flexInt(fx.MinSizeBytes, "MinSizeBytes")
	if err != nil {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
	}
	max, err := flexInt(fx.MaxSizeBytes, "MaxSizeBytes")
	if err != nil {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
	}
	level, err := flexInt(fx.Level, "Level")
	if err != nil {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
	}
	fileCount, err := flexInt(fx.FileCount, "FileCount")
	if err != nil {
		return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
	}

	files := make([]FileEntry, 0, len(fx.Files))
	for _, ff := range fx.Files {
		b, err := flexInt(ff.Bytes, "Files[].Bytes")
		if err != nil {
			return Manifest{}, rinneerr.New("manifest.Unmarshal", rinneerr.KindCorrupt, err)
		}
		chunks := ff.ChunkHashes
		if chunks == nil {
			chunks = []string{}
		}
		files = append(files, FileEntry{RelativePath: ff.RelativePath, Bytes: b, ChunkHashes: chunks})
	}

	dirs := fx.Dirs
	if dirs == nil {
		dirs = []string{}
	}

	return Manifest{
		Version:        fx.Version,
		Root:           fx.Root,
		OriginalSha256: fx.OriginalSha256,
		TotalBytes:     totalBytes,
		AvgSizeBytes:   int(avg),
		MinSizeBytes:   int(min),
		MaxSizeBytes:   int(max),
		Level:          int(level),
		FileCount:      int(fileCount),
		Files:          files,
		Dirs:           dirs,
	}, nil
}

// Project returns a filtered copy of m retaining only files/dirs selected by
// keepFile/keepDir, recomputing FileCount/TotalBytes/Files but preserving
// the original Root hash and chunker parameters, per spec §4.8.
func Project(m Manifest, keepFile func(relPath string) bool, keepDir func(relPath string) bool) Manifest {
	out := m
	out.Files = nil
	out.Dirs = nil

	var totalBytes int64
	for _, f := range m.Files {
		if keepFile(f.RelativePath) {
			out.Files = append(out.Files, f)
			totalBytes += f.Bytes
		}
	}
	for _, d := range m.Dirs {
		if keepDir(d) {
			out.Dirs = append(out.Dirs, d)
		}
	}

	out.FileCount = len(out.Files)
	out.TotalBytes = totalBytes
	return out
}

// Diff is the result of Compare over two manifests' flat file lists: the
// added, removed, and modified (same path, different chunk plan or byte
// count) relative paths, each sorted. This backs
// the external "diff" convenience operation's structural comparison; text
// hunking/rendering is out of scope.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

func Compare(oldM, newM Manifest) Diff {
	oldFiles := make(map[string]FileEntry, len(oldM.Files))
	for _, f := range oldM.Files {
		oldFiles[f.RelativePath] = f
	}
	newFiles := make(map[string]FileEntry, len(newM.Files))
	for _, f := range newM.Files {
		newFiles[f.RelativePath] = f
	}

	var d Diff
	for path, nf := range newFiles {
		of, ok := oldFiles[path]
		if !ok {
			d.Added = append(d.Added, path)
			continue
		}
		if !sameChunks(of.ChunkHashes, nf.ChunkHashes) || of.Bytes != nf.Bytes {
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range oldFiles {
		if _, ok := newFiles[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}

func sameChunks(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
