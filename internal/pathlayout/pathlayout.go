// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package pathlayout maps logical rinne entities — repository, space,
// snapshot id, manifest — onto on-disk paths. It is pure and value-typed: no
// method here touches the filesystem except the small ResolveSpace helper
// that reads the single-line "current" file.
package pathlayout

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultSpace is used whenever a space name resolves to empty.
const DefaultSpace = "main"

// Layout derives every sub-path of a repository from its root.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root. root is not required to exist yet.
func New(root string) Layout {
	return Layout{Root: root}
}

// Dot returns the repository's hidden data directory, <root>/.rinne.
func (l Layout) Dot() string { return filepath.Join(l.Root, ".rinne") }

// ConfigDir returns <root>/.rinne/config.
func (l Layout) ConfigDir() string { return filepath.Join(l.Dot(), "config") }

// VersionFile returns the config/version.txt file.
func (l Layout) VersionFile() string { return filepath.Join(l.ConfigDir(), "version.txt") }

// LogOutputConfigFile returns the config/log-output.json file.
func (l Layout) LogOutputConfigFile() string { return filepath.Join(l.ConfigDir(), "log-output.json") }

// RinneignoreConfigFile returns the config/rinneignore.json file.
func (l Layout) RinneignoreConfigFile() string { return filepath.Join(l.ConfigDir(), "rinneignore.json") }

// SnapshotsDir returns <root>/.rinne/snapshots.
func (l Layout) SnapshotsDir() string { return filepath.Join(l.Dot(), "snapshots") }

// CurrentSpaceFile returns the file holding the selected space's name.
func (l Layout) CurrentSpaceFile() string { return filepath.Join(l.SnapshotsDir(), "current") }

// SpaceDir returns the CAS-backend snapshot area for a (sanitised) space.
func (l Layout) SpaceDir(space string) string {
	return filepath.Join(l.SnapshotsDir(), "space", space)
}

// SnapshotDir returns the directory for a single CAS snapshot.
func (l Layout) SnapshotDir(space, id string) string {
	return filepath.Join(l.SpaceDir(space), id)
}

// SnapshotMetaFile returns <snapshot>/meta.json.
func (l Layout) SnapshotMetaFile(space, id string) string {
	return filepath.Join(l.SnapshotDir(space, id), "meta.json")
}

// SnapshotNoteFile returns <snapshot>/note.md.
func (l Layout) SnapshotNoteFile(space, id string) string {
	return filepath.Join(l.SnapshotDir(space, id), "note.md")
}

// SnapshotPayloadDir returns <snapshot>/snapshots, the materialised payload
// tree (optional — may not exist if only a manifest backs this snapshot).
func (l Layout) SnapshotPayloadDir(space, id string) string {
	return filepath.Join(l.SnapshotDir(space, id), "snapshots")
}

// StoreDir returns <root>/.rinne/store, the shared CAS blob store.
func (l Layout) StoreDir() string { return filepath.Join(l.Dot(), "store") }

// StoreMetaDir returns .rinne/store/.meta.
func (l Layout) StoreMetaDir() string { return filepath.Join(l.StoreDir(), ".meta") }

// RefcountFile returns the live refcount map written by GC.
func (l Layout) RefcountFile() string { return filepath.Join(l.StoreMetaDir(), "refcount.json") }

// StoreTmpDir returns .rinne/store/.tmp, scratch space for blob writes.
func (l Layout) StoreTmpDir() string { return filepath.Join(l.StoreDir(), ".tmp") }

// ManifestsDir returns .rinne/store/manifests.
func (l Layout) ManifestsDir() string { return filepath.Join(l.StoreDir(), "manifests") }

// ManifestFile returns the manifest path for a CAS snapshot id.
func (l Layout) ManifestFile(id string) string {
	return filepath.Join(l.ManifestsDir(), id+".json")
}

// BlobPath returns the sharded on-disk path for a blob given its lower-case
// hex SHA-256 and the configured directory-sharding depth (default 2, i.e.
// 2 levels of 2-hex-digit directories).
func (l Layout) BlobPath(hashHex string, directoryDepth int) string {
	parts := []string{l.StoreDir()}
	for i := 0; i < directoryDepth && i*2+2 <= len(hashHex); i++ {
		parts = append(parts, hashHex[i*2:i*2+2])
	}
	parts = append(parts, hashHex+".zst")
	return filepath.Join(parts...)
}

// LogsDir returns .rinne/logs.
func (l Layout) LogsDir() string { return filepath.Join(l.Dot(), "logs") }

// TempDir returns .rinne/temp, the per-operation scratch area.
func (l Layout) TempDir() string { return filepath.Join(l.Dot(), "temp") }

// DataDir returns .rinne/data/<space>, the ZIP backend's area.
func (l Layout) DataDir(space string) string { return filepath.Join(l.Dot(), "data", space) }

// ZipFile returns the ZIP backend's archive path for a snapshot id.
func (l Layout) ZipFile(space, id string) string {
	return filepath.Join(l.DataDir(space), id+".zip")
}

// ZipMetaDir returns .rinne/data/<space>/meta.
func (l Layout) ZipMetaDir(space string) string { return filepath.Join(l.DataDir(space), "meta") }

// ZipMetaFile returns the ChainMeta JSON file for a snapshot id.
func (l Layout) ZipMetaFile(space, id string) string {
	return filepath.Join(l.ZipMetaDir(space), id+".json")
}

// RinneignoreFile returns <root>/.rinneignore.
func (l Layout) RinneignoreFile() string { return filepath.Join(l.Root, ".rinneignore") }

var (
	invalidFileNameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	reservedDeviceNames  = regexp.MustCompile(`(?i)^(CON|PRN|AUX|NUL|COM[1-9]|LPT[1-9])(\..*)?$`)
)

// SanitizeSpace normalises a caller-supplied space name: it trims
// whitespace, replaces path separators and invalid filename characters
// (control characters included) with "-", renames Windows-reserved device names by
// prepending "_", and maps an empty or dot-only result to DefaultSpace.
func SanitizeSpace(name string) string {
	name = strings.TrimSpace(name)
	name = invalidFileNameChars.ReplaceAllString(name, "-")
	name = strings.ReplaceAll(name, "/", "-")
	name = strings.ReplaceAll(name, "\\", "-")

	if reservedDeviceNames.MatchString(name) {
		name = "_" + name
	}

	if isDotOnlyOrEmpty(name) {
		return DefaultSpace
	}
	return name
}

func isDotOnlyOrEmpty(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r != '.' {
			return false
		}
	}
	return true
}

// ResolveSpace determines the effective space name: an explicitly supplied
// name wins (sanitised); otherwise the repository's "current" file is read;
// otherwise DefaultSpace.
func (l Layout) ResolveSpace(explicit string) string {
	if explicit != "" {
		return SanitizeSpace(explicit)
	}

	data, err := os.ReadFile(l.CurrentSpaceFile())
	if err != nil {
		return DefaultSpace
	}

	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	if line == "" {
		return DefaultSpace
	}
	return SanitizeSpace(line)
}
