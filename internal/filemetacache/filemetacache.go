// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package filemetacache implements the persistent per-space cache (C7) that
// lets CompactPipe skip re-chunking files whose (size, mtime) haven't
// changed since the last run. It is advisory only: a missing or stale row
// only costs rehashing, never correctness.
//
// Storage is a single SQLite table opened via the pure-Go modernc.org/sqlite
// driver through database/sql, following the no-CGO configuration the
// backup-agent teacher repo uses for its own relational store. Unlike that
// teacher, a single ever-growing table needs no migration framework — the
// schema is created with CREATE TABLE IF NOT EXISTS on open.
package filemetacache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// Row is one cached entry, keyed by repo-relative path.
type Row struct {
	Path             string
	Size             int64
	MtimeTicks       int64
	FileHash         string
	ChunkHashes      []string
	SnapshotFileHash string
	UpdatedAtTicks   int64
}

// Cache is a single-writer-per-process handle onto the sqlite-backed table.
// Stage/SetStagedChunkHash are safe under concurrent callers (an internal
// mutex guards the in-memory staging map); CommitStaged serialises the
// actual database write into one transaction.
type Cache struct {
	db *sql.DB

	mu     sync.Mutex
	staged map[string]*Row
}

const schema = `
CREATE TABLE IF NOT EXISTS file_meta (
	path TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	mtime_ticks INTEGER NOT NULL,
	file_hash TEXT NOT NULL,
	chunk_hashes TEXT NOT NULL,
	snapshot_file_hash TEXT NOT NULL,
	updated_at_ticks INTEGER NOT NULL
);`

// Open opens (creating if necessary) the sqlite database at path.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, rinneerr.New("filemetacache.Open", rinneerr.KindIoFailed, err)
	}
	// SQLite supports a single writer at a time; the cache is already
	// single-writer-per-process by contract, so force a single connection
	// rather than letting database/sql pool additional ones that would just
	// serialise on SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, rinneerr.New("filemetacache.Open", rinneerr.KindIoFailed, err)
	}

	return &Cache{db: db, staged: make(map[string]*Row)}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error { return c.db.Close() }

// TryGet returns the cached row for path, if any.
func (c *Cache) TryGet(ctx context.Context, path string) (Row, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT size, mtime_ticks, file_hash, chunk_hashes, snapshot_file_hash, updated_at_ticks FROM file_meta WHERE path = ?`, path)

	var r Row
	r.Path = path
	var chunksJSON string
	if err := row.Scan(&r.Size, &r.MtimeTicks, &r.FileHash, &chunksJSON, &r.SnapshotFileHash, &r.UpdatedAtTicks); err != nil {
		if err == sql.ErrNoRows {
			return Row{}, false, nil
		}
		return Row{}, false, rinneerr.New("filemetacache.TryGet", rinneerr.KindIoFailed, err)
	}

	if err := json.Unmarshal([]byte(chunksJSON), &r.ChunkHashes); err != nil {
		return Row{}, false, rinneerr.New("filemetacache.TryGet", rinneerr.KindCorrupt, err)
	}

	return r, true, nil
}

// Stage buffers a pending row in memory; it is not visible to TryGet (or
// other processes) until CommitStaged runs. Safe for concurrent callers.
func (c *Cache) Stage(path string, size, mtimeTicks int64, fileHash string, chunkHashes []string, snapshotFileHash string, updatedAtTicks int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := append([]string(nil), chunkHashes...)
	c.staged[path] = &Row{
		Path:             path,
		Size:             size,
		MtimeTicks:       mtimeTicks,
		FileHash:         fileHash,
		ChunkHashes:      cp,
		SnapshotFileHash: snapshotFileHash,
		UpdatedAtTicks:   updatedAtTicks,
	}
}

// SetStagedChunkHash fills in one chunk hash of an already-staged row,
// supporting streaming completion of a file's chunk list as chunking
// finishes asynchronously. index must be within range of a prior Stage call
// whose chunkHashes slice was pre-sized (e.g. with a slice of empty
// strings); an unstaged path or an out-of-range index is an error.
func (c *Cache) SetStagedChunkHash(path string, index int, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	row, ok := c.staged[path]
	if !ok {
		return rinneerr.New("filemetacache.SetStagedChunkHash", rinneerr.KindInvalidArgument, fmt.Errorf("path %q not staged", path))
	}
	if index < 0 || index >= len(row.ChunkHashes) {
		return rinneerr.New("filemetacache.SetStagedChunkHash", rinneerr.KindOutOfRange, fmt.Errorf("chunk index %d out of range for %q", index, path))
	}
	row.ChunkHashes[index] = hash
	return nil
}

// CommitStaged writes every staged row in a single transaction (upsert
// semantics) and clears the staging map. It does not itself serialise
// against concurrent CommitStaged calls from other Cache handles — per
// spec §5, callers must not share unrelated compact pipelines across a
// single handle without external serialisation.
func (c *Cache) CommitStaged(ctx context.Context) error {
	c.mu.Lock()
	rows := make([]*Row, 0, len(c.staged))
	for _, r := range c.staged {
		rows = append(rows, r)
	}
	c.staged = make(map[string]*Row)
	c.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return rinneerr.New("filemetacache.CommitStaged", rinneerr.KindIoFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_meta (path, size, mtime_ticks, file_hash, chunk_hashes, snapshot_file_hash, updated_at_ticks)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			size = excluded.size,
			mtime_ticks = excluded.mtime_ticks,
			file_hash = excluded.file_hash,
			chunk_hashes = excluded.chunk_hashes,
			snapshot_file_hash = excluded.snapshot_file_hash,
			updated_at_ticks = excluded.updated_at_ticks
	`)
	if err != nil {
		return rinneerr.New("filemetacache.CommitStaged", rinneerr.KindIoFailed, err)
	}
	defer stmt.Close()

	for _, r := range rows {
		chunksJSON, err := json.Marshal(r.ChunkHashes)
		if err != nil {
			return rinneerr.New("filemetacache.CommitStaged", rinneerr.KindIoFailed, err)
		}
		if _, err := stmt.ExecContext(ctx, r.Path, r.Size, r.MtimeTicks, r.FileHash, string(chunksJSON), r.SnapshotFileHash, r.UpdatedAtTicks); err != nil {
			return rinneerr.New("filemetacache.CommitStaged", rinneerr.KindIoFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rinneerr.New("filemetacache.CommitStaged", rinneerr.KindIoFailed, err)
	}
	return nil
}

// GarbageCollect deletes rows whose path is not in alivePaths and whose
// updated_at_ticks is older than minUpdatedAtTicks.
func (c *Cache) GarbageCollect(ctx context.Context, alivePaths map[string]bool, minUpdatedAtTicks int64) (int64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT path FROM file_meta WHERE updated_at_ticks < ?`, minUpdatedAtTicks)
	if err != nil {
		return 0, rinneerr.New("filemetacache.GarbageCollect", rinneerr.KindIoFailed, err)
	}

	var toDelete []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return 0, rinneerr.New("filemetacache.GarbageCollect", rinneerr.KindIoFailed, err)
		}
		if !alivePaths[p] {
			toDelete = append(toDelete, p)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, rinneerr.New("filemetacache.GarbageCollect", rinneerr.KindIoFailed, err)
	}
	rows.Close()

	if len(toDelete) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, rinneerr.New("filemetacache.GarbageCollect", rinneerr.KindIoFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM file_meta WHERE path = ?`)
	if err != nil {
		return 0, rinneerr.New("filemetacache.GarbageCollect", rinneerr.KindIoFailed, err)
	}
	defer stmt.Close()

	var deleted int64
	for _, p := range toDelete {
		res, err := stmt.ExecContext(ctx, p)
		if err != nil {
			return 0, rinneerr.New("filemetacache.GarbageCollect", rinneerr.KindIoFailed, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, rinneerr.New("filemetacache.GarbageCollect", rinneerr.KindIoFailed, err)
	}
	return deleted, nil
}
