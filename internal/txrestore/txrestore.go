// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package txrestore implements TxRestore (C12): overlaying a snapshot's
// files onto a working tree transactionally, preserving `.rinne/` and any
// ignore-matched paths, with rollback on any failure.
package txrestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rinne-vcs/rinne/internal/ignore"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// Entry is one file to extract into the working tree, relative to it.
type Entry struct {
	RelativePath string
	Open         func() (io.ReadCloser, error)
}

// Options configure a single transactional restore.
type Options struct {
	WorkingTree string
	Entries     []Entry
	Ignore      *ignore.Matcher
	StageId     string // disambiguates the staging dir name; typically a timestamp
}

// tx tracks staging state for one run so rollback can undo exactly what
// commit would otherwise finalise.
type tx struct {
	stageRoot    string
	removedDir   string
	beforeDir    string
	workingTree  string
	createdFiles []string
}

// Run executes the clean/extract/commit protocol from spec §4.12, rolling
// back on any error.
func Run(ctx context.Context, layout pathlayout.Layout, opts Options) error {
	stageId := opts.StageId
	if stageId == "" {
		stageId = "tx"
	}
	t := &tx{
		stageRoot:   filepath.Join(layout.TempDir(), fmt.Sprintf("restore_%s_tx", stageId)),
		workingTree: opts.WorkingTree,
	}
	t.removedDir = filepath.Join(t.stageRoot, "removed")
	t.beforeDir = filepath.Join(t.stageRoot, "before_write")

	if err := os.MkdirAll(t.removedDir, 0o755); err != nil {
		return rinneerr.New("txrestore.Run", rinneerr.KindIoFailed, err)
	}
	if err := os.MkdirAll(t.beforeDir, 0o755); err != nil {
		return rinneerr.New("txrestore.Run", rinneerr.KindIoFailed, err)
	}

	if err := t.clean(opts.Ignore); err != nil {
		t.rollback()
		return err
	}

	if err := t.extract(ctx, opts.Entries, opts.Ignore); err != nil {
		t.rollback()
		return err
	}

	if err := os.RemoveAll(t.stageRoot); err != nil {
		return rinneerr.New("txrestore.Run", rinneerr.KindIoFailed, err)
	}
	return nil
}

// clean implements spec §4.12 step 1: move every unprotected file/dir aside
// into removed/, then attempt to delete emptied directories.
func (t *tx) clean(matcher *ignore.Matcher) error {
	entries, err := os.ReadDir(t.workingTree)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return rinneerr.New("txrestore.clean", rinneerr.KindIoFailed, err)
	}

	for _, e := range entries {
		rel := e.Name()
		if isProtected(rel, matcher, e.IsDir()) {
			continue
		}
		src := filepath.Join(t.workingTree, rel)
		dst := filepath.Join(t.removedDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return rinneerr.New("txrestore.clean", rinneerr.KindIoFailed, err)
		}
		if err := os.Rename(src, dst); err != nil {
			return rinneerr.New("txrestore.clean", rinneerr.KindIoFailed, err)
		}
	}
	return nil
}

func isProtected(rel string, matcher *ignore.Matcher, isDir bool) bool {
	if rel == ".rinne" || rel == ".rinneignore" {
		return true
	}
	if matcher == nil {
		return false
	}
	if isDir {
		return matcher.MatchDir(rel)
	}
	return matcher.MatchFile(rel)
}

// extract implements spec §4.12 step 2: zip-slip defence, skip .rinne/** and
// the ignore file, stage any existing destination before overwriting it,
// then stream-copy into place.
func (t *tx) extract(ctx context.Context, entries []Entry, matcher *ignore.Matcher) error {
	rootAbs, err := filepath.Abs(t.workingTree)
	if err != nil {
		return rinneerr.New("txrestore.extract", rinneerr.KindIoFailed, err)
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return rinneerr.New("txrestore.extract", rinneerr.KindCancelled, ctx.Err())
		default:
		}

		rel := entry.RelativePath
		if rel == ".rinneignore" || rel == ".rinne" || strings.HasPrefix(rel, ".rinne/") {
			continue
		}
		if matcher != nil && matcher.MatchFile(rel) {
			continue
		}

		dest := filepath.Join(rootAbs, filepath.FromSlash(rel))
		destAbs, err := filepath.Abs(dest)
		if err != nil {
			return rinneerr.New("txrestore.extract", rinneerr.KindIoFailed, err)
		}
		if destAbs != rootAbs && !strings.HasPrefix(destAbs, rootAbs+string(filepath.Separator)) {
			return rinneerr.New("txrestore.extract", rinneerr.KindUnsafePath, fmt.Errorf("entry %q escapes working tree", rel))
		}

		if _, err := os.Stat(destAbs); err == nil {
			backupDest := filepath.Join(t.beforeDir, rel)
			if err := os.MkdirAll(filepath.Dir(backupDest), 0o755); err != nil {
				return rinneerr.New("txrestore.extract", rinneerr.KindIoFailed, err)
			}
			if err := os.Rename(destAbs, backupDest); err != nil {
				return rinneerr.New("txrestore.extract", rinneerr.KindIoFailed, err)
			}
		}

		if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
			return rinneerr.New("txrestore.extract", rinneerr.KindIoFailed, err)
		}

		if err := streamCopy(entry, destAbs); err != nil {
			return err
		}
		t.createdFiles = append(t.createdFiles, destAbs)
	}
	return nil
}

func streamCopy(entry Entry, dest string) error {
	rc, err := entry.Open()
	if err != nil {
		return rinneerr.New("txrestore.streamCopy", rinneerr.KindIoFailed, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return rinneerr.New("txrestore.streamCopy", rinneerr.KindIoFailed, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return rinneerr.New("txrestore.streamCopy", rinneerr.KindIoFailed, err)
	}
	return nil
}

// rollback implements spec §4.12 step 4: delete everything extract created,
// restore before_write/ and removed/ to their original locations, then
// delete the staging area.
func (t *tx) rollback() {
	for _, f := range t.createdFiles {
		os.Remove(f)
	}

	restoreBack(t.beforeDir, t.workingTree)
	restoreBack(t.removedDir, t.workingTree)

	os.RemoveAll(t.stageRoot)
}

func restoreBack(stageDir, workingTree string) {
	filepath.WalkDir(stageDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(stageDir, path)
		if rerr != nil {
			return nil
		}
		dest := filepath.Join(workingTree, rel)
		os.MkdirAll(filepath.Dir(dest), 0o755)
		os.Rename(path, dest)
		return nil
	})
}
