// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile provides the write-to-temp-then-rename primitive used
// by every component that must leave the repository in an observably
// unchanged state on failure (C3 in the design).
package atomicfile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// errOutputExistsSentinel is returned (wrapped in a *rinneerr.Error with
// KindAlreadyExists) when dest already exists and overwrite is false.
var errOutputExistsSentinel = fmt.Errorf("atomicfile: destination exists")

// tempPath names the sibling temp path for dest: "<name>.tmp".
func tempPath(dest string) string {
	return dest + ".tmp"
}

// WriteStream calls write with an *os.File positioned at a fresh temp file
// sibling to dest, then renames the temp file onto dest on success. If write
// returns an error, the temp file is removed and dest is left untouched.
func WriteStream(dest string, overwrite bool, write func(io.Writer) error) error {
	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			return rinneerr.New("atomicfile.WriteStream", rinneerr.KindAlreadyExists, errOutputExistsSentinel)
		}
	}

	tmp := tempPath(dest)
	if err := os.RemoveAll(tmp); err != nil {
		return rinneerr.New("atomicfile.WriteStream", rinneerr.KindIoFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return rinneerr.New("atomicfile.WriteStream", rinneerr.KindIoFailed, err)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return rinneerr.New("atomicfile.WriteStream", rinneerr.KindIoFailed, err)
	}

	if werr := write(f); werr != nil {
		f.Close()
		os.Remove(tmp)
		return werr
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return rinneerr.New("atomicfile.WriteStream", rinneerr.KindIoFailed, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return rinneerr.New("atomicfile.WriteStream", rinneerr.KindIoFailed, err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return rinneerr.New("atomicfile.WriteStream", rinneerr.KindIoFailed, err)
	}

	return nil
}

// WriteBytes is a convenience wrapper around WriteStream for in-memory data.
func WriteBytes(dest string, overwrite bool, data []byte) error {
	return WriteStream(dest, overwrite, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// WritePath is like WriteStream but hands the caller the temp path directly
// instead of an open file, for operations that need to produce the temp
// file via their own means (e.g. os.Rename-ing a staged directory tree into
// a single file, or copying via io tools that want a path, not a writer).
func WritePath(dest string, overwrite bool, write func(tmpPath string) error) error {
	if !overwrite {
		if _, err := os.Stat(dest); err == nil {
			return rinneerr.New("atomicfile.WritePath", rinneerr.KindAlreadyExists, errOutputExistsSentinel)
		}
	}

	tmp := tempPath(dest)
	if err := os.RemoveAll(tmp); err != nil {
		return rinneerr.New("atomicfile.WritePath", rinneerr.KindIoFailed, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return rinneerr.New("atomicfile.WritePath", rinneerr.KindIoFailed, err)
	}

	if err := write(tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	if err := os.Rename(tmp, dest); err != nil {
		os.RemoveAll(tmp)
		return rinneerr.New("atomicfile.WritePath", rinneerr.KindIoFailed, err)
	}

	return nil
}
