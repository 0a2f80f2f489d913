// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package zipbackend implements the ZIP-archive snapshot backend: each
// snapshot is one self-contained archive written with the standard library's
// archive/zip, treated as an opaque container per spec §1/§6. The save flow
// here wires archive creation into chainmeta so every archive lands with a
// linked metadata record.
package zipbackend

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rinne-vcs/rinne/internal/atomicfile"
	"github.com/rinne-vcs/rinne/internal/chainmeta"
	"github.com/rinne-vcs/rinne/internal/ignore"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
	"github.com/rinne-vcs/rinne/internal/snapid"
)

// Backend ties a repository layout and space together for ZIP-backend saves.
type Backend struct {
	layout pathlayout.Layout
	space  string
	chain  *chainmeta.Chain
}

// New builds a Backend for the given space.
func New(layout pathlayout.Layout, space string) *Backend {
	return &Backend{layout: layout, space: space, chain: chainmeta.New(layout, space)}
}

// SaveOptions configure a single snapshot save.
type SaveOptions struct {
	SourceDir string
	Message   string
	Ignore    *ignore.Matcher
	Clock     snapid.Clock // nil uses snapid.SystemClock
}

// SaveResult reports the outcome of a successful save.
type SaveResult struct {
	Id     string
	Seq    int
	ZipAbs string
	Record chainmeta.Record
}

// Save packs opts.SourceDir into a new ZIP archive for the backend's space,
// assigns the next sequence id, and appends a chainmeta record.
func (b *Backend) Save(ctx context.Context, opts SaveOptions) (SaveResult, error) {
	seq, err := b.nextSeq()
	if err != nil {
		return SaveResult{}, err
	}

	id := snapid.NewSequence(seq, opts.Clock)
	zipName := id + ".zip"
	zipPath := b.layout.ZipFile(b.space, id)

	if err := atomicfile.WritePath(zipPath, true, func(tmp string) error {
		return writeZip(ctx, tmp, opts.SourceDir, opts.Ignore)
	}); err != nil {
		return SaveResult{}, err
	}

	rec, err := b.chain.Append(seq, id, isoNow(opts.Clock), zipPath, opts.Message, nil, zipName)
	if err != nil {
		os.Remove(zipPath)
		return SaveResult{}, err
	}

	return SaveResult{Id: id, Seq: seq, ZipAbs: zipPath, Record: rec}, nil
}

func (b *Backend) nextSeq() (int, error) {
	records, err := b.chain.List()
	if err != nil {
		return 0, err
	}
	return len(records) + 1, nil
}

func isoNow(clock snapid.Clock) string {
	if clock == nil {
		clock = snapid.SystemClock{}
	}
	return clock.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// writeZip streams every non-ignored file under srcDir into a new archive at
// destPath, in sorted relative-path order for determinism.
func writeZip(ctx context.Context, destPath, srcDir string, matcher *ignore.Matcher) error {
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return rinneerr.New("zipbackend.writeZip", rinneerr.KindIoFailed, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)

	var paths []string
	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}
		rel, rerr := filepath.Rel(srcDir, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if matcher != nil && matcher.MatchDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if matcher != nil && matcher.MatchFile(rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		zw.Close()
		return rinneerr.New("zipbackend.writeZip", rinneerr.KindIoFailed, err)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		select {
		case <-ctx.Done():
			zw.Close()
			return rinneerr.New("zipbackend.writeZip", rinneerr.KindCancelled, ctx.Err())
		default:
		}

		if err := addFileToZip(zw, srcDir, rel); err != nil {
			zw.Close()
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return rinneerr.New("zipbackend.writeZip", rinneerr.KindIoFailed, err)
	}
	return out.Sync()
}

func addFileToZip(zw *zip.Writer, srcDir, rel string) error {
	absPath := filepath.Join(srcDir, filepath.FromSlash(rel))
	info, err := os.Stat(absPath)
	if err != nil {
		return rinneerr.New("zipbackend.addFileToZip", rinneerr.KindIoFailed, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return rinneerr.New("zipbackend.addFileToZip", rinneerr.KindIoFailed, err)
	}
	hdr.Name = rel
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return rinneerr.New("zipbackend.addFileToZip", rinneerr.KindIoFailed, err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return rinneerr.New("zipbackend.addFileToZip", rinneerr.KindIoFailed, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return rinneerr.New("zipbackend.addFileToZip", rinneerr.KindIoFailed, err)
	}
	return nil
}

// Extract unpacks zipPath into destDir, defending against zip-slip entries
// (a path that would resolve outside destDir): it stops with an UnsafePath
// error at the first such entry. Entries before it are already written and
// are not removed.
func Extract(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return rinneerr.New("zipbackend.Extract", rinneerr.KindIoFailed, err)
	}
	defer r.Close()

	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return rinneerr.New("zipbackend.Extract", rinneerr.KindIoFailed, err)
	}

	for _, f := range r.File {
		target := filepath.Join(destAbs, filepath.FromSlash(f.Name))
		targetAbs, err := filepath.Abs(target)
		if err != nil {
			return rinneerr.New("zipbackend.Extract", rinneerr.KindIoFailed, err)
		}
		if targetAbs != destAbs && !strings.HasPrefix(targetAbs, destAbs+string(filepath.Separator)) {
			return rinneerr.New("zipbackend.Extract", rinneerr.KindUnsafePath, fmt.Errorf("entry %q escapes destination", f.Name))
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(targetAbs, 0o755); err != nil {
				return rinneerr.New("zipbackend.Extract", rinneerr.KindIoFailed, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(targetAbs), 0o755); err != nil {
			return rinneerr.New("zipbackend.Extract", rinneerr.KindIoFailed, err)
		}

		if err := extractOne(f, targetAbs); err != nil {
			return err
		}
	}
	return nil
}

func extractOne(f *zip.File, targetAbs string) error {
	rc, err := f.Open()
	if err != nil {
		return rinneerr.New("zipbackend.extractOne", rinneerr.KindIoFailed, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(targetAbs, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return rinneerr.New("zipbackend.extractOne", rinneerr.KindIoFailed, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return rinneerr.New("zipbackend.extractOne", rinneerr.KindIoFailed, err)
	}
	return nil
}
