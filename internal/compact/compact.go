// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package compact implements CompactPipe (C9): the directory-to-CAS
// ingestion pipeline that chunks, deduplicates, and records a tree as a
// manifest. Parallel file workers are bounded with golang.org/x/sync/errgroup,
// the same fan-out primitive used pervasively across the wider retrieval
// pack for bounded concurrent work.
package compact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rinne-vcs/rinne/internal/atomicfile"
	"github.com/rinne-vcs/rinne/internal/casstore"
	"github.com/rinne-vcs/rinne/internal/fastcdc"
	"github.com/rinne-vcs/rinne/internal/filemetacache"
	"github.com/rinne-vcs/rinne/internal/hashstream"
	"github.com/rinne-vcs/rinne/internal/ignore"
	"github.com/rinne-vcs/rinne/internal/manifest"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// Options configure a single compact run, per spec §4.9.
type Options struct {
	InputDir       string
	ManifestPath   string
	Workers        int
	ZstdLevel      int
	DirectoryDepth int
	Chunker        fastcdc.Params
	FullHashCheck  bool
	Ignore         *ignore.Matcher // nil means no filtering
}

// Pipe runs CompactPipe against a fixed CasStore/FileMetaCache pair.
type Pipe struct {
	store *casstore.Store
	cache *filemetacache.Cache
	log   *zap.Logger
}

// New builds a Pipe. log may be nil to discard diagnostics.
func New(store *casstore.Store, cache *filemetacache.Cache, log *zap.Logger) *Pipe {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipe{store: store, cache: cache, log: log}
}

type fileJob struct {
	relPath string
	absPath string
	size    int64
	mtime   time.Time
}

type fileResult struct {
	relPath     string
	bytes       int64
	chunkHashes []string
}

// Run walks opts.InputDir, chunks/dedups every file into the store, and
// writes the resulting manifest atomically to opts.ManifestPath.
func (p *Pipe) Run(ctx context.Context, opts Options) (manifest.Manifest, error) {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	jobs, dirs, absByRel, err := p.enumerate(opts)
	if err != nil {
		return manifest.Manifest{}, err
	}

	p.log.Info("compact starting",
		zap.String("input", opts.InputDir),
		zap.Int("files", len(jobs)),
		zap.Int("workers", opts.Workers))

	results := make([]fileResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := p.processFile(gctx, opts, job)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return manifest.Manifest{}, rinneerr.New("compact.Run", rinneerr.KindCancelled, ctx.Err())
		}
		return manifest.Manifest{}, err
	}

	rootHash, err := hashstream.HexOrderedFiles(ctx, absByRel)
	if err != nil {
		return manifest.Manifest{}, rinneerr.New("compact.Run", rinneerr.KindIoFailed, err)
	}

	var totalBytes int64
	entries := make([]manifest.FileEntry, len(results))
	for i, r := range results {
		entries[i] = manifest.FileEntry{RelativePath: r.relPath, Bytes: r.bytes, ChunkHashes: r.chunkHashes}
		totalBytes += r.bytes
	}

	m := manifest.Manifest{
		Version:        manifest.Version,
		Root:           rootHash,
		OriginalSha256: rootHash,
		TotalBytes:     totalBytes,
		AvgSizeBytes:   opts.Chunker.AvgSize,
		MinSizeBytes:   opts.Chunker.MinSize,
		MaxSizeBytes:   opts.Chunker.MaxSize,
		Level:          opts.ZstdLevel,
		FileCount:      len(entries),
		Files:          entries,
		Dirs:           dirs,
	}

	data, err := manifest.Marshal(m)
	if err != nil {
		return manifest.Manifest{}, rinneerr.New("compact.Run", rinneerr.KindIoFailed, err)
	}

	if err := atomicfile.WriteBytes(opts.ManifestPath, true, data); err != nil {
		return manifest.Manifest{}, err
	}

	if p.cache != nil {
		if err := p.cache.CommitStaged(ctx); err != nil {
			p.log.Warn("file meta cache commit failed after manifest write", zap.Error(err))
		}
	}

	p.log.Info("compact finished", zap.String("root", rootHash), zap.Int64("totalBytes", totalBytes))
	return m, nil
}

// enumerate walks opts.InputDir in code-point-ordered relative-path order,
// honoring opts.Ignore, per spec §4.9 step 1.
func (p *Pipe) enumerate(opts Options) ([]fileJob, []string, map[string]string, error) {
	var jobs []fileJob
	var dirs []string
	absByRel := make(map[string]string)

	err := filepath.WalkDir(opts.InputDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == opts.InputDir {
			return nil
		}
		rel, rerr := filepath.Rel(opts.InputDir, path)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if opts.Ignore != nil && opts.Ignore.MatchDir(rel) {
				return filepath.SkipDir
			}
			dirs = append(dirs, rel)
			return nil
		}

		if d.Type()&os.ModeSymlink != 0 {
			p.log.Warn("skipping symlink", zap.String("path", rel))
			return nil
		}
		if opts.Ignore != nil && opts.Ignore.MatchFile(rel) {
			return nil
		}

		info, ierr := d.Info()
		if ierr != nil {
			return ierr
		}

		jobs = append(jobs, fileJob{relPath: rel, absPath: path, size: info.Size(), mtime: info.ModTime()})
		absByRel[rel] = path
		return nil
	})
	if err != nil {
		return nil, nil, nil, rinneerr.New("compact.enumerate", rinneerr.KindIoFailed, err)
	}

	sort.Slice(jobs, func(i, j int) bool { return jobs[i].relPath < jobs[j].relPath })
	sort.Strings(dirs)

	return jobs, dirs, absByRel, nil
}

// processFile implements spec §4.9 step 2: cache fast-path, else chunk and
// store. Returns the file's byte count and ordered chunk hash list.
func (p *Pipe) processFile(ctx context.Context, opts Options, job fileJob) (fileResult, error) {
	select {
	case <-ctx.Done():
		return fileResult{}, rinneerr.New("compact.processFile", rinneerr.KindCancelled, ctx.Err())
	default:
	}

	if p.cache != nil {
		if row, ok, err := p.cache.TryGet(ctx, job.relPath); err == nil && ok {
			if row.Size == job.size && row.MtimeTicks == job.mtime.UnixNano() {
				if !opts.FullHashCheck || p.fileHashMatches(ctx, job.absPath, row.FileHash) {
					if p.allBlobsExist(row.ChunkHashes) {
						p.cache.Stage(job.relPath, job.size, job.mtime.UnixNano(), row.FileHash, row.ChunkHashes, row.SnapshotFileHash, time.Now().UnixNano())
						return fileResult{relPath: job.relPath, bytes: job.size, chunkHashes: row.ChunkHashes}, nil
					}
					p.log.Warn("cache row referenced missing blob; re-chunking", zap.String("path", job.relPath))
				}
			}
		}
	}

	chunkHashes, fileHash, err := p.chunkAndStore(ctx, opts, job)
	if err != nil {
		return fileResult{}, err
	}

	if p.cache != nil {
		p.cache.Stage(job.relPath, job.size, job.mtime.UnixNano(), fileHash, chunkHashes, fileHash, time.Now().UnixNano())
	}

	return fileResult{relPath: job.relPath, bytes: job.size, chunkHashes: chunkHashes}, nil
}

func (p *Pipe) allBlobsExist(hashes []string) bool {
	for _, h := range hashes {
		if !p.store.Exists(h) {
			return false
		}
	}
	return true
}

func (p *Pipe) fileHashMatches(ctx context.Context, absPath, want string) bool {
	got, err := hashstream.HexFile(ctx, absPath)
	if err != nil {
		return false
	}
	return strings.EqualFold(got, want)
}

func (p *Pipe) chunkAndStore(ctx context.Context, opts Options, job fileJob) ([]string, string, error) {
	f, err := os.Open(job.absPath)
	if err != nil {
		return nil, "", rinneerr.New("compact.chunkAndStore", rinneerr.KindIoFailed, err)
	}
	defer f.Close()

	th := hashstream.NewTeeHasher(io.Discard)
	chunker, err := fastcdc.New(io.TeeReader(f, th), opts.Chunker)
	if err != nil {
		return nil, "", rinneerr.New("compact.chunkAndStore", rinneerr.KindInvalidArgument, err)
	}

	var chunkHashes []string
	for {
		select {
		case <-ctx.Done():
			return nil, "", rinneerr.New("compact.chunkAndStore", rinneerr.KindCancelled, ctx.Err())
		default:
		}

		chunk, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, "", rinneerr.New("compact.chunkAndStore", rinneerr.KindIoFailed, err)
		}

		hash, err := p.store.PutIfAbsent(ctx, chunk.Bytes)
		if err != nil {
			return nil, "", err
		}
		chunkHashes = append(chunkHashes, hash)
	}

	return chunkHashes, th.SumHex(), nil
}
