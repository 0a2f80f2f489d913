// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package chainmeta implements ChainMeta (C11): the ZIP backend's per-space
// hash-chain metadata, linking each snapshot record to its predecessor so a
// reader can detect tampering or truncation anywhere in the chain.
package chainmeta

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rinne-vcs/rinne/internal/atomicfile"
	"github.com/rinne-vcs/rinne/internal/pathlayout"
	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// Schema is the only ChainMeta document schema this build writes/accepts.
const Schema = 1

// IgnoreInfo records which ignore rules (if any) were in effect when a
// snapshot was captured, per spec §3's ChainMeta description.
type IgnoreInfo struct {
	Source string   `json:"source"`
	Rules  []string `json:"rules"`
}

// ChainLinks is the hash-chain portion of a record's Hash field.
type ChainLinks struct {
	PrevId string `json:"prevId,omitempty"`
	Prev   string `json:"prev,omitempty"`
	This   string `json:"this"`
}

// HashInfo is the full hash record: the archive's own digest plus its
// position in the chain.
type HashInfo struct {
	Algo  string     `json:"algo"`
	Zip   string     `json:"zip"`
	Chain ChainLinks `json:"chain"`
}

// Record is one linked-list node in a space's snapshot chain, matching the
// ChainMeta JSON document described in spec §3/§6.
type Record struct {
	Schema  int        `json:"schema"`
	Id      string     `json:"id"`
	Seq     int        `json:"seq"`
	Utc     string     `json:"utc"`
	Space   string     `json:"space"`
	Zip     string     `json:"zip"`
	Message string     `json:"message"`
	Ignore  IgnoreInfo `json:"ignore"`
	Hash    HashInfo   `json:"hash"`
}

// Chain reads and writes Records for one (repository, space) pair.
type Chain struct {
	layout pathlayout.Layout
	space  string
}

// New builds a Chain rooted at layout's ZIP metadata directory for space.
func New(layout pathlayout.Layout, space string) *Chain {
	return &Chain{layout: layout, space: space}
}

// Append computes and writes the next record for snapshot id with sequence
// seq, given the already-written zip archive at zipPath, per spec §4.11.
func (c *Chain) Append(seq int, id, utc, zipPath, message string, ignoreRules []string, zipName string) (Record, error) {
	zipHash, err := hashFile(zipPath)
	if err != nil {
		return Record{}, rinneerr.New("chainmeta.Append", rinneerr.KindIoFailed, err)
	}

	var prevId, prev string
	if seq > 1 {
		prevRec, err := c.findBySeq(seq - 1)
		if err != nil {
			return Record{}, err
		}
		prevId = prevRec.Id
		prev = prevRec.Hash.Chain.This
	}

	this := chainHash(prev, utc, id, zipHash)
	rec := Record{
		Schema:  Schema,
		Id:      id,
		Seq:     seq,
		Utc:     utc,
		Space:   c.space,
		Zip:     zipName,
		Message: message,
		Ignore:  IgnoreInfo{Source: ".rinneignore", Rules: ignoreRules},
		Hash: HashInfo{
			Algo: "SHA256",
			Zip:  zipHash,
			Chain: ChainLinks{
				PrevId: prevId,
				Prev:   prev,
				This:   this,
			},
		},
	}

	if err := c.write(rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func chainHash(prev, utc, id, zipHash string) string {
	h := sha256.New()
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(utc))
	h.Write([]byte{0})
	h.Write([]byte(id))
	h.Write([]byte{0})
	h.Write([]byte(zipHash))
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

func hashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// metaFile returns the on-disk path for a record, keyed by snapshot id per
// spec §3/§6 (.rinne/data/<space>/meta/<id>.json) rather than by sequence
// number, via the shared pathlayout helper.
func (c *Chain) metaFile(id string) string {
	return c.layout.ZipMetaFile(c.space, id)
}

func (c *Chain) write(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return rinneerr.New("chainmeta.write", rinneerr.KindIoFailed, err)
	}
	return atomicfile.WriteBytes(c.metaFile(rec.Id), true, data)
}

func (c *Chain) readFile(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, rinneerr.New("chainmeta.readFile", rinneerr.KindNotFound, err)
		}
		return Record{}, rinneerr.New("chainmeta.readFile", rinneerr.KindIoFailed, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, rinneerr.New("chainmeta.readFile", rinneerr.KindCorrupt, err)
	}
	return rec, nil
}

// findBySeq scans the chain for the record with the given sequence number.
// Filenames are keyed by id, not seq, so there is no direct path lookup.
func (c *Chain) findBySeq(seq int) (Record, error) {
	records, err := c.List()
	if err != nil {
		return Record{}, err
	}
	for _, rec := range records {
		if rec.Seq == seq {
			return rec, nil
		}
	}
	return Record{}, rinneerr.New("chainmeta.findBySeq", rinneerr.KindNotFound, fmt.Errorf("no record with seq %d in space %q", seq, c.space))
}

// List returns every record in the chain, ordered by Seq.
func (c *Chain) List() ([]Record, error) {
	dir := c.layout.ZipMetaDir(c.space)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, rinneerr.New("chainmeta.List", rinneerr.KindIoFailed, err)
	}

	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := c.readFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records, nil
}

// VerifyResult is the report produced by Verify, per spec §4.11.
type VerifyResult struct {
	Target  string
	IsOk    bool
	Summary string
	Details []string
}

// Verify walks the chain in seq order, recomputing This from the in-record
// fields and the prior record's This, and recomputing ZipHash from the
// archive currently on disk, reporting every mismatch without stopping at
// the first one.
func (c *Chain) Verify(zipPathForSeq func(seq int) string) (VerifyResult, error) {
	records, err := c.List()
	if err != nil {
		return VerifyResult{}, err
	}

	var details []string
	prev := ""
	for _, rec := range records {
		wantThis := chainHash(prev, rec.Utc, rec.Id, rec.Hash.Zip)
		if wantThis != rec.Hash.Chain.This {
			details = append(details, fmt.Sprintf("seq %d: chain hash mismatch: record has %s, recomputed %s", rec.Seq, rec.Hash.Chain.This, wantThis))
		}
		if rec.Hash.Chain.Prev != prev {
			details = append(details, fmt.Sprintf("seq %d: prev link mismatch: record has %s, expected %s", rec.Seq, rec.Hash.Chain.Prev, prev))
		}

		if zipPathForSeq != nil {
			zipPath := zipPathForSeq(rec.Seq)
			gotZipHash, err := hashFile(zipPath)
			if err != nil {
				details = append(details, fmt.Sprintf("seq %d: could not hash archive: %v", rec.Seq, err))
			} else if gotZipHash != rec.Hash.Zip {
				details = append(details, fmt.Sprintf("seq %d: zip hash mismatch: record has %s, archive hashes to %s", rec.Seq, rec.Hash.Zip, gotZipHash))
			}
		}

		prev = rec.Hash.Chain.This
	}

	res := VerifyResult{
		Target:  c.space,
		IsOk:    len(details) == 0,
		Details: details,
	}
	if res.IsOk {
		res.Summary = fmt.Sprintf("chain of %d record(s) verified OK", len(records))
	} else {
		res.Summary = fmt.Sprintf("chain of %d record(s): %d problem(s) found", len(records), len(details))
	}
	return res, nil
}

// Restitch recomputes This for every remaining record after a deletion,
// preserving Id/Utc/ZipHash and overwriting only the chain fields (Prev,
// This), per spec §4.11.
func (c *Chain) Restitch() error {
	records, err := c.List()
	if err != nil {
		return err
	}

	prev := ""
	var prevId string
	for _, rec := range records {
		rec.Hash.Chain.PrevId = prevId
		rec.Hash.Chain.Prev = prev
		rec.Hash.Chain.This = chainHash(prev, rec.Utc, rec.Id, rec.Hash.Zip)
		if err := c.write(rec); err != nil {
			return err
		}
		prev = rec.Hash.Chain.This
		prevId = rec.Id
	}
	return nil
}

// Delete removes the record for seq from disk. Callers are expected to
// follow a Delete with Restitch to keep the chain consistent.
func (c *Chain) Delete(seq int) error {
	rec, err := c.findBySeq(seq)
	if err != nil {
		if rinneerr.Is(err, rinneerr.KindNotFound) {
			return nil
		}
		return err
	}
	if err := os.Remove(c.metaFile(rec.Id)); err != nil && !os.IsNotExist(err) {
		return rinneerr.New("chainmeta.Delete", rinneerr.KindIoFailed, err)
	}
	return nil
}
