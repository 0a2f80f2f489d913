// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package snapid parses and generates the two SnapshotId formats from spec
// §3: the ZIP backend's sequence form and the CAS backend's time+UUID form.
// Both formats share a sortable time-based prefix, so ids compare correctly
// across the whole space regardless of which backend produced them — per
// §9's open question, the core supports both in parsing and comparison
// without assuming a repository uses only one.
package snapid

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rinne-vcs/rinne/internal/rinneerr"
)

// Clock is the injectable time source used for id generation, per spec §9
// ("the clock used for snapshot id generation must be injectable").
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

const (
	seqTimeLayout  = "20060102T150405.000"
	timeUUIDLayout = "20060102T150405Z"
)

var (
	seqPattern     = regexp.MustCompile(`^(\d{8})_(\d{8}T\d{6}\d{3})$`)
	timeUUIDPrefix = regexp.MustCompile(`^(\d{8}T\d{6}Z)_(.+)$`)
)

// Kind distinguishes the two id formats.
type Kind int

const (
	KindUnknown Kind = iota
	KindSequence
	KindTimeUUID
)

// Id is a parsed SnapshotId.
type Id struct {
	Raw  string
	Kind Kind

	// Sequence form fields.
	Seq int
	// TimeUUID form field.
	UUID uuid.UUID

	Time time.Time // always populated
}

// NewSequence generates the ZIP backend's "<8-digit seq>_<UTC millisecond timestamp>" form.
func NewSequence(seq int, clock Clock) string {
	if clock == nil {
		clock = SystemClock{}
	}
	ts := clock.Now().UTC().Format("20060102T150405.000")
	ts = removeDot(ts)
	return fmt.Sprintf("%08d_%s", seq, ts)
}

// NewTimeUUID generates the CAS backend's "<UTC second timestamp>_<UUIDv7>" form.
func NewTimeUUID(clock Clock) (string, error) {
	if clock == nil {
		clock = SystemClock{}
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", rinneerr.New("snapid.NewTimeUUID", rinneerr.KindIoFailed, err)
	}
	ts := clock.Now().UTC().Format(timeUUIDLayout)
	return fmt.Sprintf("%s_%s", ts, id.String()), nil
}

func removeDot(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

// Parse accepts either format and returns the parsed Id.
func Parse(raw string) (Id, error) {
	if m := seqPattern.FindStringSubmatch(raw); m != nil {
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			return Id{}, rinneerr.New("snapid.Parse", rinneerr.KindInvalidArgument, err)
		}
		ts := m[2]
		if len(ts) != 18 {
			return Id{}, rinneerr.New("snapid.Parse", rinneerr.KindInvalidArgument, fmt.Errorf("malformed sequence timestamp %q", ts))
		}
		t, err := time.Parse("20060102T150405", ts[:15])
		if err != nil {
			return Id{}, rinneerr.New("snapid.Parse", rinneerr.KindInvalidArgument, err)
		}
		millis, err := strconv.Atoi(ts[15:])
		if err != nil {
			return Id{}, rinneerr.New("snapid.Parse", rinneerr.KindInvalidArgument, err)
		}
		t = t.Add(time.Duration(millis) * time.Millisecond)
		return Id{Raw: raw, Kind: KindSequence, Seq: seq, Time: t.UTC()}, nil
	}

	if m := timeUUIDPrefix.FindStringSubmatch(raw); m != nil {
		id, err := uuid.Parse(m[2])
		if err != nil {
			return Id{}, rinneerr.New("snapid.Parse", rinneerr.KindInvalidArgument, err)
		}
		t, err := time.Parse(timeUUIDLayout, m[1])
		if err != nil {
			return Id{}, rinneerr.New("snapid.Parse", rinneerr.KindInvalidArgument, err)
		}
		return Id{Raw: raw, Kind: KindTimeUUID, UUID: id, Time: t.UTC()}, nil
	}

	return Id{}, rinneerr.New("snapid.Parse", rinneerr.KindInvalidArgument, fmt.Errorf("unrecognised snapshot id %q", raw))
}

// Less orders two ids lexicographically on their time-prefix portion, per
// spec §3 ("total order by id (lexicographic on the time-prefix portion)").
func Less(a, b string) bool {
	return timePrefix(a) < timePrefix(b)
}

func timePrefix(raw string) string {
	if m := seqPattern.FindStringSubmatch(raw); m != nil {
		return m[2]
	}
	if m := timeUUIDPrefix.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	return raw
}
