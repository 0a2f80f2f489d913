// Copyright 2026 The Rinne Authors
// SPDX-License-Identifier: Apache-2.0

// Package ignore compiles .rinneignore-style glob rules into a matcher, in
// the spirit of fstree's WithExclude option but generalised to the three
// separate rule sets (exclude / excludeFiles / excludeDirs) and the
// "**"-aware glob semantics the spec calls for.
package ignore

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// DefaultRules are always active, matching spec §4.2's built-ins.
var DefaultRules = []string{
	".rinne/**",
	".git/**",
	"bin/**",
	"obj/**",
	"*.tmp",
	"*.log",
	"*.user",
}

// Matcher holds three independently compiled rule sets.
type Matcher struct {
	exclude      []pattern
	excludeFiles []pattern
	excludeDirs  []pattern
}

type pattern struct {
	raw      string // normalised, lower-cased
	dirOnly  bool
	hasSlash bool
}

// New compiles a Matcher from three raw rule lists. Callers typically pass
// DefaultRules plus anything loaded from .rinneignore for `exclude`.
func New(exclude, excludeFiles, excludeDirs []string) *Matcher {
	return &Matcher{
		exclude:      compile(exclude),
		excludeFiles: compile(excludeFiles),
		excludeDirs:  compile(excludeDirs),
	}
}

// NewFromFile compiles a Matcher from .rinneignore contents (if present)
// merged with DefaultRules. `.rinne/` and `.rinneignore` are always excluded
// regardless of what the file says, matching spec §4.2.
func NewFromFile(path string) (*Matcher, error) {
	rules := append([]string{}, DefaultRules...)

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		lines, lerr := readLines(f)
		if lerr != nil {
			return nil, lerr
		}
		rules = append(rules, lines...)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	return New(rules, nil, nil), nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func compile(rules []string) []pattern {
	out := make([]pattern, 0, len(rules))
	for _, r := range rules {
		r = strings.ReplaceAll(r, `\`, "/")
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		dirOnly := strings.HasSuffix(r, "/")
		r = strings.TrimSuffix(r, "/")
		out = append(out, pattern{
			raw:      strings.ToLower(r),
			dirOnly:  dirOnly,
			hasSlash: strings.Contains(r, "/"),
		})
	}
	return out
}

// MatchFile reports whether relPath (file, "/"-separated, no leading slash)
// is ignored by `exclude` or `excludeFiles`. .rinne/** and .rinneignore are
// force-excluded.
func (m *Matcher) MatchFile(relPath string) bool {
	if isForcedPath(relPath) {
		return true
	}
	if m == nil {
		return false
	}
	return matchAny(m.exclude, relPath, false) || matchAny(m.excludeFiles, relPath, false)
}

// MatchDir reports whether relPath (directory, "/"-separated, no leading or
// trailing slash) is ignored by `exclude` or `excludeDirs`.
func (m *Matcher) MatchDir(relPath string) bool {
	if isForcedPath(relPath) {
		return true
	}
	if m == nil {
		return false
	}
	return matchAny(m.exclude, relPath, true) || matchAny(m.excludeDirs, relPath, true)
}

func isForcedPath(relPath string) bool {
	p := strings.ToLower(relPath)
	return p == ".rinne" || strings.HasPrefix(p, ".rinne/") || p == ".rinneignore"
}

func matchAny(pats []pattern, relPath string, isDir bool) bool {
	p := strings.ToLower(relPath)
	pd := p
	if isDir && !strings.HasSuffix(pd, "/") {
		pd += "/"
	}
	base := p
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}

	for _, pat := range pats {
		if pat.dirOnly && !isDir {
			continue
		}
		subject := p
		if pat.dirOnly {
			subject = pd
		}
		if globMatch(pat.raw, subject) {
			return true
		}
		// A pattern without "/" also matches any basename segment.
		if !pat.hasSlash && globMatch(pat.raw, base) {
			return true
		}
	}
	return false
}

// globMatch implements the glob dialect from spec §4.2: "**" matches any
// path including "/", "*" matches any run of characters not containing "/",
// and "?" matches a single non-separator character. Matching is
// case-insensitive; callers are expected to have already lower-cased both
// arguments.
func globMatch(pat, name string) bool {
	return matchGlob([]rune(pat), []rune(name))
}

func matchGlob(pat, name []rune) bool {
	// Classic backtracking glob matcher extended with "**".
	var pi, ni int
	var starIdx = -1
	var starNi int
	var starIsDouble bool

	for ni < len(name) {
		if pi < len(pat) {
			switch {
			case pat[pi] == '*' && pi+1 < len(pat) && pat[pi+1] == '*':
				starIdx = pi
				starNi = ni
				starIsDouble = true
				pi += 2
				continue
			case pat[pi] == '*':
				starIdx = pi
				starNi = ni
				starIsDouble = false
				pi++
				continue
			case pat[pi] == '?':
				if name[ni] != '/' {
					pi++
					ni++
					continue
				}
			case pat[pi] == name[ni]:
				pi++
				ni++
				continue
			}
		}
		// mismatch; backtrack to last star if any
		if starIdx >= 0 {
			pi = starIdx
			if starIsDouble {
				pi += 2
			} else {
				pi++
			}
			starNi++
			ni = starNi
			// single "*" must not cross "/"
			if !starIsDouble && ni > 0 && name[ni-1] == '/' {
				return false
			}
			continue
		}
		return false
	}

	for pi < len(pat) && pat[pi] == '*' {
		pi++
	}
	return pi == len(pat)
}
