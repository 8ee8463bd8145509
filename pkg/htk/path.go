package htk

import (
	"fmt"
	"strconv"
	"strings"
)

// Path locates an utterance's frames inside a feature archive.
//
// Script-file entries take the form
//
//	logical=physical[first,last]
//
// where logical carries the utterance identity, physical names the archive
// file, and [first,last] is an inclusive frame range within it. Both the
// alias and the bracket are optional: a bare path means "the whole file
// under its own name".
type Path struct {
	Logical  string // identity path (archive path when no alias given)
	Physical string // storage path of the archive file
	First    int64  // first frame in the archive, -1 when no range given
	Last     int64  // last frame (inclusive), -1 when no range given
}

// ParsePath parses a script-file entry.
func ParsePath(entry string) (Path, error) {
	p := Path{First: -1, Last: -1}
	s := strings.TrimSpace(entry)
	if s == "" {
		return Path{}, fmt.Errorf("htk: empty script entry")
	}
	if i := strings.IndexByte(s, '='); i >= 0 {
		p.Logical = s[:i]
		s = s[i+1:]
	}
	if strings.HasSuffix(s, "]") {
		open := strings.LastIndexByte(s, '[')
		if open < 0 {
			return Path{}, fmt.Errorf("htk: malformed frame range in %q", entry)
		}
		rangeSpec := s[open+1 : len(s)-1]
		comma := strings.IndexByte(rangeSpec, ',')
		if comma < 0 {
			return Path{}, fmt.Errorf("htk: malformed frame range in %q", entry)
		}
		first, err := strconv.ParseInt(strings.TrimSpace(rangeSpec[:comma]), 10, 64)
		if err != nil {
			return Path{}, fmt.Errorf("htk: bad first frame in %q: %w", entry, err)
		}
		last, err := strconv.ParseInt(strings.TrimSpace(rangeSpec[comma+1:]), 10, 64)
		if err != nil {
			return Path{}, fmt.Errorf("htk: bad last frame in %q: %w", entry, err)
		}
		if first < 0 || last < first {
			return Path{}, fmt.Errorf("htk: invalid frame range [%d,%d] in %q", first, last, entry)
		}
		p.First, p.Last = first, last
		s = s[:open]
	}
	p.Physical = s
	if p.Logical == "" {
		p.Logical = s
	}
	if p.Physical == "" {
		return Path{}, fmt.Errorf("htk: missing physical path in %q", entry)
	}
	return p, nil
}

// NumFrames returns the frame count implied by the range, or -1 when the
// entry has no range and the archive header must be consulted.
func (p Path) NumFrames() int64 {
	if p.First < 0 {
		return -1
	}
	return p.Last - p.First + 1
}

// Key returns the utterance key: the logical path with its extension
// stripped. Label archives are keyed the same way.
func (p Path) Key() string {
	s := p.Logical
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.':
			return s[:i]
		case '/', '\\', ':':
			return s
		}
	}
	return s
}

func (p Path) String() string {
	var b strings.Builder
	if p.Logical != p.Physical {
		b.WriteString(p.Logical)
		b.WriteByte('=')
	}
	b.WriteString(p.Physical)
	if p.First >= 0 {
		fmt.Fprintf(&b, "[%d,%d]", p.First, p.Last)
	}
	return b.String()
}
