// Package taskid orders dotted hierarchical task identifiers.
//
// Tracker queries return tasks in storage order, which interleaves
// "epic.2" and "epic.10" lexicographically. The comparator here sorts
// numeric depth segments numerically so plan-declared order survives.
package taskid

import (
	"sort"
	"strconv"
	"strings"
)

// segment is one dot-separated component after the base token.
// Exactly one of num/str is meaningful, selected by isNum.
type segment struct {
	num   int
	str   string
	isNum bool
}

// ID is a parsed hierarchical identifier: a base token plus ordered segments.
type ID struct {
	Base     string
	segments []segment
	raw      string
}

// Parse splits an identifier on ".". The first token is the base; every
// remaining token is reclassified as an integer if it is entirely digits.
func Parse(id string) ID {
	parts := strings.Split(id, ".")
	parsed := ID{Base: parts[0], raw: id}
	for _, p := range parts[1:] {
		if n, err := strconv.Atoi(p); err == nil && p != "" {
			parsed.segments = append(parsed.segments, segment{num: n, isNum: true})
		} else {
			parsed.segments = append(parsed.segments, segment{str: p})
		}
	}
	return parsed
}

// Compare returns -1, 0, or 1 establishing a total order over identifiers.
// Bases compare lexicographically, then segments pairwise: two numeric
// segments compare numerically, anything else compares by raw token text.
// An id that is a strict prefix of another sorts first. The raw strings
// break any remaining tie.
func Compare(a, b string) int {
	if a == b {
		return 0
	}

	pa, pb := Parse(a), Parse(b)
	if pa.Base != pb.Base {
		return strings.Compare(pa.Base, pb.Base)
	}

	for i := 0; i < len(pa.segments) && i < len(pb.segments); i++ {
		if c := compareSegments(pa.segments[i], pb.segments[i]); c != 0 {
			return c
		}
	}

	// Fewer segments sorts first ("epic.1" before "epic.1.2").
	if len(pa.segments) != len(pb.segments) {
		if len(pa.segments) < len(pb.segments) {
			return -1
		}
		return 1
	}

	return strings.Compare(a, b)
}

func compareSegments(a, b segment) int {
	if a.isNum && b.isNum {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a.text(), b.text())
}

func (s segment) text() string {
	if s.isNum {
		return strconv.Itoa(s.num)
	}
	return s.str
}

// Less reports whether a sorts before b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// Sort orders a slice of identifiers in place.
func Sort(ids []string) {
	sort.Slice(ids, func(i, j int) bool { return Less(ids[i], ids[j]) })
}
