// Package version implements the structured ordering used to identify
// migration units: a dotted numeric version ("1.10" sorts after "1.2")
// plus a zero-padded sequence for tie-breaking within a version.
package version

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed version")

// Version is a dotted numeric version, compared component-wise.
type Version struct {
	Major int
	Minor int
}

func Parse(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return Version{}, fmt.Errorf("%w: %q (want major.minor)", ErrMalformed, s)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil || major < 0 {
		return Version{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return Version{}, fmt.Errorf("%w: %q", ErrMalformed, s)
	}
	return Version{Major: major, Minor: minor}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compare returns -1, 0 or 1. Comparison is numeric per component,
// never lexicographic: 1.10 > 1.2.
func (v Version) Compare(o Version) int {
	if v.Major != o.Major {
		return sign(v.Major - o.Major)
	}
	return sign(v.Minor - o.Minor)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// ID is the global identity of a migration unit: (version, sequence).
type ID struct {
	Version  Version
	Sequence string
}

// ParseID parses "1.2-001" style identifiers. A bare "1.2" is accepted
// with an empty sequence, meaning "any sequence of that version" for
// rollback targets.
func ParseID(s string) (ID, error) {
	ver, seq, found := strings.Cut(s, "-")
	v, err := Parse(ver)
	if err != nil {
		return ID{}, err
	}
	if !found {
		return ID{Version: v}, nil
	}
	if err := validSequence(seq); err != nil {
		return ID{}, err
	}
	return ID{Version: v, Sequence: seq}, nil
}

func validSequence(seq string) error {
	if seq == "" {
		return fmt.Errorf("%w: empty sequence", ErrMalformed)
	}
	for _, r := range seq {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: sequence %q is not numeric", ErrMalformed, seq)
		}
	}
	return nil
}

func (id ID) String() string {
	if id.Sequence == "" {
		return id.Version.String()
	}
	return id.Version.String() + "-" + id.Sequence
}

// Compare orders IDs by version, then by sequence. Sequences compare as
// zero-padded numeric tokens, so "2" and "002" are equal and "010" > "2".
func (id ID) Compare(o ID) int {
	if c := id.Version.Compare(o.Version); c != 0 {
		return c
	}
	return CompareSequence(id.Sequence, o.Sequence)
}

// CompareSequence compares two numeric sequence tokens after left-padding
// the shorter one with zeros. An empty sequence sorts after any other, so
// a bare-version rollback target keeps every sequence of its own version
// while selecting all units of later versions.
func CompareSequence(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return 1
	}
	if b == "" {
		return -1
	}
	for len(a) < len(b) {
		a = "0" + a
	}
	for len(b) < len(a) {
		b = "0" + b
	}
	return strings.Compare(a, b)
}
