// Package version implements the semantic-version algebra used to express
// and satisfy library dependency constraints (spec §4.1).
package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// Version is a four-component semantic version: major.minor.patch.revision,
// with an optional pre-release tag. Release versions sort after all
// pre-release versions carrying the same major.minor.patch.revision.
type Version struct {
	sv       *semver.Version
	revision uint64
	pre      string
}

// Parse reads a version string of the form "major.minor.patch[.revision][-pre]".
func Parse(s string) (Version, error) {
	raw := s
	pre := ""
	if i := strings.IndexByte(raw, '-'); i >= 0 {
		pre = raw[i+1:]
		raw = raw[:i]
	}

	parts := strings.Split(raw, ".")
	if len(parts) < 3 || len(parts) > 4 {
		return Version{}, errors.Errorf("version %q: expected major.minor.patch[.revision]", s)
	}

	var rev uint64
	if len(parts) == 4 {
		r, err := strconv.ParseUint(parts[3], 10, 64)
		if err != nil {
			return Version{}, errors.Wrapf(err, "version %q: invalid revision component", s)
		}
		rev = r
		parts = parts[:3]
	}

	core := strings.Join(parts, ".")
	if pre != "" {
		core = core + "-" + pre
	}
	sv, err := semver.NewVersion(core)
	if err != nil {
		return Version{}, errors.Wrapf(err, "version %q", s)
	}

	return Version{sv: sv, revision: rev, pre: pre}, nil
}

// MustParse is Parse, panicking on error. Intended for use with constants
// known valid at compile time (test fixtures, default constraints).
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) Major() uint64 { return v.sv.Major() }
func (v Version) Minor() uint64 { return v.sv.Minor() }
func (v Version) Patch() uint64 { return v.sv.Patch() }
func (v Version) Revision() uint64 { return v.revision }
func (v Version) Prerelease() string { return v.pre }
func (v Version) IsPrerelease() bool { return v.pre != "" }

// Compare returns -1, 0, or 1 as v is less than, equal to, or greater than o.
// Precedence is major, then minor, then patch, then revision, with
// pre-release tag as the final tiebreaker only once all four numeric
// components are equal; release versions sort after pre-release versions
// carrying the same major.minor.patch.revision. v.sv.Compare is not used
// here directly: it folds the pre-release tag into its own ordering ahead
// of a component semver itself doesn't know about (revision), which would
// let a prerelease difference outrank a revision difference.
func (v Version) Compare(o Version) int {
	if c := compareUint(v.sv.Major(), o.sv.Major()); c != 0 {
		return c
	}
	if c := compareUint(v.sv.Minor(), o.sv.Minor()); c != 0 {
		return c
	}
	if c := compareUint(v.sv.Patch(), o.sv.Patch()); c != 0 {
		return c
	}
	if c := compareUint(v.revision, o.revision); c != 0 {
		return c
	}
	switch {
	case v.pre == o.pre:
		return 0
	case v.pre == "":
		return 1
	case o.pre == "":
		return -1
	case v.pre < o.pre:
		return -1
	default:
		return 1
	}
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Version) Equal(o Version) bool { return v.Compare(o) == 0 }
func (v Version) Less(o Version) bool  { return v.Compare(o) < 0 }

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
	if v.revision != 0 {
		s += fmt.Sprintf(".%d", v.revision)
	}
	if v.pre != "" {
		s += "-" + v.pre
	}
	return s
}
