package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pkg/errors"
)

// FloatBehavior governs how a Range with an open or approximate upper bound
// accepts newer versions than Min (spec §4.1). The constants are ordered
// from the most to the least constrained: each behavior frees its named
// component and every component more specific than it (e.g. FloatBuild
// frees patch, revision, and, implicitly, requires a release - not
// pre-release - match).
type FloatBehavior int

const (
	FloatNone FloatBehavior = iota
	FloatPrerelease
	FloatRevision
	FloatBuild
	FloatMinor
	FloatMajor
	FloatAbsoluteLatest
)

// Range is a dependency version constraint: an optional inclusive/exclusive
// [Min, Max] interval plus an optional float behavior that further widens
// acceptance among otherwise-unconstrained components. Min carries the
// fixed prefix of a floating range (e.g. "1.2.0.0" for "1.2.*"); components
// at or beyond Float are free to vary. FloatPrefix additionally restricts
// FloatPrerelease to tags sharing a literal prefix, e.g. "1.0.0-beta.*".
type Range struct {
	Min, Max                   *Version
	MinInclusive, MaxInclusive bool
	Float                      FloatBehavior
	FloatPrefix                string
}

// Exact builds a Range that matches exactly one version, e.g. "[1.2.3]".
func Exact(v Version) Range {
	return Range{Min: &v, Max: &v, MinInclusive: true, MaxInclusive: true}
}

// AtLeast builds a Range with no upper bound, e.g. the plain "1.2.3" form
// NuGet-style manifests use for "minimum version" dependencies.
func AtLeast(v Version) Range {
	return Range{Min: &v, MinInclusive: true}
}

// Satisfies reports whether v falls within r's bounds. A floating range
// (Float != FloatNone) is handled separately from the plain interval case:
// spec §4.1/§6 require the allowed component, and any more specific one, to
// be free, while every component above it must match Min exactly.
func (r Range) Satisfies(v Version) bool {
	if r.Float != FloatNone {
		return r.satisfiesFloat(v)
	}
	if r.Min != nil {
		c := v.Compare(*r.Min)
		if c < 0 || (c == 0 && !r.MinInclusive) {
			return false
		}
	}
	if r.Max != nil {
		c := v.Compare(*r.Max)
		if c > 0 || (c == 0 && !r.MaxInclusive) {
			return false
		}
	}
	return true
}

func (r Range) satisfiesFloat(v Version) bool {
	m := r.Min
	if m == nil {
		return false
	}
	switch r.Float {
	case FloatAbsoluteLatest:
		return true
	case FloatMajor:
		return !v.IsPrerelease()
	case FloatMinor:
		return v.Major() == m.Major() && !v.IsPrerelease()
	case FloatBuild:
		return v.Major() == m.Major() && v.Minor() == m.Minor() && !v.IsPrerelease()
	case FloatRevision:
		return v.Major() == m.Major() && v.Minor() == m.Minor() && v.Patch() == m.Patch() && !v.IsPrerelease()
	case FloatPrerelease:
		if v.Major() != m.Major() || v.Minor() != m.Minor() || v.Patch() != m.Patch() || v.Revision() != m.Revision() {
			return false
		}
		if r.FloatPrefix == "" {
			return true
		}
		return v.IsPrerelease() && strings.HasPrefix(v.Prerelease(), r.FloatPrefix)
	default:
		return false
	}
}

// String renders the canonical bracket form pinned by SPEC_FULL.md §9(a):
// "[min,max)"-style, with omitted bounds left blank, e.g. "[1.0.0,)",
// "[1.0.0]" for an exact pin, and "(,2.0.0]" for a max-only range. This is
// the single formatter used on both the manifest and lock sides of
// validation (spec §4.5, resolving Open Question (b)).
func (r Range) String() string {
	if r.Float != FloatNone {
		return r.floatString()
	}
	if r.Min != nil && r.Max != nil && r.MinInclusive && r.MaxInclusive && r.Min.Equal(*r.Max) {
		return fmt.Sprintf("[%s]", r.Min)
	}

	var b strings.Builder
	if r.MinInclusive {
		b.WriteByte('[')
	} else {
		b.WriteByte('(')
	}
	if r.Min != nil {
		b.WriteString(r.Min.String())
	}
	b.WriteByte(',')
	if r.Max != nil {
		b.WriteString(r.Max.String())
	}
	if r.MaxInclusive {
		b.WriteByte(']')
	} else {
		b.WriteByte(')')
	}
	return b.String()
}

// floatString renders the floating shorthand ParseRange accepts, the
// inverse of parseFloatRange.
func (r Range) floatString() string {
	m := r.Min
	switch r.Float {
	case FloatAbsoluteLatest:
		return "*-*"
	case FloatMajor:
		return "*"
	case FloatMinor:
		return fmt.Sprintf("%d.*", m.Major())
	case FloatBuild:
		return fmt.Sprintf("%d.%d.*", m.Major(), m.Minor())
	case FloatRevision:
		return fmt.Sprintf("%d.%d.%d.*", m.Major(), m.Minor(), m.Patch())
	case FloatPrerelease:
		return fmt.Sprintf("%d.%d.%d.%d-%s*", m.Major(), m.Minor(), m.Patch(), m.Revision(), r.FloatPrefix)
	default:
		return ""
	}
}

// ParseRange parses the canonical bracket form produced by String, the bare
// "major.minor.patch" shorthand for AtLeast ranges, and floating forms
// ("*", "1.*", "1.2.*", "1.2.3.*", "1.2.3.4-*", "1.2.3.4-beta.*") per spec
// §4.1's float behaviors.
func ParseRange(s string) (Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Range{}, errors.New("empty version range")
	}

	if strings.ContainsRune(s, '*') {
		return parseFloatRange(s)
	}

	if s[0] != '[' && s[0] != '(' {
		v, err := Parse(s)
		if err != nil {
			return Range{}, errors.Wrapf(err, "version range %q", s)
		}
		return AtLeast(v), nil
	}

	minInc := s[0] == '['
	last := s[len(s)-1]
	if last != ']' && last != ')' {
		return Range{}, errors.Errorf("version range %q: missing closing bracket", s)
	}
	maxInc := last == ']'

	body := s[1 : len(s)-1]
	if !strings.Contains(body, ",") {
		// "[1.2.3]" exact pin shorthand.
		v, err := Parse(body)
		if err != nil {
			return Range{}, errors.Wrapf(err, "version range %q", s)
		}
		return Exact(v), nil
	}

	parts := strings.SplitN(body, ",", 2)
	r := Range{MinInclusive: minInc, MaxInclusive: maxInc}
	if strings.TrimSpace(parts[0]) != "" {
		v, err := Parse(strings.TrimSpace(parts[0]))
		if err != nil {
			return Range{}, errors.Wrapf(err, "version range %q: min", s)
		}
		r.Min = &v
	}
	if strings.TrimSpace(parts[1]) != "" {
		v, err := Parse(strings.TrimSpace(parts[1]))
		if err != nil {
			return Range{}, errors.Wrapf(err, "version range %q: max", s)
		}
		r.Max = &v
	}
	return r, nil
}

// newVersion builds a Version directly from numeric components, for the
// fixed prefixes floating ranges pin (e.g. "1.2.0.0" out of "1.2.*").
func newVersion(major, minor, patch, revision uint64) (Version, error) {
	sv, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", major, minor, patch))
	if err != nil {
		return Version{}, err
	}
	return Version{sv: sv, revision: revision}, nil
}

func parseUintComponent(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// parseFloatRange parses NuGet-style floating version shorthand: a bare
// "*", a dotted prefix followed by ".*" ("1.*", "1.2.*", "1.2.3.*"), or a
// fixed version followed by "-*"/"-prefix*" to float the pre-release tag.
func parseFloatRange(s string) (Range, error) {
	if s == "*" {
		v, err := newVersion(0, 0, 0, 0)
		if err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		return Range{Min: &v, MinInclusive: true, Float: FloatMajor}, nil
	}
	if s == "*-*" {
		v, err := newVersion(0, 0, 0, 0)
		if err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		return Range{Min: &v, MinInclusive: true, Float: FloatAbsoluteLatest}, nil
	}

	if i := strings.IndexByte(s, '-'); i >= 0 && strings.HasSuffix(s, "*") {
		core := s[:i]
		tagFloat := s[i+1:]
		if !strings.Contains(core, "*") {
			v, err := Parse(core)
			if err != nil {
				return Range{}, errors.Wrapf(err, "floating version range %q", s)
			}
			return Range{
				Min:          &v,
				MinInclusive: true,
				Float:        FloatPrerelease,
				FloatPrefix:  strings.TrimSuffix(tagFloat, "*"),
			}, nil
		}
	}

	if !strings.HasSuffix(s, ".*") {
		return Range{}, errors.Errorf("floating version range %q: unrecognized form", s)
	}
	prefix := strings.TrimSuffix(s, ".*")
	parts := strings.Split(prefix, ".")

	var major, minor, patch uint64
	var err error
	var float FloatBehavior
	switch len(parts) {
	case 1:
		if major, err = parseUintComponent(parts[0]); err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		float = FloatMinor
	case 2:
		if major, err = parseUintComponent(parts[0]); err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		if minor, err = parseUintComponent(parts[1]); err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		float = FloatBuild
	case 3:
		if major, err = parseUintComponent(parts[0]); err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		if minor, err = parseUintComponent(parts[1]); err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		if patch, err = parseUintComponent(parts[2]); err != nil {
			return Range{}, errors.Wrapf(err, "floating version range %q", s)
		}
		float = FloatRevision
	default:
		return Range{}, errors.Errorf("floating version range %q: too many fixed components", s)
	}

	v, err := newVersion(major, minor, patch, 0)
	if err != nil {
		return Range{}, errors.Wrapf(err, "floating version range %q", s)
	}
	return Range{Min: &v, MinInclusive: true, Float: float}, nil
}
