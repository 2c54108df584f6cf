// Package framework models target-framework profiles and the partial
// order of compatibility between them (spec §4 C3).
package framework

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile identifies a target framework, e.g. {"net", "8.0"} or
// {"netstandard", "2.0"}.
type Profile struct {
	Identifier string
	Version    string
}

func (p Profile) String() string {
	if p.Identifier == "" {
		return ""
	}
	return fmt.Sprintf("%s%s", p.Identifier, p.Version)
}

func (p Profile) IsZero() bool { return p.Identifier == "" }

// Parse reads a short target-framework moniker such as "net8.0" or
// "netstandard2.0" into a Profile.
func Parse(tfm string) (Profile, error) {
	tfm = strings.TrimSpace(tfm)
	i := strings.IndexAny(tfm, "0123456789")
	if i <= 0 {
		return Profile{}, errors.Errorf("framework %q: no version component", tfm)
	}
	return Profile{Identifier: tfm[:i], Version: tfm[i:]}, nil
}

// numericVersion splits a version string like "8.0" into comparable ints,
// treating missing components as 0.
func numericVersion(v string) []int {
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, _ := strconv.Atoi(p)
		out[i] = n
	}
	return out
}

func versionAtLeast(a, b string) bool {
	av, bv := numericVersion(a), numericVersion(b)
	for i := 0; i < len(av) || i < len(bv); i++ {
		var x, y int
		if i < len(av) {
			x = av[i]
		}
		if i < len(bv) {
			y = bv[i]
		}
		if x != y {
			return x > y
		}
	}
	return true
}

// compatTable declares, for each consumer identifier, which library
// identifiers it can consume, ordered from most to least specific. This is
// the "external lookup" spec §3 describes rather than recomputed logic: a
// real host would load this from its installed framework metadata; here it
// is the fixed table for the identifiers this module knows about.
var compatTable = map[string][]string{
	"net":         {"net", "netstandard", "netcoreapp"},
	"netcoreapp":  {"netcoreapp", "netstandard"},
	"netstandard": {"netstandard"},
	"net4":        {"net4", "netstandard"},
}

// CompatibleWith reports whether a library targeting `lib` is acceptable to
// a consumer targeting `consumer`: same identifier family per compatTable,
// and the library's version no newer than the consumer's (a consumer can
// always use an older-or-equal framework's artifacts).
func CompatibleWith(lib, consumer Profile) bool {
	if lib.IsZero() || consumer.IsZero() {
		return false
	}
	family, ok := compatTable[consumer.Identifier]
	if !ok {
		family = []string{consumer.Identifier}
	}
	accepted := false
	for _, id := range family {
		if id == lib.Identifier {
			accepted = true
			break
		}
	}
	if !accepted {
		return false
	}
	return versionAtLeast(consumer.Version, lib.Version)
}
