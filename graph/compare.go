package graph

import "github.com/modhost/core/version"

// higherVersion reports whether a is a higher version than b (spec §4.2
// "within a group the highest satisfying version wins"). Candidates with
// unparsable or empty versions (framework/GAC references) never displace
// an existing best.
func higherVersion(a, b string) bool {
	if a == "" {
		return false
	}
	if b == "" {
		return true
	}
	av, aerr := version.Parse(a)
	bv, berr := version.Parse(b)
	if aerr != nil {
		return false
	}
	if berr != nil {
		return true
	}
	return bv.Less(av)
}
