package restore

import (
	"fmt"
	"strings"

	"github.com/modhost/core/manifest"
)

// UnresolvedRangesError joins every range the walk could not satisfy (spec
// §7 "Unresolved range: accumulate, continue walk, fail at end").
type UnresolvedRangesError struct {
	Ranges []manifest.LibraryRange
}

func (e *UnresolvedRangesError) Error() string {
	msgs := make([]string, len(e.Ranges))
	for i, r := range e.Ranges {
		msgs[i] = fmt.Sprintf("unable to locate %s", r.Canonical())
	}
	return strings.Join(msgs, "; ")
}

// ShaMismatchError is raised when a locked library's on-disk SHA-512
// disagrees with the lock's recorded digest (spec §7, §8 scenario S5).
type ShaMismatchError struct {
	Name, Version, Expected, Actual string
}

func (e *ShaMismatchError) Error() string {
	return fmt.Sprintf("sha mismatch for %s %s: lock has %s, store has %s", e.Name, e.Version, e.Expected, e.Actual)
}
