package restore

import (
	"sort"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"

	"github.com/modhost/core/lockfile"
)

// LockDiff is a human-readable summary of the libraries added, removed, or
// changed between two lock files, grounded on the teacher's `dep status`
// change-reporting and rendered through the same TOML library the teacher
// uses for its own canonical serialization, even though the lock file
// itself is JSON (spec §4 "DOMAIN STACK", `pelletier/go-toml`).
type LockDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func libKey(l lockfile.LockedLibrary) string { return l.Name }

// DiffLocks computes the set of libraries added, removed, or changed in
// version/sha between old and updated. A nil old is treated as empty
// (first-time restore).
func DiffLocks(old, updated *lockfile.LockFile) LockDiff {
	oldByName := map[string]lockfile.LockedLibrary{}
	if old != nil {
		for _, l := range old.Libraries {
			oldByName[libKey(l)] = l
		}
	}
	newByName := map[string]lockfile.LockedLibrary{}
	for _, l := range updated.Libraries {
		newByName[libKey(l)] = l
	}

	var diff LockDiff
	for name, nl := range newByName {
		ol, existed := oldByName[name]
		switch {
		case !existed:
			diff.Added = append(diff.Added, name+" "+nl.Version)
		case ol.Version != nl.Version || ol.SHA512 != nl.SHA512:
			diff.Changed = append(diff.Changed, name+" "+ol.Version+" -> "+nl.Version)
		}
	}
	for name, ol := range oldByName {
		if _, ok := newByName[name]; !ok {
			diff.Removed = append(diff.Removed, name+" "+ol.Version)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Changed)
	return diff
}

// Render produces a TOML-formatted rendering of d suitable for console
// display (status-style output).
func (d LockDiff) Render() (string, error) {
	b, err := toml.Marshal(d)
	if err != nil {
		return "", errors.Wrap(err, "render lock diff")
	}
	return string(b), nil
}
