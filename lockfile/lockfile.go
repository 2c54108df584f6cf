// Package lockfile implements the canonical, verifiable serialization of a
// resolved dependency graph (spec §4 C7, §4.5) and its validation against
// the current manifest.
package lockfile

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/modhost/core/framework"
)

// Name is the canonical lock file's file name (spec §6 "project.lock.json").
const Name = "project.lock.json"

// CurrentVersion is the lock file format version (spec §3, §6).
const CurrentVersion = 1

// LockedLibrary mirrors store.Package minus file contents (spec §3
// "LockFile").
type LockedLibrary struct {
	Name                      string
	Version                   string
	SHA512                    string
	Files                     []string
	FrameworkAssemblies       map[string][]string
	DependencySets            map[string][]string
	PackageAssemblyReferences map[string][]string
}

// frameworkDeps is one entry of FrameworkDependencies: the empty
// Framework denotes the shared ("" key) dependency set (spec §3, §4.5).
type frameworkDeps struct {
	Framework    string
	Dependencies []string
}

// LockFile is the canonical record of a resolved graph sufficient to
// replay a restore without network access (spec §3 "LockFile", §GLOSSARY).
type LockFile struct {
	Locked                bool
	Version               int
	frameworkDependencies []frameworkDeps
	Libraries             []LockedLibrary
}

// SetFrameworkDependencies records the declared-dependency strings for the
// shared set (framework == zero Profile) and each per-framework set, in
// the order given by order. The restore driver passes frameworks sorted by
// their string form; the manifest's declaration order is not kept.
func (l *LockFile) SetFrameworkDependencies(shared []string, order []framework.Profile, perFramework map[framework.Profile][]string) {
	l.frameworkDependencies = l.frameworkDependencies[:0]
	l.frameworkDependencies = append(l.frameworkDependencies, frameworkDeps{Framework: "", Dependencies: sortedCopy(shared)})
	for _, f := range order {
		l.frameworkDependencies = append(l.frameworkDependencies, frameworkDeps{
			Framework:    f.String(),
			Dependencies: sortedCopy(perFramework[f]),
		})
	}
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

// New builds an empty, unlocked LockFile at CurrentVersion.
func New() *LockFile {
	return &LockFile{Version: CurrentVersion}
}

// rawLockFile is the on-disk JSON shape. Field order in the struct
// controls serialized key order; slices (not maps) carry the
// framework-dependencies and libraries lists so that the canonicalization
// performed before Write/Marshal — "" first, frameworks in the order passed
// to SetFrameworkDependencies,
// libraries sorted by (name, version) — is preserved verbatim through
// encoding/json (spec §4.5 "canonical JSON with stable key ordering").
type rawLockFile struct {
	Locked                bool                    `json:"locked"`
	Version               int                     `json:"version"`
	FrameworkDependencies []rawFrameworkDeps      `json:"frameworkDependencies"`
	Libraries             []rawLockedLibrary      `json:"libraries"`
}

type rawFrameworkDeps struct {
	Framework    string   `json:"framework"`
	Dependencies []string `json:"dependencies"`
}

type rawLockedLibrary struct {
	Name                      string              `json:"name"`
	Version                   string              `json:"version"`
	SHA512                    string              `json:"sha512"`
	Files                     []string            `json:"files,omitempty"`
	FrameworkAssemblies       map[string][]string `json:"frameworkAssemblies,omitempty"`
	DependencySets            map[string][]string `json:"dependencySets,omitempty"`
	PackageAssemblyReferences map[string][]string `json:"packageAssemblyReferences,omitempty"`
}

func (l *LockFile) toRaw() rawLockFile {
	libs := append([]LockedLibrary(nil), l.Libraries...)
	sort.Slice(libs, func(i, j int) bool {
		if libs[i].Name != libs[j].Name {
			return libs[i].Name < libs[j].Name
		}
		return libs[i].Version < libs[j].Version
	})

	raw := rawLockFile{
		Locked:  l.Locked,
		Version: l.Version,
	}
	for _, fd := range l.frameworkDependencies {
		raw.FrameworkDependencies = append(raw.FrameworkDependencies, rawFrameworkDeps(fd))
	}
	for _, lib := range libs {
		raw.Libraries = append(raw.Libraries, rawLockedLibrary(lib))
	}
	return raw
}

func (raw rawLockFile) toLockFile() *LockFile {
	l := &LockFile{Locked: raw.Locked, Version: raw.Version}
	for _, fd := range raw.FrameworkDependencies {
		l.frameworkDependencies = append(l.frameworkDependencies, frameworkDeps(fd))
	}
	for _, lib := range raw.Libraries {
		l.Libraries = append(l.Libraries, LockedLibrary(lib))
	}
	return l
}

// Write serializes l in canonical form (two-space indentation, sorted
// keys as specified in spec §4.5/§6) to w.
func (l *LockFile) Write(w io.Writer) error {
	raw := l.toRaw()
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(raw), "write lock file")
}

// Marshal is Write against an in-memory buffer, trimming the trailing
// newline json.Encoder appends — used for determinism tests (spec §8
// property 1) that compare bytes directly.
func (l *LockFile) Marshal() ([]byte, error) {
	raw := l.toRaw()
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal lock file")
	}
	return b, nil
}

// Read parses a lock file from r.
func Read(r io.Reader) (*LockFile, error) {
	var raw rawLockFile
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "read lock file")
	}
	return raw.toLockFile(), nil
}

// FrameworkDependencyStrings returns the declared-dependency strings for
// fw ("" for the shared set).
func (l *LockFile) FrameworkDependencyStrings(fw string) ([]string, bool) {
	for _, fd := range l.frameworkDependencies {
		if fd.Framework == fw {
			return fd.Dependencies, true
		}
	}
	return nil, false
}

// FrameworkKeys returns every framework key present (including the shared
// "" key), in their stored (canonical) order.
func (l *LockFile) FrameworkKeys() []string {
	out := make([]string, len(l.frameworkDependencies))
	for i, fd := range l.frameworkDependencies {
		out[i] = fd.Framework
	}
	return out
}
