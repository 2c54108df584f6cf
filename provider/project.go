package provider

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	radix "github.com/armon/go-radix"
	"github.com/pkg/errors"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
)

// ProjectSource looks up sibling project directories by name; a project
// reference's version is accepted regardless of range, since project
// references trump versions (spec §4.2 "Project-source provider"). Sibling
// directories are indexed by lower-cased name in a radix tree at
// construction time (grounded on golang-dep/solver.go's use of
// armon/go-radix for prefix matching), so FindCandidates is a lookup
// instead of a directory re-scan per query.
type ProjectSource struct {
	root  string
	index *radix.Tree
	byKey map[string]*manifest.Project
}

// NewProjectSource scans solutionRoot's immediate subdirectories for
// manifest.ManifestName files and indexes them by (lower-cased) project
// name.
func NewProjectSource(solutionRoot string) (*ProjectSource, error) {
	ps := &ProjectSource{root: solutionRoot, index: radix.New(), byKey: make(map[string]*manifest.Project)}

	entries, err := os.ReadDir(solutionRoot)
	if err != nil {
		return nil, errors.Wrapf(err, "scan solution root %s", solutionRoot)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		mf := filepath.Join(solutionRoot, e.Name(), manifest.ManifestName)
		f, err := os.Open(mf)
		if err != nil {
			continue // no manifest here; not a project directory
		}
		proj, err := manifest.Parse(f, mf, e.Name())
		f.Close()
		if err != nil {
			continue
		}
		key := strings.ToLower(proj.Name)
		ps.index.Insert(key, proj)
		ps.byKey[key] = proj
	}
	return ps, nil
}

func (ps *ProjectSource) Kind() Kind { return KindProject }

// FindCandidates looks up an exact (case-insensitive) name match; if found,
// the project's own version is returned regardless of r, per spec §4.2.
func (ps *ProjectSource) FindCandidates(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) ([]Candidate, error) {
	key := strings.ToLower(r.Name)
	v, ok := ps.index.Get(key)
	if !ok {
		return nil, nil
	}
	proj := v.(*manifest.Project)
	if proj.Name != r.Name {
		// Case mismatch: the candidate carries the project's own casing
		// in Name, and the walker reports the difference from r.Name as
		// a CaseMismatchError rather than accepting it silently.
		return []Candidate{{Name: proj.Name, Version: proj.Version, Kind: KindProject, Token: proj.ProjectFilePath}}, nil
	}
	return []Candidate{{Name: proj.Name, Version: proj.Version, Kind: KindProject, Token: proj.ProjectFilePath}}, nil
}

func (ps *ProjectSource) Dependencies(ctx context.Context, c Candidate, fw framework.Profile) ([]manifest.LibraryRange, error) {
	proj, ok := ps.byKey[strings.ToLower(c.Name)]
	if !ok {
		return nil, errors.Errorf("project source: unknown candidate %s", c.Name)
	}
	deps := proj.EffectiveDependencies(fw)
	out := make([]manifest.LibraryRange, len(deps))
	for i, d := range deps {
		out[i] = d.LibraryRange
	}
	return out, nil
}

// Materialize produces no bytes for a project reference (spec §4.2).
func (ps *ProjectSource) Materialize(ctx context.Context, c Candidate) ([]byte, error) { return nil, nil }

// Project returns the parsed manifest.Project backing a candidate, for
// callers (the compiler) that need more than the provider contract exposes.
func (ps *ProjectSource) Project(name string) (*manifest.Project, bool) {
	p, ok := ps.byKey[strings.ToLower(name)]
	return p, ok
}
