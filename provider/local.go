package provider

import (
	"context"

	"github.com/pkg/errors"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/store"
	"github.com/modhost/core/version"
)

// LocalStore enumerates <store>/<name>/ version directories and returns all
// satisfying a range (spec §4.2 "Local package store provider").
type LocalStore struct {
	st *store.Store
}

func NewLocalStore(st *store.Store) *LocalStore { return &LocalStore{st: st} }

func (l *LocalStore) Kind() Kind { return KindLocal }

func (l *LocalStore) FindCandidates(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) ([]Candidate, error) {
	if r.FrameworkReference {
		return nil, nil
	}
	actual, vs, err := l.st.Resolve(r.Name)
	if err != nil {
		return nil, errors.Wrapf(err, "enumerate local store for %s", r.Name)
	}
	var out []Candidate
	for _, vs := range vs {
		v, perr := version.Parse(vs)
		if perr != nil {
			continue
		}
		if r.VersionRange != nil && !r.VersionRange.Satisfies(v) {
			continue
		}
		// actual carries whatever casing is really on disk, so a
		// case-differing match is reported as-is instead of silently
		// echoing the requested name back.
		out = append(out, Candidate{Name: actual, Version: vs, Kind: KindLocal})
	}
	return out, nil
}

func (l *LocalStore) Dependencies(ctx context.Context, c Candidate, fw framework.Profile) ([]manifest.LibraryRange, error) {
	pkg, err := l.st.Lookup(c.Name, c.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "read dependencies of %s %s", c.Name, c.Version)
	}
	var out []manifest.LibraryRange
	for prof, ranges := range pkg.DependencySets {
		if prof.IsZero() || prof == fw {
			out = append(out, ranges...)
		}
	}
	return out, nil
}

func (l *LocalStore) Materialize(ctx context.Context, c Candidate) ([]byte, error) {
	// Already on disk; nothing further to materialize for a local hit.
	return nil, nil
}
