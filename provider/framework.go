package provider

import (
	"context"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
)

// ReferenceSet is an external collaborator's installed framework reference-
// assembly set, keyed by the consumer's target framework (spec §4.2
// "Framework-reference provider"). It is injected rather than computed,
// matching spec §4.2's description of framework/GAC resolution as a lookup
// against installed, externally-managed assembly sets.
type ReferenceSet interface {
	// Assemblies returns the reference assembly names available to fw.
	Assemblies(fw framework.Profile) []string
}

// FrameworkReference resolves framework/GAC reference ranges against an
// installed framework's reference-assembly set, bypassing version ranges
// entirely (spec §4.2).
type FrameworkReference struct {
	refs ReferenceSet
}

func NewFrameworkReference(refs ReferenceSet) *FrameworkReference {
	return &FrameworkReference{refs: refs}
}

func (f *FrameworkReference) Kind() Kind { return KindFramework }

func (f *FrameworkReference) FindCandidates(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) ([]Candidate, error) {
	if !r.FrameworkReference {
		return nil, nil
	}
	for _, a := range f.refs.Assemblies(fw) {
		if a == r.Name {
			return []Candidate{{Name: a, Kind: KindFramework}}, nil
		}
	}
	return nil, nil
}

func (f *FrameworkReference) Dependencies(ctx context.Context, c Candidate, fw framework.Profile) ([]manifest.LibraryRange, error) {
	return nil, nil // reference assemblies declare no further dependencies here
}

func (f *FrameworkReference) Materialize(ctx context.Context, c Candidate) ([]byte, error) { return nil, nil }

// GAC mirrors FrameworkReference but probes a machine-wide assembly cache
// (spec §4.2 "GAC provider").
type GAC struct {
	refs ReferenceSet
}

func NewGAC(refs ReferenceSet) *GAC { return &GAC{refs: refs} }

func (g *GAC) Kind() Kind { return KindGAC }

func (g *GAC) FindCandidates(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) ([]Candidate, error) {
	if !r.FrameworkReference {
		return nil, nil
	}
	for _, a := range g.refs.Assemblies(fw) {
		if a == r.Name {
			return []Candidate{{Name: a, Kind: KindGAC}}, nil
		}
	}
	return nil, nil
}

func (g *GAC) Dependencies(ctx context.Context, c Candidate, fw framework.Profile) ([]manifest.LibraryRange, error) {
	return nil, nil
}

func (g *GAC) Materialize(ctx context.Context, c Candidate) ([]byte, error) { return nil, nil }

// UnresolvedSentinel always matches and emits a candidate carrying no
// library, signalling a resolution failure downstream (spec §4.2
// "Unresolved sentinel").
type UnresolvedSentinel struct{}

func (UnresolvedSentinel) Kind() Kind { return KindUnresolved }

func (UnresolvedSentinel) FindCandidates(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) ([]Candidate, error) {
	return []Candidate{{Name: r.Name, Kind: KindUnresolved}}, nil
}

func (UnresolvedSentinel) Dependencies(ctx context.Context, c Candidate, fw framework.Profile) ([]manifest.LibraryRange, error) {
	return nil, nil
}

func (UnresolvedSentinel) Materialize(ctx context.Context, c Candidate) ([]byte, error) { return nil, nil }
