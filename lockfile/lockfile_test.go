package lockfile

import (
	"bytes"
	"strings"
	"testing"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/version"
)

func mustRange(t *testing.T, s string) *version.Range {
	t.Helper()
	r, err := version.ParseRange(s)
	if err != nil {
		t.Fatal(err)
	}
	return &r
}

// TestRoundTrip mirrors spec §8 property 2: writing then reading a lock
// file reproduces the same logical content.
func TestRoundTrip(t *testing.T) {
	l := New()
	l.Locked = true
	l.Libraries = []LockedLibrary{
		{Name: "B", Version: "1.0.0", SHA512: "bbb"},
		{Name: "A", Version: "2.0.0", SHA512: "aaa"},
	}
	l.SetFrameworkDependencies([]string{"A [2.0.0,3.0.0)"}, nil, nil)

	var buf bytes.Buffer
	if err := l.Write(&buf); err != nil {
		t.Fatal(err)
	}

	got, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Libraries) != 2 || got.Libraries[0].Name != "A" || got.Libraries[1].Name != "B" {
		t.Fatalf("expected libraries sorted A,B after round trip, got %+v", got.Libraries)
	}
	shared, ok := got.FrameworkDependencyStrings("")
	if !ok || len(shared) != 1 || shared[0] != "A [2.0.0,3.0.0)" {
		t.Fatalf("expected shared dependency string preserved, got %+v", shared)
	}
}

// TestDeterminism mirrors spec §8 property 1: marshaling the same logical
// content twice produces byte-identical output.
func TestDeterminism(t *testing.T) {
	build := func() *LockFile {
		l := New()
		l.Libraries = []LockedLibrary{
			{Name: "Zeta", Version: "1.0.0", SHA512: "z"},
			{Name: "Alpha", Version: "1.0.0", SHA512: "a"},
		}
		l.SetFrameworkDependencies([]string{"Alpha 1.0.0", "Zeta 1.0.0"}, nil, nil)
		return l
	}
	a, err := build().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	b, err := build().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical bytes, got:\n%s\nvs\n%s", a, b)
	}
	if !strings.Contains(string(a), `"name": "Alpha"`) {
		t.Fatalf("expected canonical field names in output, got %s", a)
	}
}

// TestValidateCurrent mirrors spec §8 property 3: a lock file matching the
// manifest's declared dependencies validates with no error.
func TestValidateCurrent(t *testing.T) {
	rng := mustRange(t, "1.0.0")
	project := &manifest.Project{
		SharedDependencies: []manifest.Dependency{
			{LibraryRange: manifest.LibraryRange{Name: "A", VersionRange: rng}},
		},
		PerFramework: map[framework.Profile][]manifest.Dependency{},
	}
	l := New()
	l.SetFrameworkDependencies([]string{"A [1.0.0,)"}, nil, nil)

	if err := Validate(l, project); err != nil {
		t.Fatalf("expected no validation error, got %v", err)
	}
}

// TestValidateStale mirrors spec §8 property 4: adding a dependency to the
// manifest without updating the lock file is detected.
func TestValidateStale(t *testing.T) {
	rngA := mustRange(t, "1.0.0")
	rngB := mustRange(t, "2.0.0")
	project := &manifest.Project{
		SharedDependencies: []manifest.Dependency{
			{LibraryRange: manifest.LibraryRange{Name: "A", VersionRange: rngA}},
			{LibraryRange: manifest.LibraryRange{Name: "B", VersionRange: rngB}},
		},
		PerFramework: map[framework.Profile][]manifest.Dependency{},
	}
	l := New()
	l.SetFrameworkDependencies([]string{"A [1.0.0,)"}, nil, nil)

	err := Validate(l, project)
	if err == nil {
		t.Fatal("expected validation error for missing B dependency")
	}
	mv, ok := err.(*MultiValidationError)
	if !ok || len(mv.Errors) != 1 || len(mv.Errors[0].Missing) != 1 || mv.Errors[0].Missing[0] != "B [2.0.0,)" {
		t.Fatalf("expected one missing-B validation error, got %#v", err)
	}
}
