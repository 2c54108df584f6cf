package manifest

import (
	"strings"
	"testing"

	"github.com/modhost/core/version"
)

const sampleManifest = `{
  "version": "1.0.0",
  "entryPoint": "main.dll",
  "commands": {"web": "Microsoft.Host --server %env:PORT% app.dll"},
  "dependencies": {
    "A": "1.0.0",
    "B": {"version": "[1.0.0,2.0.0)", "type": "build"}
  },
  "frameworks": {
    "net8.0": {
      "dependencies": {"C": "2.0.0"},
      "frameworkAssemblies": ["System.Net"]
    }
  }
}`

func TestParse(t *testing.T) {
	p, err := Parse(strings.NewReader(sampleManifest), "/proj/project.json", "proj")
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "proj" || p.Version != "1.0.0" || p.EntryPoint != "main.dll" {
		t.Fatalf("unexpected project: %+v", p)
	}
	if len(p.SharedDependencies) != 2 {
		t.Fatalf("expected 2 shared deps, got %d", len(p.SharedDependencies))
	}
	if p.Commands["web"] == "" {
		t.Fatal("expected web command to be present")
	}

	var found bool
	for prof, deps := range p.PerFramework {
		if prof.String() != "net8.0" {
			continue
		}
		found = true
		if len(deps) != 2 { // C + framework assembly System.Net
			t.Fatalf("expected 2 per-framework deps (dep + assembly), got %d", len(deps))
		}
	}
	if !found {
		t.Fatal("expected net8.0 framework entry")
	}
}

func TestLibraryRangeCanonical(t *testing.T) {
	r, err := version.ParseRange("[1.0.0,2.0.0)")
	if err != nil {
		t.Fatal(err)
	}
	lr := LibraryRange{Name: "Foo", VersionRange: &r}
	if got := lr.Canonical(); got != "Foo [1.0.0,2.0.0)" {
		t.Errorf("Canonical() = %q", got)
	}
}
