package store

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/version"
)

func makeArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestInstallAndLookup(t *testing.T) {
	root := t.TempDir()
	s, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	archive := makeArchive(t, map[string]string{"lib/a.dll": "binary-stand-in"})
	pkg, err := s.Install("A", "1.0.0", archive)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.SHA512 == "" {
		t.Fatal("expected non-empty sha512")
	}

	got, err := s.Lookup("A", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if got.SHA512 != pkg.SHA512 {
		t.Errorf("lookup sha mismatch: %s vs %s", got.SHA512, pkg.SHA512)
	}

	if err := s.VerifyIntegrity("A", "1.0.0", pkg.SHA512); err != nil {
		t.Errorf("expected verification to succeed: %v", err)
	}

	// Tamper the persisted archive bytes directly: the recorded digest
	// (pkg.SHA512, as it would be written into a lock file) no longer
	// matches what's actually on disk.
	if err := os.WriteFile(s.ArchivePath("A", "1.0.0"), []byte("tampered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.VerifyIntegrity("A", "1.0.0", pkg.SHA512); err == nil {
		t.Error("expected verification to fail for a tampered on-disk archive")
	}

	if got, _ := filepath.Abs(filepath.Join(root, "A", "1.0.0")); got == "" {
		t.Error("unexpected path computation")
	}
}

func TestInstallIdempotent(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	archive := makeArchive(t, map[string]string{"a.dll": "x"})

	if _, err := s.Install("A", "1.0.0", archive); err != nil {
		t.Fatal(err)
	}
	// Second install of the same (name,version) observes the completed
	// directory and succeeds without re-extracting (spec §4.4 "first
	// writer wins").
	if _, err := s.Install("A", "1.0.0", archive); err != nil {
		t.Fatalf("expected idempotent install, got %v", err)
	}
}

// TestResolveCaseInsensitive mirrors spec §8 property 6: a package stored
// under one casing is still found when queried under another.
func TestResolveCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	archive := makeArchive(t, map[string]string{"a.dll": "x"})
	if _, err := s.Install("Foo", "1.0.0", archive); err != nil {
		t.Fatal(err)
	}

	actual, vs, err := s.Resolve("foo")
	if err != nil {
		t.Fatal(err)
	}
	if actual != "Foo" {
		t.Errorf("expected actual casing Foo, got %q", actual)
	}
	if len(vs) != 1 || vs[0] != "1.0.0" {
		t.Errorf("expected [1.0.0], got %v", vs)
	}
}

func TestResolveUnknown(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	actual, vs, err := s.Resolve("nope")
	if err != nil {
		t.Fatal(err)
	}
	if actual != "nope" || vs != nil {
		t.Errorf("expected (nope, nil) for unknown package, got (%q, %v)", actual, vs)
	}
}

func TestHighestSatisfying(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	archive := makeArchive(t, map[string]string{"a.dll": "x"})
	for _, v := range []string{"1.0.0", "1.4.0", "1.9.0", "2.0.0", "2.1.0"} {
		if _, err := s.Install("A", v, archive); err != nil {
			t.Fatal(err)
		}
	}

	r, err := version.ParseRange("[1.0.0,2.0.0)")
	if err != nil {
		t.Fatal(err)
	}
	best, ok, err := s.HighestSatisfying("A", r)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || best.String() != "1.9.0" {
		t.Fatalf("expected 1.9.0, got %v (ok=%v)", best, ok)
	}
}

func TestSetMetaRoundTrip(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	archive := makeArchive(t, map[string]string{"a.dll": "x"})
	if _, err := s.Install("A", "1.0.0", archive); err != nil {
		t.Fatal(err)
	}

	vr, err := version.ParseRange("[2.0.0,)")
	if err != nil {
		t.Fatal(err)
	}
	deps := []manifest.LibraryRange{
		{Name: "B", VersionRange: &vr},
		{Name: "Framework.Base", FrameworkReference: true},
	}
	if err := s.SetMeta("A", "1.0.0", deps); err != nil {
		t.Fatal(err)
	}

	pkg, err := s.Lookup("A", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	got := pkg.DependencySets[framework.Profile{}]
	if len(got) != 2 {
		t.Fatalf("expected 2 recorded dependencies, got %d: %+v", len(got), got)
	}
	if got[0].Name != "B" || got[0].VersionRange == nil || got[0].VersionRange.String() != "[2.0.0,)" {
		t.Errorf("unexpected first dependency: %+v", got[0])
	}
	if got[1].Name != "Framework.Base" || !got[1].FrameworkReference {
		t.Errorf("unexpected second dependency: %+v", got[1])
	}
}

// TestLookupWithoutMeta confirms a package installed before metadata
// recording existed still looks up cleanly with a nil DependencySets.
func TestLookupWithoutMeta(t *testing.T) {
	root := t.TempDir()
	s, _ := New(root)
	archive := makeArchive(t, map[string]string{"a.dll": "x"})
	if _, err := s.Install("A", "1.0.0", archive); err != nil {
		t.Fatal(err)
	}
	pkg, err := s.Lookup("A", "1.0.0")
	if err != nil {
		t.Fatal(err)
	}
	if pkg.DependencySets != nil {
		t.Errorf("expected nil DependencySets without a meta sidecar, got %+v", pkg.DependencySets)
	}
}
