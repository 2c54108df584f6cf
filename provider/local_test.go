package provider

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/store"
	"github.com/modhost/core/version"
)

func makeArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("lib.dll")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("stand-in")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// TestFindCandidatesCaseInsensitive mirrors spec §8 property 6 against the
// real store-backed provider, not a test double: a package installed as
// "Foo" is still found (and reported with its real casing) when requested
// as "foo".
func TestFindCandidatesCaseInsensitive(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Install("Foo", "1.0.0", makeArchive(t)); err != nil {
		t.Fatal(err)
	}

	l := NewLocalStore(st)
	vr, err := version.ParseRange("[1.0.0,)")
	if err != nil {
		t.Fatal(err)
	}
	cands, err := l.FindCandidates(context.Background(), manifest.LibraryRange{Name: "foo", VersionRange: &vr}, framework.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(cands), cands)
	}
	if cands[0].Name != "Foo" {
		t.Errorf("expected candidate to carry on-disk casing %q, got %q", "Foo", cands[0].Name)
	}
}

func TestFindCandidatesExactCase(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Install("Foo", "1.0.0", makeArchive(t)); err != nil {
		t.Fatal(err)
	}

	l := NewLocalStore(st)
	vr, err := version.ParseRange("[1.0.0,)")
	if err != nil {
		t.Fatal(err)
	}
	cands, err := l.FindCandidates(context.Background(), manifest.LibraryRange{Name: "Foo", VersionRange: &vr}, framework.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 || cands[0].Name != "Foo" {
		t.Fatalf("unexpected candidates: %+v", cands)
	}
}

func TestFindCandidatesUnknownName(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	l := NewLocalStore(st)
	vr, err := version.ParseRange("[1.0.0,)")
	if err != nil {
		t.Fatal(err)
	}
	cands, err := l.FindCandidates(context.Background(), manifest.LibraryRange{Name: "Nope", VersionRange: &vr}, framework.Profile{})
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Fatalf("expected no candidates, got %+v", cands)
	}
}
