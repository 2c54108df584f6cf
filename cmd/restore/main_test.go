package main

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/modhost/core/manifest"
	"github.com/modhost/core/store"
)

func makeZip(t *testing.T, name string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name + ".dll")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("stand-in for " + name)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeTestManifest(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.ManifestName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunRestoresLocalProject(t *testing.T) {
	root := t.TempDir()
	packages := filepath.Join(root, "packages")
	project := filepath.Join(root, "proj")
	writeTestManifest(t, project, `{"version":"1.0.0","dependencies":{"A":"[1.0.0,)"}}`)

	st, err := store.New(packages)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Install("A", "1.0.0", makeZip(t, "A")); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	c := &Config{
		Args:       []string{"restore", project, "--packages", packages},
		WorkingDir: root,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if code := c.Run(); code != 0 {
		t.Fatalf("expected exit code 0, got %d; stderr: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(project, "project.lock.json")); err != nil {
		t.Errorf("expected a lock file to be written: %v", err)
	}
}

func TestRunInstallOnePackage(t *testing.T) {
	root := t.TempDir()
	packages := filepath.Join(root, "packages")

	st, err := store.New(packages)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.Install("A", "1.0.0", makeZip(t, "A")); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	c := &Config{
		Args:       []string{"restore", "--packages", packages, "A", "1.0.0"},
		WorkingDir: root,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if code := c.Run(); code != 0 {
		t.Fatalf("expected exit code 0, got %d; stderr: %s", code, stderr.String())
	}
	if stdout.Len() == 0 {
		t.Error("expected the installed root path on stdout")
	}
}

func TestRunUnresolvedFails(t *testing.T) {
	root := t.TempDir()
	packages := filepath.Join(root, "packages")
	project := filepath.Join(root, "proj")
	writeTestManifest(t, project, `{"version":"1.0.0","dependencies":{"Missing":"1.0.0"}}`)

	var stdout, stderr bytes.Buffer
	c := &Config{
		Args:       []string{"restore", project, "--packages", packages},
		WorkingDir: root,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if code := c.Run(); code == 0 {
		t.Fatal("expected a nonzero exit code for an unresolved dependency")
	}
}
