package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/modhost/core/manifest"
)

func writeHostManifest(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifest.ManifestName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestClassifyNoArgsIsEntry(t *testing.T) {
	project := &manifest.Project{Name: "App", EntryPoint: "App.Entry", Commands: map[string]string{}}
	m, name, args, err := classify(nil, project)
	if err != nil {
		t.Fatal(err)
	}
	if m != modeEntry || name != "App.Entry" || len(args) != 0 {
		t.Fatalf("got mode=%v name=%q args=%v", m, name, args)
	}
}

func TestClassifyRunFallsBackToProjectName(t *testing.T) {
	project := &manifest.Project{Name: "App", Commands: map[string]string{}}
	m, name, args, err := classify([]string{"run", "extra"}, project)
	if err != nil {
		t.Fatal(err)
	}
	if m != modeEntry || name != "App" || len(args) != 1 || args[0] != "extra" {
		t.Fatalf("got mode=%v name=%q args=%v", m, name, args)
	}
}

func TestClassifyNamedCommand(t *testing.T) {
	project := &manifest.Project{Name: "App", Commands: map[string]string{"web": "Microsoft.Host app.dll"}}
	m, name, args, err := classify([]string{"web", "extra"}, project)
	if err != nil {
		t.Fatal(err)
	}
	if m != modeCommand || name != "web" || len(args) != 1 || args[0] != "extra" {
		t.Fatalf("got mode=%v name=%q args=%v", m, name, args)
	}
}

func TestClassifyDirectApp(t *testing.T) {
	project := &manifest.Project{Name: "App", Commands: map[string]string{}}
	m, name, args, err := classify([]string{"/bin/true", "x"}, project)
	if err != nil {
		t.Fatal(err)
	}
	if m != modeApp || name != "/bin/true" || len(args) != 1 {
		t.Fatalf("got mode=%v name=%q args=%v", m, name, args)
	}
}

func TestRunDispatchesNamedCommand(t *testing.T) {
	root := t.TempDir()
	writeHostManifest(t, root, `{"version":"1.0.0","commands":{"ping":"true"}}`)

	var stdout, stderr bytes.Buffer
	c := &Config{
		Args:       []string{"host", "ping"},
		WorkingDir: root,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if code := c.Run(); code != 0 {
		t.Fatalf("expected exit code 0, got %d; stderr: %s", code, stderr.String())
	}
}

func TestRunFailingCommandReturnsNonzero(t *testing.T) {
	root := t.TempDir()
	writeHostManifest(t, root, `{"version":"1.0.0","commands":{"ping":"false"}}`)

	var stdout, stderr bytes.Buffer
	c := &Config{
		Args:       []string{"host", "ping"},
		WorkingDir: root,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if code := c.Run(); code == 0 {
		t.Fatal("expected a nonzero exit code for a failing command")
	}
}

func TestRunMissingManifestFails(t *testing.T) {
	root := t.TempDir()

	var stdout, stderr bytes.Buffer
	c := &Config{
		Args:       []string{"host"},
		WorkingDir: root,
		Stdout:     &stdout,
		Stderr:     &stderr,
	}
	if code := c.Run(); code == 0 {
		t.Fatal("expected a nonzero exit code when no manifest is present")
	}
}
