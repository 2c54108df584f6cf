// Command host runs a compiled or source-form application, expanding named
// commands from a project's manifest (spec §4 C10, §6 "CLI surface
// (host)").
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/modhost/core/cliutil"
	"github.com/modhost/core/compiler"
	"github.com/modhost/core/loader"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/provider"
)

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory:", err)
		os.Exit(1)
	}
	c := &Config{
		Args:       os.Args,
		Env:        os.Environ(),
		WorkingDir: wd,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
	os.Exit(c.Run())
}

// Config specifies a full configuration for a host invocation.
type Config struct {
	WorkingDir     string
	Args           []string
	Env            []string
	Stdout, Stderr io.Writer
}

// watchLog records watch-interest registrations without reacting to them;
// the compiler never reacts to a change, only registers it (spec §4.7 step
// 2), so there is nothing more for --watch to drive here.
type watchLog struct {
	console cliutil.Console
	paths   []string
}

func (w *watchLog) Watch(path string) error {
	w.paths = append(w.paths, path)
	w.console.Trace("watching %s", path)
	return nil
}

// execInvoker shells out to an external compiler front end, named by the
// HOST_COMPILER environment variable, with the same exec.CommandContext
// pattern cliutil.RunHook uses for lifecycle hooks. No example in this
// module's corpus embeds a foreign-language compiler frontend directly, so
// the actual compile step stays external and pluggable (compiler.Invoker).
type execInvoker struct {
	cmd string
}

func (e *execInvoker) Compile(ctx context.Context, req compiler.CompileRequest) (compiler.CompileResult, error) {
	if e.cmd == "" {
		return compiler.CompileResult{}, errors.New("no compiler configured: set HOST_COMPILER to an external compiler front end")
	}
	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return compiler.CompileResult{}, err
	}
	outPath := filepath.Join(req.OutDir, req.AssemblyName+".dll")

	args := []string{"-out", outPath}
	args = append(args, req.SourceFiles...)
	for _, r := range req.References {
		if r.Path != "" {
			args = append(args, "-r", r.Path)
		}
	}

	cmd := exec.CommandContext(ctx, e.cmd, args...)
	cmd.Dir = req.ProjectDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return compiler.CompileResult{}, errors.Wrapf(err, "%s: %s", e.cmd, strings.TrimSpace(string(out)))
	}
	return compiler.CompileResult{DiskPath: outPath}, nil
}

// Run parses args and dispatches the requested command or entry point,
// returning a process exit code.
func (c *Config) Run() int {
	fs := flag.NewFlagSet("host", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(c.Stderr, "usage: host [--watch] [--packages DIR] [--configuration NAME] [--port N] [<command|app> [args...]]")
		fs.PrintDefaults()
	}

	watch := fs.Bool("watch", false, "register file-system watches while resolving source-form references")
	packagesDir := fs.String("packages", c.getEnv("PACKAGES_DIR", "packages"), "package store root directory")
	configuration := fs.String("configuration", "Debug", "build configuration name, exposed to commands as %configuration%")
	port := fs.Int("port", c.defaultPort(), "compilation server port (default from COMPILATION_SERVER_PORT), exposed to commands as %port%")

	if len(c.Args) > 1 {
		if err := fs.Parse(c.Args[1:]); err != nil {
			return 1
		}
	}

	console := &cliutil.StdConsole{Out: c.Stdout, ErrOut: c.Stderr, Verbosity: cliutil.VerbosityFromEnv()}

	projectDir := c.WorkingDir
	manifestPath := filepath.Join(projectDir, manifest.ManifestName)
	f, err := os.Open(manifestPath)
	if err != nil {
		console.Error("open manifest: %v", err)
		return 1
	}
	project, err := manifest.Parse(f, manifestPath, manifest.ProjectDirName(manifestPath))
	f.Close()
	if err != nil {
		console.Error("parse manifest: %v", err)
		return 1
	}

	_ = *packagesDir // reserved for a future GAC/packages-aware loader; source-project resolution doesn't need it yet

	solutionRoot := filepath.Dir(projectDir)
	projSource, err := provider.NewProjectSource(solutionRoot)
	if err != nil {
		console.Error("index solution root: %v", err)
		return 1
	}

	comp := compiler.New(solutionRoot, projSource, nil)
	comp.Console = console
	comp.Invoker = &execInvoker{cmd: c.getEnv("HOST_COMPILER", "")}
	if *watch {
		comp.Watcher = &watchLog{console: console}
	}

	container := loader.NewContainer()
	container.RegisterLoader(&compiler.SourceProjectLoader{Compiler: comp})

	vars := map[string]string{
		"configuration": *configuration,
		"port":          strconv.Itoa(*port),
	}

	mode, name, args, err := classify(fs.Args(), project)
	if err != nil {
		console.Error("%v", err)
		return 1
	}

	ctx := context.Background()
	var appPath string
	var finalArgs []string

	switch mode {
	case modeEntry:
		m, err := container.Load(ctx, "source-project", name)
		if err != nil {
			console.Error("load %s: %v", name, err)
			return 1
		}
		appPath, finalArgs = m.Path, args
	case modeCommand:
		app, cargs, err := cliutil.ExpandCommand(project.Commands[name], vars)
		if err != nil {
			console.Error("command %s: %v", name, err)
			return 1
		}
		appPath, finalArgs = app, append(cargs, args...)
	case modeApp:
		appPath, finalArgs = name, args
	}

	cmd := exec.CommandContext(ctx, appPath, finalArgs...)
	cmd.Dir = projectDir
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.Env = c.Env
	if err := cmd.Run(); err != nil {
		console.Error("%s: %v", appPath, err)
		return 1
	}
	return 0
}

type mode int

const (
	modeEntry mode = iota
	modeCommand
	modeApp
)

// classify disambiguates the host CLI's overloaded positional arguments
// (spec §6): "run" (any further args are passed to the entry point) or no
// positional args at all loads the manifest's entry point; a name matching the manifest's commands
// map is expanded through the variable grammar; anything else is run
// directly as an application path.
func classify(rest []string, project *manifest.Project) (m mode, name string, args []string, err error) {
	if len(rest) == 0 {
		return modeEntry, entryAssemblyName(project), nil, nil
	}
	if rest[0] == "run" {
		return modeEntry, entryAssemblyName(project), rest[1:], nil
	}
	if cmd, ok := project.Commands[rest[0]]; ok && strings.TrimSpace(cmd) != "" {
		return modeCommand, rest[0], rest[1:], nil
	}
	return modeApp, rest[0], rest[1:], nil
}

func entryAssemblyName(project *manifest.Project) string {
	if project.EntryPoint != "" {
		return project.EntryPoint
	}
	return project.Name
}

func (c *Config) defaultPort() int {
	if v := c.getEnv("COMPILATION_SERVER_PORT", ""); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func (c *Config) getEnv(key, fallback string) string {
	for _, kv := range c.Env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"=")
		}
	}
	return fallback
}
