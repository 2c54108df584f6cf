// Command restore resolves a project's dependency graph, materializes any
// packages missing from the local store, and writes a lock file (spec §4 C8,
// §6 "CLI surface (restore)").
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/modhost/core/cliutil"
	"github.com/modhost/core/provider"
	"github.com/modhost/core/restore"
	"github.com/modhost/core/store"
)

func main() {
	c := &Config{
		Args:       os.Args,
		Env:        os.Environ(),
		WorkingDir: mustGetwd(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
	}
	os.Exit(c.Run())
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get working directory:", err)
		os.Exit(1)
	}
	return wd
}

// Config specifies a full configuration for a restore invocation, mirroring
// the dep CLI's Config/Run split so the command is testable without
// touching the real process environment.
type Config struct {
	WorkingDir     string
	Args           []string
	Env            []string
	Stdout, Stderr io.Writer
}

// stringList collects repeated "--source"/"--fallback-source" flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// Run parses args and executes the restore, returning a process exit code.
func (c *Config) Run() int {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	fs.Usage = func() {
		fmt.Fprintln(c.Stderr, "usage: restore [<path>] [--packages DIR] [--source URL]* [--fallback-source URL]* [--no-cache] [--ignore-failed-sources] [--lock] [--unlock] [--configfile FILE] [<id> [<version>]]")
		fs.PrintDefaults()
	}

	var sources, fallback stringList
	packagesDir := fs.String("packages", c.getEnv("PACKAGES_DIR", "packages"), "package store root directory")
	fs.Var(&sources, "source", "remote feed base URL (repeatable)")
	fs.Var(&fallback, "fallback-source", "fallback remote feed base URL, tried only for top-level dependencies the primary sources could not resolve (repeatable)")
	noCache := fs.Bool("no-cache", false, "disable the remote-feed response cache")
	ignoreFailed := fs.Bool("ignore-failed-sources", false, "treat a failed feed as having no candidates instead of aborting")
	lockFlag := fs.Bool("lock", false, "treat an existing lock file as authoritative")
	unlockFlag := fs.Bool("unlock", false, "force a fresh resolution even if a valid lock exists")
	configFile := fs.String("configfile", "", "restore FILE's directory in place of <path>")

	// Flags may follow positional arguments, as in the usage line.
	var positional []string
	if len(c.Args) > 1 {
		rest := c.Args[1:]
		for {
			if err := fs.Parse(rest); err != nil {
				return 1
			}
			if fs.NArg() == 0 {
				break
			}
			positional = append(positional, fs.Arg(0))
			rest = fs.Args()[1:]
		}
	}

	console := &cliutil.StdConsole{Out: c.Stdout, ErrOut: c.Stderr, Verbosity: cliutil.VerbosityFromEnv()}

	st, err := store.New(*packagesDir)
	if err != nil {
		console.Error("%v", err)
		return 1
	}

	driver := &restore.Driver{
		Store:         st,
		PrimaryFeeds:  buildFeeds(sources, *noCache, *ignoreFailed),
		FallbackFeeds: buildFeeds(fallback, *noCache, *ignoreFailed),
		Tracer:        restore.NewTracer(console),
		Opts: restore.Options{
			PackagesDir:         *packagesDir,
			Sources:             sources,
			FallbackSources:     fallback,
			NoCache:             *noCache,
			IgnoreFailedSources: *ignoreFailed,
			Lock:                *lockFlag,
			Unlock:              *unlockFlag,
			ConfigFile:          *configFile,
			Console:             console,
		},
	}

	path, id, version := classifyPositional(positional)
	ctx := context.Background()

	if id != "" {
		root, err := driver.InstallOnePackage(ctx, id, version)
		if err != nil {
			console.Error("%v", err)
			return 1
		}
		console.Printf("%s", root)
		return 0
	}

	if *configFile != "" {
		path = *configFile
	}
	if path == "" {
		path = c.WorkingDir
	}

	results, err := driver.Restore(ctx, path)
	if err != nil {
		console.Error("%v", err)
		return 1
	}
	for _, r := range results {
		if r.CacheHit {
			console.Printf("%s: up to date", r.ProjectDir)
			continue
		}
		console.Printf("%s: %d package(s) installed", r.ProjectDir, len(r.Installed))
	}
	return 0
}

// classifyPositional disambiguates the restore CLI's overloaded positional
// arguments (spec §6): a single argument that names an existing path
// restores that project; otherwise it is the package id of an
// install-one-package request, with an optional second argument as its
// version.
func classifyPositional(rest []string) (path, id, version string) {
	if len(rest) == 0 {
		return "", "", ""
	}
	if _, err := os.Stat(rest[0]); err == nil {
		return rest[0], "", ""
	}
	if len(rest) > 1 {
		return "", rest[0], rest[1]
	}
	return "", rest[0], ""
}

func buildFeeds(urls []string, noCache, ignoreFailed bool) []*provider.RemoteFeed {
	feeds := make([]*provider.RemoteFeed, len(urls))
	for i, u := range urls {
		feeds[i] = provider.NewRemoteFeed(&provider.HTTPFeedIndex{BaseURL: u}, provider.Options{
			NoCache:            noCache,
			IgnoreFailedSource: ignoreFailed,
		})
	}
	return feeds
}

func (c *Config) getEnv(key, fallback string) string {
	for _, kv := range c.Env {
		if strings.HasPrefix(kv, key+"=") {
			return strings.TrimPrefix(kv, key+"=")
		}
	}
	return fallback
}
