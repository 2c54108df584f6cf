// Package restore implements the restore driver orchestration (spec §4 C8,
// §4.6): manifest discovery, hooks, graph walk, install, and lock-file
// write/validate, plus install-one-package mode.
package restore

import (
	"github.com/modhost/core/cliutil"
)

// Options configures a restore run (spec §6 "CLI surface (restore)").
type Options struct {
	// PackagesDir is the package store root ("--packages").
	PackagesDir string
	// Sources and FallbackSources are remote feed base URLs ("--source",
	// "--fallback-source"); fallback sources are only queried when a
	// top-level declared dependency is left unresolved by the primary
	// sources. Nested dependencies are not retried against them.
	Sources         []string
	FallbackSources []string
	// NoCache disables the remote-feed response cache ("--no-cache").
	NoCache bool
	// IgnoreFailedSources treats a failed feed as offering no candidates
	// instead of aborting ("--ignore-failed-sources"); no warning is
	// printed for the failure.
	IgnoreFailedSources bool
	// Lock forces treating the existing lock file as authoritative
	// ("--lock"); Unlock forces a fresh walk even if a valid lock exists
	// ("--unlock"). At most one should be set; Unlock wins if both are.
	Lock   bool
	Unlock bool
	// ConfigFile replaces the positional restore path ("--configfile"). As
	// with any restore path, a file is replaced by its directory and every
	// manifest under that directory is restored.
	ConfigFile string
	// Console receives all driver output; required.
	Console cliutil.Console
}

func (o Options) console() cliutil.Console {
	if o.Console != nil {
		return o.Console
	}
	return cliutil.NewStdConsole()
}
