package restore

import (
	"github.com/modhost/core/cliutil"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/provider"
)

// Tracer emits per-library selection traces at diagnostic verbosity,
// mirroring gonuget's DiagnosticTracer (spec §7 "Structured resolution
// diagnostics"). A nil *Tracer is safe to call and emits nothing.
type Tracer struct {
	console cliutil.Console
}

// NewTracer builds a Tracer writing through console.
func NewTracer(console cliutil.Console) *Tracer {
	return &Tracer{console: console}
}

// Resolved records that r was satisfied by kind/version under fw.
func (t *Tracer) Resolved(fw string, r manifest.LibraryRange, group provider.Group, kind provider.Kind, version string) {
	if t == nil || t.console == nil {
		return
	}
	t.console.Trace("%s: %s -> %s %s (provider=%s)", fw, r.Canonical(), r.Name, version, kind)
}

// Unresolved records that r could not be satisfied by any provider group.
func (t *Tracer) Unresolved(fw string, r manifest.LibraryRange) {
	if t == nil || t.console == nil {
		return
	}
	t.console.Trace("%s: %s unresolved", fw, r.Canonical())
}

// CacheHit records a no-op restore short-circuit.
func (t *Tracer) CacheHit(projectDir string) {
	if t == nil || t.console == nil {
		return
	}
	t.console.Trace("%s: restore cache hit, skipping resolution", projectDir)
}
