package cliutil

import (
	"bytes"
	"os"
	"testing"
)

func TestVerbosityFromEnvMemoized(t *testing.T) {
	resetVerbosityForTest()
	os.Setenv("TRACE", "2")
	defer os.Unsetenv("TRACE")

	if got := VerbosityFromEnv(); got != VerbosityDiagnostic {
		t.Fatalf("expected diagnostic verbosity, got %v", got)
	}

	os.Setenv("TRACE", "0")
	if got := VerbosityFromEnv(); got != VerbosityDiagnostic {
		t.Fatalf("expected memoized diagnostic verbosity despite env change, got %v", got)
	}
}

func TestStdConsoleTraceGatedByVerbosity(t *testing.T) {
	var buf bytes.Buffer
	c := &StdConsole{Out: &buf, ErrOut: &buf, Verbosity: VerbosityNormal}
	c.Trace("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no trace output at normal verbosity, got %q", buf.String())
	}

	c.Verbosity = VerbosityDiagnostic
	c.Trace("visible %d", 1)
	if buf.Len() == 0 {
		t.Fatal("expected trace output at diagnostic verbosity")
	}
}
