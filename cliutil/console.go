// Package cliutil carries the ambient, external-contract concerns every
// binary in this module shares: leveled console output, the command
// variable grammar, hook invocation, and the environment-variable
// conventions described in spec §6/§9.
package cliutil

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// Verbosity is the process-wide logging level, mirroring the teacher's
// internal/util.Verbose flag generalized to the three levels spec §6/§9
// names: quiet, normal, and diagnostic.
type Verbosity int

const (
	VerbosityQuiet Verbosity = iota
	VerbosityNormal
	VerbosityDiagnostic
)

var (
	verbosityOnce sync.Once
	verbosityVal  Verbosity
)

// VerbosityFromEnv reads TRACE (0/1/2) once and memoizes the result (spec
// §9 "Global mutable state": verbosity is process-wide but read-only after
// the first access).
func VerbosityFromEnv() Verbosity {
	verbosityOnce.Do(func() {
		n, err := strconv.Atoi(os.Getenv("TRACE"))
		if err != nil || n < 0 {
			n = 0
		}
		if n > 2 {
			n = 2
		}
		verbosityVal = Verbosity(n)
	})
	return verbosityVal
}

// resetVerbosityForTest clears the memoized verbosity; test-only.
func resetVerbosityForTest() {
	verbosityOnce = sync.Once{}
}

// Console is the injected sink every command writes through (spec §7
// "Error reporting is via the injected console; no silent swallowing.").
type Console interface {
	Printf(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Error(format string, args ...interface{})
	Trace(format string, args ...interface{})
}

// StdConsole writes normal output to out and warnings/errors to errOut,
// generalizing the teacher's Logf/Vlogf split in internal/util/log.go into
// an injectable type instead of package-level globals.
type StdConsole struct {
	Out, ErrOut io.Writer
	Verbosity   Verbosity
}

// NewStdConsole builds a StdConsole writing to stdout/stderr at the
// process's memoized verbosity.
func NewStdConsole() *StdConsole {
	return &StdConsole{Out: os.Stdout, ErrOut: os.Stderr, Verbosity: VerbosityFromEnv()}
}

func (c *StdConsole) Printf(format string, args ...interface{}) {
	fmt.Fprintf(c.Out, format+"\n", args...)
}

func (c *StdConsole) Warning(format string, args ...interface{}) {
	fmt.Fprintf(c.ErrOut, "warning: "+format+"\n", args...)
}

func (c *StdConsole) Error(format string, args ...interface{}) {
	fmt.Fprintf(c.ErrOut, "error: "+format+"\n", args...)
}

func (c *StdConsole) Trace(format string, args ...interface{}) {
	if c.Verbosity < VerbosityDiagnostic {
		return
	}
	fmt.Fprintf(c.ErrOut, "trace: "+format+"\n", args...)
}
