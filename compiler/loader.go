package compiler

import (
	"context"

	"github.com/pkg/errors"
)

// SourceProjectLoader adapts a Compiler to the loader container's Loader
// interface under the "source-project" key (spec §4.7, "e.g.
// 'source-project'").
type SourceProjectLoader struct {
	Compiler *Compiler
}

// Key identifies this loader to the container.
func (l *SourceProjectLoader) Key() string { return "source-project" }

// Load compiles assemblyName, reporting ok=false rather than an error when
// no project manifest exists for it (spec §4.7 step 1).
func (l *SourceProjectLoader) Load(ctx context.Context, assemblyName string) (*Module, bool, error) {
	m, err := l.Compiler.Compile(ctx, assemblyName)
	if err != nil {
		if errors.Is(err, ErrNoMatch) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return m, true, nil
}
