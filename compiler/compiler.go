// Package compiler implements the source-project compiler (spec §4 C9,
// §4.7): locates a manifest by assembly name, resolves reference images
// for its declared dependencies, invokes an external compile step, and
// caches the resulting module under the assembly name for the lifetime of
// its container.
package compiler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"

	"github.com/modhost/core/cliutil"
	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/provider"
)

// ErrNoMatch signals that no manifest exists for the requested assembly
// name; the loader container treats this as "no-match", not a failure
// (spec §4.7 step 1).
var ErrNoMatch = errors.New("compiler: no project found for assembly name")

// ReferenceImage is a resolved, loadable reference to a dependency used as
// input to compilation (spec §GLOSSARY "reference image").
type ReferenceImage struct {
	Name string
	// Path is the on-disk location of the reference, when one exists (a
	// runtime-loaded module, or a path-based compiled output).
	Path string
	// Bytes carries an in-memory image for a dependency compiled to
	// memory rather than disk; mutually exclusive with Path in practice.
	Bytes []byte
}

// Module is a compiled project's loadable output (spec §3 "Module").
type Module struct {
	Name string
	// Path is set when the module was compiled to disk (<out>/<name>.dll);
	// Bytes is set when it was compiled in memory. Symbols carries the
	// matching .pdb bytes or the path under <solution>/.symbols/.
	Path       string
	Bytes      []byte
	Symbols    []byte
	SymbolPath string
	References []ReferenceImage
}

// Runtime is the host's already-loaded-module lookup, consulted before
// falling back to a name-based framework reference (spec §4.7 step 4).
type Runtime interface {
	// LoadedModulePath returns the on-disk location of an already-loaded
	// module by assembly name.
	LoadedModulePath(name string) (string, bool)
}

// FileWatcher registers filesystem watch interest; the compiler never
// reacts to a watch firing itself, it only registers it (spec §4.7
// "Cache invariant").
type FileWatcher interface {
	Watch(path string) error
}

// CompileRequest is the input to an external compile invocation.
type CompileRequest struct {
	AssemblyName string
	ProjectDir   string
	SourceFiles  []string
	References   []ReferenceImage
	OutDir       string
}

// CompileResult is the output of a successful compile invocation: either a
// file pair or an in-memory buffer plus symbol sidecar (spec §4.7 step 6).
type CompileResult struct {
	DiskPath    string
	SymbolPath  string
	InMemory    []byte
	SymbolBytes []byte
}

// Invoker performs the actual compilation, external to this package
// (grounded in the teacher's `analysis.go` external-tool-invocation
// pattern — this package drives discovery/resolution/caching, not the
// compiler frontend itself).
type Invoker interface {
	Compile(ctx context.Context, req CompileRequest) (CompileResult, error)
}

// Compiler resolves and compiles source-form projects under a single
// solution root, caching one module per assembly name for its lifetime
// (spec §4.7, "at most one loaded module per assembly name within a
// container's lifetime").
type Compiler struct {
	SolutionRoot       string
	SourceExtension    string // defaults to ".cs"
	ProjectSource      *provider.ProjectSource
	FrameworkProviders []provider.Provider
	Runtime            Runtime
	Watcher            FileWatcher
	Invoker            Invoker
	Console            cliutil.Console

	mu    sync.Mutex
	cache map[string]*Module
}

// New builds a Compiler rooted at solutionRoot.
func New(solutionRoot string, projectSource *provider.ProjectSource, frameworkProviders []provider.Provider) *Compiler {
	return &Compiler{
		SolutionRoot:       solutionRoot,
		SourceExtension:    ".cs",
		ProjectSource:      projectSource,
		FrameworkProviders: frameworkProviders,
		cache:              make(map[string]*Module),
	}
}

func (c *Compiler) console() cliutil.Console {
	if c.Console != nil {
		return c.Console
	}
	return cliutil.NewStdConsole()
}

// Compile implements spec §4.7 steps 1-7 for a single assembly name.
func (c *Compiler) Compile(ctx context.Context, assemblyName string) (*Module, error) {
	c.mu.Lock()
	if m, ok := c.cache[assemblyName]; ok {
		c.mu.Unlock()
		return m, nil
	}
	c.mu.Unlock()

	project, ok := c.ProjectSource.Project(assemblyName)
	if !ok {
		return nil, ErrNoMatch
	}
	projectDir := filepath.Join(c.SolutionRoot, assemblyName)

	if c.Watcher != nil {
		if err := c.Watcher.Watch(projectDir); err != nil {
			return nil, errors.Wrapf(err, "watch project directory %s", projectDir)
		}
		if err := c.Watcher.Watch(project.ProjectFilePath); err != nil {
			return nil, errors.Wrapf(err, "watch manifest %s", project.ProjectFilePath)
		}
	}

	sourceFiles, err := enumerateSourceFiles(projectDir, c.sourceExtension())
	if err != nil {
		return nil, errors.Wrapf(err, "enumerate source files under %s", projectDir)
	}
	if len(sourceFiles) == 0 {
		return nil, errors.Errorf("compile %s: no %s source files found under %s", assemblyName, c.sourceExtension(), projectDir)
	}

	// fw is the zero profile here, so only the shared dependencies are
	// resolved. Per-framework dependencies, including the framework
	// references manifest.Parse builds from frameworkAssemblies entries,
	// are not included, and no separate framework baseline reference set
	// is added.
	fw := framework.Profile{}
	deps := project.EffectiveDependencies(fw)
	refs, err := c.resolveReferences(ctx, assemblyName, deps, fw)
	if err != nil {
		return nil, err
	}

	if c.Invoker == nil {
		return nil, errors.Errorf("compile %s: no compile invoker configured", assemblyName)
	}
	outDir := filepath.Join(c.SolutionRoot, ".symbols")
	result, err := c.Invoker.Compile(ctx, CompileRequest{
		AssemblyName: assemblyName,
		ProjectDir:   projectDir,
		SourceFiles:  sourceFiles,
		References:   refs,
		OutDir:       outDir,
	})
	if err != nil {
		c.console().Error("compile %s: %v", assemblyName, err)
		return nil, errors.Wrapf(err, "compile %s", assemblyName)
	}

	m := &Module{
		Name:       assemblyName,
		Path:       result.DiskPath,
		Bytes:      result.InMemory,
		Symbols:    result.SymbolBytes,
		SymbolPath: result.SymbolPath,
		References: refs,
	}

	c.mu.Lock()
	c.cache[assemblyName] = m
	c.mu.Unlock()
	return m, nil
}

func (c *Compiler) sourceExtension() string {
	if c.SourceExtension == "" {
		return ".cs"
	}
	return c.SourceExtension
}

// resolveReferences implements spec §4.7 step 4: for each declared
// dependency, prefer the in-memory compiled cache, then a runtime-loaded
// module's on-disk location, then a name-based framework reference. Each
// dependency resolves concurrently; the project itself still compiles
// single-threaded (spec §5).
func (c *Compiler) resolveReferences(ctx context.Context, self string, deps []manifest.Dependency, fw framework.Profile) ([]ReferenceImage, error) {
	out := make([]ReferenceImage, len(deps))
	errs := make([]error, len(deps))

	var wg sync.WaitGroup
	for i, d := range deps {
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := c.resolveOne(ctx, d.Name, fw)
			out[i] = ref
			errs[i] = err
		}()
	}
	wg.Wait()

	var msgs []string
	for i, err := range errs {
		if err != nil {
			msgs = append(msgs, errors.Wrapf(err, "reference %s", deps[i].Name).Error())
		}
	}
	if len(msgs) > 0 {
		return nil, errors.Errorf("compile %s: unresolved references: %s", self, strings.Join(msgs, "; "))
	}
	return out, nil
}

func (c *Compiler) resolveOne(ctx context.Context, name string, fw framework.Profile) (ReferenceImage, error) {
	c.mu.Lock()
	cached, ok := c.cache[name]
	c.mu.Unlock()
	if ok {
		return ReferenceImage{Name: name, Path: cached.Path, Bytes: cached.Bytes}, nil
	}

	if c.Runtime != nil {
		if path, ok := c.Runtime.LoadedModulePath(name); ok {
			return ReferenceImage{Name: name, Path: path}, nil
		}
	}

	req := manifest.LibraryRange{Name: name, FrameworkReference: true}
	for _, p := range c.FrameworkProviders {
		cands, err := p.FindCandidates(ctx, req, fw)
		if err != nil {
			return ReferenceImage{}, err
		}
		if len(cands) > 0 {
			return ReferenceImage{Name: cands[0].Name}, nil
		}
	}
	return ReferenceImage{}, errors.Errorf("no reference image available for %s", name)
}

// enumerateSourceFiles recursively walks dir for files with ext, skipping
// hidden (dot-prefixed) directories and bin/obj output directories (spec §4.7 step 2/3; grounded in the
// teacher's `ListPackages` skip rules in analysis.go, generalized past Go
// source specifically).
func enumerateSourceFiles(dir, ext string) ([]string, error) {
	var out []string
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Callback: func(osPathname string, de *godirwalk.Dirent) error {
			base := filepath.Base(osPathname)
			if de.IsDir() {
				if base != filepath.Base(dir) && (strings.HasPrefix(base, ".") || base == "bin" || base == "obj") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.EqualFold(filepath.Ext(osPathname), ext) {
				out = append(out, osPathname)
			}
			return nil
		},
		Unsorted: false,
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
