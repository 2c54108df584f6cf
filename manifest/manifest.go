// Package manifest parses the project manifest (spec §4 C1, §6) and
// exposes the Project data model (spec §3).
package manifest

import (
	"encoding/json"
	"io"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/version"
)

// ManifestName is the expected file name for a project manifest, matching
// the teacher's ManifestName convention for manifest.json.
const ManifestName = "project.json"

// DependencyType restricts inclusion at consumer-build time; it does not
// change resolution (spec §3 "Dependency").
type DependencyType string

const (
	DependencyDefault DependencyType = "default"
	DependencyBuild   DependencyType = "build"
)

// LibraryRange is a dependency constraint on a named library (spec §3).
// Invariant: either VersionRange is non-nil, or FrameworkReference is true.
type LibraryRange struct {
	Name               string
	VersionRange       *version.Range
	FrameworkReference bool
}

func (lr LibraryRange) validate() error {
	if lr.Name == "" {
		return errors.New("library range: empty name")
	}
	if lr.VersionRange == nil && !lr.FrameworkReference {
		return errors.Errorf("library range %q: must have a version range or be a framework/GAC reference", lr.Name)
	}
	return nil
}

// Canonical renders the declared-dependency string used for lock-file
// validation (spec §4.5): "name range-string", or just "name" for
// framework/GAC references.
func (lr LibraryRange) Canonical() string {
	if lr.FrameworkReference || lr.VersionRange == nil {
		return lr.Name
	}
	return lr.Name + " " + lr.VersionRange.String()
}

// Dependency is a LibraryRange plus a type hint (spec §3).
type Dependency struct {
	LibraryRange
	Type DependencyType
}

// Project is the parsed, immutable-per-run manifest (spec §3).
type Project struct {
	Name               string
	Version            string
	EntryPoint         string
	Commands           map[string]string
	SharedDependencies []Dependency
	PerFramework       map[framework.Profile][]Dependency
	SourceFiles        []string
	SharedFiles        []string
	ProjectFilePath    string
}

// EffectiveDependencies returns SharedDependencies ∪ PerFramework[f], per
// spec §3.
func (p *Project) EffectiveDependencies(f framework.Profile) []Dependency {
	out := make([]Dependency, 0, len(p.SharedDependencies)+len(p.PerFramework[f]))
	out = append(out, p.SharedDependencies...)
	out = append(out, p.PerFramework[f]...)
	return out
}

// rawManifest mirrors the JSON shape declared in spec §6: dependencies is a
// map of name -> version string or object, frameworks is a map of
// framework-id -> {dependencies, frameworkAssemblies}. Unknown keys are
// ignored by encoding/json's default decode behavior.
type rawManifest struct {
	Version       string                    `json:"version"`
	EntryPoint    string                    `json:"entryPoint"`
	Commands      map[string]string         `json:"commands"`
	Dependencies  map[string]json.RawMessage `json:"dependencies"`
	Frameworks    map[string]rawFramework   `json:"frameworks"`
	Code          []string                  `json:"code"`
	Exclude       []string                  `json:"exclude"`
}

type rawFramework struct {
	Dependencies        map[string]json.RawMessage `json:"dependencies"`
	FrameworkAssemblies []string                    `json:"frameworkAssemblies"`
}

// rawDependencyProps covers the object form a dependency entry may take,
// e.g. {"version": "[1.0.0,2.0.0)", "type": "build"}.
type rawDependencyProps struct {
	Version string `json:"version"`
	Type    string `json:"type"`
}

// Parse reads and validates a manifest from r. dirName is the project's
// directory name and always becomes Name; the manifest format has no name
// key (source-form projects are named for their directory, per spec
// §GLOSSARY "Assembly name").
func Parse(r io.Reader, projectFilePath, dirName string) (*Project, error) {
	var raw rawManifest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}

	p := &Project{
		Name:            dirName,
		Version:         raw.Version,
		EntryPoint:      raw.EntryPoint,
		Commands:        raw.Commands,
		PerFramework:    make(map[framework.Profile][]Dependency),
		SourceFiles:     raw.Code,
		ProjectFilePath: projectFilePath,
	}
	if p.Commands == nil {
		p.Commands = make(map[string]string)
	}

	deps, err := parseDeps(raw.Dependencies)
	if err != nil {
		return nil, errors.Wrap(err, "parse manifest: dependencies")
	}
	p.SharedDependencies = deps

	for fid, rf := range raw.Frameworks {
		prof, err := framework.Parse(fid)
		if err != nil {
			return nil, errors.Wrapf(err, "parse manifest: framework %q", fid)
		}
		fdeps, err := parseDeps(rf.Dependencies)
		if err != nil {
			return nil, errors.Wrapf(err, "parse manifest: framework %q dependencies", fid)
		}
		for _, asm := range rf.FrameworkAssemblies {
			fdeps = append(fdeps, Dependency{
				LibraryRange: LibraryRange{Name: asm, FrameworkReference: true},
				Type:         DependencyDefault,
			})
		}
		p.PerFramework[prof] = fdeps
	}

	return p, nil
}

func parseDeps(m map[string]json.RawMessage) ([]Dependency, error) {
	deps := make([]Dependency, 0, len(m))
	for name, raw := range m {
		var asStr string
		if err := json.Unmarshal(raw, &asStr); err == nil {
			vr, perr := version.ParseRange(asStr)
			if perr != nil {
				return nil, errors.Wrapf(perr, "dependency %q", name)
			}
			d := Dependency{
				LibraryRange: LibraryRange{Name: name, VersionRange: &vr},
				Type:         DependencyDefault,
			}
			if err := d.LibraryRange.validate(); err != nil {
				return nil, err
			}
			deps = append(deps, d)
			continue
		}

		var props rawDependencyProps
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, errors.Wrapf(err, "dependency %q: unrecognized shape", name)
		}
		vr, err := version.ParseRange(props.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency %q", name)
		}
		dt := DependencyDefault
		if props.Type != "" {
			dt = DependencyType(props.Type)
		}
		d := Dependency{
			LibraryRange: LibraryRange{Name: name, VersionRange: &vr},
			Type:         dt,
		}
		if err := d.LibraryRange.validate(); err != nil {
			return nil, err
		}
		deps = append(deps, d)
	}
	return deps, nil
}

// ProjectDirName is the manifest directory's base name, used as the
// project's default Name and as the loader's assembly name (spec
// §GLOSSARY "Assembly name").
func ProjectDirName(projectFilePath string) string {
	return filepath.Base(filepath.Dir(projectFilePath))
}
