package lockfile

import (
	"sort"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
)

// ValidationError describes one framework key whose locked dependency set
// no longer matches the manifest's declared set (spec §4.5).
type ValidationError struct {
	Framework string
	Missing   []string // declared in manifest, absent from lock
	Extra     []string // present in lock, no longer declared
}

// MultiValidationError collects zero or more ValidationErrors. A nil
// *MultiValidationError (returned as a typed nil error interface pitfall is
// avoided by Validate returning plain nil) means the lock file is current.
type MultiValidationError struct {
	Errors []ValidationError
}

func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 1 {
		ve := e.Errors[0]
		return "lock file out of date for framework " + frameworkLabel(ve.Framework)
	}
	return "lock file out of date for multiple frameworks"
}

// Validate compares l against project per spec §4.5: for the shared set
// and for every per-framework set, the declared-dependency strings
// (manifest.LibraryRange.Canonical) must equal the lock's recorded set
// exactly (symmetric difference must be empty). Returns nil when current.
func Validate(l *LockFile, project *manifest.Project) error {
	var errs []ValidationError

	shared := canonicalStrings(project.SharedDependencies)
	if ve := diff("", shared, l); ve != nil {
		errs = append(errs, *ve)
	}

	for fw, deps := range project.PerFramework {
		key := fw.String()
		declared := canonicalStrings(deps)
		if ve := diff(key, declared, l); ve != nil {
			errs = append(errs, *ve)
		}
	}

	// A framework key present in the lock but removed from the manifest
	// entirely is also out of date (empty declared set vs. a non-empty
	// locked set).
	for _, key := range l.FrameworkKeys() {
		if key == "" {
			continue
		}
		if _, known := lookupFramework(project, key); known {
			continue
		}
		locked, _ := l.FrameworkDependencyStrings(key)
		if len(locked) > 0 {
			errs = append(errs, ValidationError{Framework: key, Extra: locked})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return &MultiValidationError{Errors: errs}
}

func lookupFramework(project *manifest.Project, key string) (framework.Profile, bool) {
	for fw := range project.PerFramework {
		if fw.String() == key {
			return fw, true
		}
	}
	return framework.Profile{}, false
}

func canonicalStrings(deps []manifest.Dependency) []string {
	out := make([]string, len(deps))
	for i, d := range deps {
		out[i] = d.Canonical()
	}
	sort.Strings(out)
	return out
}

func diff(key string, declared []string, l *LockFile) *ValidationError {
	locked, ok := l.FrameworkDependencyStrings(key)
	if !ok {
		locked = nil
	}
	declSet := toSet(declared)
	lockSet := toSet(locked)

	var missing, extra []string
	for s := range declSet {
		if !lockSet[s] {
			missing = append(missing, s)
		}
	}
	for s := range lockSet {
		if !declSet[s] {
			extra = append(extra, s)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &ValidationError{Framework: key, Missing: missing, Extra: extra}
}

func toSet(in []string) map[string]bool {
	m := make(map[string]bool, len(in))
	for _, s := range in {
		m[s] = true
	}
	return m
}

func frameworkLabel(key string) string {
	if key == "" {
		return "(shared)"
	}
	return key
}
