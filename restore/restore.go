package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/modhost/core/cliutil"
	"github.com/modhost/core/framework"
	"github.com/modhost/core/graph"
	"github.com/modhost/core/lockfile"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/provider"
	"github.com/modhost/core/store"
)

// LockState classifies a lock file found alongside a manifest (spec §4.6
// step 4).
type LockState int

const (
	LockAbsent LockState = iota
	LockPresentValidLocked
	LockPresentValidUnlocked
	LockPresentInvalid
)

// Result is the outcome of restoring a single discovered project.
type Result struct {
	ProjectDir string
	State      LockState
	Lock       *lockfile.LockFile
	Diff       LockDiff
	Installed  []string // "name version" pairs materialized and installed this run
	CacheHit   bool
}

// Driver orchestrates restore for one or more discovered manifests (spec
// §4 C8, §4.6). Wire a *store.Store, the framework-reference/GAC providers
// available on the host, and any remote feeds before calling Restore.
type Driver struct {
	Store              *store.Store
	PrimaryFeeds       []*provider.RemoteFeed
	FallbackFeeds      []*provider.RemoteFeed
	FrameworkProviders []provider.Provider
	Tracer             *Tracer
	Opts               Options
	// Sequential disables the worker pool across the driver's parallel
	// phases (walk, install), degrading to the sequential fallback spec §5
	// describes for platforms where parallel execution is unsafe.
	Sequential bool
}

func (d *Driver) console() cliutil.Console { return d.Opts.console() }

// Restore implements spec §4.6 end to end against every manifest found
// under root.
func (d *Driver) Restore(ctx context.Context, root string) ([]*Result, error) {
	normalized, err := NormalizePath(root)
	if err != nil {
		return nil, err
	}

	manifests, err := DiscoverManifests(normalized)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, errors.Errorf("no manifests found under %s", normalized)
	}

	results := make([]*Result, len(manifests))
	for i, mf := range manifests {
		res, err := d.restoreOne(ctx, mf)
		if err != nil {
			return nil, errors.Wrapf(err, "restore %s", mf)
		}
		results[i] = res
	}
	return results, nil
}

func (d *Driver) restoreOne(ctx context.Context, manifestPath string) (*Result, error) {
	projectDir := filepath.Dir(manifestPath)

	f, err := os.Open(manifestPath)
	if err != nil {
		return nil, errors.Wrap(err, "open manifest")
	}
	project, err := manifest.Parse(f, manifestPath, manifest.ProjectDirName(manifestPath))
	f.Close()
	if err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}

	if err := cliutil.RunHook(ctx, "prerestore", projectDir, project.Commands, nil); err != nil {
		return nil, err
	}

	lockPath := filepath.Join(projectDir, lockfile.Name)
	state, lock := d.classifyLock(lockPath, project)
	state = d.applyLockOverride(state)

	cachePath := CachePath(lockPath)
	hash := EffectiveDependencyHash(project)
	if state == LockPresentValidLocked && CacheValid(cachePath, hash) {
		for _, l := range lock.Libraries {
			if err := d.Store.VerifyIntegrity(l.Name, l.Version, l.SHA512); err != nil {
				got, _ := d.Store.Lookup(l.Name, l.Version)
				actual := ""
				if got != nil {
					actual = got.SHA512
				}
				return nil, &ShaMismatchError{Name: l.Name, Version: l.Version, Expected: l.SHA512, Actual: actual}
			}
		}
		d.Tracer.CacheHit(projectDir)
		return &Result{ProjectDir: projectDir, State: state, Lock: lock, CacheHit: true}, nil
	}

	solutionRoot := filepath.Dir(projectDir)
	projSource, err := provider.NewProjectSource(solutionRoot)
	if err != nil {
		return nil, errors.Wrap(err, "index solution root")
	}

	locked := state == LockPresentValidLocked
	nodes, err := d.walkAllFrameworks(ctx, project, projSource, locked)
	if err != nil {
		return nil, err
	}

	if locked {
		if err := d.verifyLockedShas(lock, nodes); err != nil {
			return nil, err
		}
	}

	items := map[string]*graph.Node{}
	for _, roots := range nodes {
		collectItems(roots, items)
	}

	var unresolved []manifest.LibraryRange
	for _, n := range items {
		if n.Item == nil {
			unresolved = append(unresolved, n.Range)
		}
	}
	if len(unresolved) > 0 {
		return nil, &UnresolvedRangesError{Ranges: unresolved}
	}

	installed, err := d.installAll(ctx, items)
	if err != nil {
		return nil, err
	}

	var newLock *lockfile.LockFile
	diff := LockDiff{}
	if state != LockPresentValidLocked {
		newLock = buildLock(d.Store, items, project)
		diff = DiffLocks(lock, newLock)
		if err := writeLockAtomic(lockPath, newLock); err != nil {
			return nil, err
		}
		if err := WriteCacheHash(cachePath, hash); err != nil {
			return nil, errors.Wrap(err, "write restore cache")
		}
	} else {
		newLock = lock
	}

	if err := cliutil.RunHook(ctx, "postrestore", projectDir, project.Commands, nil); err != nil {
		return nil, err
	}
	if err := cliutil.RunHook(ctx, "prepare", projectDir, project.Commands, nil); err != nil {
		return nil, err
	}

	return &Result{
		ProjectDir: projectDir,
		State:      state,
		Lock:       newLock,
		Diff:       diff,
		Installed:  installed,
	}, nil
}

func (d *Driver) classifyLock(lockPath string, project *manifest.Project) (LockState, *lockfile.LockFile) {
	f, err := os.Open(lockPath)
	if err != nil {
		return LockAbsent, nil
	}
	defer f.Close()

	lock, err := lockfile.Read(f)
	if err != nil {
		return LockPresentInvalid, nil
	}
	if err := lockfile.Validate(lock, project); err != nil {
		return LockPresentInvalid, lock
	}
	if lock.Locked {
		return LockPresentValidLocked, lock
	}
	return LockPresentValidUnlocked, lock
}

// applyLockOverride honors "--unlock"/"--lock" against a valid lock's own
// recorded state (spec §6: "--lock forces treating the existing lock as
// authoritative; --unlock forces a fresh walk even if a valid lock
// exists."). Unlock wins if both are set. LockAbsent and LockPresentInvalid
// are unaffected; there is no lock to treat either way.
func (d *Driver) applyLockOverride(state LockState) LockState {
	switch {
	case d.Opts.Unlock && state == LockPresentValidLocked:
		return LockPresentValidUnlocked
	case d.Opts.Lock && !d.Opts.Unlock && state == LockPresentValidUnlocked:
		return LockPresentValidLocked
	default:
		return state
	}
}

// frameworksOf returns every framework profile a project declares
// dependencies under, plus the zero profile when there are none (so the
// shared set alone still gets walked).
func frameworksOf(project *manifest.Project) []framework.Profile {
	if len(project.PerFramework) == 0 {
		return []framework.Profile{{}}
	}
	out := make([]framework.Profile, 0, len(project.PerFramework))
	for fw := range project.PerFramework {
		out = append(out, fw)
	}
	return out
}

// walkAllFrameworks walks every framework profile in parallel (spec §4.6
// step 5), honoring the driver's Sequential fallback. Within one framework
// the root dependencies are walked one after another; each Walk
// parallelizes over its own subtree.
func (d *Driver) walkAllFrameworks(ctx context.Context, project *manifest.Project, projSource *provider.ProjectSource, locked bool) (map[framework.Profile][]*graph.Node, error) {
	fws := frameworksOf(project)
	out := make(map[framework.Profile][]*graph.Node, len(fws))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(fws))

	runOne := func(fw framework.Profile) {
		nodes, err := d.walkFramework(ctx, project, projSource, fw, locked)
		if err != nil {
			errCh <- err
			return
		}
		mu.Lock()
		out[fw] = nodes
		mu.Unlock()
	}

	for _, fw := range fws {
		fw := fw
		if d.Sequential {
			runOne(fw)
			continue
		}
		wg.Add(1)
		go func() { defer wg.Done(); runOne(fw) }()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *Driver) walkFramework(ctx context.Context, project *manifest.Project, projSource *provider.ProjectSource, fw framework.Profile, locked bool) ([]*graph.Node, error) {
	primary := make([]provider.Provider, len(d.PrimaryFeeds))
	for i, f := range d.PrimaryFeeds {
		primary[i] = f
	}
	w := &graph.Walker{
		Project:            []provider.Provider{projSource},
		Local:              []provider.Provider{provider.NewLocalStore(d.Store)},
		Remote:             primary,
		FrameworkProviders: d.FrameworkProviders,
		Sequential:         d.Sequential,
	}
	if locked {
		w.AcceptRemote = func(manifest.LibraryRange) bool { return false }
	}

	deps := project.EffectiveDependencies(fw)
	nodes := make([]*graph.Node, len(deps))
	var accumulated []manifest.LibraryRange

	for i, dep := range deps {
		node, err := w.Walk(ctx, dep.LibraryRange, fw)
		if err != nil {
			accumulated = append(accumulated, dep.LibraryRange)
			d.Tracer.Unresolved(fw.String(), dep.LibraryRange)
			continue
		}
		if node.Item == nil && len(d.FallbackFeeds) > 0 && !locked {
			node = d.retryWithFallback(ctx, w, dep.LibraryRange, fw)
		}
		nodes[i] = node
		if node != nil && node.Item != nil {
			d.Tracer.Resolved(fw.String(), dep.LibraryRange, provider.GroupOf(node.Item.Library.Provider), node.Item.Library.Provider, node.Item.Library.Version)
		}
	}

	if len(accumulated) > 0 {
		return nil, &UnresolvedRangesError{Ranges: accumulated}
	}
	return nodes, nil
}

// retryWithFallback re-walks a single unresolved top-level range with the
// fallback feeds added to the remote group (spec §6 "--fallback-source").
// Nested unresolved ranges deeper in an already-resolved subtree are not
// retried; DESIGN.md records this as a deliberate simplification.
func (d *Driver) retryWithFallback(ctx context.Context, primary *graph.Walker, r manifest.LibraryRange, fw framework.Profile) *graph.Node {
	remote := append(append([]provider.Provider{}, primary.Remote...), feedsAsProviders(d.FallbackFeeds)...)
	w := &graph.Walker{
		Project:            primary.Project,
		Local:              primary.Local,
		Remote:             remote,
		FrameworkProviders: primary.FrameworkProviders,
		Sequential:         primary.Sequential,
	}
	node, err := w.Walk(ctx, r, fw)
	if err != nil || node == nil {
		return &graph.Node{Range: r}
	}
	return node
}

func feedsAsProviders(feeds []*provider.RemoteFeed) []provider.Provider {
	out := make([]provider.Provider, len(feeds))
	for i, f := range feeds {
		out[i] = f
	}
	return out
}

// collectItems flattens roots (and transitively their dependency trees)
// into a map keyed by "name@version", visiting each distinct node once.
func collectItems(roots []*graph.Node, into map[string]*graph.Node) {
	for _, n := range roots {
		if n == nil {
			continue
		}
		var key string
		if n.Item != nil {
			key = n.Item.Library.Name + "@" + n.Item.Library.Version
		} else {
			key = "unresolved:" + n.Range.Name
		}
		if _, seen := into[key]; seen {
			continue
		}
		into[key] = n
		if n.Item != nil {
			collectItems(n.Deps, into)
		}
	}
}

// verifyLockedShas recomputes every locally resolved item's SHA-512 from
// its persisted on-disk archive and checks it against the lock's recorded
// digest (spec §8 scenario S5, property 5). Because the digest is derived
// fresh from the stored archive bytes rather than a value cached at install
// time, this catches a package corrupted or tampered with after install.
func (d *Driver) verifyLockedShas(lock *lockfile.LockFile, nodes map[framework.Profile][]*graph.Node) error {
	recorded := map[string]string{}
	for _, l := range lock.Libraries {
		recorded[l.Name+"@"+l.Version] = l.SHA512
	}

	items := map[string]*graph.Node{}
	for _, roots := range nodes {
		collectItems(roots, items)
	}
	for _, n := range items {
		if n.Item == nil || n.Item.Library.Provider == provider.KindProject || n.Item.Library.Provider == provider.KindFramework || n.Item.Library.Provider == provider.KindGAC {
			continue
		}
		key := n.Item.Library.Name + "@" + n.Item.Library.Version
		want, ok := recorded[key]
		if !ok {
			continue
		}
		if err := d.Store.VerifyIntegrity(n.Item.Library.Name, n.Item.Library.Version, want); err != nil {
			got, _ := d.Store.Lookup(n.Item.Library.Name, n.Item.Library.Version)
			actual := ""
			if got != nil {
				actual = got.SHA512
			}
			return &ShaMismatchError{Name: n.Item.Library.Name, Version: n.Item.Library.Version, Expected: want, Actual: actual}
		}
	}
	return nil
}

// installAll materializes and installs every item resolved from a remote
// provider (spec §4.6 step 7); local/project/framework/GAC items need no
// install step.
func (d *Driver) installAll(ctx context.Context, items map[string]*graph.Node) ([]string, error) {
	type job struct {
		name, version, token string
		deps                 []manifest.LibraryRange
	}
	var jobs []job
	for _, n := range items {
		if n.Item == nil || n.Item.Library.Provider != provider.KindRemote {
			continue
		}
		jobs = append(jobs, job{n.Item.Library.Name, n.Item.Library.Version, n.Item.Library.Token, n.Item.Dependencies})
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	installed := make([]string, 0, len(jobs))
	errCh := make(chan error, len(jobs))

	runOne := func(j job) {
		feed := d.findFeed(j.token)
		if feed == nil {
			errCh <- errors.Errorf("install %s %s: no remote feed for token %s", j.name, j.version, j.token)
			return
		}
		bytes, err := feed.Materialize(ctx, provider.Candidate{Name: j.name, Version: j.version, Kind: provider.KindRemote, Token: j.token})
		if err != nil {
			errCh <- errors.Wrapf(err, "download %s %s", j.name, j.version)
			return
		}
		if _, err := d.Store.Install(j.name, j.version, bytes); err != nil {
			errCh <- errors.Wrapf(err, "install %s %s", j.name, j.version)
			return
		}
		if err := d.Store.SetMeta(j.name, j.version, j.deps); err != nil {
			errCh <- errors.Wrapf(err, "record dependency metadata for %s %s", j.name, j.version)
			return
		}
		mu.Lock()
		installed = append(installed, fmt.Sprintf("%s %s", j.name, j.version))
		mu.Unlock()
	}

	for _, j := range jobs {
		j := j
		if d.Sequential {
			runOne(j)
			continue
		}
		wg.Add(1)
		go func() { defer wg.Done(); runOne(j) }()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	return installed, nil
}

func (d *Driver) findFeed(token string) *provider.RemoteFeed {
	for _, f := range d.PrimaryFeeds {
		if f.FeedURL() == token {
			return f
		}
	}
	for _, f := range d.FallbackFeeds {
		if f.FeedURL() == token {
			return f
		}
	}
	return nil
}

// buildLock assembles a canonical lock file from the resolved item set and
// the project's declared-dependency strings (spec §4.5).
func buildLock(st *store.Store, items map[string]*graph.Node, project *manifest.Project) *lockfile.LockFile {
	l := lockfile.New()
	l.Locked = true

	// Frameworks are written sorted by their string form:
	// manifest.Project keeps them in a map, so the manifest's declaration
	// order is not available here.
	order := frameworksOf(project)
	if len(project.PerFramework) == 0 {
		order = nil
	}
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })
	perFramework := map[framework.Profile][]string{}
	for fw, deps := range project.PerFramework {
		strs := make([]string, len(deps))
		for i, dep := range deps {
			strs[i] = dep.Canonical()
		}
		perFramework[fw] = strs
	}
	shared := make([]string, len(project.SharedDependencies))
	for i, dep := range project.SharedDependencies {
		shared[i] = dep.Canonical()
	}
	l.SetFrameworkDependencies(shared, order, perFramework)

	for _, n := range items {
		if n.Item == nil {
			continue
		}
		kind := n.Item.Library.Provider
		if kind == provider.KindProject || kind == provider.KindFramework || kind == provider.KindGAC {
			continue
		}
		pkg, err := st.Lookup(n.Item.Library.Name, n.Item.Library.Version)
		if err != nil {
			continue
		}
		l.Libraries = append(l.Libraries, lockfile.LockedLibrary{
			Name:                      pkg.Name,
			Version:                   pkg.Version,
			SHA512:                    pkg.SHA512,
			Files:                     pkg.Files,
			FrameworkAssemblies:       assembliesByProfile(pkg.FrameworkAssemblies),
			DependencySets:            dependencySetsByProfile(pkg.DependencySets),
			PackageAssemblyReferences: assembliesByProfile(pkg.PackageAssemblyReferences),
		})
	}
	return l
}

// assembliesByProfile re-keys a per-profile assembly-path map by the
// profile's lock-file string form (spec §3 "LockedLibrary mirrors Package
// minus file contents").
func assembliesByProfile(m map[framework.Profile][]string) map[string][]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]string, len(m))
	for fw, paths := range m {
		out[fw.String()] = paths
	}
	return out
}

// dependencySetsByProfile re-keys a Package's per-profile dependency set by
// the profile's string form and renders each dependency to its canonical
// range string, matching the form project.PerFramework dependencies are
// recorded in.
func dependencySetsByProfile(m map[framework.Profile][]manifest.LibraryRange) map[string][]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string][]string, len(m))
	for fw, deps := range m {
		strs := make([]string, len(deps))
		for i, dep := range deps {
			strs[i] = dep.Canonical()
		}
		out[fw.String()] = strs
	}
	return out
}

func writeLockAtomic(lockPath string, l *lockfile.LockFile) error {
	tmp := lockPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create temp lock file")
	}
	if err := l.Write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "write lock file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close temp lock file")
	}
	if err := os.Rename(tmp, lockPath); err != nil {
		return errors.Wrap(err, "rename lock file into place")
	}
	return nil
}
