// Package graph implements the multi-source, parallel, version-constrained
// dependency graph walker (spec §4 C6, §4.3).
package graph

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/provider"
)

// LibraryMatch is the resolved (name, version) a Node's Item points at,
// together with the provider that produced it (spec §3 "GraphItem").
type LibraryMatch struct {
	Name     string
	Version  string
	Provider provider.Kind
	Token    string
}

// Item pairs a resolved library match with its declared dependencies under
// the walk's framework (spec §3 "GraphItem"). Invariant: once set on a
// Node, Item.Library.Name must equal the Node's Range.Name case-sensitively
// — violations surface as a CaseMismatchError rather than being accepted
// silently (spec §3, §4.3 "Case policy").
type Item struct {
	Library      LibraryMatch
	Dependencies []manifest.LibraryRange
}

// Node is one entry in the (explicit-tree, conceptually-DAG) walk result
// (spec §3 "GraphNode"). Item is nil while pending and for unresolved
// ranges.
type Node struct {
	Range manifest.LibraryRange
	Item  *Item
	Deps  []*Node
}

// CaseMismatchError is recorded when a provider's library name differs
// only in case from the requested range (spec §4.3 "Case policy", §7).
type CaseMismatchError struct {
	Requested string
	Suggested string
}

func (e *CaseMismatchError) Error() string {
	return fmt.Sprintf("unresolved: %q not found, did you mean %q? (case differs)", e.Requested, e.Suggested)
}

// UnresolvedError marks a range with no satisfying candidate in any
// provider group (spec §4.3 step 4, §7).
type UnresolvedError struct {
	Requested string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unable to locate %s", e.Requested)
}

// Walker performs the transitive expansion described in spec §4.3: query
// project providers, then local providers in parallel (highest version
// wins), then — if AcceptRemote allows it — remote providers in parallel,
// finally falling back to an unresolved sentinel. It does not attempt to
// unify transitive version conflicts (spec §4.3 "Conflict policy"); that is
// the caller's (restore driver's) job at install/lock time.
type Walker struct {
	Project            []provider.Provider
	Local              []provider.Provider
	Remote             []provider.Provider
	FrameworkProviders []provider.Provider

	// AcceptRemote gates whether the remote group may be queried for a
	// given range (spec §4.3 step 3). A nil AcceptRemote always allows
	// remote queries. Lock-pinned walks set this to always-false (spec
	// §4.3 "Lock-file mode").
	AcceptRemote func(manifest.LibraryRange) bool

	// Sequential disables the worker pool, degrading the walk to strictly
	// sequential recursion (spec §4.3, §5 "known hazard").
	Sequential bool
	// Workers bounds the worker pool size; zero means runtime.NumCPU().
	Workers int

	memoMu sync.Mutex
	memo   map[string]*memoEntry
}

type memoEntry struct {
	done chan struct{}
	node *Node
	err  error
}

func memoKey(group provider.Group, r manifest.LibraryRange, fw framework.Profile) string {
	return fmt.Sprintf("%d|%s|%s", group, canonicalRangeKey(r), fw.String())
}

func canonicalRangeKey(r manifest.LibraryRange) string {
	if r.FrameworkReference || r.VersionRange == nil {
		return r.Name
	}
	return r.Name + " " + r.VersionRange.String()
}

// Walk resolves r (and its transitive dependencies) under fw, per spec
// §4.3. It is safe to call concurrently; identical sub-ranges (same
// provider-group outcome, canonical range form, and framework) are walked
// only once (spec §4.3 "Memoisation").
func (w *Walker) Walk(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) (*Node, error) {
	return w.walk(ctx, r, fw, newPool(w.workers(), w.Sequential))
}

func (w *Walker) workers() int {
	if w.Workers > 0 {
		return w.Workers
	}
	return runtime.NumCPU()
}

func (w *Walker) walk(ctx context.Context, r manifest.LibraryRange, fw framework.Profile, pool *pool) (*Node, error) {
	group, node, err := w.resolveOne(ctx, r, fw)
	if err != nil {
		return nil, err
	}

	w.memoMu.Lock()
	if w.memo == nil {
		w.memo = make(map[string]*memoEntry)
	}
	key := memoKey(group, r, fw)
	if e, ok := w.memo[key]; ok {
		w.memoMu.Unlock()
		<-e.done
		return e.node, e.err
	}
	e := &memoEntry{done: make(chan struct{})}
	w.memo[key] = e
	w.memoMu.Unlock()

	defer close(e.done)

	if node.Item == nil {
		e.node = node
		return node, nil
	}

	deps := node.Item.Dependencies
	children := make([]*Node, len(deps))
	childErrs := make([]error, len(deps))

	run := func(i int) {
		child, cerr := w.walk(ctx, deps[i], fw, pool)
		children[i] = child
		childErrs[i] = cerr
	}

	var wg sync.WaitGroup
	for i := range deps {
		i := i
		if pool == nil {
			run(i)
			continue
		}
		wg.Add(1)
		pool.submit(func() {
			defer wg.Done()
			run(i)
		})
	}
	wg.Wait()

	for _, cerr := range childErrs {
		if cerr != nil {
			e.err = cerr
			return nil, cerr
		}
	}

	// Children are appended in declaration order before de-duplication
	// (spec §5 "Ordering guarantees"); de-duplication itself happens
	// later, at install/lock time (spec §4.3 "Conflict policy").
	node.Deps = children
	e.node = node
	return node, nil
}

// resolveOne performs steps 1-4 of spec §4.3 for a single range, without
// recursing into dependencies.
func (w *Walker) resolveOne(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) (provider.Group, *Node, error) {
	if r.FrameworkReference {
		for _, p := range w.FrameworkProviders {
			cands, err := p.FindCandidates(ctx, r, fw)
			if err != nil {
				return provider.GroupLocal, nil, err
			}
			if len(cands) > 0 {
				return provider.GroupLocal, w.itemNode(ctx, r, fw, p, cands[0])
			}
		}
		return provider.GroupLocal, unresolvedNode(r), nil
	}

	// Step 1: project providers — at most one match by name.
	for _, p := range w.Project {
		cands, err := p.FindCandidates(ctx, r, fw)
		if err != nil {
			return provider.GroupProject, nil, err
		}
		if len(cands) > 0 {
			node, err := w.itemNode(ctx, r, fw, p, cands[0])
			return provider.GroupProject, node, err
		}
	}

	// Step 2: local providers in parallel; highest version wins.
	best, bestProvider, err := w.highestAcross(ctx, w.Local, r, fw)
	if err != nil {
		return provider.GroupLocal, nil, err
	}
	if bestProvider != nil {
		node, err := w.itemNode(ctx, r, fw, bestProvider, *best)
		return provider.GroupLocal, node, err
	}

	// Step 3: remote providers, gated by AcceptRemote.
	if w.AcceptRemote == nil || w.AcceptRemote(r) {
		best, bestProvider, err = w.highestAcross(ctx, w.Remote, r, fw)
		if err != nil {
			return provider.GroupRemote, nil, err
		}
		if bestProvider != nil {
			node, err := w.itemNode(ctx, r, fw, bestProvider, *best)
			return provider.GroupRemote, node, err
		}
	}

	// Step 4: unresolved.
	return provider.GroupRemote, unresolvedNode(r), nil
}

func (w *Walker) itemNode(ctx context.Context, r manifest.LibraryRange, fw framework.Profile, p provider.Provider, c provider.Candidate) (*Node, error) {
	if mismatch := caseMismatch(r.Name, c.Name); mismatch != "" {
		return nil, &CaseMismatchError{Requested: r.Name, Suggested: mismatch}
	}
	deps, err := p.Dependencies(ctx, c, fw)
	if err != nil {
		return nil, errors.Wrapf(err, "dependencies of %s %s", c.Name, c.Version)
	}
	return &Node{
		Range: r,
		Item: &Item{
			Library:      LibraryMatch{Name: c.Name, Version: c.Version, Provider: p.Kind(), Token: c.Token},
			Dependencies: deps,
		},
	}, nil
}

func unresolvedNode(r manifest.LibraryRange) *Node {
	return &Node{Range: r, Item: nil}
}

// caseMismatch returns the found name when it differs only in case from
// requested, or "" when they match exactly or don't correspond at all.
func caseMismatch(requested, found string) string {
	if requested == found {
		return ""
	}
	if strings.EqualFold(requested, found) {
		return found
	}
	return ""
}

// highestAcross queries providers in parallel and returns the
// highest-version satisfying candidate across all of them, along with the
// provider that produced it.
func (w *Walker) highestAcross(ctx context.Context, providers []provider.Provider, r manifest.LibraryRange, fw framework.Profile) (*provider.Candidate, provider.Provider, error) {
	type result struct {
		cands []provider.Candidate
		p     provider.Provider
		err   error
	}
	results := make([]result, len(providers))

	pool := newPool(w.workers(), w.Sequential)
	var wg sync.WaitGroup
	for i, p := range providers {
		i, p := i, p
		run := func() {
			cands, err := p.FindCandidates(ctx, r, fw)
			results[i] = result{cands: cands, p: p, err: err}
		}
		if pool == nil {
			run()
			continue
		}
		wg.Add(1)
		pool.submit(func() { defer wg.Done(); run() })
	}
	wg.Wait()

	var best *provider.Candidate
	var bestProvider provider.Provider
	for _, res := range results {
		if res.err != nil {
			return nil, nil, res.err
		}
		for _, c := range res.cands {
			if best == nil || higherVersion(c.Version, best.Version) {
				cc := c
				best = &cc
				bestProvider = res.p
			}
		}
	}
	return best, bestProvider, nil
}
