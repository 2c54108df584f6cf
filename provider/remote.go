package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/version"
)

// FeedIndex is the minimal query surface a remote package feed exposes:
// list versions for a name, fetch a single version's declared dependencies,
// and download its archive bytes. A real host backs this with an HTTP(S)
// client against a specific feed protocol; FeedIndex keeps that protocol
// detail external to the provider, matching spec §4.2's framing of
// "Remote-feed provider" as an HTTP(S) source behind a caching layer.
type FeedIndex interface {
	URL() string
	ListVersions(ctx context.Context, name string) ([]string, error)
	Dependencies(ctx context.Context, name, v string, fw framework.Profile) ([]manifest.LibraryRange, error)
	Download(ctx context.Context, name, v string) ([]byte, error)
}

// RemoteFeed is an HTTP(S) source with a caching layer keyed by feed URL +
// package identity, supporting "no-cache" and "ignore-failed-sources"
// modes (spec §4.2, §6).
type RemoteFeed struct {
	feed             FeedIndex
	noCache          bool
	ignoreFailed     bool
	timeout          time.Duration
	mu               sync.RWMutex
	versionCache     map[string][]string
	depsCache        map[string][]manifest.LibraryRange
}

// Options configures a RemoteFeed's caching and failure-tolerance modes
// (spec §6 "--no-cache", "--ignore-failed-sources").
type Options struct {
	NoCache            bool
	IgnoreFailedSource bool
	Timeout            time.Duration
}

func NewRemoteFeed(feed FeedIndex, opts Options) *RemoteFeed {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &RemoteFeed{
		feed:         feed,
		noCache:      opts.NoCache,
		ignoreFailed: opts.IgnoreFailedSource,
		timeout:      opts.Timeout,
		versionCache: make(map[string][]string),
		depsCache:    make(map[string][]manifest.LibraryRange),
	}
}

func (r *RemoteFeed) Kind() Kind { return KindRemote }

// FeedURL exposes the backing feed's URL, used by callers (the restore
// driver) to map a resolved Candidate.Token back to the RemoteFeed that
// produced it for materialization.
func (r *RemoteFeed) FeedURL() string { return r.feed.URL() }

func (r *RemoteFeed) cacheKey(parts ...string) string {
	k := r.feed.URL()
	for _, p := range parts {
		k += "|" + p
	}
	return k
}

func (r *RemoteFeed) FindCandidates(ctx context.Context, rng manifest.LibraryRange, fw framework.Profile) ([]Candidate, error) {
	if rng.FrameworkReference {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vs, err := r.listVersions(ctx, rng.Name)
	if err != nil {
		if r.ignoreFailed {
			return nil, nil // the failed feed offers no candidates; no warning is printed
		}
		return nil, errors.Wrapf(err, "feed %s: list versions for %s", r.feed.URL(), rng.Name)
	}

	var out []Candidate
	for _, vs := range vs {
		v, perr := version.Parse(vs)
		if perr != nil {
			continue
		}
		if rng.VersionRange != nil && !rng.VersionRange.Satisfies(v) {
			continue
		}
		out = append(out, Candidate{Name: rng.Name, Version: vs, Kind: KindRemote, Token: r.feed.URL()})
	}
	return out, nil
}

func (r *RemoteFeed) listVersions(ctx context.Context, name string) ([]string, error) {
	key := r.cacheKey(name)
	if !r.noCache {
		r.mu.RLock()
		if vs, ok := r.versionCache[key]; ok {
			r.mu.RUnlock()
			return vs, nil
		}
		r.mu.RUnlock()
	}

	vs, err := r.feed.ListVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	if !r.noCache {
		r.mu.Lock()
		r.versionCache[key] = vs
		r.mu.Unlock()
	}
	return vs, nil
}

func (r *RemoteFeed) Dependencies(ctx context.Context, c Candidate, fw framework.Profile) ([]manifest.LibraryRange, error) {
	key := r.cacheKey(c.Name, c.Version, fw.String())
	if !r.noCache {
		r.mu.RLock()
		if d, ok := r.depsCache[key]; ok {
			r.mu.RUnlock()
			return d, nil
		}
		r.mu.RUnlock()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	d, err := r.feed.Dependencies(ctx, c.Name, c.Version, fw)
	if err != nil {
		return nil, errors.Wrapf(err, "feed %s: dependencies of %s %s", r.feed.URL(), c.Name, c.Version)
	}
	if !r.noCache {
		r.mu.Lock()
		r.depsCache[key] = d
		r.mu.Unlock()
	}
	return d, nil
}

func (r *RemoteFeed) Materialize(ctx context.Context, c Candidate) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	b, err := r.feed.Download(ctx, c.Name, c.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "feed %s: download %s %s", r.feed.URL(), c.Name, c.Version)
	}
	return b, nil
}

// HTTPFeedIndex is a FeedIndex backed by a conventional flat-file HTTP(S)
// package feed: GET <url>/<name>/index.json for versions, GET
// <url>/<name>/<version>/deps.json for dependencies, and GET
// <url>/<name>/<version>/<name>.<version>.nupkg for the archive. It is the
// default, concrete FeedIndex a restore driver wires up for --source URLs.
type HTTPFeedIndex struct {
	BaseURL string
	Client  *http.Client
}

func (h *HTTPFeedIndex) URL() string { return h.BaseURL }

func (h *HTTPFeedIndex) httpClient() *http.Client {
	if h.Client != nil {
		return h.Client
	}
	return http.DefaultClient
}

type httpVersionIndex struct {
	Versions []string `json:"versions"`
}

func (h *HTTPFeedIndex) ListVersions(ctx context.Context, name string) ([]string, error) {
	body, err := h.get(ctx, "/"+name+"/index.json")
	if err != nil {
		return nil, err
	}
	var idx httpVersionIndex
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, errors.Wrapf(err, "decode version index for %s", name)
	}
	return idx.Versions, nil
}

type httpDepsDoc struct {
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HTTPFeedIndex) Dependencies(ctx context.Context, name, v string, fw framework.Profile) ([]manifest.LibraryRange, error) {
	body, err := h.get(ctx, "/"+name+"/"+v+"/deps.json")
	if err != nil {
		return nil, err
	}
	var doc httpDepsDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, errors.Wrapf(err, "decode dependency doc for %s %s", name, v)
	}
	out := make([]manifest.LibraryRange, 0, len(doc.Dependencies))
	for depName, rangeStr := range doc.Dependencies {
		r, err := version.ParseRange(rangeStr)
		if err != nil {
			return nil, errors.Wrapf(err, "dependency %s of %s %s", depName, name, v)
		}
		out = append(out, manifest.LibraryRange{Name: depName, VersionRange: &r})
	}
	return out, nil
}

func (h *HTTPFeedIndex) Download(ctx context.Context, name, v string) ([]byte, error) {
	return h.get(ctx, "/"+name+"/"+v+"/"+name+"."+v+".nupkg")
}

func (h *HTTPFeedIndex) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("feed request %s: status %d", path, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
