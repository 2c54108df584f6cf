package restore

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/graph"
	"github.com/modhost/core/manifest"
	"github.com/modhost/core/provider"
	"github.com/modhost/core/version"
)

// InstallOnePackage implements the "install one package" mode of spec
// §4.6: restore for a bare (name, version) with no manifest, no lock file
// written, returning only the installed root path. An empty v accepts any
// version: the local store's highest version is taken, and remote feeds are
// queried only when the local store holds none.
func (d *Driver) InstallOnePackage(ctx context.Context, name, v string) (string, error) {
	rng, err := singlePackageRange(v)
	if err != nil {
		return "", err
	}
	req := manifest.LibraryRange{Name: name, VersionRange: rng}

	w := &graph.Walker{
		Local:              []provider.Provider{provider.NewLocalStore(d.Store)},
		Remote:             feedsAsProviders(d.PrimaryFeeds),
		FrameworkProviders: d.FrameworkProviders,
		Sequential:         d.Sequential,
	}

	node, err := w.Walk(ctx, req, framework.Profile{})
	if err != nil {
		return "", err
	}
	if node.Item == nil && len(d.FallbackFeeds) > 0 {
		node = d.retryWithFallback(ctx, w, req, framework.Profile{})
	}
	if node == nil || node.Item == nil {
		return "", &UnresolvedRangesError{Ranges: []manifest.LibraryRange{req}}
	}

	lib := node.Item.Library
	if lib.Provider == provider.KindRemote {
		feed := d.findFeed(lib.Token)
		if feed == nil {
			return "", errors.Errorf("install %s %s: no remote feed for token %s", lib.Name, lib.Version, lib.Token)
		}
		bytes, err := feed.Materialize(ctx, provider.Candidate{Name: lib.Name, Version: lib.Version, Kind: provider.KindRemote, Token: lib.Token})
		if err != nil {
			return "", errors.Wrapf(err, "download %s %s", lib.Name, lib.Version)
		}
		if _, err := d.Store.Install(lib.Name, lib.Version, bytes); err != nil {
			return "", errors.Wrapf(err, "install %s %s", lib.Name, lib.Version)
		}
		if err := d.Store.SetMeta(lib.Name, lib.Version, node.Item.Dependencies); err != nil {
			return "", errors.Wrapf(err, "record dependency metadata for %s %s", lib.Name, lib.Version)
		}
	}

	if _, err := d.Store.Lookup(lib.Name, lib.Version); err != nil {
		return "", errors.Wrapf(err, "verify installed %s %s", lib.Name, lib.Version)
	}
	return filepath.Join(d.Store.Root, lib.Name, lib.Version), nil
}

func singlePackageRange(v string) (*version.Range, error) {
	if v == "" {
		return nil, nil
	}
	r, err := version.ParseRange(v)
	if err != nil {
		return nil, errors.Wrapf(err, "parse requested version %q", v)
	}
	return &r, nil
}
