// Package provider implements the uniform provider operation table over
// project-source, local-store, framework-reference, GAC, remote-feed, and
// unresolved-sentinel library sources (spec §4 C5, §4.2).
package provider

import (
	"context"

	"github.com/modhost/core/framework"
	"github.com/modhost/core/manifest"
)

// Kind tags which variant of the provider operation table a Candidate or
// Provider belongs to. Spec §9 replaces interface-based polymorphism over
// providers with a tagged variant over a shared operation table; Kind is
// that tag.
type Kind int

const (
	KindProject Kind = iota
	KindLocal
	KindFramework
	KindGAC
	KindRemote
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindProject:
		return "project"
	case KindLocal:
		return "local"
	case KindFramework:
		return "framework"
	case KindGAC:
		return "gac"
	case KindRemote:
		return "remote"
	case KindUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Group is one of the three ordered precedence groups the walker queries in
// turn (spec §4.2 "Providers are composed into three ordered groups").
type Group int

const (
	GroupProject Group = iota
	GroupLocal
	GroupRemote
)

// Candidate is a concrete (name, version) with provider-specific
// bytes-on-demand (spec §GLOSSARY).
type Candidate struct {
	Name    string
	Version string
	Kind    Kind
	// Token is a provider-specific handle (a file path for the project
	// provider, a feed URL for the remote provider, ...) threaded back
	// into Materialize.
	Token string
}

// Provider is the shared operation table every source implements (spec
// §4.2).
type Provider interface {
	Kind() Kind
	// FindCandidates returns every candidate this provider holds that
	// could satisfy r under fw. The caller applies version selection.
	FindCandidates(ctx context.Context, r manifest.LibraryRange, fw framework.Profile) ([]Candidate, error)
	// Dependencies returns c's declared dependencies under fw.
	Dependencies(ctx context.Context, c Candidate, fw framework.Profile) ([]manifest.LibraryRange, error)
	// Materialize returns c's archive bytes, or nil for providers that
	// produce no bytes (the project-source and framework/GAC/unresolved
	// providers never materialize anything; spec §4.2).
	Materialize(ctx context.Context, c Candidate) ([]byte, error)
}

// GroupOf reports which of the three ordered precedence groups k belongs
// to, per spec §4.2: project-source is its own group; local-store,
// framework, and GAC all resolve without contacting the network, so they
// share the "local" group; remote-feed is the last-resort "remote" group.
func GroupOf(k Kind) Group {
	switch k {
	case KindProject:
		return GroupProject
	case KindRemote:
		return GroupRemote
	default:
		return GroupLocal
	}
}
