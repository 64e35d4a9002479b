package engine

import (
	"context"
	"fmt"
)

// Locator answers whether an artifact for a target already exists in the
// external store, and where.
//
// Locate returns the locator string, e.g. "gs gs://bucket/tarballs/x.tar.gz#12"
// or "image us.gcr.io/project/x:1.0", and true if the artifact exists. A
// missing artifact is reported as ("", false, nil), never as an error.
// An empty version means the target is unversioned.
type Locator interface {
	Locate(ctx context.Context, name, version string) (string, bool, error)
}

// LocatorFunc adapts an ordinary function to the Locator interface.
type LocatorFunc func(ctx context.Context, name, version string) (string, bool, error)

// Locate calls f(ctx, name, version).
func (f LocatorFunc) Locate(ctx context.Context, name, version string) (string, bool, error) {
	return f(ctx, name, version)
}

// Locators is the dispatch table from target kind to artifact locator.
type Locators struct {
	// Image locates deployable container images.
	Image Locator

	// Builder locates builder images.
	Builder Locator

	// Tar locates tarballs.
	Tar Locator
}

// For returns the locator servicing targets of the given kind.
func (l Locators) For(kind Kind) (Locator, error) {
	var loc Locator
	switch kind {
	case KindImage:
		loc = l.Image
	case KindBuilder:
		loc = l.Builder
	case KindTar:
		loc = l.Tar
	default:
		return nil, NewInternalError(fmt.Sprintf("no locator dispatch for %v", kind))
	}
	if loc == nil {
		return nil, NewInternalError(fmt.Sprintf("no locator configured for %s targets", kind))
	}
	return loc, nil
}
