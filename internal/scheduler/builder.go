package scheduler

import (
	"context"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/resource"
)

// BuildRequest is everything a Builder gets to decide and perform the work
// for one package.
type BuildRequest struct {
	Name     string
	Resource *resource.Resource
	// Previous is the package's result from an earlier run, or nil.
	Previous *cache.VersionedResult
	Dirty    cache.Dirty
	// DependencyChanged is set when a direct dependency produced a result
	// this run that affects its dependents.
	DependencyChanged bool
	BuildID           uint64
	Tree              *resource.Tree
	Cache             *cache.ResultsCache
}

// PreviousResource returns the package snapshot from its last successful build, or nil.
func (r BuildRequest) PreviousResource() *resource.Resource {
	if r.Previous == nil {
		return nil
	}
	return r.Previous.LastSuccessfulResource
}

// PreviousSucceeded reports whether the earlier result exists and was a success.
func (r BuildRequest) PreviousSucceeded() bool {
	return r.Previous != nil && r.Previous.Outcome.Succeeded()
}

// Builder performs the work for one package. Step failures are reported in
// the returned BuildResult, never as a Go error.
type Builder interface {
	Build(ctx context.Context, req BuildRequest) cache.BuildResult
}

// BuilderFunc adapts a function to the Builder interface.
type BuilderFunc func(ctx context.Context, req BuildRequest) cache.BuildResult

// Build calls f(ctx, req).
func (f BuilderFunc) Build(ctx context.Context, req BuildRequest) cache.BuildResult {
	return f(ctx, req)
}
