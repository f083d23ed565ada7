package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
	"github.com/aristath/pkgbuild/internal/scheduler"
)

// LibraryBuilder compiles a package's sources into an archive.
type LibraryBuilder struct {
	Toolchain config.Toolchain
	Config    config.BuildConfig
	Layout    Layout
	Runner    *Runner
}

// Build implements scheduler.Builder.
//
// A clean package whose dependencies did not change reuses its previous
// result without running anything. Otherwise the dependency step orders the
// sources and the build step compiles what is needed and archives the objects.
func (b *LibraryBuilder) Build(ctx context.Context, req scheduler.BuildRequest) cache.BuildResult {
	if !req.Dirty.Local() && !req.DependencyChanged && req.PreviousSucceeded() {
		return cache.BuildResult{Computed: req.Previous.Computed}
	}

	res := req.Resource

	var depStep *cache.StepResult
	var ordering []string
	if req.Dirty.Local() || !req.PreviousSucceeded() || len(req.Previous.Computed.OrderedSources) == 0 {
		depStep, ordering = b.dependencyStep(ctx, res)
		if depStep.Failed() {
			return cache.BuildResult{DependencyStep: depStep}
		}
	} else {
		ordering = slices.Clone(req.Previous.Computed.OrderedSources)
	}

	toCompile := ordering
	full := req.Dirty.FilesChanged || req.Dirty.ConfigChanged || req.DependencyChanged || !req.PreviousSucceeded()
	if !full && req.Dirty.MTimesChanged {
		if suffix := changedSuffix(ordering, res, req.PreviousResource()); len(suffix) > 0 {
			toCompile = suffix
		}
	}

	var objects []string
	for _, src := range ordering {
		if obj, impl := b.Layout.Object(res.Name, src); impl {
			objects = append(objects, obj)
		}
	}
	archive := b.Layout.Archive(res.Name)

	computed := cache.ComputedData{
		OrderedSources: ordering,
		Objects:        objects,
		Archive:        archive,
	}
	if err := os.MkdirAll(b.Layout.PackageDir(res.Name), 0o755); err != nil {
		return cache.BuildResult{
			DependencyStep: depStep,
			BuildStep:      &cache.StepResult{Err: fmt.Sprintf("failed to create build directory: %v", err)},
			Computed:       computed,
		}
	}

	compiler := compilerFor(b.Toolchain, b.Config, res.Manifest.FindlibPackages, false)
	flags := compileFlags(b.Config, res.Manifest)
	incl := includes(b.Layout, req.Tree.Closure(res.Name))

	var commands []string
	for _, src := range toCompile {
		obj, _ := b.Layout.Object(res.Name, src)
		commands = append(commands, Expand(b.Toolchain.Compile, Vars{
			"compiler": compiler,
			"flags":    flags,
			"includes": incl,
			"out":      Quote(obj),
			"file":     Quote(src),
		}))
	}
	commands = append(commands, Expand(b.Toolchain.Archive, Vars{
		"compiler": compiler,
		"out":      Quote(archive),
		"objects":  QuoteAll(objects),
	}))

	return cache.BuildResult{
		DependencyStep:      depStep,
		BuildStep:           b.Runner.Run(ctx, res.RealPath, commands),
		Computed:            computed,
		EffectsWholeProject: true,
		EffectsDependents:   true,
	}
}

// dependencyStep runs the depend template and parses its output into an
// ordering of the package's compilable sources.
func (b *LibraryBuilder) dependencyStep(ctx context.Context, res *resource.Resource) (*cache.StepResult, []string) {
	var sources []string
	for _, src := range res.SourceFiles {
		if compilable(src) {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		return &cache.StepResult{}, nil
	}

	cmd := Expand(b.Toolchain.Depend, Vars{"sources": QuoteAll(sources)})
	step := b.Runner.Run(ctx, res.RealPath, []string{cmd})
	if step.Failed() {
		return step, nil
	}

	ordering, err := parseOrdering(step.Output, res.RealPath, sources)
	if err != nil {
		step.Err = err.Error()
		return step, nil
	}
	return step, ordering
}

// parseOrdering reads a whitespace-separated file list. Every entry must be
// one of sources; sources the tool left out are appended in scan order.
func parseOrdering(output, dir string, sources []string) ([]string, error) {
	var ordering []string
	for _, field := range strings.Fields(output) {
		path := field
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		if !slices.Contains(sources, path) {
			return nil, fmt.Errorf("dependency ordering names unknown source %s", field)
		}
		if !slices.Contains(ordering, path) {
			ordering = append(ordering, path)
		}
	}
	for _, src := range sources {
		if !slices.Contains(ordering, src) {
			ordering = append(ordering, src)
		}
	}
	return ordering, nil
}

// changedSuffix returns the part of ordering starting at the first file
// whose mtime differs from the last good snapshot.
func changedSuffix(ordering []string, current, lastGood *resource.Resource) []string {
	if lastGood == nil {
		return ordering
	}
	for i, src := range ordering {
		now, _ := current.MTimeOf(src)
		then, ok := lastGood.MTimeOf(src)
		if !ok || now != then {
			return ordering[i:]
		}
	}
	return nil
}
