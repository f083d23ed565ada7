package toolchain

import (
	"context"
	"fmt"
	"os"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
	"github.com/aristath/pkgbuild/internal/scheduler"
)

// LinkBuilder links the root package and its closure into an executable.
// It is walked over a root-only tree; Tree is the full package tree and
// Libraries holds this run's library results.
type LinkBuilder struct {
	Toolchain config.Toolchain
	Config    config.BuildConfig
	Layout    Layout
	Runner    *Runner
	Tree      *resource.Tree
	Libraries *cache.ResultsCache
	Decision  cache.LinkDecision
}

// Build implements scheduler.Builder.
func (b *LinkBuilder) Build(ctx context.Context, req scheduler.BuildRequest) cache.BuildResult {
	if !b.Decision.Relink && req.PreviousSucceeded() {
		return cache.BuildResult{Computed: req.Previous.Computed}
	}

	root := req.Resource
	closure := b.Tree.Closure(root.Name)

	var archives []string
	for _, name := range closure {
		r := b.Libraries.Lookup(name)
		if r == nil || r.Computed.Archive == "" {
			return cache.BuildResult{BuildStep: &cache.StepResult{Err: fmt.Sprintf("package %s has no archive to link", name)}}
		}
		archives = append(archives, r.Computed.Archive)
	}

	exe := b.Layout.Executable(root.Name)
	outputs := []string{exe}
	if err := os.MkdirAll(b.Layout.Dir, 0o755); err != nil {
		return cache.BuildResult{BuildStep: &cache.StepResult{Err: fmt.Sprintf("failed to create build directory: %v", err)}}
	}

	commands := []string{Expand(b.Toolchain.Link, Vars{
		"compiler": compilerFor(b.Toolchain, b.Config, findlibClosure(b.Tree, closure), true),
		"flags":    linkFlags(b.Config, root.Manifest),
		"out":      Quote(exe),
		"archives": QuoteAll(archives),
	})}
	if b.Config.JSCompile {
		js := b.Layout.JSExecutable(root.Name)
		commands = append(commands, Expand(b.Toolchain.JSLink, Vars{
			"out": Quote(js),
			"in":  Quote(exe),
		}))
		outputs = append(outputs, js)
	}

	return cache.BuildResult{
		BuildStep:           b.Runner.Run(ctx, root.RealPath, commands),
		Computed:            cache.ComputedData{Outputs: outputs},
		EffectsWholeProject: true,
		EffectsDependents:   true,
	}
}
