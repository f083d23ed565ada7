package cache

import (
	"fmt"

	"github.com/aristath/pkgbuild/internal/resource"
)

// LinkDecision is the driver's verdict on the final link step.
type LinkDecision struct {
	// Blocked is set when the root package did not succeed this run.
	// The link is skipped and the run is a failure.
	Blocked bool
	// Relink is set when the executable must be produced again.
	Relink bool
	Reason string
}

// DecideLink applies the relink rule for the program rooted at tree.Root.
// libs holds this run's library results and link the link category's cache.
func DecideLink(tree *resource.Tree, libs, link *ResultsCache) LinkDecision {
	root, ok := libs.Current(tree.Root)
	if !ok || !root.Outcome.Succeeded() {
		return LinkDecision{Blocked: true, Reason: fmt.Sprintf("root package %s did not build", tree.Root)}
	}

	for _, name := range tree.Closure(tree.Root) {
		if r := libs.Lookup(name); r != nil && r.LastBuildIDEffectingProject == libs.CurrentBuildID {
			return LinkDecision{Relink: true, Reason: fmt.Sprintf("package %s was rebuilt", name)}
		}
	}

	if link.Config.CompilationChanged(link.PreviousConfig) {
		return LinkDecision{Relink: true, Reason: "compilation settings changed"}
	}

	if link.Config.JSCompile && (link.PreviousConfig == nil || !link.PreviousConfig.JSCompile) {
		return LinkDecision{Relink: true, Reason: "JavaScript output enabled"}
	}

	prev := link.Previous(tree.Root)
	if prev == nil || !prev.Outcome.Succeeded() {
		return LinkDecision{Relink: true, Reason: "no successful link from an earlier run"}
	}

	return LinkDecision{Reason: "executable is up to date"}
}
