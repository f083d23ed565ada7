// Package report renders the outcome of a run as a build graph and summary.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/tree"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/resource"
)

// Class is how a package is shown in the build graph.
type Class int

const (
	Unchanged Class = iota
	Rebuilt
	Failed
	Blocked
)

// Markers appended to package names in the graph.
const (
	MarkRebuilt    = "☑"
	MarkFailed     = "☒"
	MarkBlocked    = "☐"
	MarkSuppressed = "⋯"
)

// Legend explains the markers.
const Legend = MarkRebuilt + " Rebuild Success " + MarkFailed + " Rebuild Failed " + MarkBlocked + " Rebuild Blocked " + MarkSuppressed + " Uninteresting"

// Classify returns the class of name in this run. A package without a
// result this run is shown as unchanged.
func Classify(c *cache.ResultsCache, name string) Class {
	r, ok := c.Current(name)
	if !ok {
		return Unchanged
	}
	switch r.Outcome.Kind {
	case cache.SubnodeFail:
		return Blocked
	case cache.NodeFail:
		return Failed
	}
	if r.LastBuildIDEffectingProject == c.CurrentBuildID {
		return Rebuilt
	}
	return Unchanged
}

func title(c *cache.ResultsCache, name string) string {
	switch Classify(c, name) {
	case Rebuilt:
		return styleRebuilt.Render(name + MarkRebuilt)
	case Failed:
		return styleFailed.Render(name + MarkFailed)
	case Blocked:
		return styleBlocked.Render(name + MarkBlocked)
	}
	return name
}

// Render draws the package graph below root as a tree under an
// Executable(<root>) header, followed by the legend.
//
// A package is expanded only the first time it is drawn. Children already
// drawn elsewhere are repeated only when something happened to them;
// otherwise they collapse into a single ⋯ marker.
func Render(c *cache.ResultsCache, graph *resource.Tree, root string) string {
	seen := make(map[string]bool)
	t := tree.Root("Executable(" + title(c, root) + ")").
		Child(subgraph(c, graph, root, seen)).
		Enumerator(tree.RoundedEnumerator).
		EnumeratorStyle(styleEnumerator)

	var b strings.Builder
	b.WriteString(styleHeading.Render("Build Graph:"))
	b.WriteString("\n\n")
	b.WriteString(t.String())
	b.WriteString("\n\n")
	b.WriteString(Legend)
	b.WriteString("\n")
	return b.String()
}

// subgraph returns either a plain title or a subtree for name.
func subgraph(c *cache.ResultsCache, graph *resource.Tree, name string, seen map[string]bool) any {
	t := title(c, name)
	if seen[name] {
		return t
	}
	seen[name] = true

	r, ok := graph.Lookup(name)
	if !ok || len(r.Subpackages) == 0 {
		return t
	}

	var children []any
	suppressed := false
	for _, dep := range r.Subpackages {
		if seen[dep] && Classify(c, dep) == Unchanged {
			suppressed = true
			continue
		}
		children = append(children, subgraph(c, graph, dep, seen))
	}
	if suppressed {
		children = append(children, styleUnchanged.Render(MarkSuppressed))
	}
	if len(children) == 0 {
		return t
	}
	return tree.Root(t).Child(children...)
}

// Summary counts the packages reachable from a root by class.
type Summary struct {
	Total     int
	Rebuilt   int
	Unchanged int
	Failed    []string
	Blocked   []string
}

// Summarize classifies every package reachable from root.
func Summarize(c *cache.ResultsCache, graph *resource.Tree, root string) Summary {
	var s Summary
	for _, name := range graph.Closure(root) {
		s.Total++
		switch Classify(c, name) {
		case Rebuilt:
			s.Rebuilt++
		case Failed:
			s.Failed = append(s.Failed, name)
		case Blocked:
			s.Blocked = append(s.Blocked, name)
		default:
			s.Unchanged++
		}
	}
	return s
}

// Succeeded reports whether every package built.
func (s Summary) Succeeded() bool {
	return len(s.Failed) == 0 && len(s.Blocked) == 0
}

func (s Summary) String() string {
	return fmt.Sprintf("%d packages: %d rebuilt, %d unchanged, %d failed, %d blocked",
		s.Total, s.Rebuilt, s.Unchanged, len(s.Failed), len(s.Blocked))
}
