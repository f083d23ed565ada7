package resource

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gammazero/toposort"
)

// Tree is the validated dependency graph of every package reachable from Root.
// Package names are unique across the whole tree.
type Tree struct {
	Root     string
	packages map[string]*Resource
	order    []string
}

// NewTree builds a tree from already-scanned resources.
// Returns a *ValidationError if a dependency is missing or the graph has a cycle.
func NewTree(root string, resources []*Resource) (*Tree, error) {
	t := &Tree{
		Root:     root,
		packages: make(map[string]*Resource, len(resources)),
	}

	var problems []Problem
	for _, r := range resources {
		if _, exists := t.packages[r.Name]; exists {
			problems = append(problems, Problem{Package: r.Name, Path: r.RealPath, Message: "package name is declared more than once"})
			continue
		}
		t.packages[r.Name] = r
	}

	if _, ok := t.packages[root]; !ok {
		problems = append(problems, Problem{Package: root, Message: "root package not found"})
	}

	// Verify all dependencies exist
	for _, name := range t.Names() {
		for _, dep := range t.packages[name].Subpackages {
			if _, exists := t.packages[dep]; !exists {
				problems = append(problems, Problem{
					Package: name,
					Message: fmt.Sprintf("depends on non-existent package %q", dep),
				})
			}
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	order, err := t.sort()
	if err != nil {
		return nil, &ValidationError{Problems: []Problem{{Message: err.Error()}}}
	}
	t.order = order

	return t, nil
}

// sort runs a topological sort with dependencies ordered before dependents.
func (t *Tree) sort() ([]string, error) {
	var edges []toposort.Edge
	for _, name := range t.Names() {
		r := t.packages[name]
		if len(r.Subpackages) == 0 {
			// Package with no dependencies - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, name})
			continue
		}
		for _, dep := range r.Subpackages {
			if dep == name {
				return nil, fmt.Errorf("dependency cycle: %s depends on itself", name)
			}
			edges = append(edges, toposort.Edge{dep, name})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(t.packages) {
		var missing []string
		for _, name := range t.Names() {
			if !slices.Contains(order, name) {
				missing = append(missing, name)
			}
		}
		return nil, fmt.Errorf("dependency cycle among: %s", strings.Join(missing, ", "))
	}

	return order, nil
}

// Lookup returns the resource for name.
func (t *Tree) Lookup(name string) (*Resource, bool) {
	r, ok := t.packages[name]
	return r, ok
}

// Names returns every package name in lexical order.
func (t *Tree) Names() []string {
	names := make([]string, 0, len(t.packages))
	for name := range t.packages {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of packages in the tree.
func (t *Tree) Len() int {
	return len(t.packages)
}

// Order returns every package with dependencies before dependents.
func (t *Tree) Order() []string {
	return slices.Clone(t.order)
}

// Closure returns name and everything it transitively depends on, in
// post-order: each package appears after all of its dependencies.
func (t *Tree) Closure(name string) []string {
	var out []string
	visited := make(map[string]bool)
	var visit func(string)
	visit = func(n string) {
		if visited[n] {
			return
		}
		visited[n] = true
		r, ok := t.packages[n]
		if !ok {
			return
		}
		for _, dep := range r.Subpackages {
			visit(dep)
		}
		out = append(out, n)
	}
	visit(name)
	return out
}

// RootOnly returns a single-package view of the root with its dependency
// edges removed. Used for categories that act on the root alone, like linking.
func (t *Tree) RootOnly() *Tree {
	root := t.packages[t.Root].Clone()
	root.Subpackages = nil
	return &Tree{
		Root:     t.Root,
		packages: map[string]*Resource{t.Root: root},
		order:    []string{t.Root},
	}
}
