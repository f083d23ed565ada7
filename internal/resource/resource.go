// Package resource models packages on disk: their manifests, source files
// and the nested dependency tree formed by packages/ directories.
package resource

import (
	"fmt"
	"slices"
	"strings"
)

const (
	// ManifestFile names the manifest found at the top of every package directory.
	ManifestFile = "package.yaml"
	// SourceDir holds a package's sources, scanned recursively.
	SourceDir = "src"
	// PackagesDir holds dependency packages, one directory per package.
	PackagesDir = "packages"
)

// SourceExtensions lists the file extensions picked up from SourceDir.
var SourceExtensions = []string{".ml", ".mli", ".mll", ".mly", ".re", ".rei"}

// Resource is the snapshot of one package taken at the start of a run.
// SourceFiles and SourceMTimes are parallel slices.
type Resource struct {
	Name         string   `json:"name"`
	RealPath     string   `json:"realPath"`
	SourceFiles  []string `json:"sourceFiles"`
	SourceMTimes []int64  `json:"sourceMTimes"`
	Subpackages  []string `json:"subpackages"`
	ConfigDigest uint64   `json:"configDigest"`
	Manifest     Manifest `json:"manifest"`
}

// Clone returns a deep copy of r.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	cp := *r
	cp.SourceFiles = slices.Clone(r.SourceFiles)
	cp.SourceMTimes = slices.Clone(r.SourceMTimes)
	cp.Subpackages = slices.Clone(r.Subpackages)
	cp.Manifest.Exports = slices.Clone(r.Manifest.Exports)
	cp.Manifest.Dependencies = slices.Clone(r.Manifest.Dependencies)
	cp.Manifest.FindlibPackages = slices.Clone(r.Manifest.FindlibPackages)
	return &cp
}

// MTimeOf returns the recorded modification time of path and whether path is a source of r.
func (r *Resource) MTimeOf(path string) (int64, bool) {
	i := slices.Index(r.SourceFiles, path)
	if i < 0 || i >= len(r.SourceMTimes) {
		return 0, false
	}
	return r.SourceMTimes[i], true
}

// Problem is a single manifest or structural defect found while scanning.
type Problem struct {
	Package string
	Path    string
	Message string
}

func (p Problem) String() string {
	switch {
	case p.Package != "" && p.Path != "":
		return fmt.Sprintf("%s (%s): %s", p.Package, p.Path, p.Message)
	case p.Package != "":
		return fmt.Sprintf("%s: %s", p.Package, p.Message)
	case p.Path != "":
		return fmt.Sprintf("%s: %s", p.Path, p.Message)
	}
	return p.Message
}

// ValidationError aggregates every problem found before scheduling.
// It aborts the run before any package is built.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid package tree: " + e.Problems[0].String()
	}
	lines := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		lines = append(lines, "  - "+p.String())
	}
	return fmt.Sprintf("invalid package tree (%d problems):\n%s", len(e.Problems), strings.Join(lines, "\n"))
}
