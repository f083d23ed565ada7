package resource

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/aristath/pkgbuild/internal/logfields"
)

// Scanner walks a package directory tree and produces a validated Tree.
type Scanner struct {
	logger *slog.Logger
}

// NewScanner creates a scanner. A nil logger falls back to slog.Default().
func NewScanner(logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{logger: logger}
}

// Scan is shorthand for NewScanner(nil).Scan(root).
func Scan(root string) (*Tree, error) {
	return NewScanner(nil).Scan(root)
}

// scanState accumulates resources and problems across one scan.
type scanState struct {
	logger    *slog.Logger
	resources map[string]*Resource
	ordered   []*Resource
	problems  []Problem
}

// Scan reads the root package at dir and every package nested below it.
// Manifest and structural problems are collected and returned together as a
// *ValidationError; I/O failures are returned as plain errors.
func (s *Scanner) Scan(dir string) (*Tree, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving root directory: %w", err)
	}

	st := &scanState{
		logger:    s.logger,
		resources: make(map[string]*Resource),
	}

	rootName, err := st.visit(abs, "")
	if err != nil {
		return nil, err
	}
	if len(st.problems) > 0 {
		return nil, &ValidationError{Problems: st.problems}
	}

	return NewTree(rootName, st.ordered)
}

// visit scans one package directory and, recursively, its packages/ directory.
// Returns the package name, or "" if the manifest was unusable.
func (st *scanState) visit(dir, dirName string) (string, error) {
	realPath, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dir, err)
	}

	data, err := os.ReadFile(filepath.Join(realPath, ManifestFile))
	if os.IsNotExist(err) {
		st.problems = append(st.problems, Problem{Path: dir, Message: "missing " + ManifestFile})
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading manifest in %s: %w", dir, err)
	}

	manifest, err := parseManifest(data)
	if err != nil {
		st.problems = append(st.problems, Problem{Path: filepath.Join(dir, ManifestFile), Message: err.Error()})
		return "", nil
	}
	for _, msg := range manifest.validate(dirName) {
		st.problems = append(st.problems, Problem{Package: manifest.Name, Path: dir, Message: msg})
	}
	if manifest.Name == "" {
		return "", nil
	}

	// Names are unique across the tree; a second copy of a package is the same package.
	if existing, seen := st.resources[manifest.Name]; seen {
		if existing.RealPath != realPath {
			st.logger.Debug("package already resolved elsewhere",
				logfields.Package(manifest.Name),
				logfields.Path(realPath),
				slog.String("resolved", existing.RealPath))
		}
		return manifest.Name, nil
	}

	r := &Resource{
		Name:     manifest.Name,
		RealPath: realPath,
		Manifest: manifest,
	}
	// Register before recursing so cycles through symlinks terminate.
	st.resources[r.Name] = r

	if err := st.scanSources(r); err != nil {
		return "", err
	}

	subs, err := st.scanSubpackages(realPath)
	if err != nil {
		return "", err
	}
	for _, dep := range manifest.Dependencies {
		if !slices.Contains(subs, dep) {
			subs = append(subs, dep)
		}
	}
	r.Subpackages = subs

	digest, err := manifest.digest()
	if err != nil {
		return "", fmt.Errorf("hashing manifest of %s: %w", r.Name, err)
	}
	r.ConfigDigest = digest

	st.ordered = append(st.ordered, r)
	return r.Name, nil
}

// scanSources records every source file below src/ in lexical order.
func (st *scanState) scanSources(r *Resource) error {
	srcDir := filepath.Join(r.RealPath, SourceDir)
	info, err := os.Stat(srcDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", srcDir, err)
	}
	if !info.IsDir() {
		st.problems = append(st.problems, Problem{Package: r.Name, Path: srcDir, Message: "src must be a directory"})
		return nil
	}

	return filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			target, statErr := os.Stat(path)
			if statErr == nil && target.IsDir() {
				st.problems = append(st.problems, Problem{Package: r.Name, Path: path, Message: "symlinked source directories are not supported"})
				return nil
			}
		}
		if d.IsDir() || !slices.Contains(SourceExtensions, filepath.Ext(path)) {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}
		r.SourceFiles = append(r.SourceFiles, path)
		r.SourceMTimes = append(r.SourceMTimes, info.ModTime().UnixNano())
		return nil
	})
}

// scanSubpackages visits every directory inside packages/ and returns their names.
func (st *scanState) scanSubpackages(pkgDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(pkgDir, PackagesDir))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Join(pkgDir, PackagesDir), err)
	}

	var names []string
	for _, entry := range entries {
		child := filepath.Join(pkgDir, PackagesDir, entry.Name())
		info, err := os.Stat(child)
		if err != nil || !info.IsDir() {
			continue
		}
		name, err := st.visit(child, entry.Name())
		if err != nil {
			return nil, err
		}
		if name != "" && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	return names, nil
}
