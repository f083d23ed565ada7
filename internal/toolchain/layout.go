package toolchain

import (
	"path/filepath"
	"strings"

	"github.com/aristath/pkgbuild/internal/config"
)

const (
	// StateFile is the database holding the persisted results caches.
	StateFile = "state.db"
	// DiagnosticsFile holds the diagnostics of the last run.
	DiagnosticsFile = "diagnostics.json"
)

// Layout places build artifacts under the configuration's build directory.
type Layout struct {
	Dir      string
	Compiler config.Compiler
}

// NewLayout returns the layout for the project at root.
func NewLayout(root string, cfg config.BuildConfig) Layout {
	return Layout{Dir: cfg.ActualBuildDir(root), Compiler: cfg.Compiler}
}

// PackageDir holds the objects and archive of one package.
func (l Layout) PackageDir(name string) string {
	return filepath.Join(l.Dir, name)
}

// Object returns the compiled artifact for src and whether it is an
// implementation that belongs in the package archive.
func (l Layout) Object(name, src string) (string, bool) {
	ext := filepath.Ext(src)
	base := strings.TrimSuffix(filepath.Base(src), ext)
	switch ext {
	case ".mli", ".rei":
		return filepath.Join(l.PackageDir(name), base+".cmi"), false
	}
	if l.Compiler == config.CompilerNative {
		return filepath.Join(l.PackageDir(name), base+".cmx"), true
	}
	return filepath.Join(l.PackageDir(name), base+".cmo"), true
}

// Archive returns the library archive of a package.
func (l Layout) Archive(name string) string {
	if l.Compiler == config.CompilerNative {
		return filepath.Join(l.PackageDir(name), name+".cmxa")
	}
	return filepath.Join(l.PackageDir(name), name+".cma")
}

// Executable returns the linked program for the root package.
func (l Layout) Executable(root string) string {
	return filepath.Join(l.Dir, root+"."+string(l.Compiler))
}

// JSExecutable returns the JavaScript output for the root package.
func (l Layout) JSExecutable(root string) string {
	return filepath.Join(l.Dir, root+".js")
}

// StatePath returns the location of the persisted caches.
func (l Layout) StatePath() string {
	return filepath.Join(l.Dir, StateFile)
}

// DiagnosticsPath returns the location of the diagnostics report.
func (l Layout) DiagnosticsPath() string {
	return filepath.Join(l.Dir, DiagnosticsFile)
}
