package toolchain

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
)

// compilerFor returns the compiler command line, routed through ocamlfind
// when findlib packages are requested.
func compilerFor(tc config.Toolchain, cfg config.BuildConfig, findlib []string, link bool) string {
	compiler := tc.CompilerCommand(cfg.Compiler)
	if len(findlib) == 0 {
		return compiler
	}
	cmd := "ocamlfind " + compiler + " -package " + Quote(strings.Join(findlib, ","))
	if link {
		cmd += " -linkpkg"
	}
	return cmd
}

// globalFlags are the flags implied by the build configuration.
func globalFlags(cfg config.BuildConfig) []string {
	var flags []string
	if cfg.Debug {
		flags = append(flags, "-g")
	}
	if cfg.Compiler == config.CompilerNative && cfg.Opt >= 2 {
		flags = append(flags, fmt.Sprintf("-O%d", cfg.Opt))
	}
	return flags
}

// compileFlags joins the global flags with the package's own.
func compileFlags(cfg config.BuildConfig, m resource.Manifest) string {
	flags := globalFlags(cfg)
	if m.Preprocessor != "" {
		flags = append(flags, "-pp", Quote(m.Preprocessor))
	}
	if m.CompileFlags != "" {
		flags = append(flags, m.CompileFlags)
	}
	return strings.Join(flags, " ")
}

func linkFlags(cfg config.BuildConfig, m resource.Manifest) string {
	flags := globalFlags(cfg)
	if m.LinkFlags != "" {
		flags = append(flags, m.LinkFlags)
	}
	return strings.Join(flags, " ")
}

// includes returns -I flags for the build directories of every package in closure.
func includes(l Layout, closure []string) string {
	parts := make([]string, 0, len(closure))
	for _, name := range closure {
		parts = append(parts, "-I "+Quote(l.PackageDir(name)))
	}
	return strings.Join(parts, " ")
}

// findlibClosure merges the findlib packages requested across closure, sorted.
func findlibClosure(tree *resource.Tree, closure []string) []string {
	var out []string
	for _, name := range closure {
		r, ok := tree.Lookup(name)
		if !ok {
			continue
		}
		for _, p := range r.Manifest.FindlibPackages {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	slices.Sort(out)
	return out
}

// compilable reports whether a source file is passed to the compiler
// directly; lexer and parser definitions are preprocessed first.
func compilable(path string) bool {
	switch filepath.Ext(path) {
	case ".ml", ".mli", ".re", ".rei":
		return true
	}
	return false
}
