package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Compiler selects the backend used for library and executable compilation.
type Compiler string

const (
	CompilerByte   Compiler = "byte"
	CompilerNative Compiler = "native"
)

// Config is the top-level configuration for pkgbuild.
type Config struct {
	Build          BuildConfig   `yaml:"build"`
	Toolchain      Toolchain     `yaml:"toolchain"`
	BuilderTimeout time.Duration `yaml:"builderTimeout,omitempty"`
	MetricsFile    string        `yaml:"metricsFile,omitempty"`
}

// BuildConfig holds the global build settings shared by every package in a run.
// Only some of the fields affect compilation output; see CompilationChanged.
type BuildConfig struct {
	Compiler    Compiler `yaml:"compiler" json:"compiler"`
	Opt         int      `yaml:"opt" json:"opt"`
	Debug       bool     `yaml:"debug" json:"debug"`
	Yacc        bool     `yaml:"yacc" json:"yacc"`
	JSCompile   bool     `yaml:"jsCompile" json:"jsCompile"`
	Concurrency int      `yaml:"concurrency" json:"concurrency"`
	BuildDir    string   `yaml:"buildDir" json:"buildDir"`
	Verbose     bool     `yaml:"verbose" json:"verbose"`
}

// Toolchain holds the command templates run by the package builders.
// Placeholders of the form {name} are substituted before the command runs
// through Shell -c.
type Toolchain struct {
	Shell          string `yaml:"shell"`
	ByteCompiler   string `yaml:"byteCompiler"`
	NativeCompiler string `yaml:"nativeCompiler"`
	Depend         string `yaml:"depend"`
	Compile        string `yaml:"compile"`
	Archive        string `yaml:"archive"`
	Lex            string `yaml:"lex"`
	Yacc           string `yaml:"yacc"`
	Link           string `yaml:"link"`
	JSLink         string `yaml:"jsLink"`
}

// CompilerCommand returns the compiler executable for the configured mode.
func (t Toolchain) CompilerCommand(c Compiler) string {
	if c == CompilerNative {
		return t.NativeCompiler
	}
	return t.ByteCompiler
}

// CompilationChanged reports whether any field that influences compiled
// output differs between prev and b. A nil prev means there was no previous
// run, which always counts as a change.
func (b BuildConfig) CompilationChanged(prev *BuildConfig) bool {
	if prev == nil {
		return true
	}
	return b.Compiler != prev.Compiler ||
		b.Opt != prev.Opt ||
		b.Debug != prev.Debug ||
		b.Yacc != prev.Yacc
}

// ActualBuildDir returns the directory holding artifacts and state for this
// configuration, e.g. "<root>/_build_native_debug".
func (b BuildConfig) ActualBuildDir(root string) string {
	name := fmt.Sprintf("%s_%s", b.BuildDir, b.Compiler)
	if b.Debug {
		name += "_debug"
	}
	return filepath.Join(root, name)
}

// Validate checks the build configuration for unusable values.
func (b BuildConfig) Validate() error {
	switch b.Compiler {
	case CompilerByte, CompilerNative:
	default:
		return fmt.Errorf("unknown compiler %q (want %q or %q)", b.Compiler, CompilerByte, CompilerNative)
	}
	if b.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", b.Concurrency)
	}
	if b.Opt < 0 || b.Opt > 3 {
		return fmt.Errorf("opt must be between 0 and 3, got %d", b.Opt)
	}
	if b.BuildDir == "" {
		return fmt.Errorf("buildDir must not be empty")
	}
	return nil
}
