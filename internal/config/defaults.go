package config

// DefaultConcurrency bounds concurrent toolchain invocations when nothing else is configured.
const DefaultConcurrency = 4

// DefaultConfig returns the default configuration targeting the OCaml toolchain.
func DefaultConfig() *Config {
	return &Config{
		Build: BuildConfig{
			Compiler:    CompilerByte,
			Opt:         0,
			Concurrency: DefaultConcurrency,
			BuildDir:    "_build",
		},
		Toolchain: Toolchain{
			Shell:          "sh",
			ByteCompiler:   "ocamlc",
			NativeCompiler: "ocamlopt",
			Depend:         "ocamldep -sort {sources}",
			Compile:        "{compiler} {flags} {includes} -c -o {out} {file}",
			Archive:        "{compiler} -a -o {out} {objects}",
			Lex:            "ocamllex -q {file}",
			Yacc:           "ocamlyacc {file}",
			Link:           "{compiler} {flags} -o {out} {archives}",
			JSLink:         "js_of_ocaml -o {out} {in}",
		},
	}
}
