package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
	"github.com/aristath/pkgbuild/internal/toolchain"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("pkgbuild"))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	return &cli, kctx
}

func TestCLI_DefaultCommandIsBuild(t *testing.T) {
	cli, kctx := parse(t)
	assert.Equal(t, "build", kctx.Command())
	assert.Equal(t, -1, cli.Build.Opt)
	assert.False(t, cli.Build.TUI)
}

func TestCLI_BuildFlags(t *testing.T) {
	cli, kctx := parse(t, "build", "--compiler", "native", "-j", "8", "--opt", "3", "--debug", "--js", "--timeout", "2m")
	assert.Equal(t, "build", kctx.Command())

	cfg := config.DefaultConfig()
	require.NoError(t, cli.Build.apply(cfg))
	assert.Equal(t, config.CompilerNative, cfg.Build.Compiler)
	assert.Equal(t, 8, cfg.Build.Concurrency)
	assert.Equal(t, 3, cfg.Build.Opt)
	assert.True(t, cfg.Build.Debug)
	assert.True(t, cfg.Build.JSCompile)
	assert.Equal(t, 2*time.Minute, cfg.BuilderTimeout)
}

func TestCLI_WatchDebounce(t *testing.T) {
	cli, kctx := parse(t, "watch", "--debounce", "1s")
	assert.Equal(t, "watch", kctx.Command())
	assert.Equal(t, time.Second, cli.Watch.Debounce)
}

func TestBuildFlags_Apply(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, BuildFlags{Opt: -1}.apply(cfg))
	assert.Equal(t, *config.DefaultConfig(), *cfg)

	cfg = config.DefaultConfig()
	assert.Error(t, BuildFlags{Opt: -1, Compiler: "bytecode"}.apply(cfg))

	cfg = config.DefaultConfig()
	assert.Error(t, BuildFlags{Opt: 7}.apply(cfg))
}

func TestCLI_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	(&CLI{Silent: true}).newLogger(&buf).Info("hidden")
	assert.Empty(t, buf.String())

	(&CLI{Verbose: true}).newLogger(&buf).Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

// newProject writes a two-package project whose toolchain only touches outputs.
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write := func(path, content string) {
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write(filepath.Join(root, resource.ManifestFile), "name: Main\nexports: []\n")
	write(filepath.Join(root, resource.SourceDir, "main.ml"), "let () = Util.run ()\n")
	write(filepath.Join(root, resource.PackagesDir, "Util", resource.ManifestFile), "name: Util\nexports: []\n")
	write(filepath.Join(root, resource.PackagesDir, "Util", resource.SourceDir, "util.ml"), "let run () = ()\n")
	write(filepath.Join(root, config.ProjectConfigPath), `toolchain:
  depend: "echo {sources}"
  compile: "touch {out}"
  archive: "touch {out}"
  link: "touch {out}"
`)
	return root
}

func testGlobal(out io.Writer) *Global {
	return &Global{
		Ctx:       context.Background(),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Processes: toolchain.NewProcessManager(),
		Out:       out,
	}
}

func TestCommands_BuildGraphClean(t *testing.T) {
	root := newProject(t)
	cli := &CLI{Root: root}
	flags := BuildFlags{Opt: -1}

	var out bytes.Buffer
	require.NoError(t, (&BuildCmd{BuildFlags: flags}).Run(testGlobal(&out), cli))
	text := ansi.Strip(out.String())
	assert.Contains(t, text, "Executable(Main☑)")
	assert.Contains(t, text, "Build succeeded: 2 packages")

	out.Reset()
	require.NoError(t, (&GraphCmd{BuildFlags: flags}).Run(testGlobal(&out), cli))
	text = ansi.Strip(out.String())
	assert.Contains(t, text, "Executable(Main☑)")
	assert.Contains(t, text, "Last build #1 succeeded")

	out.Reset()
	require.NoError(t, (&CleanCmd{BuildFlags: flags}).Run(testGlobal(&out), cli))
	assert.Contains(t, out.String(), "Removed")
	assert.NoDirExists(t, filepath.Join(root, "_build_byte"))

	err := (&GraphCmd{BuildFlags: flags}).Run(testGlobal(&out), cli)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run a build first")
}

func TestCommands_BuildWritesMetrics(t *testing.T) {
	root := newProject(t)
	metricsFile := filepath.Join(t.TempDir(), "pkgbuild.prom")

	var out bytes.Buffer
	cmd := &BuildCmd{BuildFlags: BuildFlags{Opt: -1, MetricsFile: metricsFile}}
	require.NoError(t, cmd.Run(testGlobal(&out), &CLI{Root: root}))

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pkgbuild_run_outcomes_total")
}

func TestCommands_Config(t *testing.T) {
	root := newProject(t)
	cli := &CLI{Root: root}

	var out bytes.Buffer
	require.NoError(t, (&ConfigCmd{BuildFlags: BuildFlags{Opt: -1, Concurrency: 3}}).Run(testGlobal(&out), cli))
	assert.Contains(t, out.String(), "concurrency: 3")
	assert.Contains(t, out.String(), "echo {sources}")

	out.Reset()
	cmd := &ConfigCmd{BuildFlags: BuildFlags{Opt: -1, Concurrency: 3}, Save: true}
	require.NoError(t, cmd.Run(testGlobal(&out), cli))

	cfg, err := config.Load("", filepath.Join(root, config.ProjectConfigPath))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Build.Concurrency)
	assert.Equal(t, "echo {sources}", cfg.Toolchain.Depend)
}
