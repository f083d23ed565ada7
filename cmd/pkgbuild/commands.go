package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"gopkg.in/yaml.v3"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/driver"
	"github.com/aristath/pkgbuild/internal/events"
	"github.com/aristath/pkgbuild/internal/metrics"
	"github.com/aristath/pkgbuild/internal/persistence"
	"github.com/aristath/pkgbuild/internal/report"
	"github.com/aristath/pkgbuild/internal/resource"
	"github.com/aristath/pkgbuild/internal/toolchain"
	"github.com/aristath/pkgbuild/internal/tui"
)

// BuildFlags override the loaded configuration. Zero values leave it untouched.
type BuildFlags struct {
	Compiler    string        `help:"Compiler backend (byte or native)"`
	Opt         int           `help:"Optimisation level for native builds (0-3)" default:"-1"`
	Debug       bool          `help:"Build with debug information"`
	Yacc        bool          `help:"Run lex/yacc preprocessing before compiling"`
	JS          bool          `name:"js" help:"Also produce a JavaScript executable"`
	Concurrency int           `short:"j" help:"Maximum concurrent toolchain invocations"`
	BuildDir    string        `help:"Build directory prefix"`
	Timeout     time.Duration `help:"Deadline for a single package build"`
	MetricsFile string        `help:"Write Prometheus metrics to this textfile after each run"`
}

// apply merges the flags into cfg and validates the result.
func (f BuildFlags) apply(cfg *config.Config) error {
	if f.Compiler != "" {
		cfg.Build.Compiler = config.Compiler(f.Compiler)
	}
	if f.Opt >= 0 {
		cfg.Build.Opt = f.Opt
	}
	if f.Debug {
		cfg.Build.Debug = true
	}
	if f.Yacc {
		cfg.Build.Yacc = true
	}
	if f.JS {
		cfg.Build.JSCompile = true
	}
	if f.Concurrency > 0 {
		cfg.Build.Concurrency = f.Concurrency
	}
	if f.BuildDir != "" {
		cfg.Build.BuildDir = f.BuildDir
	}
	if f.Timeout > 0 {
		cfg.BuilderTimeout = f.Timeout
	}
	if f.MetricsFile != "" {
		cfg.MetricsFile = f.MetricsFile
	}
	return cfg.Build.Validate()
}

// loadConfig reads the layered configuration for root and applies the flags.
func loadConfig(root string, flags BuildFlags) (string, *config.Config, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("resolving root: %w", err)
	}
	cfg, err := config.LoadDefault(abs)
	if err != nil {
		return "", nil, err
	}
	if err := flags.apply(cfg); err != nil {
		return "", nil, fmt.Errorf("invalid flags: %w", err)
	}
	return abs, cfg, nil
}

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	BuildFlags `embed:""`
	TUI        bool `name:"tui" help:"Show live progress in a terminal UI"`
}

func (c *BuildCmd) Run(g *Global, cli *CLI) error {
	root, cfg, err := loadConfig(cli.Root, c.BuildFlags)
	if err != nil {
		return err
	}

	rec := metrics.NewPrometheusRecorder(nil)
	bus := events.NewEventBus()
	logger := g.Logger
	if c.TUI {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := driver.New(driver.Options{
		Root:      root,
		Config:    cfg,
		Bus:       bus,
		Logger:    logger,
		Recorder:  rec,
		Processes: g.Processes,
	})

	var rep *driver.Report
	if c.TUI {
		rep, err = runWithTUI(g.Ctx, bus, true, func(ctx context.Context) (*driver.Report, error) {
			return d.Run(ctx)
		})
	} else {
		rep, err = d.Run(g.Ctx)
		bus.Close()
	}

	writeMetrics(g.Logger, rec, cfg.MetricsFile)
	if rep != nil {
		printReport(g.Out, rep)
	}
	return err
}

// runWithTUI runs build in the background while the progress view owns the terminal.
// Quitting the view cancels the build.
func runWithTUI(ctx context.Context, bus *events.EventBus, exitOnFinish bool, build func(context.Context) (*driver.Report, error)) (*driver.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		rep *driver.Report
		err error
	}
	done := make(chan result, 1)
	program := tea.NewProgram(tui.New(bus, exitOnFinish), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		rep, err := build(ctx)
		bus.Close()
		done <- result{rep, err}
	}()

	if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		cancel()
		<-done
		return nil, fmt.Errorf("terminal UI: %w", err)
	}
	cancel()
	r := <-done
	return r.rep, r.err
}

func writeMetrics(logger *slog.Logger, rec *metrics.PrometheusRecorder, path string) {
	if path == "" {
		return
	}
	if err := rec.WriteTextfile(path); err != nil {
		logger.Warn("Could not write metrics", "path", path, "error", err)
	}
}

func printReport(w io.Writer, rep *driver.Report) {
	fmt.Fprint(w, rep.Graph)
	fmt.Fprintln(w)

	status := "Build succeeded"
	if !rep.Succeeded {
		status = "Build failed"
	}
	fmt.Fprintf(w, "%s: %s in %s (%s)\n", status,
		english.Plural(rep.Summary.Total, "package", ""),
		rep.Duration.Round(time.Millisecond),
		rep.Summary)
	fmt.Fprintf(w, "Link: %s\n", rep.Decision.Reason)
	if n := len(rep.Diagnostics); n > 0 {
		fmt.Fprintf(w, "%s written to %s\n", english.Plural(n, "diagnostic", ""), toolchain.DiagnosticsFile)
	}
}

// GraphCmd implements the 'graph' command.
type GraphCmd struct {
	BuildFlags `embed:""`
}

func (c *GraphCmd) Run(g *Global, cli *CLI) error {
	root, cfg, err := loadConfig(cli.Root, c.BuildFlags)
	if err != nil {
		return err
	}
	layout := toolchain.NewLayout(root, cfg.Build)
	if _, err := os.Stat(layout.StatePath()); err != nil {
		return fmt.Errorf("no build state in %s; run a build first", layout.Dir)
	}

	store, err := persistence.NewSQLiteStore(g.Ctx, layout.StatePath())
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(g.Ctx, cache.Library)
	if err != nil {
		return err
	}
	if snap == nil {
		return fmt.Errorf("no build state in %s; run a build first", layout.Dir)
	}

	tree, err := resource.NewScanner(g.Logger).Scan(root)
	if err != nil {
		return err
	}

	libs := cache.Restore(snap)
	fmt.Fprint(g.Out, report.Render(libs, tree, tree.Root))
	fmt.Fprintln(g.Out)

	last, err := store.LastRun(g.Ctx)
	if err != nil {
		return err
	}
	if last != nil {
		status := "succeeded"
		if !last.Succeeded {
			status = "failed"
		}
		fmt.Fprintf(g.Out, "Last build #%d %s %s: %d rebuilt, %d failed of %s\n",
			last.BuildID, status, humanize.Time(last.FinishedAt),
			last.Rebuilt, last.Failed, english.Plural(last.Packages, "package", ""))
		fmt.Fprintf(g.Out, "Link: %s\n", last.Link)
	}
	return nil
}

// CleanCmd implements the 'clean' command.
type CleanCmd struct {
	BuildFlags `embed:""`
}

func (c *CleanCmd) Run(g *Global, cli *CLI) error {
	root, cfg, err := loadConfig(cli.Root, c.BuildFlags)
	if err != nil {
		return err
	}
	dir := toolchain.NewLayout(root, cfg.Build).Dir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		fmt.Fprintf(g.Out, "Nothing to clean in %s\n", dir)
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	fmt.Fprintf(g.Out, "Removed %s\n", dir)
	return nil
}

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	BuildFlags `embed:""`
	TUI        bool          `name:"tui" help:"Show live progress in a terminal UI"`
	Debounce   time.Duration `help:"Quiet period before rebuilding" default:"300ms"`
}

func (c *WatchCmd) Run(g *Global, cli *CLI) error {
	root, cfg, err := loadConfig(cli.Root, c.BuildFlags)
	if err != nil {
		return err
	}

	rec := metrics.NewPrometheusRecorder(nil)
	bus := events.NewEventBus()
	logger := g.Logger
	if c.TUI {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := driver.New(driver.Options{
		Root:      root,
		Config:    cfg,
		Bus:       bus,
		Logger:    logger,
		Recorder:  rec,
		Processes: g.Processes,
	})

	onRun := func(rep *driver.Report, err error) {
		writeMetrics(g.Logger, rec, cfg.MetricsFile)
		if c.TUI {
			return
		}
		if rep != nil {
			printReport(g.Out, rep)
		} else if err != nil {
			g.Logger.Error("Build aborted", "error", err)
		}
	}

	if c.TUI {
		_, err := runWithTUI(g.Ctx, bus, false, func(ctx context.Context) (*driver.Report, error) {
			return nil, d.Watch(ctx, c.Debounce, onRun)
		})
		return err
	}
	defer bus.Close()
	return d.Watch(g.Ctx, c.Debounce, onRun)
}

// ConfigCmd implements the 'config' command.
type ConfigCmd struct {
	BuildFlags `embed:""`
	Save       bool `help:"Write the effective configuration to the project config file"`
}

func (c *ConfigCmd) Run(g *Global, cli *CLI) error {
	root, cfg, err := loadConfig(cli.Root, c.BuildFlags)
	if err != nil {
		return err
	}
	if c.Save {
		path := filepath.Join(root, config.ProjectConfigPath)
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(g.Out, "Saved %s\n", path)
		return nil
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = g.Out.Write(data)
	return err
}
