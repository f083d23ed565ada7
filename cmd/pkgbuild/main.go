package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/aristath/pkgbuild/internal/driver"
	"github.com/aristath/pkgbuild/internal/toolchain"
)

// Global carries process-wide state into every command.
type Global struct {
	Ctx       context.Context
	Logger    *slog.Logger
	Processes *toolchain.ProcessManager
	Out       io.Writer
}

// CLI is the command line of pkgbuild.
type CLI struct {
	Root    string `short:"C" help:"Directory of the root package" default:"." type:"existingdir"`
	Verbose bool   `short:"v" help:"Enable debug logging"`
	Silent  bool   `short:"s" help:"Only log errors"`

	Build  BuildCmd  `cmd:"" default:"withargs" help:"Build the root package and everything it depends on"`
	Graph  GraphCmd  `cmd:"" help:"Show the build graph of the last run without building"`
	Clean  CleanCmd  `cmd:"" help:"Remove build artifacts and persisted state"`
	Watch  WatchCmd  `cmd:"" help:"Build, then rebuild whenever sources change"`
	Config ConfigCmd `cmd:"" help:"Print the effective configuration"`
}

// newLogger returns the text logger selected by the verbosity flags.
func (c *CLI) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case c.Silent:
		level = slog.LevelError
	case c.Verbose:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("pkgbuild"),
		kong.Description("Incremental build orchestrator for nested multi-package projects."),
		kong.UsageOnError(),
	)

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cli.newLogger(os.Stderr)
	slog.SetDefault(logger)

	pm := toolchain.NewProcessManager()
	go func() {
		<-ctx.Done()
		// Restore default signal handling so a second Ctrl+C force-exits
		stop()
		if err := pm.KillAll(); err != nil {
			logger.Warn("Error killing toolchain processes", "error", err)
		}
	}()

	err := kctx.Run(&Global{Ctx: ctx, Logger: logger, Processes: pm, Out: os.Stdout}, &cli)
	if errors.Is(err, driver.ErrBuildFailed) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pkgbuild: %v\n", err)
		os.Exit(1)
	}
}
