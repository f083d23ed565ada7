// Package driver runs one complete build: it loads the persisted caches,
// scans the package tree, walks every category, decides on the link and
// persists the new caches.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/diagnostics"
	"github.com/aristath/pkgbuild/internal/events"
	"github.com/aristath/pkgbuild/internal/logfields"
	"github.com/aristath/pkgbuild/internal/metrics"
	"github.com/aristath/pkgbuild/internal/persistence"
	"github.com/aristath/pkgbuild/internal/report"
	"github.com/aristath/pkgbuild/internal/resource"
	"github.com/aristath/pkgbuild/internal/scheduler"
	"github.com/aristath/pkgbuild/internal/toolchain"
)

// ErrBuildFailed is returned by Run when the build finished but some package
// or the link did not succeed. The report is still returned.
var ErrBuildFailed = errors.New("build failed")

// Options configures a Driver.
type Options struct {
	Root      string
	Config    *config.Config
	Store     persistence.Store // Optional; defaults to the SQLite store in the build directory
	Bus       *events.EventBus  // Optional
	Logger    *slog.Logger      // Optional; defaults to slog.Default()
	Recorder  metrics.Recorder  // Optional
	Processes *toolchain.ProcessManager
	Breakers  *toolchain.BreakerRegistry
}

// Report describes a finished run.
type Report struct {
	RunID       string
	Root        string
	Tree        *resource.Tree
	Preprocess  *cache.ResultsCache // nil when preprocessing is disabled
	Libraries   *cache.ResultsCache
	Link        *cache.ResultsCache
	Decision    cache.LinkDecision
	Summary     report.Summary
	Graph       string
	Diagnostics []diagnostics.Diagnostic
	Succeeded   bool
	StartedAt   time.Time
	Duration    time.Duration
}

// Driver runs builds for one project. A Driver may run many builds in
// sequence; runs must not overlap.
type Driver struct {
	opts    Options
	layout  toolchain.Layout
	scanner *resource.Scanner
	runner  *toolchain.Runner
	logger  *slog.Logger
}

// New creates a driver for the project at opts.Root.
func New(opts Options) *Driver {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NoopRecorder{}
	}
	if abs, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = abs
	}
	if opts.Breakers == nil {
		opts.Breakers = toolchain.NewBreakerRegistry(toolchain.DefaultBreakerSettings(), opts.Logger)
	}

	return &Driver{
		opts:    opts,
		layout:  toolchain.NewLayout(opts.Root, opts.Config.Build),
		scanner: resource.NewScanner(opts.Logger),
		runner:  toolchain.NewRunner(opts.Config.Toolchain.Shell, opts.Processes, opts.Breakers, opts.Logger),
		logger:  opts.Logger,
	}
}

// Layout returns where the driver puts artifacts and state.
func (d *Driver) Layout() toolchain.Layout {
	return d.layout
}

// Run performs one build. Validation problems, structural errors, builder
// panics and persistence failures are returned as errors without a report.
// A build that ran to completion returns its report, together with
// ErrBuildFailed when anything failed.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	cfg := d.opts.Config
	if err := cfg.Build.Validate(); err != nil {
		return nil, fmt.Errorf("invalid build config: %w", err)
	}

	store := d.opts.Store
	if store == nil {
		s, err := persistence.NewSQLiteStore(ctx, d.layout.StatePath())
		if err != nil {
			return nil, fmt.Errorf("opening build state: %w", err)
		}
		defer s.Close()
		store = s
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		Root:      d.opts.Root,
		StartedAt: time.Now(),
	}
	logger := d.logger.With(logfields.RunID(rep.RunID))
	d.opts.Recorder.SetConcurrency(cfg.Build.Concurrency)

	tree, err := d.scanner.Scan(d.opts.Root)
	if err != nil {
		return nil, err
	}
	rep.Tree = tree

	d.opts.Bus.Publish(events.TopicRun, events.RunStartedEvent{
		RunID:     rep.RunID,
		Root:      tree.Root,
		Packages:  tree.Len(),
		Timestamp: rep.StartedAt,
	})
	logger.Info("Build started", logfields.Package(tree.Root), slog.Int("packages", tree.Len()))

	var walked []*cache.ResultsCache

	if cfg.Build.Yacc {
		rep.Preprocess, err = d.open(ctx, store, cache.Preprocess, rep.RunID)
		if err != nil {
			return nil, err
		}
		pre := &toolchain.PreprocessBuilder{Toolchain: cfg.Toolchain, Runner: d.runner}
		if err := d.walk(ctx, tree, rep.Preprocess, pre, logger); err != nil {
			return nil, err
		}
		walked = append(walked, rep.Preprocess)

		// Generated sources only show up in a fresh scan
		tree, err = d.scanner.Scan(d.opts.Root)
		if err != nil {
			return nil, err
		}
		rep.Tree = tree
	}

	rep.Libraries, err = d.open(ctx, store, cache.Library, rep.RunID)
	if err != nil {
		return nil, err
	}
	lib := &toolchain.LibraryBuilder{
		Toolchain: cfg.Toolchain,
		Config:    cfg.Build,
		Layout:    d.layout,
		Runner:    d.runner,
	}
	if err := d.walk(ctx, tree, rep.Libraries, lib, logger); err != nil {
		return nil, err
	}
	walked = append(walked, rep.Libraries)

	rep.Link, err = d.open(ctx, store, cache.Link, rep.RunID)
	if err != nil {
		return nil, err
	}
	rep.Decision = cache.DecideLink(tree, rep.Libraries, rep.Link)
	d.opts.Bus.Publish(events.TopicRun, events.LinkDecidedEvent{
		Root:      tree.Root,
		Relink:    rep.Decision.Relink,
		Blocked:   rep.Decision.Blocked,
		Reason:    rep.Decision.Reason,
		Timestamp: time.Now(),
	})
	logger.Info("Link decided",
		logfields.Package(tree.Root),
		slog.Bool("relink", rep.Decision.Relink),
		slog.Bool("blocked", rep.Decision.Blocked),
		slog.String("reason", rep.Decision.Reason))

	if !rep.Decision.Blocked {
		d.opts.Recorder.IncLinkDecision(rep.Decision.Relink)
		link := &toolchain.LinkBuilder{
			Toolchain: cfg.Toolchain,
			Config:    cfg.Build,
			Layout:    d.layout,
			Runner:    d.runner,
			Tree:      tree,
			Libraries: rep.Libraries,
			Decision:  rep.Decision,
		}
		if err := d.walk(ctx, tree.RootOnly(), rep.Link, link, logger); err != nil {
			return nil, err
		}
		walked = append(walked, rep.Link)
	}

	rep.Summary = report.Summarize(rep.Libraries, tree, tree.Root)
	rep.Succeeded = d.succeeded(rep, tree)
	rep.Graph = report.Render(rep.Libraries, tree, tree.Root)
	for _, c := range walked {
		rep.Diagnostics = append(rep.Diagnostics, diagnostics.FromCache(c)...)
	}

	if err := d.persist(ctx, store, rep, tree, walked); err != nil {
		return nil, err
	}
	if err := diagnostics.Write(d.layout.DiagnosticsPath(), rep.Diagnostics); err != nil {
		logger.Warn("Could not write diagnostics", logfields.Error(err))
	}

	rep.Duration = time.Since(rep.StartedAt)
	d.opts.Recorder.ObserveRun(rep.Succeeded, rep.Duration)
	d.opts.Bus.Publish(events.TopicRun, events.RunFinishedEvent{
		RunID:     rep.RunID,
		Succeeded: rep.Succeeded,
		Duration:  rep.Duration,
		Timestamp: time.Now(),
	})

	if !rep.Succeeded {
		logger.Warn("Build failed", logfields.Duration(rep.Duration), slog.String("summary", rep.Summary.String()))
		return rep, ErrBuildFailed
	}
	logger.Info("Build finished", logfields.Duration(rep.Duration), slog.String("summary", rep.Summary.String()))
	return rep, nil
}

// open loads the persisted cache of category and starts the next run on it.
func (d *Driver) open(ctx context.Context, store persistence.Store, category cache.Category, runID string) (*cache.ResultsCache, error) {
	snap, err := store.LoadSnapshot(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("loading %s cache: %w", category, err)
	}
	c := cache.Next(category, snap, d.opts.Config.Build)
	c.RunID = runID
	return c, nil
}

func (d *Driver) walk(ctx context.Context, tree *resource.Tree, c *cache.ResultsCache, b scheduler.Builder, logger *slog.Logger) error {
	d.opts.Bus.Publish(events.TopicRun, events.CategoryStartedEvent{
		Category:  string(c.Category),
		BuildID:   c.CurrentBuildID,
		Total:     tree.Len(),
		Timestamp: time.Now(),
	})

	w := scheduler.NewWalker(tree, c, b, scheduler.Config{
		Fanout:         d.opts.Config.Build.Concurrency,
		BuilderTimeout: d.opts.Config.BuilderTimeout,
		Bus:            d.opts.Bus,
		Logger:         logger,
		Recorder:       d.opts.Recorder,
	})
	if err := w.Walk(ctx, tree.Root); err != nil {
		return fmt.Errorf("%s walk: %w", c.Category, err)
	}
	return nil
}

// succeeded reports whether every walked package and the link succeeded.
func (d *Driver) succeeded(rep *Report, tree *resource.Tree) bool {
	if rep.Decision.Blocked || !rep.Summary.Succeeded() {
		return false
	}
	if r, ok := rep.Link.Current(tree.Root); !ok || !r.Outcome.Succeeded() {
		return false
	}
	if rep.Preprocess != nil {
		for _, name := range rep.Preprocess.Attempted() {
			if r, _ := rep.Preprocess.Current(name); !r.Outcome.Succeeded() {
				return false
			}
		}
	}
	return true
}

// persist saves the walked caches, pruned to the packages still in the tree.
// Categories that were not walked keep their earlier snapshot.
func (d *Driver) persist(ctx context.Context, store persistence.Store, rep *Report, tree *resource.Tree, walked []*cache.ResultsCache) error {
	keep := tree.Names()
	snaps := make([]*cache.Snapshot, 0, len(walked))
	for _, c := range walked {
		snaps = append(snaps, c.Snapshot(keep))
	}

	run := persistence.RunRecord{
		RunID:      rep.RunID,
		Root:       tree.Root,
		BuildID:    rep.Libraries.CurrentBuildID,
		StartedAt:  rep.StartedAt,
		FinishedAt: time.Now(),
		Succeeded:  rep.Succeeded,
		Packages:   rep.Summary.Total,
		Rebuilt:    rep.Summary.Rebuilt,
		Failed:     len(rep.Summary.Failed),
		Link:       rep.Decision.Reason,
	}
	if err := store.SaveRun(ctx, snaps, run); err != nil {
		return fmt.Errorf("saving build state: %w", err)
	}
	return nil
}
