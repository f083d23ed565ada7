// Package scheduler walks the package tree bottom-up, building each package
// at most once per run with bounded concurrency.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/pkgbuild/internal/cache"
	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/events"
	"github.com/aristath/pkgbuild/internal/logfields"
	"github.com/aristath/pkgbuild/internal/metrics"
	"github.com/aristath/pkgbuild/internal/resource"
)

// Config configures a Walker.
type Config struct {
	Fanout         int           // Max concurrent child walks per package and builder calls overall (default 4)
	BuilderTimeout time.Duration // Per-builder deadline; zero disables it
	Bus            *events.EventBus
	Logger         *slog.Logger
	Recorder       metrics.Recorder
}

// Walker visits the packages of one tree for one category.
type Walker struct {
	tree    *resource.Tree
	cache   *cache.ResultsCache
	builder Builder
	config  Config
	sem     *semaphore.Weighted
	logger  *slog.Logger
}

// NewWalker creates a walker that stores results in c.
func NewWalker(tree *resource.Tree, c *cache.ResultsCache, b Builder, cfg Config) *Walker {
	if cfg.Fanout <= 0 {
		cfg.Fanout = config.DefaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}

	return &Walker{
		tree:    tree,
		cache:   c,
		builder: b,
		config:  cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Fanout)),
		logger:  cfg.Logger.With(logfields.Category(string(c.Category)), logfields.BuildID(c.CurrentBuildID)),
	}
}

// Walk ensures name and everything below it has a result for this run.
// Package failures are recorded in the cache; the returned error is reserved
// for structural errors, builder panics and cancellation.
func (w *Walker) Walk(ctx context.Context, name string) error {
	state, done := w.cache.Claim(name)
	switch state {
	case cache.Resolved:
		return nil
	case cache.InFlight:
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := w.cache.Current(name); !ok {
			return &StructuralError{Package: name, Reason: "build was abandoned by its owner"}
		}
		return nil
	}

	stored := false
	defer func() {
		if !stored {
			w.cache.Release(name)
		}
	}()

	res, ok := w.tree.Lookup(name)
	if !ok {
		return &StructuralError{Package: name, Reason: "no package entry in the resource tree"}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.config.Fanout)
	for _, child := range res.Subpackages {
		g.Go(func() error {
			return w.Walk(gctx, child)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var failed []string
	for _, child := range res.Subpackages {
		r, ok := w.cache.Current(child)
		if !ok {
			return &StructuralError{Package: child, Reason: "dependency has no result after its walk"}
		}
		if !r.Outcome.Succeeded() {
			failed = append(failed, child)
		}
	}

	start := time.Now()
	prev := w.cache.Previous(name)
	var result *cache.VersionedResult
	if len(failed) > 0 {
		w.logger.Debug("Package blocked by failed dependencies",
			logfields.Package(name),
			slog.Any("failed_dependencies", failed))
		result = cache.Blocked(prev, w.cache.CurrentBuildID, failed)
	} else {
		req := BuildRequest{
			Name:              name,
			Resource:          res,
			Previous:          prev,
			Dirty:             w.cache.Detect(res),
			DependencyChanged: w.cache.DependencyChanged(res.Subpackages),
			BuildID:           w.cache.CurrentBuildID,
			Tree:              w.tree,
			Cache:             w.cache,
		}
		out, err := w.invoke(ctx, req)
		if err != nil {
			return err
		}
		result = cache.Attempted(prev, w.cache.CurrentBuildID, res, out)
	}

	if err := w.cache.Complete(name, result); err != nil {
		return &StructuralError{Package: name, Reason: "result rejected", Err: err}
	}
	stored = true

	w.finished(name, result, time.Since(start))
	return nil
}

// invoke runs the builder under the global semaphore, turning a panic into a
// PanicError and an expired per-builder deadline into a failed build step.
func (w *Walker) invoke(ctx context.Context, req BuildRequest) (out cache.BuildResult, err error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return cache.BuildResult{}, err
	}
	defer w.sem.Release(1)

	w.config.Bus.Publish(events.TopicPackage, events.PackageStartedEvent{
		Name:      req.Name,
		Category:  string(w.cache.Category),
		Timestamp: time.Now(),
	})
	w.logger.Debug("Building package",
		logfields.Package(req.Name),
		slog.Bool("files_changed", req.Dirty.FilesChanged),
		slog.Bool("mtimes_changed", req.Dirty.MTimesChanged),
		slog.Bool("config_changed", req.Dirty.ConfigChanged),
		slog.Bool("dependency_changed", req.DependencyChanged))

	bctx := ctx
	if w.config.BuilderTimeout > 0 {
		var cancel context.CancelFunc
		bctx, cancel = context.WithTimeout(ctx, w.config.BuilderTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Package: req.Name, Value: r, Stack: debug.Stack()}
		}
	}()

	out = w.builder.Build(bctx, req)

	if err := ctx.Err(); err != nil {
		return cache.BuildResult{}, err
	}
	if errors.Is(bctx.Err(), context.DeadlineExceeded) {
		out.BuildStep = timedOut(out.BuildStep, w.config.BuilderTimeout)
	}
	return out, nil
}

func timedOut(step *cache.StepResult, timeout time.Duration) *cache.StepResult {
	step = step.Clone()
	if step == nil {
		step = &cache.StepResult{}
	}
	msg := fmt.Sprintf("builder timed out after %s", timeout)
	if step.Err != "" {
		msg += ": " + step.Err
	}
	step.Err = msg
	return step
}

func (w *Walker) finished(name string, r *cache.VersionedResult, d time.Duration) {
	rebuilt := r.Outcome.Succeeded() && r.LastBuildIDEffectingProject == w.cache.CurrentBuildID
	outcome := r.Outcome.Kind.String()

	if r.Outcome.Kind == cache.NodeFail {
		w.logger.Warn("Package failed", logfields.Package(name), logfields.Duration(d))
	} else {
		w.logger.Debug("Package finished",
			logfields.Package(name),
			logfields.Outcome(outcome),
			slog.Bool("rebuilt", rebuilt),
			logfields.Duration(d))
	}

	w.config.Recorder.ObservePackage(string(w.cache.Category), outcome, rebuilt, d)
	w.config.Bus.Publish(events.TopicPackage, events.PackageFinishedEvent{
		Name:      name,
		Category:  string(w.cache.Category),
		Outcome:   outcome,
		Rebuilt:   rebuilt,
		Duration:  d,
		Timestamp: time.Now(),
	})
}
