package cache

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/aristath/pkgbuild/internal/config"
)

// Category names an independent build category with its own cache.
type Category string

const (
	Library    Category = "library"
	Preprocess Category = "preprocess"
	Link       Category = "link"
)

// Categories lists every category in the order a run processes them.
var Categories = []Category{Preprocess, Library, Link}

// Snapshot is the persisted form of a ResultsCache.
// BuildID is the id of the run that produced it.
type Snapshot struct {
	Category Category                    `json:"category"`
	BuildID  uint64                      `json:"buildId"`
	RunID    string                      `json:"runId"`
	Config   config.BuildConfig          `json:"config"`
	Results  map[string]*VersionedResult `json:"results"`
}

// ClaimState is returned by Claim.
type ClaimState int

const (
	// Resolved means the package already has a result for this run.
	Resolved ClaimState = iota
	// InFlight means another caller is building the package; wait on the channel.
	InFlight
	// Owned means the caller must build the package and then call Complete or Release.
	Owned
)

// ResultsCache holds the versioned results of one category for one run.
// Results from the previous run are read-only; each package gets at most one
// new result per run.
type ResultsCache struct {
	Category       Category
	CurrentBuildID uint64
	RunID          string
	Config         config.BuildConfig
	// PreviousConfig is nil when no earlier run of this category exists.
	PreviousConfig *config.BuildConfig

	mu       sync.RWMutex
	previous map[string]*VersionedResult
	current  map[string]*VersionedResult
	inflight map[string]chan struct{}
}

// Next opens the cache for a new run following prev. A nil prev starts at build id 1.
func Next(category Category, prev *Snapshot, cfg config.BuildConfig) *ResultsCache {
	c := &ResultsCache{
		Category:       category,
		CurrentBuildID: 1,
		RunID:          uuid.NewString(),
		Config:         cfg,
		previous:       make(map[string]*VersionedResult),
		current:        make(map[string]*VersionedResult),
		inflight:       make(map[string]chan struct{}),
	}
	if prev != nil {
		c.CurrentBuildID = prev.BuildID + 1
		prevCfg := prev.Config
		c.PreviousConfig = &prevCfg
		for name, r := range prev.Results {
			c.previous[name] = r
		}
	}
	return c
}

// Lookup returns the most recent result for name: this run's if present,
// otherwise the previous run's, or nil.
func (c *ResultsCache) Lookup(name string) *VersionedResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.current[name]; ok {
		return r
	}
	return c.previous[name]
}

// Current returns the result written for name during this run.
func (c *ResultsCache) Current(name string) (*VersionedResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.current[name]
	return r, ok
}

// Previous returns the result name had at the start of this run, or nil.
func (c *ResultsCache) Previous(name string) *VersionedResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.previous[name]
}

// Claim decides who builds name. Checking for a result, checking for an
// in-flight build and registering a new one happen under one lock, so a
// package can never be claimed twice in a run.
func (c *ResultsCache) Claim(name string) (ClaimState, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.current[name]; ok && r.LastAttemptedBuildID == c.CurrentBuildID {
		return Resolved, nil
	}
	if ch, ok := c.inflight[name]; ok {
		return InFlight, ch
	}
	ch := make(chan struct{})
	c.inflight[name] = ch
	return Owned, ch
}

// Complete stores the result for a claimed package and wakes every waiter.
func (c *ResultsCache) Complete(name string, r *VersionedResult) error {
	if err := r.CheckInvariants(c.CurrentBuildID); err != nil {
		return fmt.Errorf("result for %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.inflight[name]
	if !ok {
		return fmt.Errorf("result for %s stored without a claim", name)
	}
	if _, exists := c.current[name]; exists {
		return fmt.Errorf("result for %s already stored in build %d", name, c.CurrentBuildID)
	}

	c.current[name] = r
	delete(c.inflight, name)
	close(ch)
	return nil
}

// Release abandons a claim without a result. Waiters wake and find nothing.
func (c *ResultsCache) Release(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.inflight[name]; ok {
		delete(c.inflight, name)
		close(ch)
	}
}

// DependencyChanged reports whether any of deps produced a result this run
// that affects its dependents.
func (c *ResultsCache) DependencyChanged(deps []string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, dep := range deps {
		if r, ok := c.current[dep]; ok && r.LastBuildIDEffectingDependents == c.CurrentBuildID {
			return true
		}
	}
	return false
}

// Attempted returns the names with a result from this run, sorted.
func (c *ResultsCache) Attempted() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.current))
}

// StepErrors returns every failed step recorded this run, sorted by package.
func (c *ResultsCache) StepErrors() []*StepError {
	var out []*StepError
	for _, name := range c.Attempted() {
		r, _ := c.Current(name)
		out = append(out, r.StepErrors(name)...)
	}
	return out
}

// Snapshot merges the previous and current results into the persisted form.
// Packages not in keep are dropped; a nil keep retains everything.
func (c *ResultsCache) Snapshot(keep []string) *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	results := make(map[string]*VersionedResult, len(c.previous)+len(c.current))
	for name, r := range c.previous {
		results[name] = r
	}
	for name, r := range c.current {
		results[name] = r
	}
	if keep != nil {
		for name := range results {
			if !slices.Contains(keep, name) {
				delete(results, name)
			}
		}
	}

	return &Snapshot{
		Category: c.Category,
		BuildID:  c.CurrentBuildID,
		RunID:    c.RunID,
		Config:   c.Config,
		Results:  results,
	}
}

// Restore reopens a persisted snapshot as the run that produced it, so its
// results can be reported without building. Results stamped with the
// snapshot's build id count as current.
func Restore(snap *Snapshot) *ResultsCache {
	c := &ResultsCache{
		Category:       snap.Category,
		CurrentBuildID: snap.BuildID,
		RunID:          snap.RunID,
		Config:         snap.Config,
		previous:       make(map[string]*VersionedResult),
		current:        make(map[string]*VersionedResult),
		inflight:       make(map[string]chan struct{}),
	}
	for name, r := range snap.Results {
		if r.LastAttemptedBuildID == snap.BuildID {
			c.current[name] = r
		} else {
			c.previous[name] = r
		}
	}
	return c
}
