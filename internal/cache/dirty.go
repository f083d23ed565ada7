package cache

import (
	"slices"

	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
)

// Dirty is the dirty detector's verdict for one package.
type Dirty struct {
	// FilesChanged: the ordered source path sequence differs. A reorder counts.
	FilesChanged bool
	// MTimesChanged: with identical paths, some modification time differs.
	MTimesChanged bool
	// ConfigChanged: the manifest digest or a compilation-affecting build setting differs.
	ConfigChanged bool
}

// Local reports whether the package itself changed.
func (d Dirty) Local() bool {
	return d.FilesChanged || d.MTimesChanged || d.ConfigChanged
}

// All is the verdict for a package that was never built successfully.
var All = Dirty{FilesChanged: true, MTimesChanged: true, ConfigChanged: true}

// Detect compares the current package snapshot against the one from its last
// successful build. A nil lastGood marks everything dirty.
func Detect(current, lastGood *resource.Resource, cfg config.BuildConfig, prevCfg *config.BuildConfig) Dirty {
	if lastGood == nil {
		return All
	}
	filesChanged := !slices.Equal(current.SourceFiles, lastGood.SourceFiles)
	return Dirty{
		FilesChanged:  filesChanged,
		MTimesChanged: !filesChanged && !slices.Equal(current.SourceMTimes, lastGood.SourceMTimes),
		ConfigChanged: current.ConfigDigest != lastGood.ConfigDigest || cfg.CompilationChanged(prevCfg),
	}
}

// Detect runs the dirty detector for name against this cache's configs.
func (c *ResultsCache) Detect(current *resource.Resource) Dirty {
	var lastGood *resource.Resource
	if prev := c.Previous(current.Name); prev != nil {
		lastGood = prev.LastSuccessfulResource
	}
	return Detect(current, lastGood, c.Config, c.PreviousConfig)
}
