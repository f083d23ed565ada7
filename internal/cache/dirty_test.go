package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
)

func TestDetect(t *testing.T) {
	cfg := testConfig()
	base := &resource.Resource{
		Name:         "A",
		SourceFiles:  []string{"/a/src/x.ml", "/a/src/y.ml"},
		SourceMTimes: []int64{100, 200},
		ConfigDigest: 42,
	}

	tests := []struct {
		name    string
		mutate  func(r *resource.Resource)
		prevCfg func(c *config.BuildConfig)
		want    Dirty
	}{
		{
			name: "unchanged",
			want: Dirty{},
		},
		{
			name: "file added",
			mutate: func(r *resource.Resource) {
				r.SourceFiles = append(r.SourceFiles, "/a/src/z.ml")
				r.SourceMTimes = append(r.SourceMTimes, 300)
			},
			want: Dirty{FilesChanged: true},
		},
		{
			name:   "pure reorder counts as file change",
			mutate: func(r *resource.Resource) { r.SourceFiles = []string{"/a/src/y.ml", "/a/src/x.ml"} },
			want:   Dirty{FilesChanged: true},
		},
		{
			name:   "touched file",
			mutate: func(r *resource.Resource) { r.SourceMTimes = []int64{100, 201} },
			want:   Dirty{MTimesChanged: true},
		},
		{
			name:   "manifest digest",
			mutate: func(r *resource.Resource) { r.ConfigDigest = 43 },
			want:   Dirty{ConfigChanged: true},
		},
		{
			name:    "compilation setting",
			prevCfg: func(c *config.BuildConfig) { c.Opt = 3 },
			want:    Dirty{ConfigChanged: true},
		},
		{
			name:    "concurrency never dirties",
			prevCfg: func(c *config.BuildConfig) { c.Concurrency = 32 },
			want:    Dirty{},
		},
		{
			name:    "verbosity never dirties",
			prevCfg: func(c *config.BuildConfig) { c.Verbose = !c.Verbose },
			want:    Dirty{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			current := base.Clone()
			if tt.mutate != nil {
				tt.mutate(current)
			}
			prev := cfg
			if tt.prevCfg != nil {
				tt.prevCfg(&prev)
			}

			got := Detect(current, base, cfg, &prev)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != Dirty{}, got.Local())
		})
	}
}

func TestDetect_NeverBuilt(t *testing.T) {
	cfg := testConfig()
	got := Detect(&resource.Resource{Name: "A"}, nil, cfg, &cfg)
	assert.Equal(t, All, got)
	assert.True(t, got.Local())
}

func TestResultsCache_DependencyChanged(t *testing.T) {
	c := Next(Library, &Snapshot{BuildID: 4, Config: testConfig()}, testConfig())
	require.Equal(t, uint64(5), c.CurrentBuildID)

	for _, name := range []string{"Quiet", "Loud"} {
		state, _ := c.Claim(name)
		require.Equal(t, Owned, state)
	}
	require.NoError(t, c.Complete("Quiet", Attempted(nil, 5, &resource.Resource{Name: "Quiet"}, BuildResult{})))
	require.NoError(t, c.Complete("Loud", Attempted(nil, 5, &resource.Resource{Name: "Loud"}, BuildResult{EffectsDependents: true, EffectsWholeProject: true})))

	assert.False(t, c.DependencyChanged([]string{"Quiet"}))
	assert.True(t, c.DependencyChanged([]string{"Quiet", "Loud"}))
	assert.False(t, c.DependencyChanged(nil))
}

func TestResultsCache_DetectUsesLastSuccessfulResource(t *testing.T) {
	good := &resource.Resource{Name: "A", SourceFiles: []string{"a.ml"}, SourceMTimes: []int64{1}}
	prev := &Snapshot{
		BuildID: 1,
		Config:  testConfig(),
		Results: map[string]*VersionedResult{
			"A": {LastAttemptedBuildID: 1, LastSuccessfulBuildID: 1, LastSuccessfulResource: good, Outcome: Outcome{Kind: Success}},
		},
	}
	c := Next(Library, prev, testConfig())

	assert.Equal(t, Dirty{}, c.Detect(good.Clone()))

	touched := good.Clone()
	touched.SourceMTimes[0] = 2
	assert.Equal(t, Dirty{MTimesChanged: true}, c.Detect(touched))

	assert.Equal(t, All, c.Detect(&resource.Resource{Name: "New"}))
}
