package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
)

func relinkTree(t *testing.T) *resource.Tree {
	t.Helper()
	tree, err := resource.NewTree("R", []*resource.Resource{
		{Name: "R", Subpackages: []string{"A"}},
		{Name: "A"},
	})
	require.NoError(t, err)
	return tree
}

// libsAfterRun fakes a completed library run where rebuilt names were rebuilt and the rest reused.
func libsAfterRun(t *testing.T, buildID uint64, outcomes map[string]OutcomeKind, rebuilt ...string) *ResultsCache {
	t.Helper()
	c := Next(Library, &Snapshot{BuildID: buildID - 1, Config: testConfig()}, testConfig())
	for name, kind := range outcomes {
		_, _ = c.Claim(name)
		var r *VersionedResult
		switch kind {
		case Success:
			effect := false
			for _, n := range rebuilt {
				effect = effect || n == name
			}
			r = Attempted(nil, buildID, &resource.Resource{Name: name}, BuildResult{EffectsWholeProject: effect, EffectsDependents: effect})
		case NodeFail:
			r = Attempted(nil, buildID, &resource.Resource{Name: name}, BuildResult{BuildStep: &StepResult{Err: "x"}})
		case SubnodeFail:
			r = Blocked(nil, buildID, []string{"A"})
		}
		require.NoError(t, c.Complete(name, r))
	}
	return c
}

func linkCache(prevCfg *config.BuildConfig, cfg config.BuildConfig, prevLink *VersionedResult) *ResultsCache {
	if prevCfg == nil {
		return Next(Link, nil, cfg)
	}
	snap := &Snapshot{Category: Link, BuildID: 1, Config: *prevCfg, Results: map[string]*VersionedResult{}}
	if prevLink != nil {
		snap.Results["R"] = prevLink
	}
	return Next(Link, snap, cfg)
}

func TestDecideLink(t *testing.T) {
	tree := relinkTree(t)
	cfg := testConfig()
	okLink := &VersionedResult{LastAttemptedBuildID: 1, LastSuccessfulBuildID: 1, Outcome: Outcome{Kind: Success}}
	failedLink := &VersionedResult{LastAttemptedBuildID: 1, Outcome: Outcome{Kind: NodeFail}}

	jsCfg := cfg
	jsCfg.JSCompile = true
	optCfg := cfg
	optCfg.Opt = 2
	concCfg := cfg
	concCfg.Concurrency = 9

	tests := []struct {
		name        string
		libs        *ResultsCache
		link        *ResultsCache
		wantBlocked bool
		wantRelink  bool
	}{
		{
			name:       "dependency rebuilt",
			libs:       libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}, "A"),
			link:       linkCache(&cfg, cfg, okLink),
			wantRelink: true,
		},
		{
			name: "nothing changed",
			libs: libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}),
			link: linkCache(&cfg, cfg, okLink),
		},
		{
			name: "non-compilation setting changed",
			libs: libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}),
			link: linkCache(&cfg, concCfg, okLink),
		},
		{
			name:       "compilation setting changed",
			libs:       libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}),
			link:       linkCache(&cfg, optCfg, okLink),
			wantRelink: true,
		},
		{
			name:       "js output newly enabled",
			libs:       libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}),
			link:       linkCache(&cfg, jsCfg, okLink),
			wantRelink: true,
		},
		{
			name: "js output already enabled",
			libs: libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}),
			link: linkCache(&jsCfg, jsCfg, okLink),
		},
		{
			name:       "previous link failed",
			libs:       libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}),
			link:       linkCache(&cfg, cfg, failedLink),
			wantRelink: true,
		},
		{
			name:       "never linked",
			libs:       libsAfterRun(t, 2, map[string]OutcomeKind{"A": Success, "R": Success}),
			link:       linkCache(&cfg, cfg, nil),
			wantRelink: true,
		},
		{
			name:        "root blocked",
			libs:        libsAfterRun(t, 2, map[string]OutcomeKind{"A": NodeFail, "R": SubnodeFail}),
			link:        linkCache(&cfg, cfg, okLink),
			wantBlocked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideLink(tree, tt.libs, tt.link)
			assert.Equal(t, tt.wantBlocked, got.Blocked, got.Reason)
			assert.Equal(t, tt.wantRelink, got.Relink, got.Reason)
			assert.NotEmpty(t, got.Reason)
		})
	}
}
