package cache

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/pkgbuild/internal/config"
	"github.com/aristath/pkgbuild/internal/resource"
)

func testConfig() config.BuildConfig {
	return config.DefaultConfig().Build
}

func TestNext_BuildIDs(t *testing.T) {
	first := Next(Library, nil, testConfig())
	assert.Equal(t, uint64(1), first.CurrentBuildID)
	assert.Nil(t, first.PreviousConfig)
	assert.NotEmpty(t, first.RunID)

	snap := first.Snapshot(nil)
	second := Next(Library, snap, testConfig())
	assert.Equal(t, uint64(2), second.CurrentBuildID)
	require.NotNil(t, second.PreviousConfig)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestClaim_OneOwnerPerRun(t *testing.T) {
	c := Next(Library, nil, testConfig())

	state, done := c.Claim("A")
	require.Equal(t, Owned, state)

	state2, done2 := c.Claim("A")
	require.Equal(t, InFlight, state2)
	assert.Equal(t, done, done2)

	r := Attempted(nil, c.CurrentBuildID, &resource.Resource{Name: "A"}, BuildResult{})
	require.NoError(t, c.Complete("A", r))

	select {
	case <-done2:
	default:
		t.Fatal("waiter was not notified")
	}

	state3, _ := c.Claim("A")
	assert.Equal(t, Resolved, state3)

	// A second result in the same run is refused
	assert.Error(t, c.Complete("A", r))
}

func TestClaim_ConcurrentCallersGetSingleOwner(t *testing.T) {
	c := Next(Library, nil, testConfig())

	var wg sync.WaitGroup
	var mu sync.Mutex
	owners := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if state, _ := c.Claim("A"); state == Owned {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, owners)
}

func TestRelease_WakesWaitersWithoutResult(t *testing.T) {
	c := Next(Library, nil, testConfig())
	_, _ = c.Claim("A")
	_, done := c.Claim("A")

	c.Release("A")
	<-done

	_, ok := c.Current("A")
	assert.False(t, ok)

	// The package can be claimed again after release
	state, _ := c.Claim("A")
	assert.Equal(t, Owned, state)
}

func TestComplete_WithoutClaimFails(t *testing.T) {
	c := Next(Library, nil, testConfig())
	r := Attempted(nil, c.CurrentBuildID, &resource.Resource{Name: "A"}, BuildResult{})
	assert.Error(t, c.Complete("A", r))
}

func TestComplete_RejectsBrokenInvariants(t *testing.T) {
	c := Next(Library, nil, testConfig())
	_, _ = c.Claim("A")

	r := &VersionedResult{LastAttemptedBuildID: 5, Outcome: Outcome{Kind: Success}}
	assert.Error(t, c.Complete("A", r))
}

func TestAttempted_CarryForward(t *testing.T) {
	good := &resource.Resource{Name: "A", SourceFiles: []string{"a.ml"}}
	prev := &VersionedResult{
		LastAttemptedBuildID:           3,
		LastSuccessfulBuildID:          3,
		LastSuccessfulResource:         good,
		LastBuildIDEffectingProject:    2,
		LastBuildIDEffectingDependents: 2,
		Outcome:                        Outcome{Kind: Success},
	}
	current := &resource.Resource{Name: "A", SourceFiles: []string{"a.ml", "b.ml"}}

	t.Run("failure keeps last good fields", func(t *testing.T) {
		next := Attempted(prev, 4, current, BuildResult{BuildStep: &StepResult{Err: "boom"}})
		assert.Equal(t, NodeFail, next.Outcome.Kind)
		assert.Equal(t, uint64(4), next.LastAttemptedBuildID)
		assert.Equal(t, uint64(3), next.LastSuccessfulBuildID)
		assert.Equal(t, uint64(2), next.LastBuildIDEffectingProject)
		assert.Equal(t, good.SourceFiles, next.LastSuccessfulResource.SourceFiles)
		require.NoError(t, next.CheckInvariants(4))
	})

	t.Run("reuse advances success only", func(t *testing.T) {
		next := Attempted(prev, 4, current, BuildResult{})
		assert.Equal(t, Success, next.Outcome.Kind)
		assert.Equal(t, uint64(4), next.LastSuccessfulBuildID)
		assert.Equal(t, uint64(2), next.LastBuildIDEffectingProject)
		assert.Equal(t, uint64(2), next.LastBuildIDEffectingDependents)
		assert.Equal(t, current.SourceFiles, next.LastSuccessfulResource.SourceFiles)
	})

	t.Run("rebuild advances effecting ids", func(t *testing.T) {
		next := Attempted(prev, 4, current, BuildResult{EffectsWholeProject: true, EffectsDependents: true})
		assert.Equal(t, uint64(4), next.LastBuildIDEffectingProject)
		assert.Equal(t, uint64(4), next.LastBuildIDEffectingDependents)
		require.NoError(t, next.CheckInvariants(4))
	})

	t.Run("blocked names failing dependencies", func(t *testing.T) {
		next := Blocked(prev, 4, []string{"B"})
		assert.Equal(t, SubnodeFail, next.Outcome.Kind)
		assert.Equal(t, []string{"B"}, next.Outcome.FailedDependencies)
		assert.Equal(t, uint64(3), next.LastSuccessfulBuildID)
		assert.Equal(t, good.SourceFiles, next.LastSuccessfulResource.SourceFiles)
		assert.Nil(t, next.BuildStep)
	})
}

func TestSnapshot_MergesAndPrunes(t *testing.T) {
	prev := &Snapshot{
		Category: Library,
		BuildID:  1,
		Config:   testConfig(),
		Results: map[string]*VersionedResult{
			"A":    {LastAttemptedBuildID: 1, LastSuccessfulBuildID: 1, Outcome: Outcome{Kind: Success}},
			"Gone": {LastAttemptedBuildID: 1, LastSuccessfulBuildID: 1, Outcome: Outcome{Kind: Success}},
		},
	}
	c := Next(Library, prev, testConfig())
	_, _ = c.Claim("B")
	require.NoError(t, c.Complete("B", Attempted(nil, 2, &resource.Resource{Name: "B"}, BuildResult{})))

	snap := c.Snapshot([]string{"A", "B"})
	assert.Equal(t, uint64(2), snap.BuildID)
	assert.Len(t, snap.Results, 2)
	assert.Contains(t, snap.Results, "A")
	assert.Contains(t, snap.Results, "B")
	assert.Equal(t, uint64(1), snap.Results["A"].LastAttemptedBuildID)
}

func TestOutcomeKind_JSON(t *testing.T) {
	data, err := json.Marshal(Outcome{Kind: SubnodeFail, FailedDependencies: []string{"A"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"subnode-fail","failedDependencies":["A"]}`, string(data))

	var o Outcome
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"node-fail"}`), &o))
	assert.Equal(t, NodeFail, o.Kind)

	assert.Error(t, json.Unmarshal([]byte(`{"kind":"exploded"}`), &o))
}

func TestStepErrors(t *testing.T) {
	c := Next(Library, nil, testConfig())
	_, _ = c.Claim("A")
	r := Attempted(nil, 1, &resource.Resource{Name: "A"}, BuildResult{
		DependencyStep: &StepResult{Commands: []string{"dep"}},
		BuildStep:      &StepResult{Commands: []string{"cc a.ml"}, Err: "a.ml: syntax error"},
	})
	require.NoError(t, c.Complete("A", r))

	errs := c.StepErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, BuildStep, errs[0].Step)
	assert.Equal(t, "A", errs[0].Package)
	assert.Contains(t, errs[0].Error(), "syntax error")
}

func TestRestore(t *testing.T) {
	snap := &Snapshot{
		Category: Library,
		BuildID:  3,
		RunID:    "run-3",
		Config:   testConfig(),
		Results: map[string]*VersionedResult{
			"Fresh": {LastAttemptedBuildID: 3, LastSuccessfulBuildID: 3, Outcome: Outcome{Kind: Success}},
			"Stale": {LastAttemptedBuildID: 2, LastSuccessfulBuildID: 2, Outcome: Outcome{Kind: Success}},
		},
	}
	c := Restore(snap)

	assert.Equal(t, uint64(3), c.CurrentBuildID)
	assert.Equal(t, []string{"Fresh"}, c.Attempted())
	assert.NotNil(t, c.Lookup("Stale"))

	state, _ := c.Claim("Fresh")
	assert.Equal(t, Resolved, state)
}
