package toolchain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_AccumulatesStdout(t *testing.T) {
	r := NewRunner("sh", nil, nil, nil)
	step := r.Run(context.Background(), t.TempDir(), []string{"echo one", "echo two"})

	assert.False(t, step.Failed())
	assert.Equal(t, []string{"echo one", "echo two"}, step.Commands)
	assert.Equal(t, "one\ntwo\n", step.Output)
}

func TestRunner_StopsAtNonZeroExit(t *testing.T) {
	r := NewRunner("sh", nil, nil, nil)
	step := r.Run(context.Background(), t.TempDir(), []string{"echo one", "exit 3", "echo never"})

	require.True(t, step.Failed())
	assert.Equal(t, []string{"echo one", "exit 3"}, step.Commands)
	assert.Contains(t, step.Err, "exit status 3")
	assert.Equal(t, "one\n", step.Output)
}

func TestRunner_StderrIsTheError(t *testing.T) {
	r := NewRunner("sh", nil, nil, nil)
	step := r.Run(context.Background(), t.TempDir(), []string{
		`echo 'File "/p/src/a.ml", line 3, characters 4-9:' >&2; echo 'Error: Unbound value x' >&2; exit 2`,
		"echo never",
	})

	require.True(t, step.Failed())
	assert.Len(t, step.Commands, 1)
	assert.Equal(t, "File \"/p/src/a.ml\", line 3, characters 4-9:\nError: Unbound value x", step.Err)
}

func TestRunner_StderrWithZeroExitStillFails(t *testing.T) {
	r := NewRunner("sh", nil, nil, nil)
	step := r.Run(context.Background(), t.TempDir(), []string{"echo warning >&2", "echo never"})

	require.True(t, step.Failed())
	assert.Equal(t, "warning", step.Err)
	assert.Len(t, step.Commands, 1)
}

func TestRunner_RunsInDir(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner("sh", nil, nil, nil)
	step := r.Run(context.Background(), dir, []string{"pwd -P"})

	require.False(t, step.Failed(), step.Err)
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, resolved+"\n", step.Output)
}

func TestRunner_BreakerOpensOnRepeatedLaunchFailures(t *testing.T) {
	breakers := NewBreakerRegistry(BreakerSettings{MaxFailures: 2, OpenTimeout: time.Minute}, nil)
	r := NewRunner("sh", nil, breakers, nil)
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		step := r.Run(context.Background(), dir, []string{"pkgbuild-missing-compiler -c x.ml"})
		require.True(t, step.Failed())
		assert.NotContains(t, step.Err, "unavailable")
	}

	step := r.Run(context.Background(), dir, []string{"pkgbuild-missing-compiler -c y.ml"})
	require.True(t, step.Failed())
	assert.Contains(t, step.Err, "pkgbuild-missing-compiler is unavailable")

	// Other programs keep their own breaker
	step = r.Run(context.Background(), dir, []string{"echo fine"})
	assert.False(t, step.Failed())
}

func TestRunner_CompileErrorsDoNotTripBreaker(t *testing.T) {
	breakers := NewBreakerRegistry(BreakerSettings{MaxFailures: 1, OpenTimeout: time.Minute}, nil)
	r := NewRunner("sh", nil, breakers, nil)

	for i := 0; i < 3; i++ {
		step := r.Run(context.Background(), t.TempDir(), []string{"false"})
		require.True(t, step.Failed())
		assert.NotContains(t, step.Err, "unavailable")
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := NewRunner("sh", NewProcessManager(), nil, nil)
	step := r.Run(ctx, t.TempDir(), []string{"sleep 30"})

	require.True(t, step.Failed())
	assert.Contains(t, step.Err, "interrupted")
}

func TestProgramOf(t *testing.T) {
	assert.Equal(t, "ocamlfind", programOf("  ocamlfind ocamlc -c x.ml"))
	assert.Equal(t, "", programOf("   "))
}
