// Package cache holds the versioned per-package build results that persist
// between runs and decide what must be rebuilt.
package cache

import (
	"errors"
	"fmt"
	"slices"

	"github.com/aristath/pkgbuild/internal/resource"
)

// OutcomeKind classifies a package's build attempt in one run.
type OutcomeKind int

const (
	// Success means both builder steps completed without error.
	Success OutcomeKind = iota + 1
	// SubnodeFail means a dependency failed, so the builder was never invoked.
	SubnodeFail
	// NodeFail means the package's own dependency or build step failed.
	NodeFail
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case SubnodeFail:
		return "subnode-fail"
	case NodeFail:
		return "node-fail"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	if k < Success || k > NodeFail {
		return nil, fmt.Errorf("invalid outcome kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *OutcomeKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "success":
		*k = Success
	case "subnode-fail":
		*k = SubnodeFail
	case "node-fail":
		*k = NodeFail
	default:
		return fmt.Errorf("unknown outcome %q", text)
	}
	return nil
}

// Outcome is the terminal classification of a build attempt.
// FailedDependencies is only set for SubnodeFail.
type Outcome struct {
	Kind               OutcomeKind `json:"kind"`
	FailedDependencies []string    `json:"failedDependencies,omitempty"`
}

// Succeeded reports whether the outcome is Success.
func (o Outcome) Succeeded() bool { return o.Kind == Success }

// Step identifies which builder step produced a StepResult.
type Step string

const (
	DependencyStep Step = "dependency"
	BuildStep      Step = "build"
)

// StepResult records what a builder step ran and how it ended.
// Err is empty on success.
type StepResult struct {
	Commands []string `json:"commands,omitempty"`
	Output   string   `json:"output,omitempty"`
	Err      string   `json:"error,omitempty"`
}

// Failed reports whether the step ended in an error. A nil step never failed.
func (s *StepResult) Failed() bool {
	return s != nil && s.Err != ""
}

// Clone returns a deep copy of s.
func (s *StepResult) Clone() *StepResult {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Commands = slices.Clone(s.Commands)
	return &cp
}

// StepError is a failed dependency or build step, surfaced after the run.
type StepError struct {
	Package  string
	Step     Step
	Commands []string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s step failed: %v", e.Package, e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ComputedData carries builder outputs that later steps depend on.
type ComputedData struct {
	OrderedSources []string `json:"orderedSources,omitempty"`
	Objects        []string `json:"objects,omitempty"`
	Archive        string   `json:"archive,omitempty"`
	Generated      []string `json:"generated,omitempty"`
	Outputs        []string `json:"outputs,omitempty"`
}

func (c ComputedData) clone() ComputedData {
	return ComputedData{
		OrderedSources: slices.Clone(c.OrderedSources),
		Objects:        slices.Clone(c.Objects),
		Archive:        c.Archive,
		Generated:      slices.Clone(c.Generated),
		Outputs:        slices.Clone(c.Outputs),
	}
}

// BuildResult is what a package builder returns for one invocation.
type BuildResult struct {
	DependencyStep      *StepResult
	BuildStep           *StepResult
	Computed            ComputedData
	EffectsWholeProject bool
	EffectsDependents   bool
}

// Failed reports whether either step errored.
func (b BuildResult) Failed() bool {
	return b.DependencyStep.Failed() || b.BuildStep.Failed()
}

// VersionedResult is the cached state of one package, stamped with build ids.
// Build id 0 means "never".
//
// For every result: LastBuildIDEffectingProject <= LastSuccessfulBuildID <= LastAttemptedBuildID.
type VersionedResult struct {
	LastAttemptedBuildID           uint64             `json:"lastAttemptedBuildId"`
	LastSuccessfulBuildID          uint64             `json:"lastSuccessfulBuildId"`
	LastSuccessfulResource         *resource.Resource `json:"lastSuccessfulResource,omitempty"`
	LastBuildIDEffectingProject    uint64             `json:"lastBuildIdEffectingProject"`
	LastBuildIDEffectingDependents uint64             `json:"lastBuildIdEffectingDependents"`
	Outcome                        Outcome            `json:"outcome"`
	DependencyStep                 *StepResult        `json:"dependencyStep,omitempty"`
	BuildStep                      *StepResult        `json:"buildStep,omitempty"`
	Computed                       ComputedData       `json:"computed"`
}

// Clone returns a deep copy of r.
func (r *VersionedResult) Clone() *VersionedResult {
	if r == nil {
		return nil
	}
	cp := *r
	cp.LastSuccessfulResource = r.LastSuccessfulResource.Clone()
	cp.Outcome.FailedDependencies = slices.Clone(r.Outcome.FailedDependencies)
	cp.DependencyStep = r.DependencyStep.Clone()
	cp.BuildStep = r.BuildStep.Clone()
	cp.Computed = r.Computed.clone()
	return &cp
}

// CheckInvariants verifies the build id ordering against the current build id.
func (r *VersionedResult) CheckInvariants(currentBuildID uint64) error {
	switch {
	case r.LastAttemptedBuildID > currentBuildID:
		return fmt.Errorf("attempted build %d is ahead of current build %d", r.LastAttemptedBuildID, currentBuildID)
	case r.LastSuccessfulBuildID > r.LastAttemptedBuildID:
		return fmt.Errorf("successful build %d is ahead of attempted build %d", r.LastSuccessfulBuildID, r.LastAttemptedBuildID)
	case r.LastBuildIDEffectingProject > r.LastSuccessfulBuildID:
		return fmt.Errorf("project-effecting build %d is ahead of successful build %d", r.LastBuildIDEffectingProject, r.LastSuccessfulBuildID)
	case r.LastBuildIDEffectingDependents > r.LastSuccessfulBuildID:
		return fmt.Errorf("dependents-effecting build %d is ahead of successful build %d", r.LastBuildIDEffectingDependents, r.LastSuccessfulBuildID)
	}
	return nil
}

// StepErrors returns the failed steps recorded in r.
func (r *VersionedResult) StepErrors(name string) []*StepError {
	var out []*StepError
	if r.DependencyStep.Failed() {
		out = append(out, &StepError{Package: name, Step: DependencyStep, Commands: r.DependencyStep.Commands, Err: errors.New(r.DependencyStep.Err)})
	}
	if r.BuildStep.Failed() {
		out = append(out, &StepError{Package: name, Step: BuildStep, Commands: r.BuildStep.Commands, Err: errors.New(r.BuildStep.Err)})
	}
	return out
}

// carried copies the "last successful/effecting" fields of prev, or zero
// values when prev is nil, and stamps the attempt with buildID.
func carried(prev *VersionedResult, buildID uint64) *VersionedResult {
	next := &VersionedResult{LastAttemptedBuildID: buildID}
	if prev != nil {
		next.LastSuccessfulBuildID = prev.LastSuccessfulBuildID
		next.LastSuccessfulResource = prev.LastSuccessfulResource.Clone()
		next.LastBuildIDEffectingProject = prev.LastBuildIDEffectingProject
		next.LastBuildIDEffectingDependents = prev.LastBuildIDEffectingDependents
	}
	return next
}

// Blocked returns the result for a package whose dependencies failed.
// Only the attempted id advances; the builder was never invoked.
func Blocked(prev *VersionedResult, buildID uint64, failedDeps []string) *VersionedResult {
	next := carried(prev, buildID)
	next.Outcome = Outcome{Kind: SubnodeFail, FailedDependencies: slices.Clone(failedDeps)}
	return next
}

// Attempted returns the result for a package whose builder ran.
// On failure only the attempted id advances. On success the successful id and
// resource move to this run, and each effecting id moves only if the builder
// reported the corresponding effect.
func Attempted(prev *VersionedResult, buildID uint64, current *resource.Resource, out BuildResult) *VersionedResult {
	next := carried(prev, buildID)
	next.DependencyStep = out.DependencyStep.Clone()
	next.BuildStep = out.BuildStep.Clone()
	next.Computed = out.Computed.clone()

	if out.Failed() {
		next.Outcome = Outcome{Kind: NodeFail}
		return next
	}

	next.Outcome = Outcome{Kind: Success}
	next.LastSuccessfulBuildID = buildID
	next.LastSuccessfulResource = current.Clone()
	if out.EffectsWholeProject {
		next.LastBuildIDEffectingProject = buildID
	}
	if out.EffectsDependents {
		next.LastBuildIDEffectingDependents = buildID
	}
	return next
}
