// Package metrics records build observations. Components take a Recorder and
// default to NoopRecorder, so metrics stay optional.
package metrics

import "time"

// Recorder defines observability hooks for a build run.
type Recorder interface {
	ObservePackage(category, outcome string, rebuilt bool, d time.Duration)
	ObserveRun(succeeded bool, d time.Duration)
	IncLinkDecision(relink bool)
	SetConcurrency(n int)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObservePackage(string, string, bool, time.Duration) {}
func (NoopRecorder) ObserveRun(bool, time.Duration)                     {}
func (NoopRecorder) IncLinkDecision(bool)                               {}
func (NoopRecorder) SetConcurrency(int)                                 {}
