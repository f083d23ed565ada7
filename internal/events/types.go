package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	PackageName() string
}

// Topic constants
const (
	TopicPackage = "package"
	TopicRun     = "run"
)

// Event type constants
const (
	EventTypeRunStarted      = "run.started"
	EventTypeRunFinished     = "run.finished"
	EventTypeCategoryStarted = "category.started"
	EventTypePackageStarted  = "package.started"
	EventTypePackageFinished = "package.finished"
	EventTypeLinkDecided     = "link.decided"
)

// RunStartedEvent is published once the package tree has been scanned.
type RunStartedEvent struct {
	RunID     string
	Root      string
	Packages  int
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string   { return EventTypeRunStarted }
func (e RunStartedEvent) PackageName() string { return e.Root }

// CategoryStartedEvent is published before a category is walked.
type CategoryStartedEvent struct {
	Category  string
	BuildID   uint64
	Total     int
	Timestamp time.Time
}

func (e CategoryStartedEvent) EventType() string   { return EventTypeCategoryStarted }
func (e CategoryStartedEvent) PackageName() string { return "" }

// PackageStartedEvent is published when a package builder is invoked.
type PackageStartedEvent struct {
	Name      string
	Category  string
	Timestamp time.Time
}

func (e PackageStartedEvent) EventType() string   { return EventTypePackageStarted }
func (e PackageStartedEvent) PackageName() string { return e.Name }

// PackageFinishedEvent is published when a package's result is stored.
// Rebuilt is set when the result affects the whole project this run.
type PackageFinishedEvent struct {
	Name      string
	Category  string
	Outcome   string
	Rebuilt   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e PackageFinishedEvent) EventType() string   { return EventTypePackageFinished }
func (e PackageFinishedEvent) PackageName() string { return e.Name }

// LinkDecidedEvent is published once the driver has decided whether to relink.
type LinkDecidedEvent struct {
	Root      string
	Relink    bool
	Blocked   bool
	Reason    string
	Timestamp time.Time
}

func (e LinkDecidedEvent) EventType() string   { return EventTypeLinkDecided }
func (e LinkDecidedEvent) PackageName() string { return e.Root }

// RunFinishedEvent is published when the run has been persisted.
type RunFinishedEvent struct {
	RunID     string
	Succeeded bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string   { return EventTypeRunFinished }
func (e RunFinishedEvent) PackageName() string { return "" }
