package loadtest

import (
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/k7/internal/loadtest/metrics"
)

// EventKind identifies a lifecycle event.
type EventKind int

const (
	EventScenarioStart EventKind = iota
	EventScenarioEnd
	EventStageChange
	EventVUSpawn
	EventVURetire
	EventAborted
)

func (k EventKind) String() string {
	switch k {
	case EventScenarioStart:
		return "scenario-start"
	case EventScenarioEnd:
		return "scenario-end"
	case EventStageChange:
		return "stage-change"
	case EventVUSpawn:
		return "vu-spawn"
	case EventVURetire:
		return "vu-retire"
	case EventAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Event is a lifecycle notification from a pool or the scheduler.
type Event struct {
	Kind     EventKind
	Scenario string
	VU       uuid.UUID
	Tags     metrics.Tags
	Time     time.Time
	Err      error
}

// EventFunc receives lifecycle events. It is called synchronously and
// must not block.
type EventFunc func(Event)
