// Package events defines the cycle phase topics and the CycleReport that
// the engine publishes after every tick.
//
// Phase topics are dispatched synchronously on the cycle goroutine (see
// engine.Cycle.On). CycleReports are fanned out asynchronously through a
// Bus so slow observers (history recorder, metrics) never stretch a tick.
package events

import (
	"time"
)

// Topic names a cycle phase.
type Topic string

// Cycle phase topics, in the order they are published within one tick.
const (
	TopicBeforeProcessImage Topic = "cycle/BEFORE_PROCESS_IMAGE"
	TopicAfterProcessImage  Topic = "cycle/AFTER_PROCESS_IMAGE"
	TopicBeforeControllers  Topic = "cycle/BEFORE_CONTROLLERS"
	TopicAfterControllers   Topic = "cycle/AFTER_CONTROLLERS"
	TopicBeforeWrite        Topic = "cycle/BEFORE_WRITE"
	TopicExecuteWrite       Topic = "cycle/EXECUTE_WRITE"
	TopicAfterWrite         Topic = "cycle/AFTER_WRITE"
)

// TopicCycleReport carries one CycleReport per tick on the Bus.
const TopicCycleReport = "cycle.report"

// Phases returns all phase topics in publication order.
func Phases() []Topic {
	return []Topic{
		TopicBeforeProcessImage,
		TopicAfterProcessImage,
		TopicBeforeControllers,
		TopicAfterControllers,
		TopicBeforeWrite,
		TopicExecuteWrite,
		TopicAfterWrite,
	}
}

// ControllerFailure records one controller that failed during a tick.
type ControllerFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// Sample is the frozen value of one channel.
type Sample struct {
	Address string `json:"address"`
	Value   any    `json:"value"`
	Defined bool   `json:"defined"`
}

// CycleReport summarizes one completed tick.
type CycleReport struct {
	Tick        uint64              `json:"tick"`
	StartedAt   time.Time           `json:"started_at"`
	Duration    time.Duration       `json:"duration"`
	CycleTimeMs int                 `json:"cycle_time_ms"`
	Controllers []string            `json:"controllers"`
	Failed      []ControllerFailure `json:"failed,omitempty"`
	// SchedulerError is set when no controllers ran because the scheduler
	// failed.
	SchedulerError string `json:"scheduler_error,omitempty"`
	// Changed lists channels whose current value changed at this tick's
	// freeze, in registration order.
	Changed []Sample `json:"changed,omitempty"`
}

// OK reports whether the scheduler and every scheduled controller succeeded.
func (r CycleReport) OK() bool {
	return len(r.Failed) == 0 && r.SchedulerError == ""
}
