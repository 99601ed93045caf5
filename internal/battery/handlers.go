package battery

import (
	"fmt"
	"time"

	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/statemachine"
)

func newHandlers() map[State]statemachine.Handler[State, *Context] {
	return map[State]statemachine.Handler[State, *Context]{
		StateUndefined: &undefinedHandler{},
		StateGoRunning: &goRunningHandler{},
		StateRunning:   &runningHandler{},
		StateGoStopped: &goStoppedHandler{},
		StateStopped:   &stoppedHandler{},
		StateError:     &errorHandler{},
	}
}

// entryClock records when a state was entered.
type entryClock struct {
	enteredAt time.Time
}

func (e *entryClock) enter(c *Context) {
	e.enteredAt = c.Clock.Now()
}

func (e *entryClock) elapsed(c *Context) time.Duration {
	return clock.Since(c.Clock, e.enteredAt)
}

// ---------------------------------------------------------------------------

type undefinedHandler struct {
	entryClock
}

func (h *undefinedHandler) OnEntry(c *Context) error {
	h.enter(c)
	b := c.Battery
	b.maxStartTime.SetNextValue(channel.LevelOK)
	b.maxStopTime.SetNextValue(channel.LevelOK)
	return nil
}

func (h *undefinedHandler) OnExit(*Context) error { return nil }

func (h *undefinedHandler) Next(c *Context) (State, error) {
	b := c.Battery
	fault, faultOK := b.fault.Value().Get()
	started, startedOK := b.started.Value().Get()

	if faultOK && fault {
		return StateError, nil
	}
	if !faultOK || !startedOK {
		if h.enteredAt.IsZero() {
			// Initial state of a new machine: OnEntry never ran.
			h.enter(c)
		}
		if h.elapsed(c) > c.Config.SettleTimeout {
			b.logger.Warn("hardware values did not settle", "timeout", c.Config.SettleTimeout)
			return StateError, nil
		}
		return StateUndefined, nil
	}

	target := b.StartStopTarget()
	switch {
	case started && target == StartStopStop:
		return StateGoStopped, nil
	case started:
		return StateRunning, nil
	case target == StartStopStart:
		return StateGoRunning, nil
	default:
		return StateGoStopped, nil
	}
}

// ---------------------------------------------------------------------------

type goRunningHandler struct {
	entryClock
}

func (h *goRunningHandler) OnEntry(c *Context) error {
	h.enter(c)
	return stageContactor(c, true)
}

func (h *goRunningHandler) OnExit(*Context) error { return nil }

func (h *goRunningHandler) Next(c *Context) (State, error) {
	b := c.Battery
	if b.fault.Value().OrElse(false) {
		return StateError, nil
	}
	if h.elapsed(c) > c.Config.MaxStartTime {
		b.maxStartTime.SetNextValue(channel.LevelWarning)
		return StateError, nil
	}
	if b.StartStopTarget() == StartStopStop {
		return StateGoStopped, nil
	}

	// Re-send the command every tick; write values are consumed.
	if err := stageContactor(c, true); err != nil {
		return StateGoRunning, err
	}
	unlocked, err := b.interlockUnlocked.Get()
	if err != nil {
		return StateGoRunning, err
	}
	if h.elapsed(c) >= c.Config.StartSettle && unlocked {
		return StateRunning, nil
	}
	return StateGoRunning, nil
}

// ---------------------------------------------------------------------------

type runningHandler struct {
	statemachine.Base[State, *Context]
}

func (h *runningHandler) OnEntry(c *Context) error {
	c.Battery.resetRetries()
	c.Battery.maxRetriesReached.SetNextValue(channel.LevelOK)
	return nil
}

func (h *runningHandler) Next(c *Context) (State, error) {
	b := c.Battery
	if b.fault.Value().OrElse(false) {
		return StateError, nil
	}
	if b.StartStopTarget() == StartStopStop {
		return StateGoStopped, nil
	}
	return StateRunning, nil
}

// ---------------------------------------------------------------------------

type goStoppedHandler struct {
	entryClock
}

func (h *goStoppedHandler) OnEntry(c *Context) error {
	h.enter(c)
	return stageContactor(c, false)
}

func (h *goStoppedHandler) OnExit(*Context) error { return nil }

func (h *goStoppedHandler) Next(c *Context) (State, error) {
	b := c.Battery
	if b.fault.Value().OrElse(false) {
		return StateError, nil
	}
	if h.elapsed(c) > c.Config.MaxStopTime {
		b.maxStopTime.SetNextValue(channel.LevelWarning)
		return StateError, nil
	}

	if err := stageContactor(c, false); err != nil {
		return StateGoStopped, err
	}
	started, err := b.started.Get()
	if err != nil {
		return StateGoStopped, err
	}
	if h.elapsed(c) >= c.Config.StopSettle && !started {
		return StateStopped, nil
	}
	return StateGoStopped, nil
}

// ---------------------------------------------------------------------------

type stoppedHandler struct {
	statemachine.Base[State, *Context]
}

func (h *stoppedHandler) OnEntry(c *Context) error {
	c.Battery.resetRetries()
	c.Battery.maxRetriesReached.SetNextValue(channel.LevelOK)
	return nil
}

func (h *stoppedHandler) Next(c *Context) (State, error) {
	b := c.Battery
	if b.fault.Value().OrElse(false) {
		return StateError, nil
	}
	if b.StartStopTarget() == StartStopStart {
		return StateGoRunning, nil
	}
	if b.started.Value().OrElse(false) {
		// Contactor closed behind our back.
		return StateGoStopped, nil
	}
	return StateStopped, nil
}

// ---------------------------------------------------------------------------

type errorHandler struct {
	entryClock
	exhausted bool
}

func (h *errorHandler) OnEntry(c *Context) error {
	h.enter(c)
	retries := c.Battery.countRetry()
	h.exhausted = c.Config.MaxRetries > 0 && retries > c.Config.MaxRetries
	if h.exhausted {
		c.Battery.logger.Error("battery retries exhausted", "retries", retries-1, "max_retries", c.Config.MaxRetries)
	}
	return stageContactor(c, false)
}

func (h *errorHandler) OnExit(c *Context) error {
	if err := c.Battery.systemReset.SetNextWriteValue(true); err != nil {
		return fmt.Errorf("request system reset: %w", err)
	}
	return nil
}

func (h *errorHandler) Next(c *Context) (State, error) {
	b := c.Battery
	if h.exhausted && b.Retries() == 0 {
		// A new start/stop target restored the retry budget.
		h.exhausted = false
		h.enter(c)
	}
	b.maxRetriesReached.SetNextValue(levelIf(h.exhausted, channel.LevelFault))
	if h.exhausted {
		return StateError, nil
	}
	if h.elapsed(c) < c.Config.RetryWindow {
		return StateError, nil
	}
	if b.fault.Value().OrElse(false) {
		return StateError, nil
	}
	return StateUndefined, nil
}

func stageContactor(c *Context, closed bool) error {
	if err := c.Battery.contactorTarget.SetNextWriteValue(closed); err != nil {
		return fmt.Errorf("stage contactor target: %w", err)
	}
	return nil
}
