// Package battery implements the battery start/stop component: a
// representative device family built on the generic state machine.
//
// The hardware side (a bridge or the simulator) stages Soc, ActivePower,
// Fault, Started and InterlockUnlocked every tick and consumes the
// ContactorTarget, SystemReset and SetActivePower write commands. The
// state machine steps once per tick on the frozen process image, from the
// AFTER_PROCESS_IMAGE phase:
//
//	cycle.On(events.TopicAfterProcessImage, b.ID(), b.Step)
//
// Every transitional state has a time-bounded escape to ERROR, and ERROR
// retries are bounded by Config.MaxRetries. The current state and fault
// flags are published on ordinary channels.
package battery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/component"
	"github.com/roach88/edgecycle/internal/statemachine"
)

// Battery channels.
var (
	ChannelSoc               = channel.NewID("SOC", channel.TypeInteger).WithUnit(channel.UnitPercent).WithText("State of charge")
	ChannelActivePower       = channel.NewID("ACTIVE_POWER", channel.TypeInteger).WithUnit(channel.UnitWatt).WithText("Measured power; positive discharges")
	ChannelSetActivePower    = channel.NewID("SET_ACTIVE_POWER", channel.TypeInteger).WithUnit(channel.UnitWatt).WithAccess(channel.WriteOnly).WithText("Power setpoint; positive discharges")
	ChannelFault             = channel.NewID("FAULT", channel.TypeBoolean).WithText("Hardware reports a fault")
	ChannelStarted           = channel.NewID("STARTED", channel.TypeBoolean).WithText("Hardware reports the main contactor closed")
	ChannelInterlockUnlocked = channel.NewID("INTERLOCK_UNLOCKED", channel.TypeBoolean).WithText("Hardware interlock released after precharge")
	ChannelContactorTarget   = channel.NewID("CONTACTOR_TARGET", channel.TypeBoolean).WithAccess(channel.WriteOnly).WithText("Close (true) or open (false) the main contactor")
	ChannelSystemReset       = channel.NewID("SYSTEM_RESET", channel.TypeBoolean).WithAccess(channel.WriteOnly).WithText("Reset the battery management system")
	ChannelStateMachine      = channel.NewID("STATE_MACHINE", channel.TypeEnum).WithText("Current state of the start/stop state machine")
	ChannelStartStop         = channel.NewID("START_STOP", channel.TypeEnum).WithText("Reported start/stop condition")
	ChannelHardwareFault     = channel.NewID("HARDWARE_FAULT", channel.TypeEnum).WithText("Hardware fault level")
	ChannelRunFailed         = channel.NewID("RUN_FAILED", channel.TypeEnum).WithText("The last state-machine step failed")
	ChannelMaxStartTime      = channel.NewID("MAX_START_TIME", channel.TypeEnum).WithText("Start did not complete in time")
	ChannelMaxStopTime       = channel.NewID("MAX_STOP_TIME", channel.TypeEnum).WithText("Stop did not complete in time")
	ChannelMaxRetriesReached = channel.NewID("MAX_RETRIES_REACHED", channel.TypeEnum).WithText("Automatic restarts exhausted")
	ChannelStatus            = channel.NewID("STATUS", channel.TypeEnum).WithText("Aggregate status level")
)

// Config holds the state-machine tunables.
type Config struct {
	// StartStop selects where the start/stop target comes from.
	StartStop StartStopMode
	// SettleTimeout bounds how long UNDEFINED waits for hardware values.
	SettleTimeout time.Duration
	// StartSettle is the minimum dwell in GO_RUNNING.
	StartSettle time.Duration
	// StopSettle is the minimum dwell in GO_STOPPED.
	StopSettle time.Duration
	// MaxStartTime escapes GO_RUNNING to ERROR.
	MaxStartTime time.Duration
	// MaxStopTime escapes GO_STOPPED to ERROR.
	MaxStopTime time.Duration
	// RetryWindow is how long ERROR waits before retrying.
	RetryWindow time.Duration
	// MaxRetries bounds consecutive automatic retries out of ERROR. A
	// successful start or stop, or a new start/stop target, resets the count.
	MaxRetries int
	// StatusRollup selects how child fault levels escalate into Status.
	StatusRollup channel.RollupMode
}

// DefaultConfig returns the tunables used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		StartStop:     ModeAuto,
		SettleTimeout: 2 * time.Minute,
		StartSettle:   10 * time.Second,
		StopSettle:    10 * time.Second,
		MaxStartTime:  10 * time.Minute,
		MaxStopTime:   10 * time.Minute,
		RetryWindow:   time.Minute,
		MaxRetries:    3,
		StatusRollup:  channel.RollupStrict,
	}
}

// Context is passed to every state handler.
type Context struct {
	Clock   clock.Clock
	Battery *Battery
	Config  Config
}

// Option configures a Battery.
type Option func(*Battery)

// WithClock sets the clock used for settle and retry timing.
func WithClock(c clock.Clock) Option {
	return func(b *Battery) {
		b.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Battery) {
		b.logger = l
	}
}

// Battery is a start/stop sequenced battery component.
//
// Thread-safety: Step runs on the cycle goroutine. SetStartStop may be
// called from any goroutine.
type Battery struct {
	component.Base

	cfg    Config
	clock  clock.Clock
	logger *slog.Logger
	sm     *statemachine.StateMachine[State, *Context]

	soc               *channel.Channel[int]
	activePower       *channel.Channel[int]
	setActivePower    *channel.Channel[int]
	fault             *channel.Channel[bool]
	started           *channel.Channel[bool]
	interlockUnlocked *channel.Channel[bool]
	contactorTarget   *channel.Channel[bool]
	systemReset       *channel.Channel[bool]
	stateMachine      *channel.Channel[State]
	startStop         *channel.Channel[StartStop]
	hardwareFault     *channel.Channel[channel.Level]
	runFailed         *channel.Channel[channel.Level]
	maxStartTime      *channel.Channel[channel.Level]
	maxStopTime       *channel.Channel[channel.Level]
	maxRetriesReached *channel.Channel[channel.Level]
	status            *channel.Channel[channel.Level]
	rollup            *channel.Rollup

	mu      sync.Mutex
	target  StartStop
	retries int
}

// New creates a battery in state UNDEFINED.
func New(id string, cfg Config, opts ...Option) *Battery {
	if cfg.StartStop == "" {
		cfg.StartStop = ModeAuto
	}
	b := &Battery{
		Base:   component.NewBase(id),
		cfg:    cfg,
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", id)

	b.soc = component.Add[int](&b.Base, ChannelSoc)
	b.activePower = component.Add[int](&b.Base, ChannelActivePower)
	b.setActivePower = component.Add[int](&b.Base, ChannelSetActivePower)
	b.fault = component.Add[bool](&b.Base, ChannelFault)
	b.started = component.Add[bool](&b.Base, ChannelStarted)
	b.interlockUnlocked = component.Add[bool](&b.Base, ChannelInterlockUnlocked)
	b.contactorTarget = component.Add[bool](&b.Base, ChannelContactorTarget)
	b.systemReset = component.Add[bool](&b.Base, ChannelSystemReset)
	b.stateMachine = component.Add[State](&b.Base, ChannelStateMachine)
	b.startStop = component.Add[StartStop](&b.Base, ChannelStartStop)
	b.hardwareFault = component.Add[channel.Level](&b.Base, ChannelHardwareFault)
	b.runFailed = component.Add[channel.Level](&b.Base, ChannelRunFailed)
	b.maxStartTime = component.Add[channel.Level](&b.Base, ChannelMaxStartTime)
	b.maxStopTime = component.Add[channel.Level](&b.Base, ChannelMaxStopTime)
	b.maxRetriesReached = component.Add[channel.Level](&b.Base, ChannelMaxRetriesReached)
	// Status is declared after its children so it freezes in the same tick.
	b.status = component.Add[channel.Level](&b.Base, ChannelStatus)
	b.rollup = channel.NewRollup(b.status, cfg.StatusRollup,
		b.hardwareFault, b.runFailed, b.maxStartTime, b.maxStopTime, b.maxRetriesReached)

	b.sm = statemachine.MustNew(StateUndefined, newHandlers())
	b.sm.OnTransition(func(from, to State) {
		b.logger.Info("battery state changed", "from", from, "to", to)
	})
	b.stateMachine.SetNextValue(StateUndefined)
	return b
}

// Step performs one state-machine step on the frozen process image. Its
// signature matches engine.PhaseHook.
func (b *Battery) Step(_ context.Context, _ uint64) error {
	fault := b.fault.Value().OrElse(false)
	b.hardwareFault.SetNextValue(levelIf(fault, channel.LevelFault))

	err := b.sm.Run(&Context{Clock: b.clock, Battery: b, Config: b.cfg})

	state := b.sm.Current()
	b.stateMachine.SetNextValue(state)
	b.startStop.SetNextValue(reportedStartStop(state))
	b.runFailed.SetNextValue(levelIf(err != nil, channel.LevelFault))
	if err != nil {
		return fmt.Errorf("battery %s: %w", b.ID(), err)
	}
	return nil
}

// State returns the live state-machine state.
func (b *Battery) State() State {
	return b.sm.Current()
}

// IsRunning reports whether the frozen process image shows the battery
// RUNNING. Controllers use it to decide whether setpoints are meaningful.
func (b *Battery) IsRunning() bool {
	return b.stateMachine.Value().OrElse(StateUndefined) == StateRunning
}

// SetStartStop sets the requested start/stop target. A changed target
// resets the automatic retry budget.
func (b *Battery) SetStartStop(target StartStop) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.target == target {
		return
	}
	b.logger.Info("start/stop target changed", "from", b.target, "to", target)
	b.target = target
	b.retries = 0
}

// StartStopTarget returns the effective target after applying the
// configured StartStopMode.
func (b *Battery) StartStopTarget() StartStop {
	switch b.cfg.StartStop {
	case ModeStart:
		return StartStopStart
	case ModeStop:
		return StartStopStop
	default:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.target
	}
}

// ForceState overrides the next step's transition. Used by operators to
// pull a battery out of a stuck ERROR state.
func (b *Battery) ForceState(s State) {
	b.sm.ForceNextState(s)
}

// Retries returns the number of ERROR entries since the last success.
func (b *Battery) Retries() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.retries
}

func (b *Battery) countRetry() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries++
	return b.retries
}

func (b *Battery) resetRetries() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retries = 0
}

// Channel accessors for bridges, controllers and tests.

func (b *Battery) Soc() *channel.Channel[int]                         { return b.soc }
func (b *Battery) ActivePower() *channel.Channel[int]                 { return b.activePower }
func (b *Battery) SetActivePower() *channel.Channel[int]              { return b.setActivePower }
func (b *Battery) Fault() *channel.Channel[bool]                      { return b.fault }
func (b *Battery) Started() *channel.Channel[bool]                    { return b.started }
func (b *Battery) InterlockUnlocked() *channel.Channel[bool]          { return b.interlockUnlocked }
func (b *Battery) ContactorTarget() *channel.Channel[bool]            { return b.contactorTarget }
func (b *Battery) SystemReset() *channel.Channel[bool]                { return b.systemReset }
func (b *Battery) StateMachine() *channel.Channel[State]              { return b.stateMachine }
func (b *Battery) StartStop() *channel.Channel[StartStop]             { return b.startStop }
func (b *Battery) RunFailed() *channel.Channel[channel.Level]         { return b.runFailed }
func (b *Battery) MaxStartTime() *channel.Channel[channel.Level]      { return b.maxStartTime }
func (b *Battery) MaxStopTime() *channel.Channel[channel.Level]       { return b.maxStopTime }
func (b *Battery) MaxRetriesReached() *channel.Channel[channel.Level] { return b.maxRetriesReached }
func (b *Battery) Status() *channel.Channel[channel.Level]            { return b.status }

// DebugLog implements component.Debugger.
func (b *Battery) DebugLog() string {
	return fmt.Sprintf("%s SoC:%s P:%s", b.stateMachine.Value(), b.soc.Value(), b.activePower.Value())
}

func reportedStartStop(s State) StartStop {
	switch s {
	case StateRunning:
		return StartStopStart
	case StateStopped:
		return StartStopStop
	default:
		return StartStopUndefined
	}
}

func levelIf(cond bool, l channel.Level) channel.Level {
	if cond {
		return l
	}
	return channel.LevelOK
}
