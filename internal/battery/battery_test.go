package battery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/component"
	"github.com/roach88/edgecycle/internal/engine"
	"github.com/roach88/edgecycle/internal/events"
	"github.com/roach88/edgecycle/internal/testutil"
)

func testConfig() Config {
	return Config{
		StartStop:     ModeAuto,
		SettleTimeout: 60 * time.Second,
		StartSettle:   10 * time.Second,
		StopSettle:    10 * time.Second,
		MaxStartTime:  2 * time.Minute,
		MaxStopTime:   2 * time.Minute,
		RetryWindow:   60 * time.Second,
		MaxRetries:    3,
		StatusRollup:  channel.RollupStrict,
	}
}

type rig struct {
	t     *testing.T
	clock *testutil.ManualClock
	bat   *Battery
	cycle *engine.Cycle
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	clk := testutil.NewManualClock()
	bat := New("battery0", cfg, WithClock(clk))

	reg := component.NewRegistry()
	require.NoError(t, reg.Register(bat))
	cycle, err := engine.New(reg, engine.SchedulerFunc(func(context.Context, time.Time) ([]string, error) {
		return nil, nil
	}), engine.WithClock(clk))
	require.NoError(t, err)
	cycle.On(events.TopicAfterProcessImage, bat.ID(), bat.Step)

	return &rig{t: t, clock: clk, bat: bat, cycle: cycle}
}

// hardware stages the hardware-reported inputs for the next tick.
func (r *rig) hardware(fault, started, unlocked bool) {
	r.bat.Fault().SetNextValue(fault)
	r.bat.Started().SetNextValue(started)
	r.bat.InterlockUnlocked().SetNextValue(unlocked)
}

func (r *rig) tick(advance time.Duration) State {
	r.t.Helper()
	r.clock.Advance(advance)
	r.cycle.RunOnce(context.Background())
	return r.bat.State()
}

// =============================================================================
// Start/stop scenario
// =============================================================================

func TestBattery_StartStopScenario(t *testing.T) {
	r := newRig(t, testConfig())
	r.bat.SetStartStop(StartStopStop)
	r.hardware(false, false, false)

	// UNDEFINED, no fault, not started: one step to GO_STOPPED.
	require.Equal(t, StateGoStopped, r.tick(0))
	contactor, ok := r.bat.ContactorTarget().TakeNextWriteValue()
	require.True(t, ok)
	assert.False(t, contactor, "GO_STOPPED opens the contactor")

	// Settle duration not yet elapsed.
	require.Equal(t, StateGoStopped, r.tick(5*time.Second))
	require.Equal(t, StateStopped, r.tick(6*time.Second))

	// START while STOPPED.
	r.bat.SetStartStop(StartStopStart)
	require.Equal(t, StateGoRunning, r.tick(time.Second))
	contactor, ok = r.bat.ContactorTarget().TakeNextWriteValue()
	require.True(t, ok)
	assert.True(t, contactor, "GO_RUNNING closes the contactor")

	// Settle elapsed but interlock still locked.
	require.Equal(t, StateGoRunning, r.tick(11*time.Second))
	r.hardware(false, true, true)
	require.Equal(t, StateRunning, r.tick(time.Second))

	// Fault while RUNNING escalates immediately.
	r.hardware(true, true, true)
	require.Equal(t, StateError, r.tick(time.Second))

	// Fault cleared, but still inside the retry window.
	r.hardware(false, false, false)
	require.Equal(t, StateError, r.tick(30*time.Second))

	_, pending := r.bat.SystemReset().TakeNextWriteValue()
	assert.False(t, pending)
	require.Equal(t, StateUndefined, r.tick(31*time.Second))
	reset, ok := r.bat.SystemReset().TakeNextWriteValue()
	require.True(t, ok)
	assert.True(t, reset, "leaving ERROR requests a system reset")

	// Target is still START: the retry restarts the battery.
	require.Equal(t, StateGoRunning, r.tick(time.Second))
}

func TestBattery_StatePublishedOnChannels(t *testing.T) {
	r := newRig(t, testConfig())
	r.bat.SetStartStop(StartStopStop)
	r.hardware(false, false, false)

	r.tick(0)
	r.tick(11 * time.Second)
	require.Equal(t, StateStopped, r.bat.State())

	// Staged during the step, visible after the next freeze.
	r.tick(0)
	assert.Equal(t, channel.Defined(StateStopped), r.bat.StateMachine().Value())
	assert.Equal(t, channel.Defined(StartStopStop), r.bat.StartStop().Value())
	assert.Equal(t, channel.Defined(channel.LevelOK), r.bat.Status().Value())
	assert.False(t, r.bat.IsRunning())
	assert.Contains(t, r.bat.DebugLog(), "STOPPED")
}

func TestBattery_AlreadyStartedGoesStraightToRunning(t *testing.T) {
	r := newRig(t, testConfig())
	r.hardware(false, true, true)

	assert.Equal(t, StateRunning, r.tick(0))

	r.bat.SetStartStop(StartStopStop)
	assert.Equal(t, StateGoStopped, r.tick(0))
}

// =============================================================================
// Time-bounded escapes
// =============================================================================

func TestBattery_UndefinedSettleTimeout(t *testing.T) {
	r := newRig(t, testConfig())
	// Fault and Started never become defined.

	assert.Equal(t, StateUndefined, r.tick(0))
	assert.Equal(t, StateUndefined, r.tick(59*time.Second))
	assert.Equal(t, StateError, r.tick(2*time.Second))
}

func TestBattery_GoRunningTimeout(t *testing.T) {
	r := newRig(t, testConfig())
	r.bat.SetStartStop(StartStopStart)
	r.hardware(false, false, false)

	require.Equal(t, StateGoRunning, r.tick(0))
	require.Equal(t, StateGoRunning, r.tick(time.Minute))
	require.Equal(t, StateError, r.tick(61*time.Second))

	// MaxStartTime is a WARNING; strict rollup keeps Status at WARNING.
	r.tick(0)
	assert.Equal(t, channel.Defined(channel.LevelWarning), r.bat.MaxStartTime().Value())
	assert.Equal(t, channel.Defined(channel.LevelWarning), r.bat.Status().Value())
}

func TestBattery_GoStoppedTimeoutWithUndefinedStarted(t *testing.T) {
	cfg := testConfig()
	r := newRig(t, cfg)
	r.bat.SetStartStop(StartStopStop)
	r.hardware(false, false, false)
	require.Equal(t, StateGoStopped, r.tick(0))

	// Hardware stops reporting: the step fails but is still time-bounded.
	r.bat.Started().SetNextUndefined()
	assert.Equal(t, StateGoStopped, r.tick(time.Second))
	r.tick(0)
	assert.Equal(t, channel.Defined(channel.LevelFault), r.bat.RunFailed().Value())

	assert.Equal(t, StateError, r.tick(cfg.MaxStopTime))
}

func TestBattery_CompatRollupEscalatesWarnings(t *testing.T) {
	cfg := testConfig()
	cfg.StatusRollup = channel.RollupCompat
	r := newRig(t, cfg)
	r.bat.SetStartStop(StartStopStart)
	r.hardware(false, false, false)

	r.tick(0)
	require.Equal(t, StateError, r.tick(3*time.Minute))
	r.tick(0)

	assert.Equal(t, channel.Defined(channel.LevelWarning), r.bat.MaxStartTime().Value())
	assert.Equal(t, channel.Defined(channel.LevelFault), r.bat.Status().Value())
}

// =============================================================================
// Retry budget
// =============================================================================

func TestBattery_RetriesAreBounded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	r := newRig(t, cfg)
	r.bat.SetStartStop(StartStopStart)

	// First failure: retry allowed.
	r.hardware(true, false, false)
	require.Equal(t, StateError, r.tick(0))
	assert.Equal(t, 1, r.bat.Retries())
	r.hardware(false, false, false)
	require.Equal(t, StateUndefined, r.tick(61*time.Second))

	// Second failure before reaching a steady state: budget exhausted.
	r.hardware(true, false, false)
	require.Equal(t, StateError, r.tick(0))
	r.hardware(false, false, false)
	require.Equal(t, StateError, r.tick(5*time.Minute))
	r.tick(0)
	assert.Equal(t, channel.Defined(channel.LevelFault), r.bat.MaxRetriesReached().Value())

	// A new target restores the budget; the retry window starts again.
	r.bat.SetStartStop(StartStopStop)
	require.Equal(t, StateError, r.tick(0))
	require.Equal(t, StateUndefined, r.tick(61*time.Second))
	require.Equal(t, StateGoStopped, r.tick(0))
	require.Equal(t, StateStopped, r.tick(11*time.Second))
	assert.Equal(t, 0, r.bat.Retries())
}

func TestBattery_ForcedStartStopMode(t *testing.T) {
	cfg := testConfig()
	cfg.StartStop = ModeStart
	r := newRig(t, cfg)
	r.bat.SetStartStop(StartStopStop)
	r.hardware(false, false, false)

	assert.Equal(t, StartStopStart, r.bat.StartStopTarget())
	assert.Equal(t, StateGoRunning, r.tick(0))
}

func TestBattery_ForceState(t *testing.T) {
	r := newRig(t, testConfig())
	r.hardware(true, false, false)
	require.Equal(t, StateError, r.tick(0))

	r.bat.ForceState(StateUndefined)
	r.hardware(false, false, false)
	assert.Equal(t, StateUndefined, r.tick(0))
	_, ok := r.bat.SystemReset().TakeNextWriteValue()
	assert.True(t, ok)
}

// =============================================================================
// Enumerations
// =============================================================================

func TestParseState(t *testing.T) {
	for _, s := range []State{StateUndefined, StateGoRunning, StateRunning, StateGoStopped, StateStopped, StateError} {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseState("EXPLODED")
	assert.Error(t, err)
	assert.Equal(t, "STATE(42)", State(42).String())
}

func TestParseStartStop(t *testing.T) {
	got, err := ParseStartStop("start")
	require.NoError(t, err)
	assert.Equal(t, StartStopStart, got)

	got, err = ParseStartStop("")
	require.NoError(t, err)
	assert.Equal(t, StartStopUndefined, got)

	_, err = ParseStartStop("pause")
	assert.Error(t, err)
}
