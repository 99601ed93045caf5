package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/component"
	"github.com/roach88/edgecycle/internal/engine"
	"github.com/roach88/edgecycle/internal/events"
	"github.com/roach88/edgecycle/internal/scheduler"
	"github.com/roach88/edgecycle/internal/testutil"
)

// hardwareHook is the name of the EXECUTE_WRITE hook that stands in for the
// device bridge.
const hardwareHook = "hardware"

// Harness runs one scenario against a real cycle.
type Harness struct {
	clock    *testutil.ManualClock
	registry *component.Registry
	battery  *battery.Battery
	cycle    *engine.Cycle
	writes   map[string]any
}

// Run executes a scenario and returns the result.
//
// Each scenario gets a fresh registry, a ManualClock at
// testutil.DefaultEpoch and a cycle with no controllers. The battery steps
// on AFTER_PROCESS_IMAGE exactly as in a plant; a hook on EXECUTE_WRITE
// takes the write commands the way a bridge would. Hardware inputs come
// only from the scenario, so every trace is reproducible.
//
// An error is returned for scenarios that cannot run (unknown channel,
// value of the wrong type). Failed expectations and assertions are
// reported in Result.Errors.
func Run(s *Scenario) (*Result, error) {
	h, err := newHarness(s)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	start := h.clock.Now()
	result := NewResult()

	for i, step := range s.Steps {
		if err := h.apply(step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		for r := 0; r < max(step.Repeat, 1); r++ {
			h.clock.Advance(step.Advance.Std())
			report := h.cycle.RunOnce(ctx)
			result.Trace = append(result.Trace, TraceEvent{
				Tick:    report.Tick,
				Elapsed: h.clock.Now().Sub(start).String(),
				State:   h.battery.State().String(),
				Writes:  h.writes,
				Changed: h.changed(report.Changed),
			})
		}
		if step.Expect != nil {
			for _, msg := range h.check(step.Expect) {
				result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
			}
		}
	}

	for _, msg := range EvaluateAssertions(result, s.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(s *Scenario) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		clock:    testutil.NewManualClock(),
		registry: component.NewRegistry(),
	}
	h.battery = battery.New(s.Battery.ID, s.Battery.BatteryConfig(),
		battery.WithClock(h.clock),
		battery.WithLogger(logger),
	)
	if err := h.registry.Register(h.battery); err != nil {
		return nil, fmt.Errorf("register battery: %w", err)
	}

	cycle, err := engine.New(h.registry, scheduler.Fixed{},
		engine.WithClock(h.clock),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create cycle: %w", err)
	}
	cycle.On(events.TopicAfterProcessImage, h.battery.ID(), h.battery.Step)
	cycle.On(events.TopicExecuteWrite, hardwareHook, h.takeWrites)
	h.cycle = cycle
	return h, nil
}

// apply stages a step's inputs and requests before its first tick.
func (h *Harness) apply(step Step) error {
	if step.Target != "" {
		target, err := battery.ParseStartStop(step.Target)
		if err != nil {
			return err
		}
		h.battery.SetStartStop(target)
	}
	if step.Force != "" {
		state, err := battery.ParseState(step.Force)
		if err != nil {
			return err
		}
		h.battery.ForceState(state)
	}

	names := make([]string, 0, len(step.Inputs))
	for name := range step.Inputs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		ch, err := h.channel(name)
		if err != nil {
			return err
		}
		setter, ok := ch.(channel.Setter)
		if !ok {
			return fmt.Errorf("input %s: channel does not accept staged values", name)
		}
		if err := setter.SetNextAny(step.Inputs[name]); err != nil {
			return fmt.Errorf("input %s: %w", name, err)
		}
	}
	return nil
}

func (h *Harness) channel(name string) (channel.Freezer, error) {
	return h.registry.Channel(h.battery.ID() + "/" + name)
}

func (h *Harness) takeWrites(context.Context, uint64) error {
	h.writes = nil
	take := func(name string, v any, ok bool) {
		if !ok {
			return
		}
		if h.writes == nil {
			h.writes = make(map[string]any)
		}
		h.writes[name] = v
	}
	b := h.battery
	contactor, ok := b.ContactorTarget().TakeNextWriteValue()
	take(b.ContactorTarget().ID().CamelCase(), contactor, ok)
	reset, ok := b.SystemReset().TakeNextWriteValue()
	take(b.SystemReset().ID().CamelCase(), reset, ok)
	power, ok := b.SetActivePower().TakeNextWriteValue()
	take(b.SetActivePower().ID().CamelCase(), power, ok)
	return nil
}

// changed keeps the battery's own samples, keyed by channel name.
func (h *Harness) changed(samples []events.Sample) map[string]any {
	prefix := h.battery.ID() + "/"
	var out map[string]any
	for _, s := range samples {
		name, ok := strings.CutPrefix(s.Address, prefix)
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		if !s.Defined {
			out[name] = nil
			continue
		}
		out[name] = traceValue(s.Value)
	}
	return out
}

func (h *Harness) check(e *Expect) []string {
	var problems []string
	if e.State != "" {
		want, _ := battery.ParseState(e.State)
		if got := h.battery.State(); got != want {
			problems = append(problems, fmt.Sprintf("state: expected %s, got %s", want, got))
		}
	}

	for _, name := range sortedKeys(e.Channels) {
		ch, err := h.channel(name)
		if err != nil {
			problems = append(problems, fmt.Sprintf("channel %s: %v", name, err))
			continue
		}
		v, ok := ch.Any()
		got := any(nil)
		if ok {
			got = traceValue(v)
		}
		if !sameValue(e.Channels[name], got) {
			problems = append(problems, fmt.Sprintf("channel %s: expected %s, got %s",
				name, formatValue(e.Channels[name]), formatValue(got)))
		}
	}

	for _, name := range sortedKeys(e.Writes) {
		got, ok := h.writes[name]
		if !ok {
			got = nil
		}
		if !sameValue(e.Writes[name], got) {
			problems = append(problems, fmt.Sprintf("write %s: expected %s, got %s",
				name, formatValue(e.Writes[name]), formatValue(got)))
		}
	}
	return problems
}

// traceValue renders enums by name so traces read like the channel
// listing.
func traceValue(v any) any {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return v
}

func formatValue(v any) string {
	if v == nil {
		return "undefined"
	}
	return fmt.Sprint(v)
}

func sameValue(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	return fmt.Sprint(want) == fmt.Sprint(got)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
