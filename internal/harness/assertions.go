package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s", ev.Tick, ev.Elapsed, ev.State)
		if len(ev.Writes) > 0 {
			fmt.Fprintf(&buf, " writes=%v", ev.Writes)
		}
		buf.WriteByte('\n')
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against the result's trace and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertStateSequence:
			err = assertStateSequence(result, a)
		case AssertNeverState:
			err = assertNeverState(result, a)
		case AssertWriteCount:
			err = assertWriteCount(result.Trace, a)
		case AssertFinalChannel:
			err = assertFinalChannel(result.Trace, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// assertStateSequence checks that the states appear in the given order.
// Other states may occur in between.
func assertStateSequence(result *Result, a Assertion) error {
	seen := result.States()
	pos := 0
	for _, want := range a.States {
		idx := slices.IndexFunc(seen[pos:], func(s string) bool { return strings.EqualFold(s, want) })
		if idx < 0 {
			return &AssertionError{
				Type:     AssertStateSequence,
				Expected: fmt.Sprintf("states in order: %v", a.States),
				Actual:   fmt.Sprintf("%s missing after position %d in %v", want, pos, seen),
				Trace:    result.Trace,
			}
		}
		pos += idx + 1
	}
	return nil
}

// assertNeverState checks that none of the states was ever entered.
func assertNeverState(result *Result, a Assertion) error {
	for _, ev := range result.Trace {
		for _, forbidden := range a.States {
			if strings.EqualFold(ev.State, forbidden) {
				return &AssertionError{
					Type:     AssertNeverState,
					Expected: fmt.Sprintf("never in %v", a.States),
					Actual:   fmt.Sprintf("%s at tick %d", ev.State, ev.Tick),
					Trace:    result.Trace,
				}
			}
		}
	}
	return nil
}

// assertWriteCount counts the ticks that wrote the channel. A nil Value
// counts every write; otherwise only writes of that value.
func assertWriteCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		v, ok := ev.Writes[a.Channel]
		if !ok {
			continue
		}
		if a.Value == nil || sameValue(a.Value, v) {
			count++
		}
	}

	if count != a.Count {
		what := a.Channel
		if a.Value != nil {
			what = fmt.Sprintf("%s=%v", a.Channel, a.Value)
		}
		return &AssertionError{
			Type:     AssertWriteCount,
			Expected: fmt.Sprintf("%d writes of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d writes", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalChannel checks the last value the channel took. Channels
// start undefined, so a channel that never changed is undefined.
func assertFinalChannel(trace []TraceEvent, a Assertion) error {
	var final any
	for _, ev := range trace {
		if v, ok := ev.Changed[a.Channel]; ok {
			final = v
		}
	}
	if !sameValue(a.Value, final) {
		return &AssertionError{
			Type:     AssertFinalChannel,
			Expected: fmt.Sprintf("%s = %s", a.Channel, formatValue(a.Value)),
			Actual:   fmt.Sprintf("%s = %s", a.Channel, formatValue(final)),
			Trace:    trace,
		}
	}
	return nil
}
