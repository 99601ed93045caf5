package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Tick: 1, Elapsed: "1s", State: "GO_RUNNING", Writes: map[string]any{"ContactorTarget": true},
			Changed: map[string]any{"Soc": 50, "StateMachine": "UNDEFINED"}},
		{Tick: 2, Elapsed: "2s", State: "GO_RUNNING", Writes: map[string]any{"ContactorTarget": true},
			Changed: map[string]any{"StateMachine": "GO_RUNNING"}},
		{Tick: 3, Elapsed: "3s", State: "ERROR", Writes: map[string]any{"ContactorTarget": false},
			Changed: map[string]any{"Soc": nil}},
		{Tick: 4, Elapsed: "4s", State: "UNDEFINED", Writes: map[string]any{"SystemReset": true}},
	}
	return r
}

func TestResult_States(t *testing.T) {
	assert.Equal(t, []string{"GO_RUNNING", "ERROR", "UNDEFINED"}, sampleTrace().States())
	assert.Empty(t, NewResult().States())
}

func TestAssertStateSequence(t *testing.T) {
	r := sampleTrace()

	assert.NoError(t, assertStateSequence(r, Assertion{States: []string{"GO_RUNNING", "UNDEFINED"}}))
	assert.NoError(t, assertStateSequence(r, Assertion{States: []string{"error"}}), "case-insensitive")

	err := assertStateSequence(r, Assertion{Type: AssertStateSequence, States: []string{"ERROR", "GO_RUNNING"}})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, AssertStateSequence, aerr.Type)
	assert.Contains(t, aerr.Actual, "GO_RUNNING missing after position 2")
	assert.Len(t, aerr.Trace, 4)
}

func TestAssertNeverState(t *testing.T) {
	r := sampleTrace()
	assert.NoError(t, assertNeverState(r, Assertion{States: []string{"RUNNING", "STOPPED"}}))

	err := assertNeverState(r, Assertion{States: []string{"RUNNING", "ERROR"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR at tick 3")
}

func TestAssertWriteCount(t *testing.T) {
	trace := sampleTrace().Trace

	assert.NoError(t, assertWriteCount(trace, Assertion{Channel: "ContactorTarget", Count: 3}))
	assert.NoError(t, assertWriteCount(trace, Assertion{Channel: "ContactorTarget", Value: true, Count: 2}))
	assert.NoError(t, assertWriteCount(trace, Assertion{Channel: "SetActivePower", Count: 0}))

	err := assertWriteCount(trace, Assertion{Channel: "ContactorTarget", Value: false, Count: 2})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "2 writes of ContactorTarget=false", aerr.Expected)
	assert.Equal(t, "1 writes", aerr.Actual)
}

func TestAssertFinalChannel(t *testing.T) {
	trace := sampleTrace().Trace

	assert.NoError(t, assertFinalChannel(trace, Assertion{Channel: "StateMachine", Value: "GO_RUNNING"}))
	assert.NoError(t, assertFinalChannel(trace, Assertion{Channel: "Soc"}), "went undefined")
	assert.NoError(t, assertFinalChannel(trace, Assertion{Channel: "Fault"}), "never defined")

	err := assertFinalChannel(trace, Assertion{Channel: "Soc", Value: 50})
	require.Error(t, err)
	var aerr *AssertionError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "Soc = 50", aerr.Expected)
	assert.Equal(t, "Soc = undefined", aerr.Actual)
}

func TestEvaluateAssertions(t *testing.T) {
	errs := EvaluateAssertions(sampleTrace(), []Assertion{
		{Type: AssertStateSequence, States: []string{"GO_RUNNING", "ERROR"}},
		{Type: AssertWriteCount, Channel: "SystemReset", Count: 2},
		{Type: "bogus"},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "assertions[1]: Assertion failed: write_count")
	assert.Equal(t, `assertions[2]: unknown assertion type "bogus"`, errs[1])
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertWriteCount,
		Expected: "1 writes of SystemReset",
		Actual:   "0 writes",
		Trace:    sampleTrace().Trace[:1],
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: write_count")
	assert.Contains(t, msg, "Expected: 1 writes of SystemReset")
	assert.Contains(t, msg, "Actual: 0 writes")
	assert.Contains(t, msg, "[1] 1s GO_RUNNING writes=map[ContactorTarget:true]")
}
