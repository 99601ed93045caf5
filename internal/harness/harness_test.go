package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "testdata/scenarios"

func parse(t *testing.T, doc string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(doc))
	require.NoError(t, err)
	return s
}

func TestRun_Scenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join(scenariosDir, "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			s, err := LoadScenario(file)
			require.NoError(t, err)

			result, err := RunWithGolden(t, filepath.Join(scenariosDir, GoldenDir), s)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_StartTimeoutExhaustsRetries(t *testing.T) {
	s := parse(t, `
name: start_timeout
description: "GO_RUNNING escapes to ERROR and retries are bounded"
battery:
  max_start_time: 5s
  retry_window: 1s
  max_retries: 1
steps:
  - advance: 1s
    target: START
    inputs: {Soc: 50, Fault: false, Started: false, InterlockUnlocked: false}
    expect: {state: GO_RUNNING}
  - advance: 1s
    repeat: 5
    expect: {state: GO_RUNNING}
  - advance: 1s
    expect:
      state: ERROR
      writes: {ContactorTarget: false}
  - advance: 1s
    expect:
      state: UNDEFINED
      channels: {MaxStartTime: WARNING, Status: WARNING}
      writes: {SystemReset: true}
  - advance: 1s
    expect: {state: GO_RUNNING}
  - advance: 1s
    repeat: 6
    expect: {state: ERROR}
  - advance: 5s
    expect:
      state: ERROR
      channels: {MaxRetriesReached: OK}
  - advance: 1s
    expect:
      state: ERROR
      channels: {MaxRetriesReached: FAULT, MaxStartTime: WARNING, Status: FAULT}
  - advance: 1s
    target: STOP
    expect: {state: ERROR}
  - advance: 1s
    expect: {state: UNDEFINED}
assertions:
  - type: state_sequence
    states: [GO_RUNNING, ERROR, UNDEFINED, GO_RUNNING, ERROR, UNDEFINED]
  - type: write_count
    channel: SystemReset
    count: 2
  - type: never_state
    states: [RUNNING]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Len(t, result.Trace, 19)
	assert.Equal(t, "23s", result.Trace[len(result.Trace)-1].Elapsed)
}

func TestRun_ForceState(t *testing.T) {
	s := parse(t, `
name: force
description: "An operator forces the battery out of ERROR"
steps:
  - advance: 1s
    inputs: {Fault: true, Started: false}
    expect: {state: ERROR}
  - advance: 1s
    force: UNDEFINED
    inputs: {Fault: false}
    expect:
      state: UNDEFINED
      writes: {SystemReset: true}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, []string{"ERROR", "UNDEFINED"}, result.States())
}

func TestRun_UndefinedInputKeepsWaiting(t *testing.T) {
	s := parse(t, `
name: settle
description: "UNDEFINED waits for hardware values, then times out"
battery:
  settle_timeout: 10s
steps:
  - advance: 1s
    inputs: {Fault: false, Started: null}
    repeat: 10
    expect: {state: UNDEFINED}
  - advance: 1s
    expect: {state: UNDEFINED}
  - advance: 1s
    expect: {state: ERROR}
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s := parse(t, `
name: wrong
description: "Expectations that do not hold"
steps:
  - advance: 1s
    target: START
    inputs: {Fault: false, Started: false}
    expect:
      state: RUNNING
      channels: {Soc: 50}
      writes: {ContactorTarget: false}
assertions:
  - type: never_state
    states: [GO_RUNNING]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Equal(t, "steps[0]: state: expected RUNNING, got GO_RUNNING", result.Errors[0])
	assert.Equal(t, "steps[0]: channel Soc: expected 50, got undefined", result.Errors[1])
	assert.Equal(t, "steps[0]: write ContactorTarget: expected false, got true", result.Errors[2])
	assert.Contains(t, result.Errors[3], "assertions[0]: Assertion failed: never_state")
}

func TestRun_InputErrors(t *testing.T) {
	t.Run("unknown channel", func(t *testing.T) {
		s := parse(t, `
name: unknown
description: "x"
steps:
  - inputs: {Voltage: 400}
`)
		_, err := Run(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "steps[0]")
	})
	t.Run("wrong type", func(t *testing.T) {
		s := parse(t, `
name: wrong_type
description: "x"
steps:
  - inputs: {Fault: "yes"}
`)
		_, err := Run(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "input Fault")
	})
}
