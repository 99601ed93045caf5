// Package harness runs battery scenarios against the real scan cycle.
//
// A scenario stages hardware inputs, moves a manual clock and ticks the
// cycle; the battery state machine steps on the frozen process image just
// as it does in a plant. Each tick is recorded as a TraceEvent, expectations
// are checked after every step and assertions over the whole trace at the
// end. Traces are deterministic and can be pinned as golden files.
//
// # Scenario Format
//
//	name: start_sequence
//	description: "Battery starts once the interlock releases"
//	battery:
//	  start_settle: 2s
//	steps:
//	  - advance: 1s
//	    target: START
//	    inputs: {Soc: 50, Fault: false, Started: false, InterlockUnlocked: false}
//	    expect:
//	      state: GO_RUNNING
//	      writes: {ContactorTarget: true}
//	  - advance: 1s
//	    repeat: 3
//	    inputs: {InterlockUnlocked: true, Started: true}
//	    expect:
//	      channels: {StartStop: START}
//	assertions:
//	  - type: state_sequence
//	    states: [GO_RUNNING, RUNNING]
//	  - type: write_count
//	    channel: ContactorTarget
//	    value: true
//	    count: 3
//
// Channel names are the CamelCase names of the battery channels. Inputs
// persist until restaged; null stages undefined.
//
// # Assertion Types
//
//   - state_sequence: the states occur in the given order
//   - never_state: none of the states occurs
//   - write_count: a write channel was written exactly count times
//     (optionally only counting one value)
//   - final_channel: the last value a channel took
package harness
