package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/config"
)

// DefaultBatteryID is used when a scenario's battery has no id.
const DefaultBatteryID = "battery0"

// Scenario drives one battery through a sequence of ticks.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Battery holds the state-machine tunables; unset values take the
	// defaults.
	Battery config.Battery `yaml:"battery"`

	// Steps run in order; each step is one or more ticks.
	Steps []Step `yaml:"steps"`

	// Assertions validate the whole trace after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step stages inputs, advances the clock and runs the cycle.
type Step struct {
	// Advance moves the clock before every tick of this step.
	Advance config.Duration `yaml:"advance"`

	// Repeat runs the step this many times; zero means once.
	Repeat int `yaml:"repeat,omitempty"`

	// Inputs stages hardware values by channel name ("Soc", "Fault",
	// "Started", "InterlockUnlocked"). Null stages undefined. Staged
	// values persist until changed.
	Inputs map[string]any `yaml:"inputs,omitempty"`

	// Target requests START or STOP through SetStartStop.
	Target string `yaml:"target,omitempty"`

	// Force jumps the state machine to a state before the tick.
	Force string `yaml:"force,omitempty"`

	// Expect is checked after the last tick of the step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes the battery after a step.
type Expect struct {
	// State is the state-machine state.
	State string `yaml:"state,omitempty"`

	// Channels maps channel names to their current values. Null expects
	// undefined.
	Channels map[string]any `yaml:"channels,omitempty"`

	// Writes maps write channel names to the command the hardware took in
	// the last tick.
	Writes map[string]any `yaml:"writes,omitempty"`
}

// Assertion validates the full trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// States is the expected order of state changes (state_sequence).
	States []string `yaml:"states,omitempty"`

	// Channel names a channel (write_count, final_channel).
	Channel string `yaml:"channel,omitempty"`

	// Value is the write value to count, or the final value expected.
	Value any `yaml:"value,omitempty"`

	// Count is the expected number of writes (write_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStateSequence = "state_sequence"
	AssertWriteCount    = "write_count"
	AssertFinalChannel  = "final_channel"
	AssertNeverState    = "never_state"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Battery.ID == "" {
		scenario.Battery.ID = DefaultBatteryID
	}
	scenario.Battery.ApplyDefaults()

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Repeat < 0 {
			return fmt.Errorf("steps[%d]: repeat must be non-negative", i)
		}
		if step.Target != "" {
			if _, err := battery.ParseStartStop(step.Target); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
		if step.Force != "" {
			if _, err := battery.ParseState(step.Force); err != nil {
				return fmt.Errorf("steps[%d]: %w", i, err)
			}
		}
		if step.Expect != nil && step.Expect.State != "" {
			if _, err := battery.ParseState(step.Expect.State); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStateSequence:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for state_sequence", index)
		}
	case AssertNeverState:
		if len(a.States) == 0 {
			return fmt.Errorf("assertions[%d]: states list is required for never_state", index)
		}
	case AssertWriteCount:
		if a.Channel == "" {
			return fmt.Errorf("assertions[%d]: channel is required for write_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for write_count", index)
		}
	case AssertFinalChannel:
		if a.Channel == "" {
			return fmt.Errorf("assertions[%d]: channel is required for final_channel", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
