package battery

import (
	"fmt"
	"strings"
)

// State is a battery start/stop sequencing state.
type State int

const (
	// StateUndefined waits for hardware values to settle, then picks a
	// direction.
	StateUndefined State = iota
	StateGoRunning
	StateRunning
	StateGoStopped
	StateStopped
	StateError
)

var stateNames = map[State]string{
	StateUndefined: "UNDEFINED",
	StateGoRunning: "GO_RUNNING",
	StateRunning:   "RUNNING",
	StateGoStopped: "GO_STOPPED",
	StateStopped:   "STOPPED",
	StateError:     "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// ParseState parses an upper-case state name.
func ParseState(s string) (State, error) {
	for state, name := range stateNames {
		if strings.EqualFold(name, s) {
			return state, nil
		}
	}
	return StateUndefined, fmt.Errorf("unknown battery state %q", s)
}

// StartStop is the requested or reported start/stop condition.
type StartStop int

const (
	StartStopUndefined StartStop = iota
	StartStopStart
	StartStopStop
)

func (s StartStop) String() string {
	switch s {
	case StartStopStart:
		return "START"
	case StartStopStop:
		return "STOP"
	default:
		return "UNDEFINED"
	}
}

// ParseStartStop parses "START", "STOP" or "UNDEFINED".
func ParseStartStop(s string) (StartStop, error) {
	switch strings.ToUpper(s) {
	case "START":
		return StartStopStart, nil
	case "STOP":
		return StartStopStop, nil
	case "", "UNDEFINED":
		return StartStopUndefined, nil
	default:
		return StartStopUndefined, fmt.Errorf("unknown start/stop value %q", s)
	}
}

// StartStopMode decides where the start/stop target comes from.
type StartStopMode string

const (
	// ModeAuto follows SetStartStop.
	ModeAuto StartStopMode = "AUTO"
	// ModeStart always targets START.
	ModeStart StartStopMode = "START"
	// ModeStop always targets STOP.
	ModeStop StartStopMode = "STOP"
)
