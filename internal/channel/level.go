package channel

import "fmt"

// Level is the severity of a status channel.
type Level int

const (
	LevelOK Level = iota
	LevelInfo
	LevelWarning
	LevelFault
)

func (l Level) String() string {
	switch l {
	case LevelOK:
		return "OK"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelFault:
		return "FAULT"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// RollupMode selects how child levels escalate into the parent.
type RollupMode int

const (
	// RollupStrict sets the parent to the highest child level.
	RollupStrict RollupMode = iota
	// RollupCompat escalates the parent to FAULT as soon as any child
	// reports WARNING or FAULT.
	RollupCompat
)

// Rollup derives a parent status channel from child level channels.
//
// It listens to child freezes and stages the aggregate on the parent, so
// the parent reflects a child change after the parent's next freeze.
// Undefined children are ignored; with no defined children the parent is
// staged as LevelOK.
type Rollup struct {
	parent   *Channel[Level]
	children []*Channel[Level]
	mode     RollupMode
}

// NewRollup wires children into parent and stages the initial aggregate.
func NewRollup(parent *Channel[Level], mode RollupMode, children ...*Channel[Level]) *Rollup {
	r := &Rollup{parent: parent, children: children, mode: mode}
	for _, child := range children {
		child.OnChange(func(_, _ Value[Level]) {
			r.recompute()
		})
	}
	r.recompute()
	return r
}

// Level computes the aggregate from the children's current values.
func (r *Rollup) Level() Level {
	highest := LevelOK
	for _, child := range r.children {
		l, ok := child.Value().Get()
		if !ok {
			continue
		}
		if r.mode == RollupCompat && (l == LevelWarning || l == LevelFault) {
			return LevelFault
		}
		if l > highest {
			highest = l
		}
	}
	return highest
}

func (r *Rollup) recompute() {
	r.parent.SetNextValue(r.Level())
}
