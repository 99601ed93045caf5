package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newLevel(component, name string) *Channel[Level] {
	return New[Level](component, NewID(name, TypeEnum))
}

func freezeAll(chs ...*Channel[Level]) {
	for _, ch := range chs {
		ch.Freeze()
	}
}

func TestRollup_StrictTakesHighestLevel(t *testing.T) {
	parent := newLevel("b", "STATUS")
	a := newLevel("b", "ALARM")
	c := newLevel("b", "COMMUNICATION_ALARM")
	NewRollup(parent, RollupStrict, a, c)

	// Initial aggregate with undefined children
	parent.Freeze()
	assert.Equal(t, Defined(LevelOK), parent.Value())

	a.SetNextValue(LevelOK)
	c.SetNextValue(LevelWarning)
	freezeAll(a, c, parent)
	assert.Equal(t, Defined(LevelWarning), parent.Value())

	a.SetNextValue(LevelFault)
	freezeAll(a, c, parent)
	assert.Equal(t, Defined(LevelFault), parent.Value())

	a.SetNextValue(LevelOK)
	c.SetNextValue(LevelOK)
	freezeAll(a, c, parent)
	assert.Equal(t, Defined(LevelOK), parent.Value())
}

func TestRollup_CompatEscalatesWarningToFault(t *testing.T) {
	parent := newLevel("b", "STATUS")
	a := newLevel("b", "ALARM")
	NewRollup(parent, RollupCompat, a)

	a.SetNextValue(LevelInfo)
	freezeAll(a, parent)
	assert.Equal(t, Defined(LevelInfo), parent.Value())

	a.SetNextValue(LevelWarning)
	freezeAll(a, parent)
	assert.Equal(t, Defined(LevelFault), parent.Value())
}

func TestRollup_ParentFrozenBeforeChildLagsOneTick(t *testing.T) {
	parent := newLevel("b", "STATUS")
	a := newLevel("b", "ALARM")
	NewRollup(parent, RollupStrict, a)
	freezeAll(parent)

	a.SetNextValue(LevelFault)
	freezeAll(parent, a) // parent frozen first: sees the old aggregate
	assert.Equal(t, Defined(LevelOK), parent.Value())

	freezeAll(parent, a)
	assert.Equal(t, Defined(LevelFault), parent.Value())
}

func TestLevel_String(t *testing.T) {
	assert.Equal(t, "FAULT", LevelFault.String())
	assert.Equal(t, "LEVEL(9)", Level(9).String())
}
