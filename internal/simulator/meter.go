package simulator

import (
	"context"
	"time"

	"github.com/roach88/edgecycle/internal/bridge"
	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/component"
)

// ChannelGridActivePower is the grid meter's measurement. Positive values
// are drawn from the grid.
var ChannelGridActivePower = channel.NewID("ACTIVE_POWER", channel.TypeInteger).WithUnit(channel.UnitWatt).WithText("Grid power; positive buys from the grid")

// PowerSource reports the power a simulated storage currently delivers.
type PowerSource interface {
	Power() int
}

// Profile returns the household load at a point in time.
type Profile interface {
	At(t time.Time) int
}

// Constant is a flat load profile.
type Constant int

// At implements Profile.
func (c Constant) At(time.Time) int { return int(c) }

// Stepped cycles through Values, holding each for Step from Start.
type Stepped struct {
	Start  time.Time
	Step   time.Duration
	Values []int
}

// At implements Profile.
func (s Stepped) At(t time.Time) int {
	if len(s.Values) == 0 {
		return 0
	}
	if s.Step <= 0 || t.Before(s.Start) {
		return s.Values[0]
	}
	i := int(t.Sub(s.Start)/s.Step) % len(s.Values)
	return s.Values[i]
}

// GridMeter measures load minus the discharge of the attached storages.
type GridMeter struct {
	component.Base

	clock    clock.Clock
	load     Profile
	storages []PowerSource

	activePower *channel.Channel[int]
	writeFailed *channel.Channel[bool]
}

// NewGridMeter creates a grid meter component.
func NewGridMeter(id string, load Profile, clk clock.Clock, storages ...PowerSource) *GridMeter {
	m := &GridMeter{
		Base:     component.NewBase(id),
		clock:    clk,
		load:     load,
		storages: storages,
	}
	m.activePower = component.Add[int](&m.Base, ChannelGridActivePower)
	m.writeFailed = component.Add[bool](&m.Base, bridge.ChannelWriteFailed)
	return m
}

// Read stages the current grid power.
func (m *GridMeter) Read(context.Context) error {
	p := m.load.At(m.clock.Now())
	for _, s := range m.storages {
		p -= s.Power()
	}
	m.activePower.SetNextValue(p)
	return nil
}

// Write implements bridge.Device; a meter accepts no commands.
func (m *GridMeter) Write(context.Context) error { return nil }

// WriteFailed implements bridge.Device.
func (m *GridMeter) WriteFailed() *channel.Channel[bool] { return m.writeFailed }

// ActivePower returns the grid power channel.
func (m *GridMeter) ActivePower() *channel.Channel[int] { return m.activePower }
