// Package startstop implements a controller that starts and stops a
// battery from its state of charge, with hysteresis.
package startstop

import (
	"context"
	"fmt"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/component"
)

// ChannelTarget is the start/stop target the controller last requested.
var ChannelTarget = channel.NewID("TARGET", channel.TypeEnum).WithText("Requested start/stop target")

// Config is the SoC window. The battery is stopped at or below StopBelow
// and started again at or above StartAbove.
type Config struct {
	StopBelow  int `validate:"gte=0,lte=100"`
	StartAbove int `validate:"gte=0,lte=100,gtefield=StopBelow"`
}

// Controller drives a battery's start/stop target.
type Controller struct {
	component.Base

	cfg     Config
	battery *battery.Battery
	target  *channel.Channel[battery.StartStop]
	current battery.StartStop
}

// New creates the controller. Until the first defined SoC arrives it
// requests START.
func New(id string, cfg Config, bat *battery.Battery) *Controller {
	c := &Controller{
		Base:    component.NewBase(id),
		cfg:     cfg,
		battery: bat,
		current: battery.StartStopStart,
	}
	c.target = component.Add[battery.StartStop](&c.Base, ChannelTarget)
	return c
}

// Run implements component.Controller.
func (c *Controller) Run(context.Context) error {
	if soc, ok := c.battery.Soc().Value().Get(); ok {
		switch {
		case soc <= c.cfg.StopBelow:
			c.current = battery.StartStopStop
		case soc >= c.cfg.StartAbove:
			c.current = battery.StartStopStart
		}
	}
	c.battery.SetStartStop(c.current)
	c.target.SetNextValue(c.current)
	return nil
}

// Target returns the requested-target channel.
func (c *Controller) Target() *channel.Channel[battery.StartStop] {
	return c.target
}

// DebugLog implements component.Debugger.
func (c *Controller) DebugLog() string {
	return fmt.Sprintf("Target:%s", c.current)
}
