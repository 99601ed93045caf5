// Package balancing implements the grid-balancing controller: it sets the
// battery's power so that the grid meter approaches a target setpoint,
// typically zero (self-consumption).
package balancing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/component"
)

// ChannelRequiredPower is the battery power the controller last asked for.
var ChannelRequiredPower = channel.NewID("REQUIRED_POWER", channel.TypeInteger).WithUnit(channel.UnitWatt).WithText("Battery power required to reach the grid setpoint")

// Config holds the controller settings.
type Config struct {
	// TargetGridSetpoint is the desired grid power in W; positive buys.
	TargetGridSetpoint int
}

// Controller balances the grid connection point with one battery.
type Controller struct {
	component.Base

	cfg     Config
	battery *battery.Battery
	grid    *channel.Channel[int]
	logger  *slog.Logger

	requiredPower *channel.Channel[int]
}

// New creates a balancing controller for bat, measuring at grid.
func New(id string, cfg Config, bat *battery.Battery, grid *channel.Channel[int], logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		Base:    component.NewBase(id),
		cfg:     cfg,
		battery: bat,
		grid:    grid,
		logger:  logger.With("component", id),
	}
	c.requiredPower = component.Add[int](&c.Base, ChannelRequiredPower)
	return c
}

// Run implements component.Controller.
//
// A battery that is not RUNNING gets no setpoint. Undefined measurements
// skip the tick: stale data must never turn into a power command.
func (c *Controller) Run(context.Context) error {
	if !c.battery.IsRunning() {
		c.requiredPower.SetNextUndefined()
		return nil
	}
	gridPower, gridOK := c.grid.Value().Get()
	essPower, essOK := c.battery.ActivePower().Value().Get()
	if !gridOK || !essOK {
		c.requiredPower.SetNextUndefined()
		c.logger.Debug("skipping tick on undefined input", "grid_defined", gridOK, "ess_defined", essOK)
		return nil
	}

	required := essPower + gridPower - c.cfg.TargetGridSetpoint
	c.requiredPower.SetNextValue(required)
	if err := c.battery.SetActivePower().SetNextWriteValue(required); err != nil {
		return fmt.Errorf("set battery power: %w", err)
	}
	return nil
}

// RequiredPower returns the controller's output channel.
func (c *Controller) RequiredPower() *channel.Channel[int] {
	return c.requiredPower
}

// DebugLog implements component.Debugger.
func (c *Controller) DebugLog() string {
	return fmt.Sprintf("Grid:%s Required:%s", c.grid.Value(), c.requiredPower.Value())
}
