// Package simulator provides simulated hardware for the battery component
// and a grid meter, plus a time-leap simulation driver.
//
// Simulated devices implement bridge.Device: Read stages hardware values on
// the battery component's input channels and Write consumes its staged
// commands, exactly as a real protocol bridge would.
package simulator

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/bridge"
	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/component"
)

// ErrWriteInjected is returned by Write while write failures are injected.
var ErrWriteInjected = errors.New("simulated write failure")

// BatteryConfig describes the simulated hardware.
type BatteryConfig struct {
	CapacityWh     int
	MaxPowerW      int
	InitialSoc     float64
	InterlockDelay time.Duration
}

// DefaultBatteryConfig is a 10 kWh / 5 kW battery at 50 %.
func DefaultBatteryConfig() BatteryConfig {
	return BatteryConfig{
		CapacityWh:     10_000,
		MaxPowerW:      5_000,
		InitialSoc:     50,
		InterlockDelay: 2 * time.Second,
	}
}

// Battery simulates the hardware behind a battery.Battery component.
//
// Thread-safety: Read and Write run on the bridge goroutine; the fault
// injection methods may be called from any goroutine.
type Battery struct {
	component.Base

	target *battery.Battery
	cfg    BatteryConfig
	clock  clock.Clock

	writeFailed *channel.Channel[bool]

	mu          sync.Mutex
	soc         float64
	setpoint    int
	power       int
	closed      bool
	closedAt    time.Time
	fault       bool
	failWrites  bool
	lastRead    time.Time
	resetsTaken int
}

// NewBattery creates a simulator driving target. Its own component ID is
// target's ID with a "Sim" suffix.
func NewBattery(target *battery.Battery, cfg BatteryConfig, clk clock.Clock) *Battery {
	b := &Battery{
		Base:   component.NewBase(target.ID() + "Sim"),
		target: target,
		cfg:    cfg,
		clock:  clk,
		soc:    cfg.InitialSoc,
	}
	b.writeFailed = component.Add[bool](&b.Base, bridge.ChannelWriteFailed)
	return b
}

// Read integrates the state of charge since the previous read and stages
// every hardware value.
func (b *Battery) Read(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if !b.lastRead.IsZero() && b.power != 0 && b.cfg.CapacityWh > 0 {
		hours := now.Sub(b.lastRead).Hours()
		b.soc -= float64(b.power) * hours / float64(b.cfg.CapacityWh) * 100
		b.soc = math.Max(0, math.Min(100, b.soc))
	}
	b.lastRead = now
	b.power = b.effectivePower()

	t := b.target
	t.Soc().SetNextValue(int(math.Round(b.soc)))
	t.ActivePower().SetNextValue(b.power)
	t.Fault().SetNextValue(b.fault)
	t.Started().SetNextValue(b.closed)
	t.InterlockUnlocked().SetNextValue(b.closed && now.Sub(b.closedAt) >= b.cfg.InterlockDelay)
	return nil
}

// Write applies the staged contactor, reset and power commands.
func (b *Battery) Write(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return ErrWriteInjected
	}

	t := b.target
	if closed, ok := t.ContactorTarget().TakeNextWriteValue(); ok && closed != b.closed {
		b.closed = closed
		b.closedAt = b.clock.Now()
	}
	if reset, ok := t.SystemReset().TakeNextWriteValue(); ok && reset {
		b.resetsTaken++
		b.fault = false
	}
	if p, ok := t.SetActivePower().TakeNextWriteValue(); ok {
		b.setpoint = p
	}
	return nil
}

// WriteFailed implements bridge.Device.
func (b *Battery) WriteFailed() *channel.Channel[bool] {
	return b.writeFailed
}

// InjectFault raises or clears the hardware fault. A raised fault opens
// the contactor; it is cleared by a system reset or InjectFault(false).
func (b *Battery) InjectFault(fault bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fault = fault
	if fault {
		b.closed = false
	}
}

// FailWrites makes every Write fail until called with false.
func (b *Battery) FailWrites(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = fail
}

// Soc returns the simulated state of charge in percent.
func (b *Battery) Soc() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.soc
}

// Power returns the power currently flowing; positive discharges.
func (b *Battery) Power() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.power
}

// Resets returns how many system resets the hardware received.
func (b *Battery) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resetsTaken
}

// effectivePower clamps the setpoint to what the hardware can deliver.
// Callers hold mu.
func (b *Battery) effectivePower() int {
	if !b.closed || b.fault {
		return 0
	}
	p := b.setpoint
	if b.cfg.MaxPowerW > 0 {
		p = max(-b.cfg.MaxPowerW, min(b.cfg.MaxPowerW, p))
	}
	switch {
	case p > 0 && b.soc <= 0:
		return 0
	case p < 0 && b.soc >= 100:
		return 0
	}
	return p
}
