// Package plant wires a configured installation: batteries with their
// simulated hardware, grid meters, controllers, the scheduler, the device
// bridge and the cycle, all sharing one explicit component registry.
package plant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/bridge"
	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/component"
	"github.com/roach88/edgecycle/internal/config"
	"github.com/roach88/edgecycle/internal/ctrl/balancing"
	"github.com/roach88/edgecycle/internal/ctrl/startstop"
	"github.com/roach88/edgecycle/internal/engine"
	"github.com/roach88/edgecycle/internal/events"
	"github.com/roach88/edgecycle/internal/observe"
	"github.com/roach88/edgecycle/internal/scheduler"
	"github.com/roach88/edgecycle/internal/simulator"
)

// BridgeName is the name of the bridge serving every simulated device.
const BridgeName = "devices"

// Option configures Build.
type Option func(*options)

type options struct {
	clock       clock.Clock
	logger      *slog.Logger
	publisher   engine.ReportPublisher
	synchronous bool
}

// WithClock sets the clock shared by the cycle, batteries and simulators.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPublisher publishes every cycle report.
func WithPublisher(p engine.ReportPublisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithSynchronousIO forces inline device I/O regardless of the config.
func WithSynchronousIO() Option {
	return func(o *options) {
		o.synchronous = true
	}
}

// Plant is a wired installation.
type Plant struct {
	Config    *config.Config
	Registry  *component.Registry
	Cycle     *engine.Cycle
	Bridge    *bridge.Bridge
	Scheduler engine.Scheduler

	Batteries  []*battery.Battery
	Simulators []*simulator.Battery
	Meters     []*simulator.GridMeter
}

// Build creates and registers every configured component. cfg must have
// been loaded or validated by package config.
func Build(cfg *config.Config, opts ...Option) (*Plant, error) {
	o := options{clock: clock.Real{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	p := &Plant{Config: cfg, Registry: component.NewRegistry()}
	sims := make(map[string]*simulator.Battery)
	bats := make(map[string]*battery.Battery)
	var devices []bridge.Device

	for _, bc := range cfg.Batteries {
		bat := battery.New(bc.ID, bc.BatteryConfig(), battery.WithClock(o.clock), battery.WithLogger(o.logger))
		sim := simulator.NewBattery(bat, bc.SimulatorConfig(), o.clock)
		if err := p.register(bat, sim); err != nil {
			return nil, err
		}
		p.Batteries = append(p.Batteries, bat)
		p.Simulators = append(p.Simulators, sim)
		bats[bc.ID] = bat
		sims[bc.ID] = sim
		devices = append(devices, sim)
	}

	meters := make(map[string]*simulator.GridMeter)
	midnight := o.clock.Now().UTC().Truncate(24 * time.Hour)
	for _, mc := range cfg.Meters {
		var storages []simulator.PowerSource
		for _, id := range mc.Storages {
			sim, ok := sims[id]
			if !ok {
				return nil, fmt.Errorf("meter %s: unknown storage %q", mc.ID, id)
			}
			storages = append(storages, sim)
		}
		var load simulator.Profile = simulator.Constant(mc.LoadW)
		if mc.Profile != nil {
			load = simulator.Stepped{Start: midnight, Step: mc.Profile.Step.Std(), Values: mc.Profile.Values}
		}
		m := simulator.NewGridMeter(mc.ID, load, o.clock, storages...)
		if err := p.register(m); err != nil {
			return nil, err
		}
		p.Meters = append(p.Meters, m)
		meters[mc.ID] = m
		devices = append(devices, m)
	}

	for _, c := range cfg.Controllers.Balancing {
		bat, m := bats[c.Battery], meters[c.Meter]
		if bat == nil || m == nil {
			return nil, fmt.Errorf("controller %s: unknown battery %q or meter %q", c.ID, c.Battery, c.Meter)
		}
		ctrl := balancing.New(c.ID, balancing.Config{TargetGridSetpoint: c.TargetGridSetpoint}, bat, m.ActivePower(), o.logger)
		if err := p.register(ctrl); err != nil {
			return nil, err
		}
	}
	for _, c := range cfg.Controllers.StartStop {
		bat := bats[c.Battery]
		if bat == nil {
			return nil, fmt.Errorf("controller %s: unknown battery %q", c.ID, c.Battery)
		}
		ctrl := startstop.New(c.ID, startstop.Config{StopBelow: c.StopBelow, StartAbove: c.StartAbove}, bat)
		if err := p.register(ctrl); err != nil {
			return nil, err
		}
	}

	sched, err := newScheduler(cfg.Scheduler, cfg.ControllerIDs(), p.Registry)
	if err != nil {
		return nil, err
	}
	p.Scheduler = sched

	cycleOpts := []engine.Option{
		engine.WithClock(o.clock),
		engine.WithLogger(o.logger),
		engine.WithCycleTime(cfg.Cycle.CycleTime()),
		engine.WithLogInterval(cfg.Cycle.LogInterval.Std()),
	}
	if o.publisher != nil {
		cycleOpts = append(cycleOpts, engine.WithPublisher(o.publisher))
	}
	p.Cycle, err = engine.New(p.Registry, sched, cycleOpts...)
	if err != nil {
		return nil, err
	}

	bridgeOpts := []bridge.Option{
		bridge.WithLogger(o.logger),
		bridge.WithLogInterval(cfg.Bridge.LogInterval.Std()),
	}
	if cfg.Bridge.Synchronous || o.synchronous {
		bridgeOpts = append(bridgeOpts, bridge.WithSynchronousIO())
	}
	p.Bridge = bridge.New(BridgeName, devices, bridgeOpts...)
	p.Bridge.Attach(p.Cycle)

	for _, bat := range p.Batteries {
		p.Cycle.On(events.TopicAfterProcessImage, bat.ID(), bat.Step)
	}
	debug := observe.NewDebugLog(p.Registry, o.logger, cfg.Cycle.DebugLogInterval.Std())
	p.Cycle.On(events.TopicAfterWrite, "debuglog", debug.Hook)
	return p, nil
}

func (p *Plant) register(cs ...component.Component) error {
	for _, c := range cs {
		if err := p.Registry.Register(c); err != nil {
			return fmt.Errorf("build plant: %w", err)
		}
	}
	return nil
}

func newScheduler(sc config.Scheduler, all []string, reg *component.Registry) (engine.Scheduler, error) {
	switch sc.Type {
	case config.SchedulerFixed:
		if len(sc.Order) == 0 {
			return scheduler.Fixed(all), nil
		}
		return scheduler.Fixed(sc.Order), nil
	case config.SchedulerDaily:
		windows := make([]scheduler.Window, 0, len(sc.Windows))
		for _, w := range sc.Windows {
			windows = append(windows, scheduler.Window{Name: w.Name, Spec: w.Spec, Controllers: w.Controllers})
		}
		daily, err := scheduler.NewDaily(windows, sc.Order)
		if err != nil {
			return nil, fmt.Errorf("build scheduler: %w", err)
		}
		return daily, nil
	case config.SchedulerAlphabetical, "":
		return scheduler.NewAlphabetical(reg, sc.Order...), nil
	default:
		return nil, fmt.Errorf("unknown scheduler type %q", sc.Type)
	}
}

// Battery returns the battery with the given ID.
func (p *Plant) Battery(id string) (*battery.Battery, bool) {
	for _, b := range p.Batteries {
		if b.ID() == id {
			return b, true
		}
	}
	return nil, false
}

// Simulator returns the simulated hardware of the battery with the given
// ID.
func (p *Plant) Simulator(batteryID string) (*simulator.Battery, bool) {
	for i, b := range p.Batteries {
		if b.ID() == batteryID {
			return p.Simulators[i], true
		}
	}
	return nil, false
}

// Serve runs the bridge and the cycle until ctx is done. Shutdown through
// ctx, by cancellation or deadline, returns nil.
func (p *Plant) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Bridge.Serve(gctx) })
	g.Go(func() error { return p.Cycle.Serve(gctx) })
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
