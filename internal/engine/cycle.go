package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/component"
	"github.com/roach88/edgecycle/internal/events"
	"github.com/roach88/edgecycle/internal/worker"
)

// ComponentID is the component under which the cycle publishes its own
// channels.
const ComponentID = "_cycle"

// DefaultCycleTime is the cadence in milliseconds used when none is set.
const DefaultCycleTime = 1000

// DefaultLogInterval bounds how often a repeatedly failing controller or
// phase hook is logged.
const DefaultLogInterval = 30 * time.Second

// Cycle channels.
var (
	ChannelMeasuredCycleTime   = channel.NewID("MEASURED_CYCLE_TIME", channel.TypeLong).WithUnit(channel.UnitMilliseconds).WithText("Duration of the last tick")
	ChannelCycleTimeIsTooShort = channel.NewID("CYCLE_TIME_IS_TOO_SHORT", channel.TypeBoolean).WithText("The last tick took longer than the configured cycle time")
	ChannelFailedControllers   = channel.NewID("FAILED_CONTROLLERS", channel.TypeInteger).WithText("Controllers that failed in the last tick")
	ChannelCycleTime           = channel.NewID("CYCLE_TIME", channel.TypeInteger).WithUnit(channel.UnitMilliseconds).WithText("Configured cadence")
)

// Scheduler supplies the ordered controller IDs for one tick. It is
// queried once per tick; the ordering policy is opaque to the Cycle.
type Scheduler interface {
	Controllers(ctx context.Context, now time.Time) ([]string, error)
}

// SchedulerFunc adapts a function to Scheduler.
type SchedulerFunc func(ctx context.Context, now time.Time) ([]string, error)

// Controllers implements Scheduler.
func (f SchedulerFunc) Controllers(ctx context.Context, now time.Time) ([]string, error) {
	return f(ctx, now)
}

// PhaseHook runs synchronously on the cycle goroutine when its phase is
// published. It must not block.
type PhaseHook func(ctx context.Context, tick uint64) error

// ReportPublisher receives a CycleReport after every tick.
type ReportPublisher interface {
	PublishReport(ctx context.Context, r events.CycleReport) error
}

// Option configures a Cycle.
type Option func(*Cycle)

// WithClock sets the clock used for report timestamps, tick durations and
// scheduler queries. Defaults to clock.Real.
func WithClock(c clock.Clock) Option {
	return func(cy *Cycle) {
		cy.clock = c
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(cy *Cycle) {
		cy.logger = l
	}
}

// WithPublisher sets where CycleReports go.
func WithPublisher(p ReportPublisher) Option {
	return func(cy *Cycle) {
		cy.publisher = p
	}
}

// WithCycleTime sets the initial cadence in milliseconds.
func WithCycleTime(ms int) Option {
	return func(cy *Cycle) {
		cy.initialCycleTime = ms
	}
}

// WithLogInterval sets how often repeated failures of one controller or
// hook are logged.
func WithLogInterval(d time.Duration) Option {
	return func(cy *Cycle) {
		cy.logInterval = d
	}
}

// WithWorkerOptions passes options to the underlying worker.
func WithWorkerOptions(opts ...worker.Option) Option {
	return func(cy *Cycle) {
		cy.workerOpts = append(cy.workerOpts, opts...)
	}
}

type hook struct {
	name string
	fn   PhaseHook
}

// Cycle is the scan-cycle orchestrator.
//
// Thread-safety model:
//   - RunOnce/Forever: serialized; only one tick runs at a time
//   - On, SetScheduler, SetCycleTime, TriggerNextCycle: safe from any goroutine
//   - Start/Stop: see worker.Worker
type Cycle struct {
	component.Base

	registry  *component.Registry
	clock     clock.Clock
	logger    *slog.Logger
	publisher ReportPublisher
	worker    *worker.Worker

	initialCycleTime int
	logInterval      time.Duration
	workerOpts       []worker.Option

	measuredCycleTime   *channel.Channel[int64]
	cycleTimeIsTooShort *channel.Channel[bool]
	failedControllers   *channel.Channel[int]
	cycleTime           *channel.Channel[int]

	mu        sync.RWMutex
	scheduler Scheduler
	hooks     map[events.Topic][]hook

	tickMu    sync.Mutex
	ticks     atomic.Uint64
	throttles map[string]*rate.Sometimes
}

// New creates a Cycle and registers its channels under ComponentID.
// A registration error is a wiring fault and is returned as is.
func New(registry *component.Registry, scheduler Scheduler, opts ...Option) (*Cycle, error) {
	c := &Cycle{
		Base:             component.NewBase(ComponentID),
		registry:         registry,
		clock:            clock.Real{},
		logger:           slog.Default(),
		initialCycleTime: DefaultCycleTime,
		logInterval:      DefaultLogInterval,
		scheduler:        scheduler,
		hooks:            make(map[events.Topic][]hook),
		throttles:        make(map[string]*rate.Sometimes),
	}
	c.measuredCycleTime = component.Add[int64](&c.Base, ChannelMeasuredCycleTime)
	c.cycleTimeIsTooShort = component.Add[bool](&c.Base, ChannelCycleTimeIsTooShort)
	c.failedControllers = component.Add[int](&c.Base, ChannelFailedControllers)
	c.cycleTime = component.Add[int](&c.Base, ChannelCycleTime)

	for _, opt := range opts {
		opt(c)
	}

	if scheduler == nil {
		return nil, fmt.Errorf("new cycle: scheduler is required")
	}
	if c.initialCycleTime < worker.AlwaysWaitForTrigger {
		return nil, fmt.Errorf("new cycle: cycle time %d: %w", c.initialCycleTime, ErrInvalidCycleTime)
	}

	workerOpts := append([]worker.Option{
		worker.WithCadence(c.initialCycleTime),
		worker.WithLogger(c.logger),
	}, c.workerOpts...)
	c.worker = worker.New("cycle", c, workerOpts...)
	c.cycleTime.SetNextValue(c.initialCycleTime)

	if err := registry.Register(c); err != nil {
		return nil, fmt.Errorf("register cycle: %w", err)
	}
	return c, nil
}

// On registers fn to run when topic is published. Hooks for the same topic
// run in registration order; name identifies the hook in logs.
func (c *Cycle) On(topic events.Topic, name string, fn PhaseHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks[topic] = append(c.hooks[topic], hook{name: name, fn: fn})
}

// SetScheduler replaces the scheduler from the next tick.
func (c *Cycle) SetScheduler(s Scheduler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduler = s
}

// CycleTime returns the configured cadence in milliseconds.
func (c *Cycle) CycleTime() int {
	return c.worker.Cadence()
}

// SetCycleTime changes the cadence. It never interrupts a running tick:
// the new value governs the next wait. worker.AlwaysWaitForTrigger
// suspends automatic ticking; switching away resumes immediately.
func (c *Cycle) SetCycleTime(ms int) error {
	if ms < worker.AlwaysWaitForTrigger {
		return fmt.Errorf("set cycle time %d: %w", ms, ErrInvalidCycleTime)
	}
	if old := c.worker.Cadence(); old != ms {
		c.logger.Info("cycle time changed", "from_ms", old, "to_ms", ms)
	}
	if err := c.worker.SetCadence(ms); err != nil {
		return err
	}
	c.cycleTime.SetNextValue(ms)
	return nil
}

// TriggerNextCycle releases exactly one tick in wait-for-trigger mode.
func (c *Cycle) TriggerNextCycle() {
	c.worker.TriggerNextCycle()
}

// TriggerForceRun starts the next tick without waiting for the cadence.
func (c *Cycle) TriggerForceRun() {
	c.worker.TriggerForceRun()
}

// Ticks returns the number of ticks started so far.
func (c *Cycle) Ticks() uint64 {
	return c.ticks.Load()
}

// Start runs the cycle on its own goroutine.
func (c *Cycle) Start(ctx context.Context) error {
	return c.worker.Start(ctx)
}

// Stop stops the cycle after the current tick and waits for it.
func (c *Cycle) Stop() {
	c.worker.Stop()
}

// Serve runs the cycle on the calling goroutine until ctx is cancelled.
// It is named Serve so the Cycle never satisfies component.Controller.
func (c *Cycle) Serve(ctx context.Context) error {
	c.logger.Info("cycle starting", "cycle_time_ms", c.CycleTime())
	defer c.logger.Info("cycle stopped", "ticks", c.Ticks())
	return c.worker.Run(ctx)
}

// Forever implements worker.Task. Failures inside a tick are isolated, so
// it never returns an error.
func (c *Cycle) Forever(ctx context.Context) error {
	c.RunOnce(ctx)
	return nil
}

// RunOnce executes one full tick on the calling goroutine and returns its
// report. Used by Forever, by deterministic tests and by the simulator.
func (c *Cycle) RunOnce(ctx context.Context) events.CycleReport {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	tick := c.ticks.Add(1)
	started := c.clock.Now()
	report := events.CycleReport{
		Tick:        tick,
		StartedAt:   started,
		CycleTimeMs: c.worker.Cadence(),
	}

	c.firePhase(ctx, tick, events.TopicBeforeProcessImage)
	report.Changed = c.freeze()
	c.firePhase(ctx, tick, events.TopicAfterProcessImage)

	c.firePhase(ctx, tick, events.TopicBeforeControllers)
	c.runControllers(ctx, tick, started, &report)
	c.firePhase(ctx, tick, events.TopicAfterControllers)

	c.firePhase(ctx, tick, events.TopicBeforeWrite)
	c.firePhase(ctx, tick, events.TopicExecuteWrite)
	c.firePhase(ctx, tick, events.TopicAfterWrite)

	report.Duration = clock.Since(c.clock, started)
	c.stageStatus(report)
	c.publish(ctx, report)

	c.logger.Debug("tick complete",
		"tick", tick,
		"duration", report.Duration,
		"controllers", len(report.Controllers),
		"failed", len(report.Failed),
		"changed", len(report.Changed),
	)
	return report
}

// freeze copies next to current on every registered channel, in
// registration order, and collects the channels whose value changed.
func (c *Cycle) freeze() []events.Sample {
	var changed []events.Sample
	for _, ch := range c.registry.Channels() {
		if !ch.Freeze() {
			continue
		}
		v, ok := ch.Any()
		changed = append(changed, events.Sample{
			Address: ch.Address().String(),
			Value:   v,
			Defined: ok,
		})
	}
	return changed
}

func (c *Cycle) runControllers(ctx context.Context, tick uint64, now time.Time, report *events.CycleReport) {
	c.mu.RLock()
	scheduler := c.scheduler
	c.mu.RUnlock()

	ids, err := scheduler.Controllers(ctx, now)
	if err != nil {
		cerr := &CycleError{
			Code:    ErrCodeSchedulerFailed,
			Message: "no controller order for this tick",
			Tick:    tick,
			Source:  "scheduler",
			Err:     err,
		}
		report.SchedulerError = cerr.Error()
		c.throttled("scheduler", func() {
			c.logger.Error("scheduler failed, skipping controllers", "tick", tick, "error", err)
		})
		return
	}

	report.Controllers = ids
	for _, id := range ids {
		if err := c.runController(ctx, tick, id); err != nil {
			report.Failed = append(report.Failed, events.ControllerFailure{ID: id, Error: err.Error()})
			c.throttled("controller/"+id, func() {
				c.logger.Error("controller failed",
					"tick", tick,
					"controller", id,
					"error", err,
				)
			})
		}
	}
}

// runController runs one controller to completion, converting a panic into
// a *CycleError so the next controller still runs.
func (c *Cycle) runController(ctx context.Context, tick uint64, id string) (err error) {
	ctrl, lookupErr := c.registry.Controller(id)
	if lookupErr != nil {
		return &CycleError{
			Code:    ErrCodeControllerNotFound,
			Message: "scheduled controller is not registered",
			Tick:    tick,
			Source:  id,
			Err:     lookupErr,
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = newControllerPanic(tick, id, r)
		}
	}()
	if runErr := ctrl.Run(ctx); runErr != nil {
		return newControllerError(tick, id, runErr)
	}
	return nil
}

func (c *Cycle) firePhase(ctx context.Context, tick uint64, topic events.Topic) {
	c.mu.RLock()
	hooks := make([]hook, len(c.hooks[topic]))
	copy(hooks, c.hooks[topic])
	c.mu.RUnlock()

	for _, h := range hooks {
		if err := c.runHook(ctx, tick, h); err != nil {
			c.throttled(string(topic)+"/"+h.name, func() {
				c.logger.Warn("phase hook failed",
					"tick", tick,
					"phase", topic,
					"hook", h.name,
					"error", err,
				)
			})
		}
	}
}

func (c *Cycle) runHook(ctx context.Context, tick uint64, h hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPhaseError(tick, h.name, fmt.Errorf("panic: %v", r))
		}
	}()
	if hookErr := h.fn(ctx, tick); hookErr != nil {
		return newPhaseError(tick, h.name, hookErr)
	}
	return nil
}

// stageStatus stages the cycle's own channels; they become visible at the
// next freeze.
func (c *Cycle) stageStatus(report events.CycleReport) {
	c.measuredCycleTime.SetNextValue(report.Duration.Milliseconds())
	tooShort := report.CycleTimeMs > 0 && report.Duration > time.Duration(report.CycleTimeMs)*time.Millisecond
	c.cycleTimeIsTooShort.SetNextValue(tooShort)
	c.failedControllers.SetNextValue(len(report.Failed))
}

func (c *Cycle) publish(ctx context.Context, report events.CycleReport) {
	if c.publisher == nil {
		return
	}
	if err := c.publisher.PublishReport(ctx, report); err != nil {
		c.throttled("publisher", func() {
			c.logger.Warn("publish cycle report failed", "tick", report.Tick, "error", err)
		})
	}
}

// throttled runs log at most once per log interval for key. Only called
// from the tick goroutine, under tickMu.
func (c *Cycle) throttled(key string, log func()) {
	s, ok := c.throttles[key]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: c.logInterval}
		c.throttles[key] = s
	}
	s.Do(log)
}
