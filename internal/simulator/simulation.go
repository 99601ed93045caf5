package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/edgecycle/internal/clock"
	"github.com/roach88/edgecycle/internal/component"
	"github.com/roach88/edgecycle/internal/engine"
	"github.com/roach88/edgecycle/internal/events"
	"github.com/roach88/edgecycle/internal/worker"
)

// Cycle is the subset of engine.Cycle a simulation drives.
type Cycle interface {
	On(topic events.Topic, name string, fn engine.PhaseHook)
	SetCycleTime(ms int) error
}

// Request describes a time-leap simulation.
type Request struct {
	// End stops the simulation once the simulated clock passes it.
	End time.Time
	// Step is the simulated time added after every cycle.
	Step time.Duration
	// Collect lists channel addresses sampled after every freeze.
	Collect []string
}

// Row is one sample of the collected channels.
type Row struct {
	Time   time.Time
	Values map[string]any
}

// Simulation runs the cycle as fast as possible on a leap clock: it
// suspends ticking while wiring up, switches the cycle to DoNotWait,
// samples channels on AFTER_PROCESS_IMAGE and leaps the clock on
// AFTER_WRITE. When End is passed it restores restoreCycleTime.
type Simulation struct {
	cycle    Cycle
	registry *component.Registry
	clock    *clock.Leap
	req      Request
	logger   *slog.Logger

	restoreCycleTime int

	mu       sync.Mutex
	rows     []Row
	finished bool
	done     chan struct{}
}

// NewSimulation validates req and suspends the cycle. Devices must use clk.
func NewSimulation(cycle Cycle, registry *component.Registry, clk *clock.Leap, req Request, logger *slog.Logger) (*Simulation, error) {
	if req.Step <= 0 {
		return nil, fmt.Errorf("simulation step must be positive, got %s", req.Step)
	}
	if !req.End.After(clk.Now()) {
		return nil, errors.New("simulation end must be after the clock's start")
	}
	for _, addr := range req.Collect {
		if _, err := registry.Channel(addr); err != nil {
			return nil, fmt.Errorf("collect %s: %w", addr, err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulation{
		cycle:            cycle,
		registry:         registry,
		clock:            clk,
		req:              req,
		logger:           logger,
		restoreCycleTime: engine.DefaultCycleTime,
		done:             make(chan struct{}),
	}
	if err := cycle.SetCycleTime(worker.AlwaysWaitForTrigger); err != nil {
		return nil, fmt.Errorf("suspend cycle: %w", err)
	}
	cycle.On(events.TopicAfterProcessImage, "simulation/collect", s.collect)
	cycle.On(events.TopicAfterWrite, "simulation/leap", s.leap)
	return s, nil
}

// Begin starts simulated ticking.
func (s *Simulation) Begin() error {
	s.logger.Info("starting simulation",
		"from", s.clock.Now(),
		"to", s.req.End,
		"step", s.req.Step,
	)
	return s.cycle.SetCycleTime(worker.DoNotWait)
}

// Done is closed when the simulation has passed End.
func (s *Simulation) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the simulation finishes or ctx is done.
func (s *Simulation) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rows returns a copy of the collected samples.
func (s *Simulation) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

func (s *Simulation) collect(context.Context, uint64) error {
	s.mu.Lock()
	finished := s.finished
	s.mu.Unlock()
	if finished || len(s.req.Collect) == 0 {
		return nil
	}
	row := Row{Time: s.clock.Now(), Values: make(map[string]any, len(s.req.Collect))}
	for _, addr := range s.req.Collect {
		ch, err := s.registry.Channel(addr)
		if err != nil {
			return err
		}
		if v, ok := ch.Any(); ok {
			row.Values[addr] = v
		}
	}
	s.mu.Lock()
	s.rows = append(s.rows, row)
	s.mu.Unlock()
	return nil
}

func (s *Simulation) leap(context.Context, uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return nil
	}
	now := s.clock.Leap(s.req.Step)
	if !now.After(s.req.End) {
		return nil
	}
	s.finished = true
	defer close(s.done)
	s.logger.Info("simulation finished", "rows", len(s.rows))
	if err := s.cycle.SetCycleTime(s.restoreCycleTime); err != nil {
		return fmt.Errorf("restore cycle time: %w", err)
	}
	return nil
}
