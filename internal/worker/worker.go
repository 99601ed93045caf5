// Package worker provides the goroutine-per-task scheduling primitive used
// by the cycle engine and by device bridges.
//
// A Worker calls Task.Forever repeatedly. Between iterations it applies a
// cadence policy:
//
//   - cadence > 0: fixed rate, sleeping max(0, cadence - elapsed) so an
//     overrun never stacks delay onto the next iteration
//   - DoNotWait (0): no sleep, continuous polling
//   - AlwaysWaitForTrigger (-1): block until TriggerNextCycle releases one
//     iteration
//
// TriggerForceRun interrupts any wait or backoff sleep so the next
// iteration starts immediately. Cancelling the context is the only shutdown
// signal; it is honoured after the current iteration, never mid-iteration.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DoNotWait runs the next iteration immediately.
	DoNotWait = 0
	// AlwaysWaitForTrigger blocks until TriggerNextCycle or TriggerForceRun.
	AlwaysWaitForTrigger = -1
)

// Default failure backoff bounds.
const (
	DefaultInitialBackOff = time.Second
	DefaultMaxBackOff     = 60 * time.Second
)

var (
	// ErrAlreadyStarted is returned by Start on a running worker.
	ErrAlreadyStarted = errors.New("worker already started")
	// ErrInvalidCadence is returned for cadences below AlwaysWaitForTrigger.
	ErrInvalidCadence = errors.New("invalid cadence")
)

// Task is the body of a worker iteration.
type Task interface {
	Forever(ctx context.Context) error
}

// TaskFunc adapts a function to Task.
type TaskFunc func(ctx context.Context) error

// Forever implements Task.
func (f TaskFunc) Forever(ctx context.Context) error {
	return f(ctx)
}

// Option configures a Worker.
type Option func(*Worker)

// WithCadence sets the initial cadence in milliseconds. Run rejects a
// cadence below AlwaysWaitForTrigger.
func WithCadence(ms int) Option {
	return func(w *Worker) {
		w.cadence.Store(int64(ms))
	}
}

// WithBackOff sets the failure backoff bounds. The delay starts at initial,
// doubles after every consecutive failure and is capped at max.
func WithBackOff(initial, max time.Duration) Option {
	return func(w *Worker) {
		w.newBackOff = func() backoff.BackOff {
			return newExponentialBackOff(initial, max)
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = l
	}
}

// Worker runs a Task on its own goroutine under a cadence policy.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Worker struct {
	name string
	task Task

	cadence atomic.Int64

	// Wake-up signals, buffered with size 1 so repeated calls coalesce into
	// a single pending wake-up.
	forceRun     chan struct{}
	trigger      chan struct{}
	reconfigured chan struct{}

	newBackOff func() backoff.BackOff
	logger     *slog.Logger

	iterations atomic.Uint64
	failures   atomic.Uint64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped worker. The default cadence is DoNotWait.
func New(name string, task Task, opts ...Option) *Worker {
	w := &Worker{
		name:         name,
		task:         task,
		forceRun:     make(chan struct{}, 1),
		trigger:      make(chan struct{}, 1),
		reconfigured: make(chan struct{}, 1),
		newBackOff: func() backoff.BackOff {
			return newExponentialBackOff(DefaultInitialBackOff, DefaultMaxBackOff)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Name returns the worker name used in logs.
func (w *Worker) Name() string {
	return w.name
}

// Cadence returns the current cadence in milliseconds.
func (w *Worker) Cadence() int {
	return int(w.cadence.Load())
}

// SetCadence changes the cadence. It takes effect at the next wait; a
// worker blocked in wait-for-trigger mode re-evaluates immediately, so
// switching away from AlwaysWaitForTrigger resumes without a trigger.
func (w *Worker) SetCadence(ms int) error {
	if err := validCadence(ms); err != nil {
		return fmt.Errorf("set cadence of %s: %w", w.name, err)
	}
	old := w.cadence.Swap(int64(ms))
	if old == int64(ms) {
		return nil
	}
	if ms == AlwaysWaitForTrigger {
		// Triggers issued under the previous cadence are stale.
		drain(w.trigger)
	}
	signal(w.reconfigured)
	return nil
}

func validCadence(ms int) error {
	if ms < AlwaysWaitForTrigger {
		return fmt.Errorf("%d ms: %w", ms, ErrInvalidCadence)
	}
	return nil
}

// TriggerNextCycle releases exactly one iteration of a worker in
// wait-for-trigger mode. A call while no wait is in progress is remembered
// for the next wait; further calls before that wait are coalesced.
func (w *Worker) TriggerNextCycle() {
	signal(w.trigger)
}

// TriggerForceRun interrupts the current wait or backoff sleep. If an
// iteration is running, the next wait returns immediately instead.
func (w *Worker) TriggerForceRun() {
	signal(w.forceRun)
}

// Iterations returns the number of completed Forever calls.
func (w *Worker) Iterations() uint64 {
	return w.iterations.Load()
}

// Failures returns the number of failed Forever calls.
func (w *Worker) Failures() uint64 {
	return w.failures.Load()
}

// Start runs the worker on a new goroutine until ctx is cancelled or Stop
// is called.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return fmt.Errorf("start %s: %w", w.name, ErrAlreadyStarted)
	}
	if err := validCadence(w.Cadence()); err != nil {
		return fmt.Errorf("start %s: %w", w.name, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	done := w.done
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	return nil
}

// Stop requests shutdown and waits for the current iteration to finish.
// Stop on a worker that was never started is a no-op.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run executes the worker loop on the calling goroutine. It blocks until ctx
// is cancelled and returns ctx.Err(), or fails at once with
// ErrInvalidCadence.
//
// ERROR HANDLING: a failed or panicking iteration is logged and followed by
// an exponential backoff sleep; a clean iteration resets the backoff. A
// force-run during that sleep starts the next iteration without applying
// the cadence.
func (w *Worker) Run(ctx context.Context) error {
	if err := validCadence(w.Cadence()); err != nil {
		return fmt.Errorf("run %s: %w", w.name, err)
	}
	bo := w.newBackOff()
	bo.Reset()

	w.logger.Debug("worker starting", "worker", w.name, "cadence_ms", w.Cadence())
	defer w.logger.Debug("worker stopped", "worker", w.name)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := time.Now()
		err := w.runOnce(ctx)
		if err != nil {
			w.failures.Add(1)
			delay := bo.NextBackOff()
			w.logger.Error("worker iteration failed",
				"worker", w.name,
				"error", err,
				"backoff", delay,
			)
			switch w.sleep(ctx, delay) {
			case wokeShutdown:
				return ctx.Err()
			case wokeForceRun:
				continue
			}
		} else {
			bo.Reset()
		}

		if !w.waitNext(ctx, start) {
			return ctx.Err()
		}
	}
}

// runOnce calls Forever, converting a panic into an error so one bad
// iteration never kills the goroutine.
func (w *Worker) runOnce(ctx context.Context) (err error) {
	defer func() {
		w.iterations.Add(1)
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", w.name, r)
		}
	}()
	return w.task.Forever(ctx)
}

// waitNext applies the cadence policy. Returns false on shutdown.
func (w *Worker) waitNext(ctx context.Context, iterationStart time.Time) bool {
	for {
		cadence := w.Cadence()
		switch {
		case cadence == AlwaysWaitForTrigger:
			select {
			case <-ctx.Done():
				return false
			case <-w.forceRun:
				return true
			case <-w.trigger:
				return true
			case <-w.reconfigured:
				continue
			}

		case cadence == DoNotWait:
			drain(w.forceRun)
			return ctx.Err() == nil

		default:
			remaining := time.Duration(cadence)*time.Millisecond - time.Since(iterationStart)
			if remaining <= 0 {
				drain(w.forceRun)
				return ctx.Err() == nil
			}
			timer := time.NewTimer(remaining)
			select {
			case <-ctx.Done():
				timer.Stop()
				return false
			case <-w.forceRun:
				timer.Stop()
				return true
			case <-timer.C:
				return true
			case <-w.reconfigured:
				timer.Stop()
				continue
			}
		}
	}
}

// wake tells why sleep returned.
type wake int

const (
	wokeTimer wake = iota
	wokeForceRun
	wokeShutdown
)

// sleep waits for d; force-run cuts it short.
func (w *Worker) sleep(ctx context.Context, d time.Duration) wake {
	if ctx.Err() != nil {
		return wokeShutdown
	}
	if d <= 0 {
		return wokeTimer
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return wokeShutdown
	case <-w.forceRun:
		return wokeForceRun
	case <-timer.C:
		return wokeTimer
	}
}

func newExponentialBackOff(initial, max time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0 // never give up
	b.Reset()
	return b
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
