// Package statemachine is the generic transition engine reused by every
// hardware-sequencing component.
//
// A StateMachine holds the current state of a closed enumeration S and a
// fixed mapping from S to Handler. Each call to Run performs exactly one
// step:
//
//  1. The active handler's Next computes the following state.
//  2. A pending ForceNextState overrides that result.
//  3. If the state changed: OnExit on the old handler, OnEntry on the new
//     handler, then the current-state pointer moves. Unchanged state fires
//     no hooks.
//
// A failed step leaves the pointer where it was and is retried on the next
// tick. If OnExit already succeeded, the retry skips it, so OnExit fires
// once per state left. Should the retry settle on the old state after all,
// its OnEntry runs again to pair the exit.
//
// Run is called synchronously from the cycle goroutine once per tick; it
// never blocks and has no terminal state. The context type C carries the
// clock, component handles and tunables the handlers need.
package statemachine

import (
	"errors"
	"fmt"
	"sync"
)

// State is the constraint for state enumerations.
type State interface {
	comparable
	fmt.Stringer
}

// Handler implements the behaviour of one state.
type Handler[S State, C any] interface {
	// Next evaluates the state for this tick and returns the next state.
	// Returning the current state keeps the machine where it is.
	Next(ctx C) (S, error)
	// OnEntry runs once when the machine enters the state.
	OnEntry(ctx C) error
	// OnExit runs once when the machine leaves the state.
	OnExit(ctx C) error
}

// Base supplies no-op OnEntry and OnExit hooks for embedding.
type Base[S State, C any] struct{}

// OnEntry implements Handler.
func (Base[S, C]) OnEntry(C) error { return nil }

// OnExit implements Handler.
func (Base[S, C]) OnExit(C) error { return nil }

type funcHandler[S State, C any] struct {
	Base[S, C]
	next func(C) (S, error)
}

func (h funcHandler[S, C]) Next(ctx C) (S, error) {
	return h.next(ctx)
}

// Func adapts a Next function without hooks to Handler.
func Func[S State, C any](next func(C) (S, error)) Handler[S, C] {
	return funcHandler[S, C]{next: next}
}

// ErrNoHandler is returned when a state has no registered handler.
var ErrNoHandler = errors.New("no handler registered for state")

// Phase names the step of a transition that failed.
type Phase string

const (
	PhaseNext  Phase = "next"
	PhaseExit  Phase = "exit"
	PhaseEntry Phase = "entry"
)

// StepError reports a failed step. The current state is unchanged when a
// StepError is returned, so the step is retried on the next tick without
// repeating a completed OnExit.
type StepError struct {
	Phase Phase
	From  string
	To    string
	Err   error
}

func (e *StepError) Error() string {
	if e.Phase == PhaseNext {
		return fmt.Sprintf("state %s: next: %v", e.From, e.Err)
	}
	return fmt.Sprintf("transition %s -> %s: %s: %v", e.From, e.To, e.Phase, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StateMachine is a single-stepped state machine.
//
// Thread-safety: Run must be called from one goroutine (the cycle). Current
// and ForceNextState may be called from any goroutine.
type StateMachine[S State, C any] struct {
	handlers map[S]Handler[S, C]

	// exited is set while the current state's OnExit has run but the
	// transition has not completed. Run-only.
	exited bool

	mu        sync.Mutex
	current   S
	forced    *S
	observers []func(from, to S)
}

// New creates a state machine in the initial state. Every state the
// machine can reach needs a handler; the initial state is checked here,
// the others when they are first entered.
func New[S State, C any](initial S, handlers map[S]Handler[S, C]) (*StateMachine[S, C], error) {
	if _, ok := handlers[initial]; !ok {
		return nil, fmt.Errorf("initial state %s: %w", initial, ErrNoHandler)
	}
	copied := make(map[S]Handler[S, C], len(handlers))
	for s, h := range handlers {
		if h == nil {
			return nil, fmt.Errorf("state %s: %w", s, ErrNoHandler)
		}
		copied[s] = h
	}
	return &StateMachine[S, C]{handlers: copied, current: initial}, nil
}

// MustNew is New for static wiring; it panics on error.
func MustNew[S State, C any](initial S, handlers map[S]Handler[S, C]) *StateMachine[S, C] {
	sm, err := New(initial, handlers)
	if err != nil {
		panic(err)
	}
	return sm
}

// Current returns the current state.
func (m *StateMachine[S, C]) Current() S {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ForceNextState overrides the result of the next step's handler. Hooks
// still fire if the forced state differs from the current one.
func (m *StateMachine[S, C]) ForceNextState(s S) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced = &s
}

// OnTransition registers fn to be called after every completed transition.
func (m *StateMachine[S, C]) OnTransition(fn func(from, to S)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Run performs exactly one transition step.
func (m *StateMachine[S, C]) Run(ctx C) error {
	from := m.Current()
	handler := m.handlers[from]

	to, err := handler.Next(ctx)
	if err != nil {
		return &StepError{Phase: PhaseNext, From: from.String(), Err: err}
	}

	m.mu.Lock()
	if m.forced != nil {
		to = *m.forced
		m.forced = nil
	}
	m.mu.Unlock()

	if to == from {
		if !m.exited {
			return nil
		}
		if err := handler.OnEntry(ctx); err != nil {
			return &StepError{Phase: PhaseEntry, From: from.String(), To: to.String(), Err: err}
		}
		m.exited = false
		return nil
	}

	next, ok := m.handlers[to]
	if !ok {
		return &StepError{Phase: PhaseEntry, From: from.String(), To: to.String(), Err: ErrNoHandler}
	}
	if !m.exited {
		if err := handler.OnExit(ctx); err != nil {
			return &StepError{Phase: PhaseExit, From: from.String(), To: to.String(), Err: err}
		}
		m.exited = true
	}
	if err := next.OnEntry(ctx); err != nil {
		return &StepError{Phase: PhaseEntry, From: from.String(), To: to.String(), Err: err}
	}
	m.exited = false

	m.mu.Lock()
	m.current = to
	observers := make([]func(from, to S), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(from, to)
	}
	return nil
}
