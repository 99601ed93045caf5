package engine

import (
	"errors"
	"fmt"
)

// CycleError represents a failure isolated within one tick.
//
// Cycle errors include:
//   - Controller failure: Run returned an error
//   - Controller panic: Run panicked and was recovered
//   - Missing controller: the scheduler named an unknown controller
//   - Scheduler failure: no controller order for this tick
//   - Phase failure: a phase hook returned an error or panicked
//
// None of them stop the cycle; they are logged and reported in the tick's
// CycleReport.
type CycleError struct {
	// Code identifies the error category.
	Code CycleErrorCode

	// Message is a human-readable description.
	Message string

	// Tick is the tick the error occurred in.
	Tick uint64

	// Source names the failing controller or phase hook.
	Source string

	// Err is the underlying error, if any.
	Err error
}

// CycleErrorCode categorizes cycle errors.
type CycleErrorCode string

const (
	// ErrCodeControllerFailed indicates a controller returned an error.
	ErrCodeControllerFailed CycleErrorCode = "CONTROLLER_FAILED"

	// ErrCodeControllerPanic indicates a controller panicked.
	ErrCodeControllerPanic CycleErrorCode = "CONTROLLER_PANIC"

	// ErrCodeControllerNotFound indicates the scheduler named an unknown controller.
	ErrCodeControllerNotFound CycleErrorCode = "CONTROLLER_NOT_FOUND"

	// ErrCodeSchedulerFailed indicates the scheduler returned an error.
	ErrCodeSchedulerFailed CycleErrorCode = "SCHEDULER_FAILED"

	// ErrCodePhaseFailed indicates a phase hook failed.
	ErrCodePhaseFailed CycleErrorCode = "PHASE_FAILED"
)

// ErrInvalidCycleTime is returned by SetCycleTime for unsupported values.
var ErrInvalidCycleTime = errors.New("invalid cycle time")

// Error implements the error interface.
func (e *CycleError) Error() string {
	msg := fmt.Sprintf("%s: %s (tick=%d, source=%s)", e.Code, e.Message, e.Tick, e.Source)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CycleError) Unwrap() error {
	return e.Err
}

// IsControllerError returns true if err is a controller failure, panic or
// lookup miss. Uses errors.As to handle wrapped errors.
func IsControllerError(err error) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		switch ce.Code {
		case ErrCodeControllerFailed, ErrCodeControllerPanic, ErrCodeControllerNotFound:
			return true
		}
	}
	return false
}

// IsSchedulerError returns true if err is a scheduler failure.
func IsSchedulerError(err error) bool {
	var ce *CycleError
	if errors.As(err, &ce) {
		return ce.Code == ErrCodeSchedulerFailed
	}
	return false
}

func newControllerError(tick uint64, id string, err error) *CycleError {
	return &CycleError{
		Code:    ErrCodeControllerFailed,
		Message: "controller run failed",
		Tick:    tick,
		Source:  id,
		Err:     err,
	}
}

func newControllerPanic(tick uint64, id string, recovered any) *CycleError {
	return &CycleError{
		Code:    ErrCodeControllerPanic,
		Message: fmt.Sprintf("controller panicked: %v", recovered),
		Tick:    tick,
		Source:  id,
	}
}

func newPhaseError(tick uint64, source string, err error) *CycleError {
	return &CycleError{
		Code:    ErrCodePhaseFailed,
		Message: "phase hook failed",
		Tick:    tick,
		Source:  source,
		Err:     err,
	}
}
