// Package engine implements the scan cycle.
//
// The Cycle is the orchestrator: every tick it freezes the process image,
// runs controllers in the order the Scheduler gives, then flushes writes.
// It is a worker.Task, so cadence, manual triggering and failure backoff
// follow the worker contract exactly.
//
// ARCHITECTURE:
//
// Tick phases, strictly in order:
//  1. BEFORE_PROCESS_IMAGE: bridges finish reads and stage values
//  2. freeze every registered channel (registration order)
//  3. AFTER_PROCESS_IMAGE: state machines step on the frozen image
//  4. BEFORE_CONTROLLERS
//  5. controllers run one after another on the cycle goroutine
//  6. AFTER_CONTROLLERS, BEFORE_WRITE
//  7. EXECUTE_WRITE: bridges consume staged write values
//  8. AFTER_WRITE, then a CycleReport goes to asynchronous observers
//
// Phase hooks run synchronously on the cycle goroutine. A failing hook or
// controller is logged against its own name and the tick continues; one
// bad controller never aborts the tick or the engine goroutine.
//
// CRITICAL PATTERNS:
//
// Snapshot isolation: all freezes complete before any controller runs, so
// every controller in a tick sees the same process image. Writes staged by
// controllers reach bridges only in EXECUTE_WRITE.
//
// Tick boundary reconfiguration: SetCycleTime never interrupts a running
// tick; the new cadence governs the next wait.
package engine
