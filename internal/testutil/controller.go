package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/roach88/edgecycle/internal/component"
)

// Recorder collects entries from controllers and phase hooks in the order
// they happened.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

// Record appends an entry.
func (r *Recorder) Record(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

// Entries returns a copy of all entries.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset clears all entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}

// RecordingController is a controller that records its ID on every run.
//
// Configure Err, Panic and OnRun before the cycle starts; they are read
// without synchronization.
type RecordingController struct {
	component.Base

	rec  *Recorder
	runs atomic.Int64

	// Err is returned from every Run.
	Err error
	// Panic, when non-nil, is raised after recording.
	Panic any
	// OnRun runs after recording and before Err/Panic are applied.
	OnRun func(ctx context.Context) error
}

// NewRecordingController creates a controller recording into rec.
func NewRecordingController(id string, rec *Recorder) *RecordingController {
	return &RecordingController{Base: component.NewBase(id), rec: rec}
}

// Run implements component.Controller.
func (c *RecordingController) Run(ctx context.Context) error {
	c.runs.Add(1)
	if c.rec != nil {
		c.rec.Record(c.ID())
	}
	if c.OnRun != nil {
		if err := c.OnRun(ctx); err != nil {
			return err
		}
	}
	if c.Panic != nil {
		panic(c.Panic)
	}
	return c.Err
}

// Runs returns how many times Run was called.
func (c *RecordingController) Runs() int64 {
	return c.runs.Load()
}
