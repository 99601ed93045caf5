package observe

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/edgecycle/internal/events"
)

// SampleWriter is the subset of store.Store the recorder needs.
type SampleWriter interface {
	WriteSamples(ctx context.Context, runID string, tick uint64, at time.Time, samples []events.Sample) error
}

// Recorder persists the channels that changed in every tick.
type Recorder struct {
	store SampleWriter
	runID string
}

// NewRecorder records into store under runID.
func NewRecorder(store SampleWriter, runID string) *Recorder {
	return &Recorder{store: store, runID: runID}
}

// Record implements events.ReportHandler.
func (r *Recorder) Record(ctx context.Context, report events.CycleReport) error {
	if len(report.Changed) == 0 {
		return nil
	}
	if err := r.store.WriteSamples(ctx, r.runID, report.Tick, report.StartedAt, report.Changed); err != nil {
		return fmt.Errorf("record tick %d: %w", report.Tick, err)
	}
	return nil
}
