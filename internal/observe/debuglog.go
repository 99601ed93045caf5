package observe

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/edgecycle/internal/component"
)

// DebugLog logs the DebugLog string of every component.Debugger at most
// once per interval. Attach Hook to AFTER_WRITE.
type DebugLog struct {
	registry *component.Registry
	logger   *slog.Logger
	every    rate.Sometimes
}

// NewDebugLog creates a debug logger. An interval <= 0 logs every tick.
func NewDebugLog(registry *component.Registry, logger *slog.Logger, interval time.Duration) *DebugLog {
	if logger == nil {
		logger = slog.Default()
	}
	d := &DebugLog{registry: registry, logger: logger}
	if interval > 0 {
		d.every = rate.Sometimes{First: 1, Interval: interval}
	} else {
		d.every = rate.Sometimes{Every: 1}
	}
	return d
}

// Hook matches engine.PhaseHook.
func (d *DebugLog) Hook(ctx context.Context, tick uint64) error {
	d.every.Do(func() {
		attrs := []any{"tick", tick}
		for _, c := range d.registry.Components() {
			if dbg, ok := c.(component.Debugger); ok {
				attrs = append(attrs, c.ID(), dbg.DebugLog())
			}
		}
		d.logger.InfoContext(ctx, "cycle", attrs...)
	})
	return nil
}
