// Package scheduler provides engine.Scheduler implementations that decide
// which controllers run, and in which order, on each tick.
//
// Schedulers are re-queried every tick, so a scheduler that returns a
// different list (Daily crossing a window boundary, Alphabetical after a
// controller was registered) takes effect at the next tick boundary.
package scheduler

import (
	"context"
	"slices"
	"time"

	"github.com/roach88/edgecycle/internal/component"
)

// Fixed runs controllers in exactly the listed order.
type Fixed []string

// Controllers implements engine.Scheduler.
func (f Fixed) Controllers(context.Context, time.Time) ([]string, error) {
	return slices.Clone(f), nil
}

// Alphabetical runs the prefix controllers first, in the given order, then
// every other registered controller sorted by ID.
type Alphabetical struct {
	registry *component.Registry
	prefix   []string
}

// NewAlphabetical creates an Alphabetical scheduler over registry.
func NewAlphabetical(registry *component.Registry, prefix ...string) *Alphabetical {
	return &Alphabetical{registry: registry, prefix: slices.Clone(prefix)}
}

// Controllers implements engine.Scheduler. Prefix IDs are returned even
// when not registered so the cycle reports them as missing.
func (a *Alphabetical) Controllers(context.Context, time.Time) ([]string, error) {
	out := slices.Clone(a.prefix)
	var rest []string
	for _, id := range a.registry.ControllerIDs() {
		if !slices.Contains(a.prefix, id) {
			rest = append(rest, id)
		}
	}
	slices.Sort(rest)
	return append(out, rest...), nil
}
