package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// lookback bounds how far Daily searches for the most recent window
// activation. Every standard daily or weekly expression fires within it.
const lookback = 8 * 24 * time.Hour

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Window activates a controller list from the time its cron expression
// fires until the next window fires.
type Window struct {
	Name        string
	Spec        string
	Controllers []string
}

type window struct {
	Window
	schedule cron.Schedule
}

// Daily selects the controller list of the most recently fired window.
// Before any window has fired within the lookback, Fallback is used.
type Daily struct {
	windows  []window
	fallback []string

	mu     sync.Mutex
	active string
}

// ValidSpec reports whether spec is a five-field cron expression or a
// descriptor such as "@daily".
func ValidSpec(spec string) error {
	_, err := parser.Parse(spec)
	return err
}

// NewDaily parses every window's five-field cron expression.
func NewDaily(windows []Window, fallback []string) (*Daily, error) {
	d := &Daily{fallback: slices.Clone(fallback)}
	for _, w := range windows {
		sched, err := parser.Parse(w.Spec)
		if err != nil {
			return nil, fmt.Errorf("window %q: invalid cron expression %q: %w", w.Name, w.Spec, err)
		}
		w.Controllers = slices.Clone(w.Controllers)
		d.windows = append(d.windows, window{Window: w, schedule: sched})
	}
	return d, nil
}

// Controllers implements engine.Scheduler. Ties between windows firing at
// the same instant go to the one declared last.
func (d *Daily) Controllers(_ context.Context, now time.Time) ([]string, error) {
	name, ids := d.Active(now)
	d.mu.Lock()
	d.active = name
	d.mu.Unlock()
	return ids, nil
}

// Active returns the name and controller list in effect at now. The name
// is empty when the fallback list is in effect.
func (d *Daily) Active(now time.Time) (string, []string) {
	var (
		best     *window
		bestFire time.Time
	)
	for i := range d.windows {
		w := &d.windows[i]
		fired, ok := lastFire(w.schedule, now)
		if !ok {
			continue
		}
		if best == nil || !fired.Before(bestFire) {
			best, bestFire = w, fired
		}
	}
	if best == nil {
		return "", slices.Clone(d.fallback)
	}
	return best.Name, slices.Clone(best.Controllers)
}

// LastActive returns the window name selected on the most recent tick.
func (d *Daily) LastActive() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// lastFire returns the latest activation at or before now.
func lastFire(s cron.Schedule, now time.Time) (time.Time, bool) {
	var (
		last  time.Time
		found bool
	)
	// Next is strictly after its argument; step back one second so an
	// activation exactly at now counts.
	t := s.Next(now.Add(-lookback - time.Second))
	for !t.IsZero() && !t.After(now) {
		last, found = t, true
		t = s.Next(t)
	}
	return last, found
}
