package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Task that records the start time of every iteration.
type recorder struct {
	mu     sync.Mutex
	starts []time.Time
	fn     func(n int) error
}

func (r *recorder) Forever(ctx context.Context) error {
	r.mu.Lock()
	r.starts = append(r.starts, time.Now())
	n := len(r.starts)
	r.mu.Unlock()
	if r.fn != nil {
		return r.fn(n)
	}
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *recorder) times() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.starts))
	copy(out, r.starts)
	return out
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
}

func TestWorker_DoNotWaitPollsContinuously(t *testing.T) {
	rec := &recorder{}
	w := New("poller", rec, WithCadence(DoNotWait))
	startWorker(t, w)

	assert.Eventually(t, func() bool { return rec.count() >= 100 }, time.Second, time.Millisecond)
}

func TestWorker_FixedRateEnforcesMinimumInterArrival(t *testing.T) {
	rec := &recorder{}
	w := New("fixed", rec, WithCadence(20))
	startWorker(t, w)

	require.Eventually(t, func() bool { return rec.count() >= 4 }, 2*time.Second, time.Millisecond)
	w.Stop()

	starts := rec.times()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.GreaterOrEqual(t, gap, 19*time.Millisecond, "iteration %d came too early", i)
	}
}

func TestWorker_FixedRateDoesNotStackOverrun(t *testing.T) {
	// Forever takes 30ms with a 20ms cadence: no extra sleep after overrun
	rec := &recorder{fn: func(int) error {
		time.Sleep(30 * time.Millisecond)
		return nil
	}}
	w := New("overrun", rec, WithCadence(20))
	startWorker(t, w)

	require.Eventually(t, func() bool { return rec.count() >= 3 }, 2*time.Second, time.Millisecond)
	w.Stop()

	starts := rec.times()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(starts[i-1])
		assert.Less(t, gap, 45*time.Millisecond, "overrun must not add the full cadence on top")
	}
}

func TestWorker_ForceRunShortensWait(t *testing.T) {
	rec := &recorder{}
	w := New("slow", rec, WithCadence(10_000))
	startWorker(t, w)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	w.TriggerForceRun()
	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)

	starts := rec.times()
	assert.Less(t, starts[1].Sub(starts[0]), 5*time.Second)
}

func TestWorker_WaitForTriggerReleasesOneIteration(t *testing.T) {
	rec := &recorder{}
	w := New("triggered", rec, WithCadence(AlwaysWaitForTrigger))
	startWorker(t, w)

	// The first iteration runs at start, then the worker blocks
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	w.TriggerNextCycle()
	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestWorker_TriggersCoalesceWhileBusy(t *testing.T) {
	release := make(chan struct{})
	rec := &recorder{fn: func(n int) error {
		if n == 1 {
			<-release
		}
		return nil
	}}
	w := New("busy", rec, WithCadence(AlwaysWaitForTrigger))
	startWorker(t, w)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	// Triggers while the first iteration is still running: remembered once
	w.TriggerNextCycle()
	w.TriggerNextCycle()
	w.TriggerNextCycle()
	close(release)

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return rec.count() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestWorker_SwitchAwayFromTriggerResumes(t *testing.T) {
	rec := &recorder{}
	w := New("switch", rec, WithCadence(AlwaysWaitForTrigger))
	startWorker(t, w)

	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, w.SetCadence(DoNotWait))
	assert.Eventually(t, func() bool { return rec.count() >= 10 }, time.Second, time.Millisecond)

	require.NoError(t, w.SetCadence(AlwaysWaitForTrigger))
	time.Sleep(20 * time.Millisecond)
	settled := rec.count()
	assert.Never(t, func() bool { return rec.count() > settled+1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestWorker_FailureBackOffGrowsAndResets(t *testing.T) {
	rec := &recorder{fn: func(n int) error {
		if n <= 3 {
			return errors.New("device unreachable")
		}
		return nil
	}}
	w := New("flaky", rec, WithCadence(DoNotWait), WithBackOff(20*time.Millisecond, 40*time.Millisecond))
	startWorker(t, w)

	require.Eventually(t, func() bool { return rec.count() >= 5 }, 2*time.Second, time.Millisecond)
	w.Stop()

	starts := rec.times()
	assert.GreaterOrEqual(t, starts[1].Sub(starts[0]), 19*time.Millisecond)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[1]), 39*time.Millisecond)
	// Capped at max
	assert.GreaterOrEqual(t, starts[3].Sub(starts[2]), 39*time.Millisecond)
	assert.Less(t, starts[3].Sub(starts[2]), 75*time.Millisecond)
	assert.Equal(t, uint64(3), w.Failures())
}

func TestWorker_PanicIsRecovered(t *testing.T) {
	rec := &recorder{fn: func(n int) error {
		if n == 1 {
			panic("boom")
		}
		return nil
	}}
	w := New("panicky", rec, WithCadence(DoNotWait), WithBackOff(time.Millisecond, time.Millisecond))
	startWorker(t, w)

	assert.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), w.Failures())
}

func TestWorker_ForceRunDuringBackOffRestartsImmediately(t *testing.T) {
	tests := []struct {
		name    string
		cadence int
	}{
		{"wait for trigger", AlwaysWaitForTrigger},
		{"fixed rate", 10_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{fn: func(n int) error {
				if n == 1 {
					return errors.New("fail once")
				}
				return nil
			}}
			w := New("interrupted", rec, WithCadence(tt.cadence), WithBackOff(time.Hour, time.Hour))
			startWorker(t, w)

			require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, time.Millisecond)
			w.TriggerForceRun()
			assert.Eventually(t, func() bool { return rec.count() == 2 }, 500*time.Millisecond, time.Millisecond)
		})
	}
}

func TestWorker_RejectsCadenceBelowWaitForTrigger(t *testing.T) {
	w := New("bad", &recorder{}, WithCadence(DoNotWait))

	err := w.SetCadence(-2)
	require.ErrorIs(t, err, ErrInvalidCadence)
	assert.Equal(t, DoNotWait, w.Cadence(), "rejected cadence is not applied")

	err = New("bad", &recorder{}, WithCadence(-5)).Start(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCadence)

	err = New("bad", &recorder{}, WithCadence(-5)).Run(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCadence)
}

func TestWorker_StopIsCooperative(t *testing.T) {
	entered := make(chan struct{})
	var finished atomic.Bool
	w := New("coop", TaskFunc(func(ctx context.Context) error {
		select {
		case <-entered:
		default:
			close(entered)
		}
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}), WithCadence(DoNotWait))
	require.NoError(t, w.Start(context.Background()))

	<-entered
	w.Stop()
	assert.True(t, finished.Load(), "Stop must wait for the in-flight iteration")
}

func TestWorker_StartTwiceFails(t *testing.T) {
	w := New("twice", &recorder{}, WithCadence(AlwaysWaitForTrigger))
	startWorker(t, w)

	err := w.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestWorker_StopWithoutStart(t *testing.T) {
	w := New("idle", &recorder{})
	w.Stop()
}

func TestWorker_RunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := New("blocking", &recorder{}, WithCadence(AlwaysWaitForTrigger))

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
