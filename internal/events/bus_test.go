package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	reports []CycleReport
}

func (c *collector) handle(_ context.Context, r CycleReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *collector) ticks() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint64, 0, len(c.reports))
	for _, r := range c.reports {
		out = append(out, r.Tick)
	}
	return out
}

func TestBus_FanOutPreservesOrder(t *testing.T) {
	bus := NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	ctx := context.Background()
	a, b := &collector{}, &collector{}
	require.NoError(t, bus.SubscribeReports(ctx, "a", a.handle))
	require.NoError(t, bus.SubscribeReports(ctx, "b", b.handle))

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, bus.PublishReport(ctx, CycleReport{Tick: i}))
	}

	want := []uint64{1, 2, 3, 4, 5}
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, a.ticks()) }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, b.ticks()) }, time.Second, 5*time.Millisecond)
}

func TestBus_RoundTripsReport(t *testing.T) {
	bus := NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	got := make(chan CycleReport, 1)
	require.NoError(t, bus.SubscribeReports(context.Background(), "one", func(_ context.Context, r CycleReport) error {
		got <- r
		return nil
	}))

	sent := CycleReport{
		Tick:        7,
		StartedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Duration:    3 * time.Millisecond,
		CycleTimeMs: 1000,
		Controllers: []string{"ctrl0", "ctrl1"},
		Failed:      []ControllerFailure{{ID: "ctrl1", Error: "boom"}},
		Changed: []Sample{
			{Address: "battery0/Soc", Value: float64(55), Defined: true},
			{Address: "meter0/ActivePower", Defined: false},
		},
	}
	require.NoError(t, bus.PublishReport(context.Background(), sent))

	select {
	case r := <-got:
		assert.Equal(t, sent, r)
		assert.False(t, r.OK())
	case <-time.After(time.Second):
		t.Fatal("report not delivered")
	}
}

func TestBus_HandlerErrorDoesNotRedeliver(t *testing.T) {
	bus := NewBus(nil)
	t.Cleanup(func() { _ = bus.Close() })

	var mu sync.Mutex
	calls := 0
	require.NoError(t, bus.SubscribeReports(context.Background(), "failing", func(context.Context, CycleReport) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("observer down")
	}))

	require.NoError(t, bus.PublishReport(context.Background(), CycleReport{Tick: 1}))
	require.NoError(t, bus.PublishReport(context.Background(), CycleReport{Tick: 2}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestBus_SubscribeAfterClose(t *testing.T) {
	bus := NewBus(nil)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	err := bus.SubscribeReports(context.Background(), "late", (&collector{}).handle)
	assert.Error(t, err)
}

func TestPhases_Order(t *testing.T) {
	phases := Phases()
	require.Len(t, phases, 7)
	assert.Equal(t, TopicBeforeProcessImage, phases[0])
	assert.Equal(t, TopicExecuteWrite, phases[5])
	assert.Equal(t, TopicAfterWrite, phases[6])
}
