package startstop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/edgecycle/internal/battery"
	"github.com/roach88/edgecycle/internal/channel"
	"github.com/roach88/edgecycle/internal/component"
	"github.com/roach88/edgecycle/internal/engine"
	"github.com/roach88/edgecycle/internal/scheduler"
	"github.com/roach88/edgecycle/internal/testutil"
)

func TestStartStop_Hysteresis(t *testing.T) {
	clk := testutil.NewManualClock()
	bat := battery.New("battery0", battery.DefaultConfig(), battery.WithClock(clk))
	ctrl := New("ctrlStartStop0", Config{StopBelow: 10, StartAbove: 20}, bat)

	reg := component.NewRegistry()
	reg.MustRegister(bat, ctrl)
	cycle, err := engine.New(reg, scheduler.Fixed{"ctrlStartStop0"}, engine.WithClock(clk))
	require.NoError(t, err)

	steps := []struct {
		soc  *int
		want battery.StartStop
	}{
		{nil, battery.StartStopStart},
		{ptr(50), battery.StartStopStart},
		{ptr(10), battery.StartStopStop},
		{ptr(15), battery.StartStopStop},
		{ptr(19), battery.StartStopStop},
		{ptr(20), battery.StartStopStart},
		{ptr(11), battery.StartStopStart},
	}
	for _, step := range steps {
		if step.soc != nil {
			bat.Soc().SetNextValue(*step.soc)
		}
		cycle.RunOnce(context.Background())
		assert.Equal(t, step.want, bat.StartStopTarget(), "soc %v", step.soc)
	}

	cycle.RunOnce(context.Background())
	assert.Equal(t, channel.Defined(battery.StartStopStart), ctrl.Target().Value())
	assert.Equal(t, "Target:START", ctrl.DebugLog())
}

func ptr(v int) *int { return &v }
