package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	s, err := LoadScenario(filepath.Join(scenariosDir, "start_sequence.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "start_sequence", s.Name)
	assert.Equal(t, DefaultBatteryID, s.Battery.ID)
	assert.Len(t, s.Steps, 7)
	assert.Equal(t, time.Second, s.Steps[0].Advance.Std())
	assert.Equal(t, "START", s.Steps[0].Target)
	assert.Equal(t, 50, s.Steps[0].Inputs["Soc"])
	assert.Len(t, s.Assertions, 5)

	cfg := s.Battery.BatteryConfig()
	assert.Equal(t, 2*time.Second, cfg.StartSettle)
	assert.Equal(t, 5*time.Second, cfg.StopSettle)
	assert.Equal(t, 10*time.Minute, cfg.MaxStartTime, "defaulted")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_CustomBatteryID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: custom
description: "Battery with its own id"
battery: {id: rack7}
steps:
  - advance: 1s
`), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "rack7", s.Battery.ID)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "missing name",
			doc:  "description: d\nsteps: [{advance: 1s}]\n",
			want: "name is required",
		},
		{
			name: "missing description",
			doc:  "name: n\nsteps: [{advance: 1s}]\n",
			want: "description is required",
		},
		{
			name: "no steps",
			doc:  "name: n\ndescription: d\n",
			want: "steps list is required",
		},
		{
			name: "unknown field",
			doc:  "name: n\ndescription: d\nsteps: [{advance: 1s, invoke: x}]\n",
			want: "field invoke not found",
		},
		{
			name: "bad duration",
			doc:  "name: n\ndescription: d\nsteps: [{advance: soon}]\n",
			want: "invalid duration",
		},
		{
			name: "negative repeat",
			doc:  "name: n\ndescription: d\nsteps: [{repeat: -1}]\n",
			want: "steps[0]: repeat must be non-negative",
		},
		{
			name: "bad target",
			doc:  "name: n\ndescription: d\nsteps: [{target: SIDEWAYS}]\n",
			want: `unknown start/stop value "SIDEWAYS"`,
		},
		{
			name: "bad force",
			doc:  "name: n\ndescription: d\nsteps: [{force: FLYING}]\n",
			want: `unknown battery state "FLYING"`,
		},
		{
			name: "bad expected state",
			doc:  "name: n\ndescription: d\nsteps: [{expect: {state: FLYING}}]\n",
			want: "steps[0].expect",
		},
		{
			name: "assertion without type",
			doc:  "name: n\ndescription: d\nsteps: [{}]\nassertions: [{channel: Soc}]\n",
			want: "assertions[0]: type is required",
		},
		{
			name: "unknown assertion",
			doc:  "name: n\ndescription: d\nsteps: [{}]\nassertions: [{type: trace_contains}]\n",
			want: `unknown assertion type "trace_contains"`,
		},
		{
			name: "state_sequence without states",
			doc:  "name: n\ndescription: d\nsteps: [{}]\nassertions: [{type: state_sequence}]\n",
			want: "states list is required for state_sequence",
		},
		{
			name: "never_state without states",
			doc:  "name: n\ndescription: d\nsteps: [{}]\nassertions: [{type: never_state}]\n",
			want: "states list is required for never_state",
		},
		{
			name: "write_count without channel",
			doc:  "name: n\ndescription: d\nsteps: [{}]\nassertions: [{type: write_count, count: 1}]\n",
			want: "channel is required for write_count",
		},
		{
			name: "final_channel without channel",
			doc:  "name: n\ndescription: d\nsteps: [{}]\nassertions: [{type: final_channel, value: 1}]\n",
			want: "channel is required for final_channel",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
