package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_CamelCase(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"SOC", "Soc"},
		{"MEASURED_CYCLE_TIME", "MeasuredCycleTime"},
		{"ACTIVE_POWER_L1", "ActivePowerL1"},
		{"RUN_FAILED", "RunFailed"},
		{"STATE_MACHINE", "StateMachine"},
		{"DOUBLE__UNDERSCORE", "DoubleUnderscore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewID(tt.name, TypeInteger).CamelCase())
		})
	}
}

func TestID_BuildersDoNotMutate(t *testing.T) {
	base := NewID("ACTIVE_POWER", TypeInteger)
	rw := base.WithAccess(ReadWrite).WithUnit(UnitWatt).WithText("AC power")

	assert.Equal(t, ReadOnly, base.Access)
	assert.Equal(t, UnitNone, base.Unit)
	assert.Equal(t, ReadWrite, rw.Access)
	assert.Equal(t, UnitWatt, rw.Unit)
	assert.Equal(t, "AC power", rw.Text)
	assert.True(t, rw.Access.Writable())
	assert.False(t, base.Access.Writable())
}

func TestAccessMode_String(t *testing.T) {
	assert.Equal(t, "RO", ReadOnly.String())
	assert.Equal(t, "WO", WriteOnly.String())
	assert.Equal(t, "RW", ReadWrite.String())
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("battery0/Soc")
	require.NoError(t, err)
	assert.Equal(t, Address{Component: "battery0", Channel: "Soc"}, addr)
	assert.Equal(t, "battery0/Soc", addr.String())

	for _, bad := range []string{"", "battery0", "/Soc", "battery0/", "a/b/c"} {
		_, err := ParseAddress(bad)
		assert.Error(t, err, "address %q", bad)
	}
}

func TestNewAddress(t *testing.T) {
	addr := NewAddress("_cycle", NewID("MEASURED_CYCLE_TIME", TypeInteger))
	assert.Equal(t, "_cycle/MeasuredCycleTime", addr.String())
}
