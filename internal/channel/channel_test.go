package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testSoc     = NewID("SOC", TypeInteger).WithUnit(UnitPercent)
	testSetting = NewID("SET_ACTIVE_POWER", TypeInteger).WithUnit(UnitWatt).WithAccess(ReadWrite)
)

func TestChannel_StartsUndefined(t *testing.T) {
	ch := New[int]("battery0", testSoc)

	assert.False(t, ch.Value().IsDefined())
	_, err := ch.Get()
	require.Error(t, err)
	assert.True(t, IsInvalidValue(err))

	var ive *InvalidValueError
	require.True(t, errors.As(err, &ive))
	assert.Equal(t, "battery0/Soc", ive.Address.String())
}

func TestChannel_NextValueInvisibleUntilFreeze(t *testing.T) {
	ch := New[int]("battery0", testSoc)

	ch.SetNextValue(42)
	assert.False(t, ch.Value().IsDefined(), "staged value must not be visible before freeze")

	ch.Freeze()
	v, err := ch.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// Later staging does not affect the frozen value
	ch.SetNextValue(43)
	v, err = ch.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	ch.Freeze()
	v, _ = ch.Get()
	assert.Equal(t, 43, v)
}

func TestChannel_ZeroIsNotUndefined(t *testing.T) {
	ch := New[int]("battery0", testSoc)
	ch.SetNextValue(0)
	ch.Freeze()

	v, err := ch.Get()
	require.NoError(t, err)
	assert.Equal(t, 0, v)
	assert.True(t, ch.Value().IsDefined())
}

func TestChannel_FreezeKeepsLastStagedValue(t *testing.T) {
	ch := New[int]("battery0", testSoc)
	ch.SetNextValue(1)
	ch.SetNextValue(2)
	ch.SetNextValue(3)
	ch.Freeze()

	v, _ := ch.Get()
	assert.Equal(t, 3, v)

	// Without new staging the value persists across freezes
	assert.False(t, ch.Freeze())
	v, _ = ch.Get()
	assert.Equal(t, 3, v)
}

func TestChannel_SetNextUndefined(t *testing.T) {
	ch := New[int]("battery0", testSoc)
	ch.SetNextValue(10)
	ch.Freeze()

	ch.SetNextUndefined()
	assert.True(t, ch.Freeze())
	assert.False(t, ch.Value().IsDefined())
	assert.Equal(t, 7, ch.Value().OrElse(7))
}

func TestChannel_TakeNextWriteValueConsumes(t *testing.T) {
	ch := New[int]("battery0", testSetting)

	_, ok := ch.TakeNextWriteValue()
	assert.False(t, ok)

	require.NoError(t, ch.SetNextWriteValue(-500))
	assert.True(t, ch.PeekNextWriteValue().IsDefined())

	v, ok := ch.TakeNextWriteValue()
	require.True(t, ok)
	assert.Equal(t, -500, v)

	_, ok = ch.TakeNextWriteValue()
	assert.False(t, ok, "second take without new staging must return no value")
}

func TestChannel_WriteIndependentOfProcessImage(t *testing.T) {
	ch := New[int]("battery0", testSetting)
	require.NoError(t, ch.SetNextWriteValue(100))
	ch.Freeze()

	assert.False(t, ch.Value().IsDefined(), "write commands never reach the current slot")
	v, ok := ch.TakeNextWriteValue()
	assert.True(t, ok)
	assert.Equal(t, 100, v)
}

func TestChannel_ReadOnlyRejectsWrite(t *testing.T) {
	ch := New[int]("battery0", testSoc)

	err := ch.SetNextWriteValue(1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotWritable)
	assert.Contains(t, err.Error(), "battery0/Soc")
}

func TestChannel_OnChangeFiresOnlyOnChange(t *testing.T) {
	ch := New[int]("battery0", testSoc)

	type change struct{ old, new Value[int] }
	var changes []change
	ch.OnChange(func(old, new Value[int]) {
		changes = append(changes, change{old, new})
	})

	ch.SetNextValue(5)
	ch.Freeze()
	ch.Freeze() // unchanged
	ch.SetNextValue(5)
	ch.Freeze() // unchanged
	ch.SetNextValue(6)
	ch.Freeze()

	require.Len(t, changes, 2)
	assert.False(t, changes[0].old.IsDefined())
	assert.Equal(t, Defined(5), changes[0].new)
	assert.Equal(t, Defined(5), changes[1].old)
	assert.Equal(t, Defined(6), changes[1].new)
}

func TestChannel_OnChangeMayReadChannel(t *testing.T) {
	ch := New[int]("battery0", testSoc)
	var seen int
	ch.OnChange(func(_, _ Value[int]) {
		// Must not deadlock: listeners run after the lock is released
		seen = ch.Value().OrElse(-1)
	})
	ch.SetNextValue(9)
	ch.Freeze()
	assert.Equal(t, 9, seen)
}

func TestChannel_Any(t *testing.T) {
	ch := New[bool]("battery0", NewID("FAULT", TypeBoolean))

	_, ok := ch.Any()
	assert.False(t, ok)

	ch.SetNextValue(false)
	ch.Freeze()
	v, ok := ch.Any()
	require.True(t, ok)
	assert.Equal(t, false, v)
}

type testState int

func TestChannel_SetNextAny(t *testing.T) {
	t.Run("exact type", func(t *testing.T) {
		ch := New[bool]("c", NewID("FAULT", TypeBoolean))
		require.NoError(t, ch.SetNextAny(true))
		ch.Freeze()
		assert.Equal(t, Defined(true), ch.Value())
	})

	t.Run("numeric conversion", func(t *testing.T) {
		ch := New[int64]("c", NewID("ENERGY", TypeLong))
		require.NoError(t, ch.SetNextAny(12))
		ch.Freeze()
		assert.Equal(t, Defined(int64(12)), ch.Value())
	})

	t.Run("named enum", func(t *testing.T) {
		ch := New[testState]("c", NewID("STATE", TypeEnum))
		require.NoError(t, ch.SetNextAny(3))
		ch.Freeze()
		assert.Equal(t, Defined(testState(3)), ch.Value())
	})

	t.Run("nil is undefined", func(t *testing.T) {
		ch := New[int]("c", testSoc)
		ch.SetNextValue(1)
		ch.Freeze()
		require.NoError(t, ch.SetNextAny(nil))
		ch.Freeze()
		assert.False(t, ch.Value().IsDefined())
	})

	t.Run("incompatible kind", func(t *testing.T) {
		ch := New[bool]("c", NewID("FAULT", TypeBoolean))
		err := ch.SetNextAny(1)
		require.Error(t, err)
		var ce *ConversionError
		assert.True(t, errors.As(err, &ce))
	})

	t.Run("int is not a string", func(t *testing.T) {
		ch := New[string]("c", NewID("SERIAL", TypeString))
		assert.Error(t, ch.SetNextAny(65))
	})
}

func TestValue_String(t *testing.T) {
	assert.Equal(t, "UNDEFINED", Undefined[int]().String())
	assert.Equal(t, "12", Defined(12).String())
}
