package channel

import (
	"fmt"
	"reflect"
	"sync"
)

// Value is a possibly-undefined channel value.
type Value[T comparable] struct {
	v       T
	defined bool
}

// Defined wraps a concrete value.
func Defined[T comparable](v T) Value[T] {
	return Value[T]{v: v, defined: true}
}

// Undefined returns the undefined value of T.
func Undefined[T comparable]() Value[T] {
	return Value[T]{}
}

// Get returns the value and whether it is defined.
func (v Value[T]) Get() (T, bool) {
	return v.v, v.defined
}

// IsDefined reports whether v holds a concrete value.
func (v Value[T]) IsDefined() bool {
	return v.defined
}

// OrElse returns the value, or def when undefined.
func (v Value[T]) OrElse(def T) T {
	if !v.defined {
		return def
	}
	return v.v
}

func (v Value[T]) String() string {
	if !v.defined {
		return "UNDEFINED"
	}
	return fmt.Sprint(v.v)
}

// Freezer is the type-erased view of a channel used by the engine,
// registries and observers.
type Freezer interface {
	Address() Address
	ID() ID
	// Freeze copies next to current and reports whether current changed.
	// Only the engine may call it.
	Freeze() bool
	// Any returns the current value boxed, and whether it is defined.
	Any() (any, bool)
}

// Setter stages loosely typed values, converting them to the channel type.
// Used by configuration-driven inputs and scenario tests.
type Setter interface {
	SetNextAny(v any) error
}

// Channel is a double-buffered process-image value owned by one component.
//
// Thread-safety: staging (SetNextValue, SetNextWriteValue) may happen on a
// bridge goroutine while the engine reads; all slots are guarded by a
// mutex. Change listeners run on the goroutine calling Freeze, after the
// lock is released.
type Channel[T comparable] struct {
	address Address
	id      ID

	mu        sync.Mutex
	current   Value[T]
	next      Value[T]
	nextWrite Value[T]
	listeners []func(old, new Value[T])
}

// New creates an undefined channel for the given component.
func New[T comparable](component string, id ID) *Channel[T] {
	return &Channel[T]{
		address: NewAddress(component, id),
		id:      id,
	}
}

// Address returns "<component>/<CamelCaseName>".
func (c *Channel[T]) Address() Address {
	return c.address
}

// ID returns the channel identifier with its metadata.
func (c *Channel[T]) ID() ID {
	return c.id
}

// SetNextValue stages v. It becomes visible after the next Freeze.
func (c *Channel[T]) SetNextValue(v T) {
	c.mu.Lock()
	c.next = Defined(v)
	c.mu.Unlock()
}

// SetNext stages a possibly-undefined value.
func (c *Channel[T]) SetNext(v Value[T]) {
	c.mu.Lock()
	c.next = v
	c.mu.Unlock()
}

// SetNextUndefined stages the undefined value.
func (c *Channel[T]) SetNextUndefined() {
	c.SetNext(Undefined[T]())
}

// NextValue returns the staged value without freezing it.
func (c *Channel[T]) NextValue() Value[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Value returns the frozen current value.
func (c *Channel[T]) Value() Value[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Get returns the frozen current value, failing with *InvalidValueError
// when it is undefined.
func (c *Channel[T]) Get() (T, error) {
	v, ok := c.Value().Get()
	if !ok {
		var zero T
		return zero, &InvalidValueError{Address: c.address}
	}
	return v, nil
}

// Freeze copies next to current. Listeners registered with OnChange fire
// synchronously when the current value changed.
func (c *Channel[T]) Freeze() bool {
	c.mu.Lock()
	old := c.current
	c.current = c.next
	changed := old != c.current
	var listeners []func(old, new Value[T])
	if changed && len(c.listeners) > 0 {
		listeners = make([]func(old, new Value[T]), len(c.listeners))
		copy(listeners, c.listeners)
	}
	now := c.current
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(old, now)
	}
	return changed
}

// OnChange registers fn to be called whenever a Freeze changes the current value.
func (c *Channel[T]) OnChange(fn func(old, new Value[T])) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// SetNextWriteValue stages an outbound command for the bridge owning this
// channel. Read-only channels reject it with ErrNotWritable.
func (c *Channel[T]) SetNextWriteValue(v T) error {
	if !c.id.Access.Writable() {
		return fmt.Errorf("set write value on %s: %w", c.address, ErrNotWritable)
	}
	c.mu.Lock()
	c.nextWrite = Defined(v)
	c.mu.Unlock()
	return nil
}

// TakeNextWriteValue returns the staged write command and clears it, so
// each command is delivered to at most one consumer.
func (c *Channel[T]) TakeNextWriteValue() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.nextWrite.Get()
	c.nextWrite = Undefined[T]()
	return v, ok
}

// PeekNextWriteValue returns the staged write command without consuming it.
func (c *Channel[T]) PeekNextWriteValue() Value[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextWrite
}

// Any implements Freezer.
func (c *Channel[T]) Any() (any, bool) {
	v, ok := c.Value().Get()
	if !ok {
		return nil, false
	}
	return v, true
}

// SetNextAny implements Setter. Nil stages undefined; numeric kinds are
// converted when the target type allows it.
func (c *Channel[T]) SetNextAny(v any) error {
	if v == nil {
		c.SetNextUndefined()
		return nil
	}
	if typed, ok := v.(T); ok {
		c.SetNextValue(typed)
		return nil
	}
	target := reflect.TypeOf((*T)(nil)).Elem()
	rv := reflect.ValueOf(v)
	if !convertible(rv.Kind(), target.Kind()) || !rv.CanConvert(target) {
		return &ConversionError{Address: c.address, Value: v, Target: target.String()}
	}
	c.SetNextValue(rv.Convert(target).Interface().(T))
	return nil
}

// convertible restricts reflect conversions to the numeric-to-numeric and
// same-kind cases; reflect would otherwise turn ints into strings.
func convertible(from, to reflect.Kind) bool {
	if from == to {
		return true
	}
	return isNumeric(from) && isNumeric(to)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
