// Package channel implements the process image: named, typed, time-varying
// values with a frozen current slot and a staged next slot.
//
// # Double Buffering
//
// Every Channel holds three slots:
//
//   - current: the value visible to controllers for the whole tick
//   - next: staged by the owning component (usually a bridge), invisible
//     until the engine calls Freeze
//   - next-write: an outbound command staged by controllers, consumed
//     exactly once by the bridge that pushes it to hardware
//
// Only the engine calls Freeze. Everything else stages values. Because all
// channel freezes of a tick happen before the first controller runs, every
// controller in a tick observes the same consistent snapshot.
//
// # Undefined Values
//
// A channel value may be undefined (no reading yet, communication lost).
// Undefined is never coerced to a zero value: Value returns a Value[T] with
// Defined() == false, and Get fails with *InvalidValueError.
//
// # Identifiers
//
// Channel identifiers are closed sets of ID values declared by each
// component, carrying type, unit, access mode and description as data:
//
//	var Soc = channel.NewID("SOC", channel.TypeInteger).WithUnit(channel.UnitPercent)
//
// The address of a channel is "<component-id>/<CamelCaseName>", for example
// "battery0/Soc".
package channel
