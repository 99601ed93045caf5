package channel

import (
	"errors"
	"fmt"
)

// ErrNotWritable is returned when a write command is staged on a read-only channel.
var ErrNotWritable = errors.New("channel is not writable")

// InvalidValueError reports a read of an undefined channel value where a
// concrete value was required. It is recoverable: callers typically skip
// the current tick and try again on the next one.
type InvalidValueError struct {
	Address Address
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for channel %s: undefined", e.Address)
}

// IsInvalidValue reports whether err (or any error it wraps) is an
// *InvalidValueError.
func IsInvalidValue(err error) bool {
	var ive *InvalidValueError
	return errors.As(err, &ive)
}

// ConversionError reports a value that cannot be stored in a channel of the
// given type.
type ConversionError struct {
	Address Address
	Value   any
	Target  string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("channel %s: cannot convert %v (%T) to %s", e.Address, e.Value, e.Value, e.Target)
}
