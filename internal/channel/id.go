package channel

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Type is the value type a channel carries.
type Type int

const (
	TypeBoolean Type = iota + 1
	TypeInteger
	TypeLong
	TypeFloat
	TypeDouble
	TypeString
	// TypeEnum marks channels carrying a closed enumeration (states, levels).
	TypeEnum
)

func (t Type) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeString:
		return "string"
	case TypeEnum:
		return "enum"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// AccessMode controls whether a channel accepts staged write commands.
type AccessMode int

const (
	ReadOnly AccessMode = iota
	WriteOnly
	ReadWrite
)

// Writable reports whether SetNextWriteValue is permitted.
func (m AccessMode) Writable() bool {
	return m == WriteOnly || m == ReadWrite
}

func (m AccessMode) String() string {
	switch m {
	case ReadOnly:
		return "RO"
	case WriteOnly:
		return "WO"
	case ReadWrite:
		return "RW"
	default:
		return fmt.Sprintf("access(%d)", int(m))
	}
}

// Unit is the physical unit of a channel value.
type Unit string

const (
	UnitNone         Unit = ""
	UnitWatt         Unit = "W"
	UnitWattHours    Unit = "Wh"
	UnitVolt         Unit = "V"
	UnitAmpere       Unit = "A"
	UnitPercent      Unit = "%"
	UnitMilliseconds Unit = "ms"
	UnitSeconds      Unit = "s"
)

// ID identifies a channel within its component and carries descriptive
// metadata. IDs are plain values; components declare them as package-level
// variables and never mutate them.
type ID struct {
	// Name is the UPPER_SNAKE_CASE identifier, unique within a component.
	Name   string
	Type   Type
	Unit   Unit
	Access AccessMode
	Text   string
}

// NewID creates a read-only ID.
func NewID(name string, t Type) ID {
	return ID{Name: name, Type: t, Access: ReadOnly}
}

// WithUnit returns a copy of id with the given unit.
func (id ID) WithUnit(u Unit) ID {
	id.Unit = u
	return id
}

// WithAccess returns a copy of id with the given access mode.
func (id ID) WithAccess(m AccessMode) ID {
	id.Access = m
	return id
}

// WithText returns a copy of id with a human-readable description.
func (id ID) WithText(text string) ID {
	id.Text = text
	return id
}

// CamelCase converts the UPPER_SNAKE_CASE name to UpperCamelCase, which is
// the form used in channel addresses ("MEASURED_CYCLE_TIME" becomes
// "MeasuredCycleTime").
func (id ID) CamelCase() string {
	// cases.Caser is stateful; one per call keeps ID safe for concurrent use.
	title := cases.Title(language.Und)
	var b strings.Builder
	for _, part := range strings.Split(id.Name, "_") {
		if part == "" {
			continue
		}
		b.WriteString(title.String(strings.ToLower(part)))
	}
	return b.String()
}

func (id ID) String() string {
	return id.CamelCase()
}

// Address locates a channel: component ID plus CamelCase channel name.
type Address struct {
	Component string
	Channel   string
}

// NewAddress builds the address of id on the given component.
func NewAddress(component string, id ID) Address {
	return Address{Component: component, Channel: id.CamelCase()}
}

func (a Address) String() string {
	return a.Component + "/" + a.Channel
}

// ParseAddress parses "component/Channel".
func ParseAddress(s string) (Address, error) {
	component, ch, ok := strings.Cut(s, "/")
	if !ok || component == "" || ch == "" || strings.Contains(ch, "/") {
		return Address{}, fmt.Errorf("invalid channel address %q: want <component>/<Channel>", s)
	}
	return Address{Component: component, Channel: ch}, nil
}
