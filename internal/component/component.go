// Package component defines components, controllers and the explicitly
// injected registry that locates them and their channels.
//
// There is no global lookup: every controller, state-machine context and
// CLI command receives the *Registry it needs.
package component

import (
	"context"

	"github.com/roach88/edgecycle/internal/channel"
)

// Component owns a set of channels for its whole lifetime.
type Component interface {
	ID() string
	Channels() []channel.Freezer
}

// Controller is a component with per-tick business logic. Run executes on
// the cycle goroutine against the frozen process image and must not block.
type Controller interface {
	Component
	Run(ctx context.Context) error
}

// Debugger is implemented by components that contribute a short status
// string to the per-cycle debug log.
type Debugger interface {
	DebugLog() string
}

// Base implements Component for embedding. Channels are created with Add.
type Base struct {
	id       string
	channels []channel.Freezer
}

// NewBase creates a Base for the given component ID.
func NewBase(id string) Base {
	return Base{id: id}
}

// ID implements Component.
func (b *Base) ID() string {
	return b.id
}

// Channels implements Component, in declaration order.
func (b *Base) Channels() []channel.Freezer {
	out := make([]channel.Freezer, len(b.channels))
	copy(out, b.channels)
	return out
}

// Add creates a channel on b and returns it typed.
func Add[T comparable](b *Base, id channel.ID) *channel.Channel[T] {
	ch := channel.New[T](b.id, id)
	b.channels = append(b.channels, ch)
	return ch
}
