package component

import (
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/edgecycle/internal/channel"
)

// RegistryErrorCode categorizes registry errors.
type RegistryErrorCode string

const (
	// ErrCodeEmptyID indicates a component without an ID.
	ErrCodeEmptyID RegistryErrorCode = "EMPTY_ID"

	// ErrCodeDuplicateComponent indicates two components with the same ID.
	ErrCodeDuplicateComponent RegistryErrorCode = "DUPLICATE_COMPONENT"

	// ErrCodeDuplicateChannel indicates two channels with the same address.
	ErrCodeDuplicateChannel RegistryErrorCode = "DUPLICATE_CHANNEL"

	// ErrCodeNotFound indicates a lookup miss.
	ErrCodeNotFound RegistryErrorCode = "NOT_FOUND"

	// ErrCodeTypeMismatch indicates a typed channel lookup with the wrong type.
	ErrCodeTypeMismatch RegistryErrorCode = "TYPE_MISMATCH"
)

// RegistryError is returned by Registry operations. Registration errors
// are wiring faults and are fatal at activation time.
type RegistryError struct {
	Code    RegistryErrorCode
	Message string
	ID      string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.ID)
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Code == ErrCodeNotFound
	}
	return false
}

// IsDuplicate reports whether err is a duplicate component or channel.
func IsDuplicate(err error) bool {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Code == ErrCodeDuplicateComponent || re.Code == ErrCodeDuplicateChannel
	}
	return false
}

// Registry holds all active components and indexes their channels.
//
// Iteration order is registration order, which makes the engine's freeze
// order deterministic.
//
// Thread-safety: safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	components []Component
	byID       map[string]Component
	channels   []channel.Freezer
	byAddress  map[string]channel.Freezer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]Component),
		byAddress: make(map[string]channel.Freezer),
	}
}

// Register adds a component and its channels. Nothing is registered when
// an error is returned.
func (r *Registry) Register(c Component) error {
	id := c.ID()
	if id == "" {
		return &RegistryError{Code: ErrCodeEmptyID, Message: "component ID is required", ID: fmt.Sprintf("%T", c)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return &RegistryError{Code: ErrCodeDuplicateComponent, Message: "component already registered", ID: id}
	}

	chs := c.Channels()
	seen := make(map[string]bool, len(chs))
	for _, ch := range chs {
		addr := ch.Address().String()
		if _, exists := r.byAddress[addr]; exists || seen[addr] {
			return &RegistryError{Code: ErrCodeDuplicateChannel, Message: "channel already registered", ID: addr}
		}
		seen[addr] = true
	}

	r.components = append(r.components, c)
	r.byID[id] = c
	for _, ch := range chs {
		r.channels = append(r.channels, ch)
		r.byAddress[ch.Address().String()] = ch
	}
	return nil
}

// MustRegister registers all components, panicking on the first error.
// Intended for tests and static wiring.
func (r *Registry) MustRegister(cs ...Component) {
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			panic(err)
		}
	}
}

// Component returns the component with the given ID.
func (r *Registry) Component(id string) (Component, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, &RegistryError{Code: ErrCodeNotFound, Message: "component not found", ID: id}
	}
	return c, nil
}

// Controller returns the controller with the given ID.
func (r *Registry) Controller(id string) (Controller, error) {
	c, err := r.Component(id)
	if err != nil {
		return nil, err
	}
	ctrl, ok := c.(Controller)
	if !ok {
		return nil, &RegistryError{Code: ErrCodeTypeMismatch, Message: "component is not a controller", ID: id}
	}
	return ctrl, nil
}

// Components returns all components in registration order.
func (r *Registry) Components() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Component, len(r.components))
	copy(out, r.components)
	return out
}

// ControllerIDs returns the IDs of all registered controllers in
// registration order.
func (r *Registry) ControllerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, c := range r.components {
		if _, ok := c.(Controller); ok {
			ids = append(ids, c.ID())
		}
	}
	return ids
}

// Channels returns all channels in registration order.
func (r *Registry) Channels() []channel.Freezer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]channel.Freezer, len(r.channels))
	copy(out, r.channels)
	return out
}

// Channel returns the channel at the given address ("component/Channel").
func (r *Registry) Channel(address string) (channel.Freezer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.byAddress[address]
	if !ok {
		return nil, &RegistryError{Code: ErrCodeNotFound, Message: "channel not found", ID: address}
	}
	return ch, nil
}

// Lookup returns the typed channel at address.
func Lookup[T comparable](r *Registry, address string) (*channel.Channel[T], error) {
	ch, err := r.Channel(address)
	if err != nil {
		return nil, err
	}
	typed, ok := ch.(*channel.Channel[T])
	if !ok {
		var zero T
		return nil, &RegistryError{
			Code:    ErrCodeTypeMismatch,
			Message: fmt.Sprintf("channel is %T, not %T", ch, zero),
			ID:      address,
		}
	}
	return typed, nil
}
