package property

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/pkg/sequence"
)

// Change is published after a property value changed.
type Change struct {
	Name     string
	Value    Value
	Previous Value
}

// Definition declares a property and its default.
type Definition struct {
	Name    string
	Default Value
}

// Set is an ordered collection of named properties. Each property remembers
// its declared default and whether it was overridden by a direct write, in
// which case values pushed from a template no longer apply.
type Set struct {
	values     *sequence.Ordered[string, Value]
	defaults   map[string]Value
	overridden map[string]bool
	changed    bus.Signal[Change]
}

func NewSet() *Set {
	return &Set{
		values:     sequence.NewOrdered[string, Value](),
		defaults:   make(map[string]Value),
		overridden: make(map[string]bool),
	}
}

// Define declares a property with its default. Redefining keeps the current
// value when it has the same kind.
func (s *Set) Define(name string, def Value) {
	s.defaults[name] = def
	if cur, ok := s.values.Get(name); ok && cur.Kind() == def.Kind() {
		return
	}
	s.values.Set(name, def)
}

// DefineAll declares every definition in order.
func (s *Set) DefineAll(defs ...Definition) {
	for _, d := range defs {
		s.Define(d.Name, d.Default)
	}
}

func (s *Set) Has(name string) bool { return s.values.Has(name) }

func (s *Set) Get(name string) (Value, bool) { return s.values.Get(name) }

// Default returns the declared default of a property.
func (s *Set) Default(name string) (Value, bool) {
	v, ok := s.defaults[name]
	return v, ok
}

func (s *Set) Names() []string { return s.values.Keys() }

func (s *Set) Len() int { return s.values.Len() }

// Snapshot copies every current value.
func (s *Set) Snapshot() map[string]Value {
	out := make(map[string]Value, s.values.Len())
	for name, v := range s.values.All() {
		out[name] = v
	}
	return out
}

// Set writes a value and marks it overridden. Undeclared names are added;
// declared ones must keep their kind.
func (s *Set) Set(name string, v Value) error {
	if err := s.write(name, v); err != nil {
		return err
	}
	s.overridden[name] = true
	return nil
}

// Apply writes a value coming from a template. It is ignored, returning
// false, when the property was overridden locally.
func (s *Set) Apply(name string, v Value) (bool, error) {
	if s.overridden[name] {
		return false, nil
	}
	if err := s.write(name, v); err != nil {
		return false, err
	}
	return true, nil
}

// Receive writes a value replicated from a peer. The override flag is left
// as it is.
func (s *Set) Receive(name string, v Value) error {
	return s.write(name, v)
}

func (s *Set) IsOverridden(name string) bool { return s.overridden[name] }

// ClearOverride makes the property follow its template again.
func (s *Set) ClearOverride(name string) { delete(s.overridden, name) }

// Reset restores a declared property to its default.
func (s *Set) Reset(name string) error {
	def, ok := s.defaults[name]
	if !ok {
		return errors.ItemNotFound("Set.Reset", "property %q has no default", name)
	}
	delete(s.overridden, name)
	return s.write(name, def)
}

func (s *Set) Subscribe(handler bus.Handler[Change]) bus.Subscription {
	return s.changed.Subscribe(handler)
}

func (s *Set) write(name string, v Value) error {
	if !v.IsValid() {
		return errors.InvalidParams("Set.Set", "invalid value for property %q", name)
	}
	prev, exists := s.values.Get(name)
	if exists && prev.Kind() != v.Kind() {
		converted, err := v.Convert(prev.Kind())
		if err != nil {
			return errors.Wrap(errors.CodeInvalidParams, "Set.Set", err, "property "+name)
		}
		v = converted
	}
	if exists && prev.Equal(v) {
		return nil
	}
	s.values.Set(name, v)
	s.changed.Publish(Change{Name: name, Value: v, Previous: prev})
	return nil
}
