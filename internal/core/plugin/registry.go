// Package plugin implements process-wide extensions created by the server and
// mirrored onto every client. A plugin exists at most once per type and is
// addressed on the wire by that type alone.
package plugin

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/pkg/sequence"
)

// Behavior is the plugin-specific part. Create runs on the first update
// after the plugin was constructed.
type Behavior interface {
	Create()
}

// Updater is implemented by behaviors that run every update while the
// manager plays.
type Updater interface {
	Update()
}

// StateObserver is told about manager state changes.
type StateObserver interface {
	StateChanged(state, previous State)
}

// Releaser frees behavior resources when the plugin is destroyed.
type Releaser interface {
	Release()
}

// Constructor builds the behavior of a new plugin. A nil constructor gives a
// plugin without behavior.
type Constructor func(p *Plugin) (Behavior, error)

type nopBehavior struct{}

func (nopBehavior) Create() {}

type factory struct {
	typ        string
	properties []property.Definition
	ctor       Constructor
}

// Registry maps plugin types to their constructors.
type Registry struct {
	factories  *sequence.Ordered[string, factory]
	autoCreate *sequence.Ordered[string, struct{}]
}

func NewRegistry() *Registry {
	return &Registry{
		factories:  sequence.NewOrdered[string, factory](),
		autoCreate: sequence.NewOrdered[string, struct{}](),
	}
}

// Register adds a plugin type with its declared properties.
func (r *Registry) Register(typ string, properties []property.Definition, ctor Constructor) error {
	const op = "Registry.Register"
	if typ == "" {
		return errors.InvalidParams(op, "plugin type is empty")
	}
	if r.factories.Has(typ) {
		return errors.DuplicateItem(op, "plugin type %q already registered", typ)
	}
	r.factories.Set(typ, factory{typ: typ, properties: properties, ctor: ctor})
	return nil
}

func (r *Registry) factory(typ string) (factory, error) {
	f, ok := r.factories.Get(typ)
	if !ok {
		return factory{}, errors.ItemNotFound("Registry.Factory", "plugin type %q is not registered", typ)
	}
	return f, nil
}

func (r *Registry) Has(typ string) bool { return r.factories.Has(typ) }

// Types lists registered types in registration order.
func (r *Registry) Types() []string { return r.factories.Keys() }

// AddAutoCreate marks a registered type to be created by
// Manager.CreateAutoPlugins.
func (r *Registry) AddAutoCreate(typ string) error {
	if !r.factories.Has(typ) {
		return errors.ItemNotFound("Registry.AddAutoCreate", "plugin type %q is not registered", typ)
	}
	r.autoCreate.Set(typ, struct{}{})
	return nil
}

func (r *Registry) AutoCreates() []string { return r.autoCreate.Keys() }
