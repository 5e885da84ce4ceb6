package object

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/pkg/sequence"
)

// Behavior is the per-type logic attached to a component. Create runs one
// tick after the component was constructed and indexed.
type Behavior interface {
	Create()
}

// DelayedDestroyer is implemented by behaviors that hold external resources.
// Returning true keeps the owning object alive until the component calls
// Component.ReadyForDestruction.
type DelayedDestroyer interface {
	DelayedDestruction() bool
}

// Releaser is called by the default factory right before a component is
// freed.
type Releaser interface {
	Release()
}

// NetworkingTypeObserver is told when its component switched networking type.
type NetworkingTypeObserver interface {
	NetworkingTypeChanged(t network.Type)
}

// NopBehavior does nothing.
type NopBehavior struct{}

func (NopBehavior) Create() {}

// Factory constructs and destroys the behavior of one component type.
type Factory interface {
	Type() string
	// Multiple reports whether more than one instance may live on one object.
	Multiple() bool
	CanDestroy() bool
	// ClientOnly and ServerOnly force instances Local on the named side.
	ClientOnly() bool
	ServerOnly() bool
	// Properties declares the properties every instance starts with.
	// Templates only accept values for declared names when the list is not
	// empty.
	Properties() []property.Definition
	Create(c *Component) (Behavior, error)
	Destroy(c *Component)
}

type FactoryOptions struct {
	Multiple       bool
	Indestructible bool
	ClientOnly     bool
	ServerOnly     bool
	Properties     []property.Definition
}

// Constructor builds the behavior of a new component. It may declare
// properties on c.
type Constructor func(c *Component) (Behavior, error)

type factory struct {
	typ  string
	opts FactoryOptions
	ctor Constructor
}

// NewFactory returns a Factory backed by a constructor. A nil constructor
// yields NopBehavior.
func NewFactory(typ string, opts FactoryOptions, ctor Constructor) Factory {
	return &factory{typ: typ, opts: opts, ctor: ctor}
}

func (f *factory) Type() string     { return f.typ }
func (f *factory) Multiple() bool   { return f.opts.Multiple }
func (f *factory) CanDestroy() bool { return !f.opts.Indestructible }
func (f *factory) ClientOnly() bool { return f.opts.ClientOnly }
func (f *factory) ServerOnly() bool { return f.opts.ServerOnly }

func (f *factory) Properties() []property.Definition { return f.opts.Properties }

func (f *factory) Create(c *Component) (Behavior, error) {
	if f.ctor == nil {
		return NopBehavior{}, nil
	}
	b, err := f.ctor(c)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = NopBehavior{}
	}
	return b, nil
}

func (f *factory) Destroy(c *Component) {
	if r, ok := c.Behavior().(Releaser); ok {
		r.Release()
	}
}

// AutoCreate names a component type created on every new object.
type AutoCreate struct {
	Type string
	Name string
}

// declares reports whether the factory declares a property called name. A
// factory without declarations accepts any name.
func declares(f Factory, name string) (property.Definition, bool) {
	defs := f.Properties()
	if len(defs) == 0 {
		return property.Definition{Name: name}, true
	}
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return property.Definition{}, false
}

// restricted reports whether instances of f are forced Local in mode.
func restricted(f Factory, mode network.Mode) bool {
	return (mode == network.Client && f.ClientOnly()) || (mode == network.Server && f.ServerOnly())
}

// Registry maps component type names to factories. It is filled once at
// process start and handed to the managers.
type Registry struct {
	factories  *sequence.Ordered[string, Factory]
	autoCreate *sequence.Ordered[string, AutoCreate]
}

func NewRegistry() *Registry {
	return &Registry{
		factories:  sequence.NewOrdered[string, Factory](),
		autoCreate: sequence.NewOrdered[string, AutoCreate](),
	}
}

func (r *Registry) RegisterFactory(f Factory) error {
	if f.Type() == "" {
		return errors.InvalidParams("Registry.RegisterFactory", "component type name is empty")
	}
	if r.factories.Has(f.Type()) {
		return errors.DuplicateItem("Registry.RegisterFactory", "factory for %q already registered", f.Type())
	}
	r.factories.Set(f.Type(), f)
	return nil
}

// MustRegister registers factories at process start and panics on conflict.
func (r *Registry) MustRegister(fs ...Factory) *Registry {
	for _, f := range fs {
		if err := r.RegisterFactory(f); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Factory(typ string) (Factory, error) {
	f, ok := r.factories.Get(typ)
	if !ok {
		return nil, errors.ItemNotFound("Registry.Factory", "no factory for component type %q", typ)
	}
	return f, nil
}

func (r *Registry) HasFactory(typ string) bool { return r.factories.Has(typ) }

// Types lists the registered types in registration order.
func (r *Registry) Types() []string { return r.factories.Keys() }

// AddAutoCreate makes every object created afterwards get a component of
// typ named name (the type name when empty).
func (r *Registry) AddAutoCreate(typ, name string) error {
	if !r.factories.Has(typ) {
		return errors.ItemNotFound("Registry.AddAutoCreate", "no factory for component type %q", typ)
	}
	if name == "" {
		name = typ
	}
	r.autoCreate.Set(typ, AutoCreate{Type: typ, Name: name})
	return nil
}

func (r *Registry) AutoCreates() []AutoCreate { return r.autoCreate.Values() }

func (r *Registry) IsAutoCreate(typ string) bool { return r.autoCreate.Has(typ) }
