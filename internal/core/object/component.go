package object

import (
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/pkg/sequence"
)

// Component is a named behavior unit owned by exactly one Object.
type Component struct {
	componentCore

	object     *Object
	behavior   Behavior
	properties *property.Set
	template   *ComponentTemplate

	propertySub   bus.Subscription
	dirty         *sequence.Ordered[string, struct{}]
	changedBy     network.GUID
	receiving     bool
	receivingFrom network.GUID

	announced bool
	destroyed bool
}

// ComponentEvent is published by an object when one of its components
// finished construction or is about to be freed.
type ComponentEvent struct {
	Component *Component
	Created   bool
}

func newComponent(o *Object, f Factory, name string, localOverride bool, source network.GUID) *Component {
	m := o.manager
	c := &Component{
		componentCore: newComponentCore(name, m.id, o.networkingType, source,
			network.NewNetworkID("component", o.name, name), f, localOverride, m.auth, m.broadcaster),
		object:     o,
		properties: property.NewSet(),
		dirty:      sequence.NewOrdered[string, struct{}](),
	}
	c.self = c
	c.typeChanged = c.notifyTypeChanged
	c.properties.DefineAll(f.Properties()...)
	c.propertySub = c.properties.Subscribe(c.propertyChanged)
	return c
}

func (c *Component) Object() *Object { return c.object }

// Owner returns the object as an Entity for the authority rules.
func (c *Component) Owner() Entity { return c.object }

func (c *Component) Behavior() Behavior { return c.behavior }

func (c *Component) Properties() *property.Set { return c.properties }

func (c *Component) Property(name string) (property.Value, bool) { return c.properties.Get(name) }

// SetProperty writes a property directly. The property no longer follows
// the component template afterwards.
func (c *Component) SetProperty(name string, v property.Value) error {
	return c.properties.Set(name, v)
}

func (c *Component) Template() *ComponentTemplate { return c.template }

// Created reports whether the Create hook already ran.
func (c *Component) Created() bool { return c.announced }

func (c *Component) Destroyed() bool { return c.destroyed }

// DelayedDestruction asks the behavior whether the owner has to wait for
// ReadyForDestruction before it may be freed.
func (c *Component) DelayedDestruction() bool {
	d, ok := c.behavior.(DelayedDestroyer)
	return ok && d.DelayedDestruction()
}

// ReadyForDestruction is called by a behavior that asked for delayed
// destruction once its resources are released.
func (c *Component) ReadyForDestruction() {
	c.object.ReadyForDestruction(c)
}

// Duplicate creates a copy of c on target with the same name, override,
// template link and property values.
func (c *Component) Duplicate(target *Object) (*Component, error) {
	dup, err := target.CreateComponent(c.typ, c.name, c.localOverride, network.Unassigned)
	if err != nil {
		return nil, err
	}
	if c.template != nil {
		c.template.link(dup)
	}
	for _, name := range c.properties.Names() {
		v, _ := c.properties.Get(name)
		if c.properties.IsOverridden(name) {
			err = dup.properties.Set(name, v)
		} else {
			_, err = dup.properties.Apply(name, v)
		}
		if err != nil {
			c.object.manager.logger.Warn("Failed to duplicate component property",
				log.String("component", c.name),
				log.String("property", name),
				log.Error(err),
			)
		}
	}
	return dup, nil
}

// DestroyLocally removes the component on this peer only. Its creator drops
// it to Local first so nothing is broadcast and the counters follow.
func (c *Component) DestroyLocally() error {
	c.forceLocal()
	return c.object.DestroyComponent(c.name, c.id.Server)
}

func (c *Component) notifyTypeChanged(t network.Type) {
	if o, ok := c.behavior.(NetworkingTypeObserver); ok {
		o.NetworkingTypeChanged(t)
	}
}

// propertyChanged records a delta. Values a client received from the server
// are not sent back; a server relays what it received to the other peers.
func (c *Component) propertyChanged(ch property.Change) {
	if c.receiving && c.id.Mode == network.Client {
		return
	}
	c.dirty.Set(ch.Name, struct{}{})
	c.changedBy = c.receivingFrom
}

// applyTemplateProperty writes a template value unless the component
// overrode the property.
func (c *Component) applyTemplateProperty(name string, v property.Value) {
	if _, err := c.properties.Apply(name, v); err != nil {
		c.object.manager.logger.Debug("Template property not applied",
			log.String("component", c.name),
			log.String("property", name),
			log.Error(err),
		)
	}
}

// release frees the component after it left every index.
func (c *Component) release() {
	c.propertySub.Cancel()
	if c.template != nil {
		c.template.unlink(c)
	}
	c.factory.Destroy(c)
	c.auth.ComponentReleased(c)
	c.broadcaster.Dereference(c)
	c.object.manager.metrics.EntityDestroyed("component")
}
