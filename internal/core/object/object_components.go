package object

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
)

// CreateComponent adds a component of type typ called name (the type name
// when empty). The Create hook of its behavior runs on the next update.
func (o *Object) CreateComponent(typ, name string, localOverride bool, source network.GUID) (*Component, error) {
	const op = "Object.CreateComponent"
	f, err := o.manager.registry.Factory(typ)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = typ
	}
	if o.components.Has(name) || (len(o.byType[typ]) > 0 && !f.Multiple()) {
		return nil, errors.DuplicateItem(op, "component %q of type %s already exists in object %q", name, typ, o.name)
	}
	source = source.Or(o.id.Own)

	override := localOverride || restricted(f, o.id.Mode)
	if err := o.manager.auth.QueryCreateComponent(o, typ, override, source); err != nil {
		return nil, err
	}

	c := newComponent(o, f, name, override, source)
	behavior, err := f.Create(c)
	if err != nil {
		c.propertySub.Cancel()
		return nil, errors.Wrap(errors.CodeInternalError, op, err, "create "+typ+" behavior")
	}
	c.behavior = behavior

	o.components.Set(name, c)
	o.byType[typ] = append(o.byType[typ], c)
	o.byHandle[Handle{Type: typ, Name: name}] = c
	o.manager.auth.ComponentCreated(c)
	o.manager.metrics.EntityCreated("component")

	if o.id.BroadcastsOnCreate(c.networkingType, c.Source()) && !c.localOverride {
		c.broadcastConstruction()
	}

	o.pendingCreate = append(o.pendingCreate, c)
	o.manager.queueUpdate(o)

	o.manager.logger.Debug("Component created",
		log.String("object", o.name),
		log.String("component", name),
		log.String("type", typ),
		log.Stringer("networking_type", c.networkingType),
	)
	return c, nil
}

func (o *Object) Component(name string) (*Component, error) {
	c, ok := o.components.Get(name)
	if !ok {
		return nil, errors.ItemNotFound("Object.Component", "component %q not found in object %q", name, o.name)
	}
	return c, nil
}

// ComponentByType returns the first component of typ.
func (o *Object) ComponentByType(typ string) (*Component, error) {
	cs := o.byType[typ]
	if len(cs) == 0 {
		return nil, errors.ItemNotFound("Object.ComponentByType", "no %s component in object %q", typ, o.name)
	}
	return cs[0], nil
}

func (o *Object) ComponentByHandle(h Handle) (*Component, error) {
	c, ok := o.byHandle[h]
	if !ok {
		return nil, errors.ItemNotFound("Object.ComponentByHandle", "component %s/%s not found in object %q", h.Type, h.Name, o.name)
	}
	return c, nil
}

func (o *Object) HasComponent(name string) bool { return o.components.Has(name) }

func (o *Object) HasComponentType(typ string) bool { return len(o.byType[typ]) > 0 }

func (o *Object) ComponentCount(typ string) int { return len(o.byType[typ]) }

// Components returns every live component in creation order.
func (o *Object) Components() []*Component { return o.components.Values() }

func (o *Object) ComponentsOfType(typ string) []*Component {
	return append([]*Component(nil), o.byType[typ]...)
}

func (o *Object) DestroyComponent(name string, source network.GUID) error {
	const op = "Object.DestroyComponent"
	c, ok := o.components.Get(name)
	if !ok {
		return errors.ItemNotFound(op, "component %q not found in object %q", name, o.name)
	}
	if !c.factory.CanDestroy() {
		return errors.InvalidState(op, "components of type %s cannot be destroyed", c.typ)
	}
	if err := o.manager.auth.QueryDestroyComponent(c, source.Or(o.id.Own)); err != nil {
		return err
	}
	o.removeComponent(c)
	return nil
}

// DestroyComponentByType destroys the only component of typ. It refuses
// when there is more than one; use DestroyComponents for that.
func (o *Object) DestroyComponentByType(typ string, source network.GUID) error {
	const op = "Object.DestroyComponentByType"
	f, err := o.manager.registry.Factory(typ)
	if err != nil {
		return err
	}
	if !f.CanDestroy() {
		return errors.InvalidState(op, "components of type %s cannot be destroyed", typ)
	}
	cs := o.byType[typ]
	switch len(cs) {
	case 0:
		return errors.ItemNotFound(op, "no %s component in object %q", typ, o.name)
	case 1:
	default:
		return errors.InternalError(op, "object %q has %d components of type %s", o.name, len(cs), typ)
	}
	if err := o.manager.auth.QueryDestroyComponent(cs[0], source.Or(o.id.Own)); err != nil {
		return err
	}
	o.removeComponent(cs[0])
	return nil
}

// DestroyComponents destroys every component of typ. All of them must be
// destroyable by source or none is touched.
func (o *Object) DestroyComponents(typ string, source network.GUID) error {
	const op = "Object.DestroyComponents"
	f, err := o.manager.registry.Factory(typ)
	if err != nil {
		return err
	}
	if !f.CanDestroy() {
		return errors.InvalidState(op, "components of type %s cannot be destroyed", typ)
	}
	cs := o.ComponentsOfType(typ)
	if len(cs) == 0 {
		return errors.ItemNotFound(op, "no %s component in object %q", typ, o.name)
	}
	source = source.Or(o.id.Own)
	for _, c := range cs {
		if err := o.manager.auth.QueryDestroyComponent(c, source); err != nil {
			return err
		}
	}
	for _, c := range cs {
		o.removeComponent(c)
	}
	return nil
}

// removeComponent takes c out of every index. It is freed on the next
// update.
func (o *Object) removeComponent(c *Component) {
	o.components.Delete(c.name)
	delete(o.byHandle, Handle{Type: c.typ, Name: c.name})
	cs := o.byType[c.typ]
	for i, x := range cs {
		if x == c {
			cs = append(cs[:i:i], cs[i+1:]...)
			break
		}
	}
	if len(cs) == 0 {
		delete(o.byType, c.typ)
	} else {
		o.byType[c.typ] = cs
	}

	c.destroyed = true
	o.pendingDestroy = append(o.pendingDestroy, c)
	o.manager.queueUpdate(o)

	// The object may have been waiting for this component only.
	if _, waiting := o.delayed[c]; waiting {
		delete(o.delayed, c)
		if len(o.delayed) == 0 {
			o.manager.ReadyForDestruction(o)
		}
	}
}

// create adds the auto-create components of the registry.
func (o *Object) create() {
	for _, ac := range o.manager.registry.AutoCreates() {
		if o.components.Has(ac.Name) {
			continue
		}
		if _, err := o.CreateComponent(ac.Type, ac.Name, true, network.Unassigned); err != nil {
			o.manager.logger.Warn("Failed to create auto-create component",
				log.String("object", o.name),
				log.String("type", ac.Type),
				log.Error(err),
			)
		}
	}
}

// update runs the Create hooks of components made since the last tick and
// frees the destroyed ones, newest first.
func (o *Object) update() {
	created := o.pendingCreate
	o.pendingCreate = nil
	for _, c := range created {
		if c.destroyed {
			continue
		}
		c.behavior.Create()
		c.announced = true
		o.componentChanged.Publish(ComponentEvent{Component: c, Created: true})
	}

	destroyed := o.pendingDestroy
	o.pendingDestroy = nil
	for i := len(destroyed) - 1; i >= 0; i-- {
		c := destroyed[i]
		if c.announced {
			o.componentChanged.Publish(ComponentEvent{Component: c, Created: false})
		}
		if c.QueryBroadcastDestruction() {
			c.broadcastDestruction()
		}
		c.release()
	}
}

// releaseComponents frees every component without broadcasting, as part of
// freeing the object.
func (o *Object) releaseComponents() {
	all := append(o.pendingDestroy, o.components.Values()...)
	o.pendingDestroy, o.pendingCreate = nil, nil
	for i := len(all) - 1; i >= 0; i-- {
		c := all[i]
		if c.announced {
			o.componentChanged.Publish(ComponentEvent{Component: c, Created: false})
		}
		c.destroyed = true
		c.release()
	}
	o.components.Clear()
	o.byType = make(map[string][]*Component)
	o.byHandle = make(map[Handle]*Component)
	o.delayed = nil
}
