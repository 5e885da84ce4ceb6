package object

import (
	"strconv"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/replica"
	"github.com/zeusync/authority/pkg/sequence"
)

var _ replica.Replica = (*ComponentTemplate)(nil)

// ComponentTemplate stores property values for a component type. Components
// instantiated from it keep following its values until they override them.
type ComponentTemplate struct {
	componentCore

	template     *ObjectTemplate
	properties   *sequence.Ordered[string, property.Value]
	instantiated *sequence.Ordered[*Component, struct{}]
	changed      bus.Signal[property.Change]

	dirty     *sequence.Ordered[string, struct{}]
	changedBy network.GUID
	destroyed bool
}

// ComponentTemplateEvent is published by an object template when one of its
// component templates was created or destroyed.
type ComponentTemplateEvent struct {
	Template *ComponentTemplate
	Created  bool
}

func newComponentTemplate(ot *ObjectTemplate, f Factory, name string, localOverride bool, source network.GUID) *ComponentTemplate {
	tm := ot.manager
	ct := &ComponentTemplate{
		componentCore: newComponentCore(name, tm.id, ot.networkingType, source,
			network.NewNetworkID("component_template", ot.name, name), f, localOverride, tm.auth, tm.broadcaster),
		template:     ot,
		properties:   sequence.NewOrdered[string, property.Value](),
		instantiated: sequence.NewOrdered[*Component, struct{}](),
		dirty:        sequence.NewOrdered[string, struct{}](),
	}
	ct.self = ct
	return ct
}

func (ct *ComponentTemplate) ObjectTemplate() *ObjectTemplate { return ct.template }

// Owner returns the object template as an Entity for the authority rules.
func (ct *ComponentTemplate) Owner() Entity { return ct.template }

func (ct *ComponentTemplate) TemplateProperty(name string) (property.Value, bool) {
	return ct.properties.Get(name)
}

// TemplatePropertyNames lists the properties that have a stored value.
func (ct *ComponentTemplate) TemplatePropertyNames() []string { return ct.properties.Keys() }

// TemplateProperties copies every stored value.
func (ct *ComponentTemplate) TemplateProperties() map[string]property.Value {
	out := make(map[string]property.Value, ct.properties.Len())
	for name, v := range ct.properties.All() {
		out[name] = v
	}
	return out
}

// Instances returns the components following this template.
func (ct *ComponentTemplate) Instances() []*Component { return ct.instantiated.Keys() }

func (ct *ComponentTemplate) SubscribeProperties(h bus.Handler[property.Change]) bus.Subscription {
	return ct.changed.Subscribe(h)
}

// SetTemplateProperty stores a value and pushes it to every instance that
// did not override the property.
func (ct *ComponentTemplate) SetTemplateProperty(name string, v property.Value) error {
	return ct.setTemplateProperty(name, v, network.Unassigned)
}

func (ct *ComponentTemplate) setTemplateProperty(name string, v property.Value, source network.GUID) error {
	const op = "ComponentTemplate.SetTemplateProperty"
	def, ok := declares(ct.factory, name)
	if !ok {
		return errors.InvalidParams(op, "%s components have no property %q", ct.typ, name)
	}
	if !v.IsValid() {
		return errors.InvalidParams(op, "invalid value for property %q", name)
	}
	if def.Default.IsValid() && def.Default.Kind() != v.Kind() {
		converted, err := v.Convert(def.Default.Kind())
		if err != nil {
			return errors.Wrap(errors.CodeInvalidParams, op, err, "property "+name)
		}
		v = converted
	}
	prev, had := ct.properties.Get(name)
	if had && prev.Equal(v) {
		return nil
	}
	ct.properties.Set(name, v)
	if source.IsZero() || ct.id.Mode == network.Server {
		ct.dirty.Set(name, struct{}{})
		ct.changedBy = source
	}
	ct.changed.Publish(property.Change{Name: name, Value: v, Previous: prev})

	for _, c := range ct.instantiated.Keys() {
		c.applyTemplateProperty(name, v)
	}
	return nil
}

// SetTemplateProperties copies every property value of c.
func (ct *ComponentTemplate) SetTemplateProperties(c *Component) error {
	if c.typ != ct.typ {
		return errors.InvalidParams("ComponentTemplate.SetTemplateProperties",
			"cannot copy a %s component into a %s template", c.typ, ct.typ)
	}
	for _, name := range c.properties.Names() {
		v, _ := c.properties.Get(name)
		if err := ct.SetTemplateProperty(name, v); err != nil {
			return err
		}
	}
	return nil
}

// CreateComponent instantiates the template on o. The component is named
// after the type, with a counter suffix when the type allows several
// instances and o already has one.
func (ct *ComponentTemplate) CreateComponent(o *Object) (*Component, error) {
	name := ct.typ
	if ct.factory.Multiple() {
		if n := o.ComponentCount(ct.typ); n > 0 {
			name += strconv.Itoa(n + 1)
		}
	}
	c, err := o.CreateComponent(ct.typ, name, ct.localOverride, network.Unassigned)
	if err != nil {
		return nil, err
	}
	for name, v := range ct.properties.All() {
		c.applyTemplateProperty(name, v)
	}
	ct.link(c)
	return c, nil
}

func (ct *ComponentTemplate) link(c *Component) {
	if c.template != nil && c.template != ct {
		c.template.unlink(c)
	}
	c.template = ct
	ct.instantiated.Set(c, struct{}{})
}

func (ct *ComponentTemplate) unlink(c *Component) {
	ct.instantiated.Delete(c)
	if c.template == ct {
		c.template = nil
	}
}

// DestroyLocally removes the component template on this peer only.
func (ct *ComponentTemplate) DestroyLocally() error {
	ct.forceLocal()
	return ct.template.DestroyComponentTemplate(ct.name, ct.id.Server)
}

// release detaches every instance and frees the template. Instances stop
// following it and lose their override marks.
func (ct *ComponentTemplate) release() {
	ct.destroyed = true
	for _, c := range ct.instantiated.Keys() {
		c.template = nil
		for _, name := range c.properties.Names() {
			c.properties.ClearOverride(name)
		}
	}
	ct.instantiated.Clear()
	ct.auth.ComponentReleased(ct)
	ct.broadcaster.Dereference(ct)
	ct.template.manager.metrics.EntityDestroyed("component_template")
}

func (ct *ComponentTemplate) Allocation() replica.Allocation {
	return replica.Allocation{
		Kind:  replica.KindComponentTemplate,
		Owner: ct.template.networkID,
		Type:  ct.typ,
		Name:  ct.name,
	}
}

func (ct *ComponentTemplate) QueryConstruction(dest network.GUID) bool {
	return !ct.localOverride && ct.sendsTo(dest)
}

func (ct *ComponentTemplate) QueryRemoteConstruction(source network.GUID) bool {
	return acceptsConstruction(ct.id, ct.networkingType, source)
}

func (ct *ComponentTemplate) SerializeConstruction(w *replica.Writer, _ network.GUID) {
	w.Values(ct.properties.Keys(), ct.TemplateProperties())
}

func (ct *ComponentTemplate) DeserializeConstruction(r *replica.Reader, source network.GUID) error {
	names, values := r.Values()
	if err := r.Err(); err != nil {
		return err
	}
	ct.receive(names, values, source)
	if ct.id.Mode == network.Server && ct.Source() == network.SourceClient && ct.QueryBroadcastDestruction() {
		ct.broadcastConstruction()
	}
	return nil
}

func (ct *ComponentTemplate) QuerySerialization(dest network.GUID) bool {
	if ct.dirty.Len() == 0 || ct.localOverride || ct.networkingType != network.Remote {
		return false
	}
	if ct.id.Mode == network.Server {
		return dest != ct.changedBy
	}
	return ct.IsCreatedByOwnGUID()
}

func (ct *ComponentTemplate) Serialize(w *replica.Writer, _ network.GUID) bool {
	if ct.dirty.Len() == 0 {
		return false
	}
	names := ct.dirty.Keys()
	values := make(map[string]property.Value, len(names))
	for _, name := range names {
		values[name], _ = ct.properties.Get(name)
	}
	w.Values(names, values)
	ct.dirty.Clear()
	ct.changedBy = network.Unassigned
	return true
}

func (ct *ComponentTemplate) Deserialize(r *replica.Reader, source network.GUID) error {
	names, values := r.Values()
	if err := r.Err(); err != nil {
		return err
	}
	if ct.networkingType != network.Remote {
		return nil
	}
	if ct.id.Mode == network.Server && !ct.IsCreatedBy(source) {
		return nil
	}
	ct.receive(names, values, source)
	return nil
}

func (ct *ComponentTemplate) DeserializeDestruction(source network.GUID) bool {
	return ct.auth.QueryDestroyComponent(ct, source) == nil
}

func (ct *ComponentTemplate) DeallocReplica(source network.GUID) {
	if ct.broadcastingDestruction || ct.destroyed {
		return
	}
	if err := ct.template.DestroyComponentTemplate(ct.name, ct.id.Server); err != nil {
		ct.template.manager.logger.Warn("Failed to deallocate component template from replica system",
			log.String("component_template", ct.name),
			log.Stringer("peer", source),
			log.Error(err),
		)
	}
}

func (ct *ComponentTemplate) receive(names []string, values map[string]property.Value, source network.GUID) {
	for _, name := range names {
		if err := ct.setTemplateProperty(name, values[name], source); err != nil {
			ct.template.manager.logger.Debug("Dropping replicated template property",
				log.String("component_template", ct.name),
				log.String("property", name),
				log.Error(err),
			)
		}
	}
}
