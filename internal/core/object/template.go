package object

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/scene"
	"github.com/zeusync/authority/pkg/sequence"
)

// ObjectTemplate describes an object tree that can be instantiated any
// number of times. Templates follow the same authority rules as objects but
// are checked against the template permission keys.
type ObjectTemplate struct {
	base
	manager     *TemplateManager
	node        *scene.Node[*ObjectTemplate]
	displayName string
	runtime     bool

	components *sequence.Ordered[string, *ComponentTemplate]
	byType     map[string][]*ComponentTemplate
	objects    *sequence.Ordered[*Object, struct{}]

	queuedParent    string
	queuedParentSub bus.Subscription

	parentDirty      bool
	displayNameDirty bool
	sentTransform    scene.Transform
	changedBy        network.GUID
	destroyed        bool

	parentChanged      bus.Signal[*ObjectTemplate]
	displayNameChanged bus.Signal[string]
	componentChanged   bus.Signal[ComponentTemplateEvent]
}

func newObjectTemplate(tm *TemplateManager, name, displayName string, t network.Type, source network.GUID) *ObjectTemplate {
	ot := &ObjectTemplate{
		base:        newBase(name, tm.id, t, source, network.NewNetworkID("object_template", name)),
		manager:     tm,
		displayName: displayName,
		components:  sequence.NewOrdered[string, *ComponentTemplate](),
		byType:      make(map[string][]*ComponentTemplate),
		objects:     sequence.NewOrdered[*Object, struct{}](),
	}
	ot.node = scene.NewNode(name, ot)
	ot.sentTransform = ot.node.LocalTransform()
	return ot
}

func (ot *ObjectTemplate) Manager() *TemplateManager { return ot.manager }

func (ot *ObjectTemplate) DisplayName() string { return ot.displayName }

func (ot *ObjectTemplate) SetDisplayName(name string) {
	if name == ot.displayName {
		return
	}
	ot.displayName = name
	ot.displayNameDirty = true
	ot.changedBy = network.Unassigned
	ot.displayNameChanged.Publish(name)
}

func (ot *ObjectTemplate) Node() *scene.Node[*ObjectTemplate] { return ot.node }

func (ot *ObjectTemplate) Parent() *ObjectTemplate {
	if p := ot.node.Parent(); p != nil {
		return p.Value()
	}
	return nil
}

func (ot *ObjectTemplate) IsRoot() bool { return ot.node.IsRoot() }

func (ot *ObjectTemplate) Root() *ObjectTemplate { return ot.node.Root().Value() }

func (ot *ObjectTemplate) Children() []*ObjectTemplate {
	nodes := ot.node.Children()
	out := make([]*ObjectTemplate, len(nodes))
	for i, n := range nodes {
		out[i] = n.Value()
	}
	return out
}

func (ot *ObjectTemplate) Transform() scene.Transform { return ot.node.LocalTransform() }

func (ot *ObjectTemplate) SetTransform(t scene.Transform) { ot.node.SetLocalTransform(t) }

func (ot *ObjectTemplate) Runtime() bool { return ot.runtime }

func (ot *ObjectTemplate) SetRuntime(v bool) { ot.runtime = v }

// Objects returns the objects instantiated from this template that are still
// alive.
func (ot *ObjectTemplate) Objects() []*Object { return ot.objects.Keys() }

func (ot *ObjectTemplate) unlinkObject(o *Object) {
	ot.objects.Delete(o)
	if o.template == ot {
		o.template = nil
	}
}

func (ot *ObjectTemplate) SubscribeParent(h bus.Handler[*ObjectTemplate]) bus.Subscription {
	return ot.parentChanged.Subscribe(h)
}

func (ot *ObjectTemplate) SubscribeDisplayName(h bus.Handler[string]) bus.Subscription {
	return ot.displayNameChanged.Subscribe(h)
}

func (ot *ObjectTemplate) SubscribeComponents(h bus.Handler[ComponentTemplateEvent]) bus.Subscription {
	return ot.componentChanged.Subscribe(h)
}

// SetParent moves the template under p, or makes it a root when p is nil,
// taking over the networking type of the new tree first.
func (ot *ObjectTemplate) SetParent(p *ObjectTemplate, source network.GUID) error {
	const op = "ObjectTemplate.SetParent"
	old := ot.Parent()
	if p == old {
		return nil
	}
	if p != nil {
		switch {
		case p.manager != ot.manager:
			return errors.InvalidParams(op, "template %q belongs to another manager", p.name)
		case p == ot || ot.node.IsAncestorOf(p.node):
			return errors.InvalidParams(op, "cannot parent %q under its own subtree", ot.name)
		}
	}
	source = source.Or(ot.id.Own)

	var parent Entity
	if p != nil {
		parent = p
	}
	if err := ot.manager.auth.QuerySetParent(ot, parent, source); err != nil {
		return err
	}

	ot.node.Detach()
	if p != nil {
		if p.networkingType != ot.networkingType {
			if err := ot.SetNetworkingType(p.networkingType); err != nil {
				ot.reattach(old)
				return err
			}
		}
		if err := p.node.AddChild(ot.node); err != nil {
			ot.reattach(old)
			return err
		}
	}
	ot.cancelQueuedParent()
	ot.parentDirty = true
	ot.changedBy = network.Unassigned
	if source != ot.id.Own {
		ot.changedBy = source
	}
	ot.parentChanged.Publish(p)
	return nil
}

func (ot *ObjectTemplate) reattach(old *ObjectTemplate) {
	if old != nil {
		_ = old.node.AddChild(ot.node)
	}
}

// ParentByName parents the template under the template called name, waiting
// for it to be created when it does not exist yet. An empty name unparents.
func (ot *ObjectTemplate) ParentByName(name string) error {
	if name == "" {
		return ot.SetParent(nil, network.Unassigned)
	}
	if p, ok := ot.manager.templates.Get(name); ok {
		return ot.SetParent(p, network.Unassigned)
	}
	ot.cancelQueuedParent()
	ot.queuedParent = name
	ot.queuedParentSub = ot.manager.Subscribe(ot.templateChanged)
	return nil
}

func (ot *ObjectTemplate) QueuedParent() string { return ot.queuedParent }

func (ot *ObjectTemplate) templateChanged(ev TemplateEvent) {
	if ev.Template.name != ot.queuedParent {
		return
	}
	ot.cancelQueuedParent()
	if !ev.Created {
		return
	}
	if err := ot.SetParent(ev.Template, network.Unassigned); err != nil {
		ot.manager.logger.Warn("Failed to set queued parent",
			log.String("template", ot.name),
			log.String("parent", ev.Template.name),
			log.Error(err),
		)
	}
}

func (ot *ObjectTemplate) cancelQueuedParent() {
	if ot.queuedParentSub != nil {
		ot.queuedParentSub.Cancel()
		ot.queuedParentSub = nil
	}
	ot.queuedParent = ""
}

// CreateChildObjectTemplate creates a template with the same networking type
// and parents it under ot.
func (ot *ObjectTemplate) CreateChildObjectTemplate(name, displayName string) (*ObjectTemplate, error) {
	child, err := ot.manager.CreateObjectTemplate(name, ot.networkingType, displayName, network.Unassigned)
	if err != nil {
		return nil, err
	}
	if err := child.SetParent(ot, network.Unassigned); err != nil {
		return child, err
	}
	return child, nil
}

// SetNetworkingType changes the networking type of the whole template tree
// through its root, all or nothing.
func (ot *ObjectTemplate) SetNetworkingType(t network.Type) error {
	if root := ot.Root(); root != ot {
		return root.SetNetworkingType(t)
	}
	if t == network.Remote && ot.manager.offline {
		return errors.InvalidState("ObjectTemplate.SetNetworkingType", "template manager is offline")
	}
	if err := queryTree(ot, t); err != nil {
		ot.manager.metrics.RolledBack()
		return err
	}
	ot.applyNetworkingType(t)
	return nil
}

func (ot *ObjectTemplate) participants(t network.Type) []participant {
	var out []participant
	if t != ot.networkingType {
		out = append(out, participant{
			query:   func() error { return ot.manager.auth.QueryNetworkingType(ot, t) },
			cleanup: func() { ot.manager.auth.CleanupNetworkingType(ot, t) },
		})
	}
	for _, ct := range ot.components.Values() {
		if p, ok := ct.participant(t); ok {
			out = append(out, p)
		}
	}
	return out
}

func (ot *ObjectTemplate) memberChildren() []treeMember {
	children := ot.Children()
	out := make([]treeMember, len(children))
	for i, c := range children {
		out[i] = c
	}
	return out
}

func (ot *ObjectTemplate) applyNetworkingType(t network.Type) {
	if t != ot.networkingType {
		ot.networkingType = t
		ot.manager.auth.NetworkingTypeChanged(ot, t)
		switch {
		case ot.broadcasts():
			ot.manager.broadcaster.Reference(ot)
		case t == network.Local:
			ot.broadcastDestruction()
		}
	}
	for _, ct := range ot.components.Values() {
		ct.applyNetworkingType(t)
	}
	for _, child := range ot.Children() {
		child.applyNetworkingType(t)
	}
}

func (ot *ObjectTemplate) QueryBroadcastDestruction() bool { return ot.broadcasts() }

func (ot *ObjectTemplate) broadcastDestruction() {
	ot.broadcastingDestruction = true
	ot.manager.broadcaster.BroadcastDestruction(ot)
	ot.broadcastingDestruction = false
}

// CreateComponentTemplate adds a component template. The name defaults to
// the type name.
func (ot *ObjectTemplate) CreateComponentTemplate(typ, name string, localOverride bool, source network.GUID) (*ComponentTemplate, error) {
	const op = "ObjectTemplate.CreateComponentTemplate"
	f, err := ot.manager.registry.Factory(typ)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = typ
	}
	if ot.components.Has(name) || (len(ot.byType[typ]) > 0 && !f.Multiple()) {
		return nil, errors.DuplicateItem(op, "component template %q of type %s already exists in template %q", name, typ, ot.name)
	}
	source = source.Or(ot.id.Own)
	override := localOverride || restricted(f, ot.id.Mode)
	if err := ot.manager.auth.QueryCreateComponent(ot, typ, override, source); err != nil {
		return nil, err
	}

	ct := newComponentTemplate(ot, f, name, override, source)
	ot.components.Set(name, ct)
	ot.byType[typ] = append(ot.byType[typ], ct)
	ot.manager.auth.ComponentCreated(ct)
	ot.manager.metrics.EntityCreated("component_template")
	if ot.id.BroadcastsOnCreate(ct.networkingType, ct.Source()) && !ct.localOverride {
		ct.broadcastConstruction()
	}
	ot.componentChanged.Publish(ComponentTemplateEvent{Template: ct, Created: true})
	return ct, nil
}

// CreateComponentTemplateFrom creates a template of c and copies its
// property values.
func (ot *ObjectTemplate) CreateComponentTemplateFrom(c *Component) (*ComponentTemplate, error) {
	ct, err := ot.CreateComponentTemplate(c.typ, c.name, c.localOverride, network.Unassigned)
	if err != nil {
		return nil, err
	}
	if err := ct.SetTemplateProperties(c); err != nil {
		return ct, err
	}
	return ct, nil
}

// CreateComponentTemplates fills ot from o: its transform, a child template
// per child object and a component template per component. Auto-create
// component types are skipped since every object gets them anyway.
func (ot *ObjectTemplate) CreateComponentTemplates(o *Object) error {
	ot.node.SetLocalTransform(o.Transform())
	ot.runtime = o.runtime

	for _, child := range o.Children() {
		ct, err := ot.manager.CreateTemplateFromObject(child, ot.manager.GenerateName(), ot.networkingType)
		if err != nil {
			return err
		}
		if err := ct.SetParent(ot, network.Unassigned); err != nil {
			return err
		}
	}
	for _, c := range o.Components() {
		if ot.manager.registry.IsAutoCreate(c.typ) {
			continue
		}
		if _, err := ot.CreateComponentTemplateFrom(c); err != nil {
			return err
		}
	}
	return nil
}

func (ot *ObjectTemplate) ComponentTemplate(name string) (*ComponentTemplate, error) {
	ct, ok := ot.components.Get(name)
	if !ok {
		return nil, errors.ItemNotFound("ObjectTemplate.ComponentTemplate", "component template %q not found in template %q", name, ot.name)
	}
	return ct, nil
}

func (ot *ObjectTemplate) ComponentTemplateByType(typ string) (*ComponentTemplate, error) {
	cts := ot.byType[typ]
	if len(cts) == 0 {
		return nil, errors.ItemNotFound("ObjectTemplate.ComponentTemplateByType", "no %s component template in template %q", typ, ot.name)
	}
	return cts[0], nil
}

func (ot *ObjectTemplate) HasComponentTemplate(name string) bool { return ot.components.Has(name) }

func (ot *ObjectTemplate) HasComponentTemplateType(typ string) bool { return len(ot.byType[typ]) > 0 }

func (ot *ObjectTemplate) ComponentTemplates() []*ComponentTemplate { return ot.components.Values() }

func (ot *ObjectTemplate) DestroyComponentTemplate(name string, source network.GUID) error {
	ct, ok := ot.components.Get(name)
	if !ok {
		return errors.ItemNotFound("ObjectTemplate.DestroyComponentTemplate", "component template %q not found in template %q", name, ot.name)
	}
	return ot.destroyComponentTemplate(ct, source)
}

// DestroyComponentTemplateByType destroys the only component template of
// typ, refusing when there are several.
func (ot *ObjectTemplate) DestroyComponentTemplateByType(typ string, source network.GUID) error {
	const op = "ObjectTemplate.DestroyComponentTemplateByType"
	cts := ot.byType[typ]
	switch len(cts) {
	case 0:
		return errors.ItemNotFound(op, "no %s component template in template %q", typ, ot.name)
	case 1:
		return ot.destroyComponentTemplate(cts[0], source)
	default:
		return errors.InternalError(op, "template %q has %d component templates of type %s", ot.name, len(cts), typ)
	}
}

// destroyComponentTemplate removes ct at once; templates have no deferred
// lifecycle.
func (ot *ObjectTemplate) destroyComponentTemplate(ct *ComponentTemplate, source network.GUID) error {
	if err := ot.manager.auth.QueryDestroyComponent(ct, source.Or(ot.id.Own)); err != nil {
		return err
	}
	ot.removeComponentTemplate(ct)
	ot.componentChanged.Publish(ComponentTemplateEvent{Template: ct, Created: false})
	if ct.QueryBroadcastDestruction() {
		ct.broadcastDestruction()
	}
	ct.release()
	return nil
}

func (ot *ObjectTemplate) removeComponentTemplate(ct *ComponentTemplate) {
	ot.components.Delete(ct.name)
	cts := ot.byType[ct.typ]
	for i, x := range cts {
		if x == ct {
			cts = append(cts[:i:i], cts[i+1:]...)
			break
		}
	}
	if len(cts) == 0 {
		delete(ot.byType, ct.typ)
	} else {
		ot.byType[ct.typ] = cts
	}
}

// CreateObject instantiates the template tree in m. Child objects are named
// after the new object and the child template, joined by a dot.
func (ot *ObjectTemplate) CreateObject(m *Manager, name string, t network.Type) (*Object, error) {
	o, err := m.CreateObject(name, t, ot.displayName, network.Unassigned)
	if err != nil {
		return nil, err
	}
	if err := ot.instantiate(m, o, name, t); err != nil {
		if derr := m.DestroyObjectTree(o, m.id.Server); derr != nil {
			ot.manager.logger.Warn("Failed to clean up partially instantiated object",
				log.String("object", name),
				log.Error(derr),
			)
		}
		return nil, err
	}
	return o, nil
}

func (ot *ObjectTemplate) instantiate(m *Manager, o *Object, name string, t network.Type) error {
	o.SetTransform(ot.node.LocalTransform())
	o.SetRuntime(ot.runtime)

	for _, child := range ot.Children() {
		co, err := child.CreateObject(m, name+"."+child.name, t)
		if err != nil {
			return err
		}
		if err := co.SetParent(o, network.Unassigned); err != nil {
			return err
		}
	}
	for _, ct := range ot.components.Values() {
		if m.registry.IsAutoCreate(ct.typ) {
			continue
		}
		if _, err := ct.CreateComponent(o); err != nil {
			return err
		}
	}
	o.template = ot
	ot.objects.Set(o, struct{}{})
	return nil
}

// release frees every component template and unlinks the instantiated
// objects.
func (ot *ObjectTemplate) release() {
	ot.destroyed = true
	ot.cancelQueuedParent()
	cts := ot.components.Values()
	for i := len(cts) - 1; i >= 0; i-- {
		ot.componentChanged.Publish(ComponentTemplateEvent{Template: cts[i], Created: false})
		cts[i].release()
	}
	ot.components.Clear()
	ot.byType = make(map[string][]*ComponentTemplate)
	for _, o := range ot.objects.Keys() {
		ot.unlinkObject(o)
	}
}
