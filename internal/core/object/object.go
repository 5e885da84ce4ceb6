package object

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/scene"
	"github.com/zeusync/authority/pkg/sequence"
)

// Handle addresses a component by type and name.
type Handle struct {
	Type string
	Name string
}

// Object is a named, tree-positioned entity owning a set of components. It
// is created and destroyed through its Manager only.
type Object struct {
	base
	manager     *Manager
	node        *scene.Node[*Object]
	displayName string
	runtime     bool
	controller  network.GUID
	template    *ObjectTemplate

	components     *sequence.Ordered[string, *Component]
	byType         map[string][]*Component
	byHandle       map[Handle]*Component
	pendingCreate  []*Component
	pendingDestroy []*Component
	delayed        map[*Component]struct{}

	queuedParent    string
	queuedParentSub bus.Subscription

	parentDirty      bool
	displayNameDirty bool
	sentTransform    scene.Transform
	changedBy        network.GUID

	queued    bool
	scheduled bool
	freed     bool

	parentChanged      bus.Signal[*Object]
	displayNameChanged bus.Signal[string]
	componentChanged   bus.Signal[ComponentEvent]
	controllerChanged  bus.Signal[network.GUID]
}

func newObject(m *Manager, name, displayName string, t network.Type, source network.GUID) *Object {
	o := &Object{
		base:        newBase(name, m.id, t, source, network.NewNetworkID("object", name)),
		manager:     m,
		displayName: displayName,
		components:  sequence.NewOrdered[string, *Component](),
		byType:      make(map[string][]*Component),
		byHandle:    make(map[Handle]*Component),
	}
	o.node = scene.NewNode(name, o)
	o.sentTransform = o.node.LocalTransform()
	return o
}

func (o *Object) Manager() *Manager { return o.manager }

func (o *Object) DisplayName() string { return o.displayName }

func (o *Object) SetDisplayName(name string) {
	if name == o.displayName {
		return
	}
	o.displayName = name
	o.displayNameDirty = true
	o.changedBy = network.Unassigned
	o.displayNameChanged.Publish(name)
}

// Node exposes the scene node carrying the transform.
func (o *Object) Node() *scene.Node[*Object] { return o.node }

// Parent returns the parent object, nil for a root.
func (o *Object) Parent() *Object {
	if p := o.node.Parent(); p != nil {
		return p.Value()
	}
	return nil
}

func (o *Object) IsRoot() bool { return o.node.IsRoot() }

func (o *Object) Root() *Object { return o.node.Root().Value() }

func (o *Object) Child(name string) (*Object, bool) {
	n, ok := o.node.Child(name)
	if !ok {
		return nil, false
	}
	return n.Value(), true
}

// Children returns the direct children in attach order.
func (o *Object) Children() []*Object {
	nodes := o.node.Children()
	out := make([]*Object, len(nodes))
	for i, n := range nodes {
		out[i] = n.Value()
	}
	return out
}

func (o *Object) Transform() scene.Transform { return o.node.LocalTransform() }

func (o *Object) SetTransform(t scene.Transform) { o.node.SetLocalTransform(t) }

func (o *Object) WorldTransform() scene.Transform { return o.node.WorldTransform() }

func (o *Object) Position() scene.Vector3 { return o.node.Position() }

func (o *Object) SetPosition(p scene.Vector3) { o.node.SetPosition(p) }

func (o *Object) Orientation() scene.Quaternion { return o.node.Orientation() }

func (o *Object) SetOrientation(q scene.Quaternion) { o.node.SetOrientation(q) }

func (o *Object) Scale() scene.Vector3 { return o.node.Scale() }

func (o *Object) SetScale(s scene.Vector3) { o.node.SetScale(s) }

// Runtime objects are created while the game runs and are skipped when the
// scene is saved.
func (o *Object) Runtime() bool { return o.runtime }

func (o *Object) SetRuntime(v bool) { o.runtime = v }

func (o *Object) Controller() network.GUID { return o.controller }

// SetController hands control of the object to a client. The zero GUID
// returns control to the server.
func (o *Object) SetController(guid network.GUID) {
	if guid == o.controller {
		return
	}
	o.controller = guid
	o.controllerChanged.Publish(guid)
}

func (o *Object) IsControlledBy(guid network.GUID) bool {
	return !guid.IsZero() && o.controller == guid
}

func (o *Object) Template() *ObjectTemplate { return o.template }

// Freed reports whether the manager already deallocated the object.
func (o *Object) Freed() bool { return o.freed }

func (o *Object) SubscribeParent(h bus.Handler[*Object]) bus.Subscription {
	return o.parentChanged.Subscribe(h)
}

func (o *Object) SubscribeDisplayName(h bus.Handler[string]) bus.Subscription {
	return o.displayNameChanged.Subscribe(h)
}

func (o *Object) SubscribeComponents(h bus.Handler[ComponentEvent]) bus.Subscription {
	return o.componentChanged.Subscribe(h)
}

func (o *Object) SubscribeController(h bus.Handler[network.GUID]) bus.Subscription {
	return o.controllerChanged.Subscribe(h)
}

// SetParent moves the object under p, or makes it a root when p is nil. The
// object first takes over the networking type of its new tree; when that is
// refused it stays where it was.
func (o *Object) SetParent(p *Object, source network.GUID) error {
	const op = "Object.SetParent"
	old := o.Parent()
	if p == old {
		return nil
	}
	if p != nil {
		switch {
		case p.manager != o.manager:
			return errors.InvalidParams(op, "object %q belongs to another manager", p.name)
		case p == o || o.node.IsAncestorOf(p.node):
			return errors.InvalidParams(op, "cannot parent %q under its own subtree", o.name)
		}
	}
	source = source.Or(o.id.Own)

	var parent Entity
	if p != nil {
		parent = p
	}
	if err := o.manager.auth.QuerySetParent(o, parent, source); err != nil {
		return err
	}

	o.node.Detach()
	if p != nil {
		if p.networkingType != o.networkingType {
			if err := o.SetNetworkingType(p.networkingType); err != nil {
				o.reattach(old)
				return err
			}
		}
		if err := p.node.AddChild(o.node); err != nil {
			o.reattach(old)
			return err
		}
	}
	o.cancelQueuedParent()
	o.markParentChanged(source)
	o.parentChanged.Publish(p)
	return nil
}

func (o *Object) reattach(old *Object) {
	if old != nil {
		_ = old.node.AddChild(o.node)
	}
}

func (o *Object) markParentChanged(source network.GUID) {
	o.parentDirty = true
	o.changedBy = network.Unassigned
	if source != o.id.Own {
		o.changedBy = source
	}
}

// ParentByName parents the object under the object called name. An empty
// name unparents. When no such object exists yet the request is kept until
// the manager creates it.
func (o *Object) ParentByName(name string) error {
	if name == "" {
		return o.SetParent(nil, network.Unassigned)
	}
	if p, ok := o.manager.lookup(name); ok {
		return o.SetParent(p, network.Unassigned)
	}
	o.cancelQueuedParent()
	o.queuedParent = name
	o.queuedParentSub = o.manager.Subscribe(o.objectChanged)
	return nil
}

// QueuedParent is the parent name waiting for its object, if any.
func (o *Object) QueuedParent() string { return o.queuedParent }

func (o *Object) objectChanged(ev ObjectEvent) {
	if ev.Object.name != o.queuedParent {
		return
	}
	o.cancelQueuedParent()
	if !ev.Created {
		return
	}
	if err := o.SetParent(ev.Object, network.Unassigned); err != nil {
		o.manager.logger.Warn("Failed to set queued parent",
			log.String("object", o.name),
			log.String("parent", ev.Object.name),
			log.Error(err),
		)
	}
}

func (o *Object) cancelQueuedParent() {
	if o.queuedParentSub != nil {
		o.queuedParentSub.Cancel()
		o.queuedParentSub = nil
	}
	o.queuedParent = ""
}

// CreateChildObject creates an object with the same networking type and
// parents it under o.
func (o *Object) CreateChildObject(name string) (*Object, error) {
	child, err := o.manager.CreateObject(name, o.networkingType, "", network.Unassigned)
	if err != nil {
		return nil, err
	}
	if err := child.SetParent(o, network.Unassigned); err != nil {
		return child, err
	}
	return child, nil
}

// SetNetworkingType changes the networking type of the whole tree o belongs
// to. Only the root decides: it queries every object and component of the
// tree first and applies nothing unless all of them were approved.
func (o *Object) SetNetworkingType(t network.Type) error {
	if root := o.Root(); root != o {
		return root.SetNetworkingType(t)
	}
	if t == network.Remote && o.manager.offline {
		return errors.InvalidState("Object.SetNetworkingType", "manager is offline")
	}
	if err := queryTree(o, t); err != nil {
		o.manager.metrics.RolledBack()
		o.manager.logger.Debug("Networking type change rejected",
			log.String("object", o.name),
			log.Stringer("type", t),
			log.Error(err),
		)
		return err
	}
	o.applyNetworkingType(t)
	return nil
}

func (o *Object) participants(t network.Type) []participant {
	var out []participant
	if t != o.networkingType {
		out = append(out, participant{
			query:   func() error { return o.manager.auth.QueryNetworkingType(o, t) },
			cleanup: func() { o.manager.auth.CleanupNetworkingType(o, t) },
		})
	}
	for _, c := range o.components.Values() {
		if p, ok := c.participant(t); ok {
			out = append(out, p)
		}
	}
	return out
}

func (o *Object) memberChildren() []treeMember {
	children := o.Children()
	out := make([]treeMember, len(children))
	for i, c := range children {
		out[i] = c
	}
	return out
}

func (o *Object) applyNetworkingType(t network.Type) {
	if t != o.networkingType {
		o.networkingType = t
		o.manager.auth.NetworkingTypeChanged(o, t)
		switch {
		case o.broadcasts():
			o.manager.broadcaster.Reference(o)
		case t == network.Local:
			o.broadcastDestruction()
		}
	}
	for _, c := range o.components.Values() {
		c.applyNetworkingType(t)
	}
	for _, child := range o.Children() {
		child.applyNetworkingType(t)
	}
}

// QueryBroadcastDestruction reports whether destroying o must be mirrored
// to peers.
func (o *Object) QueryBroadcastDestruction() bool { return o.broadcasts() }

func (o *Object) broadcastDestruction() {
	o.broadcastingDestruction = true
	o.manager.broadcaster.BroadcastDestruction(o)
	o.broadcastingDestruction = false
}

// DelayedDestruction collects the components that need to release resources
// before the object may be freed and reports whether there are any. Once
// started it keeps reporting true until every one of them called
// ReadyForDestruction.
func (o *Object) DelayedDestruction() bool {
	if len(o.delayed) > 0 {
		return true
	}
	for _, c := range o.components.Values() {
		if c.DelayedDestruction() {
			if o.delayed == nil {
				o.delayed = make(map[*Component]struct{})
			}
			o.delayed[c] = struct{}{}
		}
	}
	return len(o.delayed) > 0
}

// PendingDestruction is the number of components the object still waits for.
func (o *Object) PendingDestruction() int { return len(o.delayed) }

// ReadyForDestruction is the callback of a component that requested delayed
// destruction. The last one hands the object to the manager.
func (o *Object) ReadyForDestruction(c *Component) {
	if len(o.delayed) == 0 || !o.components.Has(c.name) {
		return
	}
	delete(o.delayed, c)
	if len(o.delayed) == 0 {
		o.manager.ReadyForDestruction(o)
	}
}
