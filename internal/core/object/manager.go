package object

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/replica"
	"github.com/zeusync/authority/pkg/sequence"
)

// ObjectEvent is published when an object was created or is about to be
// freed.
type ObjectEvent struct {
	Object  *Object
	Created bool
}

// Manager is the only way to create and destroy objects. Destruction is
// deferred: a destroyed object leaves the indices at once and is freed by the
// next Update.
type Manager struct {
	id          network.Identity
	logger      log.Log
	metrics     *metrics.Metrics
	registry    *Registry
	auth        Authority
	broadcaster replica.Broadcaster
	offline     bool

	objects     *sequence.Ordered[string, *Object]
	byNetworkID map[network.NetworkID]*Object
	destroyed   []*Object
	updates     []*Object

	changed bus.Signal[ObjectEvent]
}

func NewManager(id network.Identity, registry *Registry, logger log.Log, opts ...Option) *Manager {
	s := newSettings(opts)
	return &Manager{
		id:          id,
		logger:      logger.Named("objects"),
		metrics:     s.metrics,
		registry:    registry,
		auth:        s.authority(id, permission.ObjectKeys),
		broadcaster: s.broadcaster,
		offline:     s.offline,
		objects:     sequence.NewOrdered[string, *Object](),
		byNetworkID: make(map[network.NetworkID]*Object),
	}
}

func (m *Manager) Identity() network.Identity { return m.id }

func (m *Manager) Registry() *Registry { return m.registry }

// SetBroadcaster replaces the broadcaster for entities created afterwards
// and for later destructions.
func (m *Manager) SetBroadcaster(b replica.Broadcaster) { m.broadcaster = b }

// CreateObject creates an object. The display name defaults to the name and
// offline managers only create Local objects.
func (m *Manager) CreateObject(name string, t network.Type, displayName string, source network.GUID) (*Object, error) {
	const op = "Manager.CreateObject"
	if name == "" {
		return nil, errors.InvalidParams(op, "object name is empty")
	}
	if m.objects.Has(name) {
		return nil, errors.DuplicateItem(op, "object %q already exists", name)
	}
	source = source.Or(m.id.Own)
	if m.offline {
		t = network.Local
	}
	if err := m.auth.QueryCreate(name, t, source); err != nil {
		return nil, err
	}
	if displayName == "" {
		displayName = name
	}

	o := newObject(m, name, displayName, t, source)
	m.objects.Set(name, o)
	m.byNetworkID[o.networkID] = o
	m.auth.Created(o)
	m.metrics.EntityCreated("object")

	if m.id.BroadcastsOnCreate(t, o.Source()) {
		m.broadcaster.Reference(o)
	}
	o.create()

	m.logger.Debug("Object created",
		log.String("object", name),
		log.Stringer("networking_type", t),
		log.Stringer("source", source),
	)
	m.changed.Publish(ObjectEvent{Object: o, Created: true})
	return o, nil
}

// CreateRuntimeObject creates an object flagged as runtime.
func (m *Manager) CreateRuntimeObject(name string, t network.Type, displayName string, source network.GUID) (*Object, error) {
	o, err := m.CreateObject(name, t, displayName, source)
	if err != nil {
		return nil, err
	}
	o.SetRuntime(true)
	return o, nil
}

func (m *Manager) Object(name string) (*Object, error) {
	o, ok := m.objects.Get(name)
	if !ok {
		return nil, errors.ItemNotFound("Manager.Object", "object %q does not exist", name)
	}
	return o, nil
}

func (m *Manager) lookup(name string) (*Object, bool) { return m.objects.Get(name) }

func (m *Manager) HasObject(name string) bool { return m.objects.Has(name) }

func (m *Manager) ObjectByNetworkID(id network.NetworkID) (*Object, bool) {
	o, ok := m.byNetworkID[id]
	return o, ok
}

// Objects returns every live object in creation order.
func (m *Manager) Objects() []*Object { return m.objects.Values() }

func (m *Manager) Len() int { return m.objects.Len() }

// PendingDestruction is the number of objects waiting for the next Update.
func (m *Manager) PendingDestruction() int { return len(m.destroyed) }

// DestroyObject destroys o after asking the authority. When a component
// needs delayed destruction the object stays until every such component
// called back.
func (m *Manager) DestroyObject(o *Object, source network.GUID) error {
	const op = "Manager.DestroyObject"
	if o.manager != m {
		return errors.InvalidParams(op, "object %q belongs to another manager", o.name)
	}
	if o.scheduled || o.freed {
		return errors.ItemNotFound(op, "object %q is already destroyed", o.name)
	}
	if err := m.auth.QueryDestroy(o, source.Or(m.id.Own)); err != nil {
		return err
	}
	if !o.DelayedDestruction() {
		m.ReadyForDestruction(o)
	}
	return nil
}

// DestroyObjectTree destroys o and all of its descendants.
func (m *Manager) DestroyObjectTree(o *Object, source network.GUID) error {
	children := o.Children()
	if err := m.DestroyObject(o, source); err != nil {
		return err
	}
	for _, c := range children {
		if c.scheduled || c.freed {
			continue
		}
		if err := m.DestroyObjectTree(c, source); err != nil {
			return err
		}
	}
	return nil
}

// DestroyWholeObjectTree destroys the entire tree o belongs to, starting at
// its root.
func (m *Manager) DestroyWholeObjectTree(o *Object, source network.GUID) error {
	return m.DestroyObjectTree(o.Root(), source)
}

// ReadyForDestruction removes o from the indices and frees it on the next
// Update.
func (m *Manager) ReadyForDestruction(o *Object) {
	if o.scheduled || o.freed {
		return
	}
	o.scheduled = true
	o.cancelQueuedParent()
	m.objects.Delete(o.name)
	delete(m.byNetworkID, o.networkID)
	m.destroyed = append(m.destroyed, o)
	m.metrics.SetPendingDestruction(len(m.destroyed))
}

func (m *Manager) queueUpdate(o *Object) {
	if !o.queued {
		o.queued = true
		m.updates = append(m.updates, o)
	}
}

// Update runs one tick: pending component work first, then every object
// destroyed since the last tick is announced, broadcast and freed.
func (m *Manager) Update() {
	updates := m.updates
	m.updates = nil
	for _, o := range updates {
		o.queued = false
		if !o.scheduled && !o.freed {
			o.update()
		}
	}

	destroyed := m.destroyed
	m.destroyed = nil
	for _, o := range destroyed {
		m.changed.Publish(ObjectEvent{Object: o, Created: false})
		if o.QueryBroadcastDestruction() {
			o.broadcastDestruction()
		}
		m.free(o)
	}
	m.metrics.SetPendingDestruction(len(m.destroyed))
}

// free releases o and its components. Children become roots.
func (m *Manager) free(o *Object) {
	o.node.Detach()
	for _, child := range o.Children() {
		child.node.Detach()
		child.parentChanged.Publish(nil)
	}
	o.releaseComponents()
	if o.template != nil {
		o.template.unlinkObject(o)
	}
	m.auth.Released(o)
	m.broadcaster.Dereference(o)
	m.metrics.EntityDestroyed("object")
	o.freed = true

	m.logger.Debug("Object freed", log.String("object", o.name))
}

// Reset frees every object at once, without the deferred protocol and
// without broadcasting.
func (m *Manager) Reset() {
	all := append(m.destroyed, m.objects.Values()...)
	m.destroyed, m.updates = nil, nil
	for _, o := range all {
		m.changed.Publish(ObjectEvent{Object: o, Created: false})
		o.scheduled = true
		o.cancelQueuedParent()
		m.free(o)
	}
	m.objects.Clear()
	m.byNetworkID = make(map[network.NetworkID]*Object)
	m.metrics.SetPendingDestruction(0)
}

func (m *Manager) Offline() bool { return m.offline }

// SetOffline switches offline mode. Going offline turns every object Local
// without asking the authority.
func (m *Manager) SetOffline(v bool) {
	if v == m.offline {
		return
	}
	m.offline = v
	if v {
		for _, o := range m.objects.Values() {
			if o.IsRoot() {
				o.applyNetworkingType(network.Local)
			}
		}
	}
}

// Subscribe registers a handler for object creation and destruction.
func (m *Manager) Subscribe(h bus.Handler[ObjectEvent]) bus.Subscription {
	return m.changed.Subscribe(h)
}
