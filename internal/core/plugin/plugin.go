package plugin

import (
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/property"
	"github.com/zeusync/authority/internal/core/replica"
	"github.com/zeusync/authority/pkg/sequence"
)

var _ replica.Replica = (*Plugin)(nil)

// Plugin is one live plugin instance. Its properties are written on the
// server and follow on the clients.
type Plugin struct {
	manager    *Manager
	typ        string
	networkID  network.NetworkID
	sourceGUID network.GUID

	behavior    Behavior
	properties  *property.Set
	propertySub bus.Subscription
	dirty       *sequence.Ordered[string, struct{}]
	receiving   bool

	created                 bool
	destroyed               bool
	broadcastingDestruction bool
}

func newPlugin(m *Manager, f factory, source network.GUID) *Plugin {
	p := &Plugin{
		manager:    m,
		typ:        f.typ,
		networkID:  network.NewNetworkID("plugin", f.typ),
		sourceGUID: source,
		properties: property.NewSet(),
		dirty:      sequence.NewOrdered[string, struct{}](),
	}
	p.properties.DefineAll(f.properties...)
	p.propertySub = p.properties.Subscribe(p.propertyChanged)
	return p
}

func (p *Plugin) Type() string { return p.typ }

func (p *Plugin) Manager() *Manager { return p.manager }

func (p *Plugin) NetworkID() network.NetworkID { return p.networkID }

func (p *Plugin) SourceGUID() network.GUID { return p.sourceGUID }

func (p *Plugin) IsCreatedBy(guid network.GUID) bool { return p.sourceGUID == guid }

func (p *Plugin) Behavior() Behavior { return p.behavior }

// Created reports whether the behavior's Create already ran.
func (p *Plugin) Created() bool { return p.created }

func (p *Plugin) Properties() *property.Set { return p.properties }

// SetProperty writes a property. On clients the value is overwritten by the
// next update from the server.
func (p *Plugin) SetProperty(name string, v property.Value) error {
	return p.properties.Set(name, v)
}

func (p *Plugin) propertyChanged(c property.Change) {
	if !p.receiving && p.manager.id.Mode == network.Server {
		p.dirty.Set(c.Name, struct{}{})
	}
}

func (p *Plugin) Allocation() replica.Allocation {
	return replica.Allocation{Kind: replica.KindPlugin, Type: p.typ}
}

// Only the server constructs plugins on peers.
func (p *Plugin) QueryConstruction(network.GUID) bool {
	return p.manager.id.Mode == network.Server
}

func (p *Plugin) QueryRemoteConstruction(source network.GUID) bool {
	return p.manager.id.Mode == network.Client && source == p.manager.id.Server
}

func (p *Plugin) SerializeConstruction(w *replica.Writer, _ network.GUID) {
	w.Values(p.properties.Names(), p.properties.Snapshot())
}

func (p *Plugin) DeserializeConstruction(r *replica.Reader, source network.GUID) error {
	names, values := r.Values()
	if err := r.Err(); err != nil {
		return err
	}
	p.receive(names, values, source)
	return nil
}

func (p *Plugin) QuerySerialization(network.GUID) bool {
	return p.manager.id.Mode == network.Server && p.dirty.Len() > 0
}

func (p *Plugin) Serialize(w *replica.Writer, _ network.GUID) bool {
	if p.dirty.Len() == 0 {
		return false
	}
	names := p.dirty.Keys()
	values := make(map[string]property.Value, len(names))
	for _, name := range names {
		values[name], _ = p.properties.Get(name)
	}
	w.Values(names, values)
	p.dirty.Clear()
	return true
}

func (p *Plugin) Deserialize(r *replica.Reader, source network.GUID) error {
	names, values := r.Values()
	if err := r.Err(); err != nil {
		return err
	}
	if p.manager.id.Mode != network.Client || source != p.manager.id.Server {
		return nil
	}
	p.receive(names, values, source)
	return nil
}

func (p *Plugin) DeserializeDestruction(source network.GUID) bool {
	return p.manager.id.Mode == network.Client && source == p.manager.id.Server
}

func (p *Plugin) DeallocReplica(source network.GUID) {
	if p.broadcastingDestruction || p.destroyed {
		return
	}
	if err := p.manager.DestroyPlugin(p.typ); err != nil {
		p.manager.logger.Warn("Failed to deallocate plugin from replica system",
			log.String("plugin", p.typ),
			log.Stringer("peer", source),
			log.Error(err),
		)
	}
}

func (p *Plugin) receive(names []string, values map[string]property.Value, source network.GUID) {
	p.receiving = true
	defer func() { p.receiving = false }()
	for _, name := range names {
		if err := p.properties.Receive(name, values[name]); err != nil {
			p.manager.logger.Debug("Dropping replicated plugin property",
				log.String("plugin", p.typ),
				log.String("property", name),
				log.Stringer("peer", source),
				log.Error(err),
			)
		}
	}
}

func (p *Plugin) broadcastDestruction() {
	p.broadcastingDestruction = true
	p.manager.broadcaster.BroadcastDestruction(p)
	p.broadcastingDestruction = false
}
