package plugin

import (
	"fmt"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/events/bus"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/replica"
	"github.com/zeusync/authority/pkg/sequence"
)

// State is the run state shared by every plugin of a manager.
type State uint8

const (
	Stop State = iota
	Play
	Pause
)

func (s State) String() string {
	switch s {
	case Stop:
		return "stop"
	case Play:
		return "play"
	case Pause:
		return "pause"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Event is published when a plugin was created or is about to be freed.
type Event struct {
	Plugin  *Plugin
	Created bool
}

// StateChange is published when the manager state changed.
type StateChange struct {
	State    State
	Previous State
}

type Option func(*Manager)

func WithMetrics(m *metrics.Metrics) Option {
	return func(pm *Manager) { pm.metrics = m }
}

func WithBroadcaster(b replica.Broadcaster) Option {
	return func(pm *Manager) { pm.broadcaster = b }
}

// WithState sets the initial state. The default is Play.
func WithState(s State) Option {
	return func(pm *Manager) { pm.state = s }
}

// Manager owns the plugins of a process. Creation and destruction complete on
// the next Update, the same way components do.
type Manager struct {
	id          network.Identity
	logger      log.Log
	metrics     *metrics.Metrics
	registry    *Registry
	broadcaster replica.Broadcaster
	state       State

	plugins     *sequence.Ordered[string, *Plugin]
	byNetworkID map[network.NetworkID]*Plugin
	pending     []*Plugin
	destroyed   []*Plugin

	changed      bus.Signal[Event]
	stateChanged bus.Signal[StateChange]
}

func NewManager(id network.Identity, registry *Registry, logger log.Log, opts ...Option) *Manager {
	m := &Manager{
		id:          id,
		logger:      logger.Named("plugins"),
		registry:    registry,
		broadcaster: replica.Nop{},
		state:       Play,
		plugins:     sequence.NewOrdered[string, *Plugin](),
		byNetworkID: make(map[network.NetworkID]*Plugin),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Identity() network.Identity { return m.id }

func (m *Manager) Registry() *Registry { return m.registry }

func (m *Manager) SetBroadcaster(b replica.Broadcaster) { m.broadcaster = b }

// CreatePlugin creates the plugin of typ. Servers only create plugins on their
// own behalf; clients create them locally or on behalf of the server.
func (m *Manager) CreatePlugin(typ string, source network.GUID) (*Plugin, error) {
	const op = "Manager.CreatePlugin"
	f, err := m.registry.factory(typ)
	if err != nil {
		return nil, err
	}
	source = source.Or(m.id.Own)
	if source != m.id.Own && source != m.id.Server {
		return nil, errors.PermissionDenied(op, "peer %s cannot create plugin %q", source, typ)
	}
	if m.plugins.Has(typ) {
		return nil, errors.DuplicateItem(op, "plugin %q already exists", typ)
	}

	p := newPlugin(m, f, source)
	if f.ctor == nil {
		p.behavior = nopBehavior{}
	} else {
		behavior, err := f.ctor(p)
		if err != nil {
			p.propertySub.Cancel()
			return nil, errors.Wrap(errors.CodeInternalError, op, err, "create "+typ+" behavior")
		}
		p.behavior = behavior
	}

	m.plugins.Set(typ, p)
	m.byNetworkID[p.networkID] = p
	m.pending = append(m.pending, p)
	m.metrics.EntityCreated("plugin")
	if m.id.Mode == network.Server {
		m.broadcaster.Reference(p)
	}

	m.logger.Debug("Plugin created", log.String("plugin", typ), log.Stringer("source", source))
	m.changed.Publish(Event{Plugin: p, Created: true})
	return p, nil
}

// CreateAutoPlugins creates every auto-create type not yet present.
func (m *Manager) CreateAutoPlugins() error {
	for _, typ := range m.registry.AutoCreates() {
		if m.plugins.Has(typ) {
			continue
		}
		if _, err := m.CreatePlugin(typ, m.id.Own); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Plugin(typ string) (*Plugin, error) {
	p, ok := m.plugins.Get(typ)
	if !ok {
		return nil, errors.ItemNotFound("Manager.Plugin", "plugin %q does not exist", typ)
	}
	return p, nil
}

func (m *Manager) HasPlugin(typ string) bool { return m.plugins.Has(typ) }

func (m *Manager) PluginByNetworkID(id network.NetworkID) (*Plugin, bool) {
	p, ok := m.byNetworkID[id]
	return p, ok
}

func (m *Manager) Plugins() []*Plugin { return m.plugins.Values() }

// DestroyPlugin removes the plugin at once and frees it on the next Update.
func (m *Manager) DestroyPlugin(typ string) error {
	p, ok := m.plugins.Get(typ)
	if !ok {
		return errors.ItemNotFound("Manager.DestroyPlugin", "plugin %q does not exist", typ)
	}
	p.destroyed = true
	m.plugins.Delete(typ)
	delete(m.byNetworkID, p.networkID)
	m.destroyed = append(m.destroyed, p)
	return nil
}

// Update runs pending Create hooks, updates behaviors while playing and frees
// destroyed plugins.
func (m *Manager) Update() {
	pending := m.pending
	m.pending = nil
	for _, p := range pending {
		if !p.destroyed {
			p.behavior.Create()
			p.created = true
		}
	}

	if m.state == Play {
		for _, p := range m.plugins.Values() {
			if u, ok := p.behavior.(Updater); ok && p.created {
				u.Update()
			}
		}
	}

	destroyed := m.destroyed
	m.destroyed = nil
	for _, p := range destroyed {
		m.changed.Publish(Event{Plugin: p, Created: false})
		if m.id.Mode == network.Server {
			p.broadcastDestruction()
		}
		m.free(p)
	}
}

func (m *Manager) free(p *Plugin) {
	if r, ok := p.behavior.(Releaser); ok {
		r.Release()
	}
	p.propertySub.Cancel()
	m.broadcaster.Dereference(p)
	m.metrics.EntityDestroyed("plugin")
	m.logger.Debug("Plugin freed", log.String("plugin", p.typ))
}

// Reset frees every plugin without broadcasting.
func (m *Manager) Reset() {
	all := append(m.destroyed, m.plugins.Values()...)
	m.destroyed, m.pending = nil, nil
	for _, p := range all {
		p.destroyed = true
		m.changed.Publish(Event{Plugin: p, Created: false})
		m.free(p)
	}
	m.plugins.Clear()
	m.byNetworkID = make(map[network.NetworkID]*Plugin)
}

func (m *Manager) State() State { return m.state }

// SetState switches every plugin to s.
func (m *Manager) SetState(s State) {
	if s == m.state {
		return
	}
	prev := m.state
	m.state = s
	for _, p := range m.plugins.Values() {
		if o, ok := p.behavior.(StateObserver); ok {
			o.StateChanged(s, prev)
		}
	}
	m.logger.Info("Plugin state changed", log.Stringer("state", s), log.Stringer("previous", prev))
	m.stateChanged.Publish(StateChange{State: s, Previous: prev})
}

func (m *Manager) Subscribe(h bus.Handler[Event]) bus.Subscription {
	return m.changed.Subscribe(h)
}

func (m *Manager) SubscribeState(h bus.Handler[StateChange]) bus.Subscription {
	return m.stateChanged.Subscribe(h)
}
