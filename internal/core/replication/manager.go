package replication

import (
	"gopkg.in/yaml.v3"

	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
	"github.com/zeusync/authority/internal/core/permission"
	"github.com/zeusync/authority/internal/core/replica"
	"github.com/zeusync/authority/pkg/sequence"
)

var _ replica.Broadcaster = (*Manager)(nil)

type entry struct {
	replica replica.Replica
	// peers holding a copy
	known map[network.GUID]struct{}
}

type creator interface {
	IsCreatedBy(guid network.GUID) bool
}

type Option func(*Manager)

// WithLedger registers every joining client in l with group and sends it the
// resulting policies. On a client the policies received from the server
// replace the client's own entry.
func WithLedger(l *permission.Ledger, group permission.Group) Option {
	return func(m *Manager) {
		m.ledger = l
		m.group = group
	}
}

// Manager tracks which peer holds which replica. It implements
// replica.Broadcaster for the entity managers and must only be used from the
// tick goroutine.
type Manager struct {
	id      network.Identity
	hub     *Hub
	conn    *Connection
	ledger  *permission.Ledger
	group   permission.Group
	logger  log.Log
	metrics *metrics.Metrics

	entries *sequence.Ordered[replica.Replica, *entry]
	byID    map[network.NetworkID]replica.Replica
	peers   *sequence.Ordered[network.GUID, *Peer]
}

func NewManager(id network.Identity, hub *Hub, logger log.Log, m *metrics.Metrics, opts ...Option) *Manager {
	rm := &Manager{
		id:      id,
		hub:     hub,
		logger:  logger.Named("replication"),
		metrics: m,
		entries: sequence.NewOrdered[replica.Replica, *entry](),
		byID:    make(map[network.NetworkID]replica.Replica),
		peers:   sequence.NewOrdered[network.GUID, *Peer](),
	}
	for _, opt := range opts {
		opt(rm)
	}
	return rm
}

// SetConnection sets where allocation requests go. It is separate from
// NewManager because the entity managers need the Manager as broadcaster
// first.
func (m *Manager) SetConnection(c *Connection) { m.conn = c }

func (m *Manager) Hub() *Hub { return m.hub }

// Peers lists the peers that joined, in join order.
func (m *Manager) Peers() []network.GUID { return m.peers.Keys() }

// Tracked is the number of replicas the manager knows about.
func (m *Manager) Tracked() int { return m.entries.Len() }

// Knows reports whether peer holds a copy of r.
func (m *Manager) Knows(r replica.Replica, peer network.GUID) bool {
	e, ok := m.entries.Get(r)
	if !ok {
		return false
	}
	_, known := e.known[peer]
	return known
}

func (m *Manager) track(r replica.Replica) *entry {
	if e, ok := m.entries.Get(r); ok {
		return e
	}
	e := &entry{replica: r, known: make(map[network.GUID]struct{})}
	m.entries.Set(r, e)
	m.byID[r.NetworkID()] = r
	return e
}

// Reference makes r eligible for construction on every peer its
// QueryConstruction approves.
func (m *Manager) Reference(r replica.Replica) { m.track(r) }

// Dereference forgets r.
func (m *Manager) Dereference(r replica.Replica) {
	m.entries.Delete(r)
	if m.byID[r.NetworkID()] == r {
		delete(m.byID, r.NetworkID())
	}
}

// BroadcastDestruction tells every peer holding r to destroy its copy.
func (m *Manager) BroadcastDestruction(r replica.Replica) {
	e, ok := m.entries.Get(r)
	if !ok {
		return
	}
	f := replica.Frame{Op: replica.OpDestroy, NetworkID: r.NetworkID()}
	for guid := range e.known {
		if p, ok := m.peers.Get(guid); ok {
			m.send(p, f)
		}
	}
	clear(e.known)
}

// Update applies everything the hub received since the last call: joins,
// leaves and frames, in arrival order.
func (m *Manager) Update() {
	for _, ev := range m.hub.drain() {
		switch ev.kind {
		case peerJoined:
			m.join(ev.peer)
		case peerLeft:
			m.leave(ev.peer)
		case frameReceived:
			m.handle(ev.peer, ev.frame)
		}
	}
}

// Flush sends pending constructions, then one delta per replica with
// changes to every peer that should see them.
func (m *Manager) Flush() {
	peers := m.peers.Values()
	if len(peers) == 0 {
		return
	}
	entries := m.entries.Values()

	for _, e := range entries {
		for _, p := range peers {
			if _, ok := e.known[p.GUID()]; ok {
				continue
			}
			if e.replica.QueryConstruction(p.GUID()) {
				m.construct(p, e)
			}
		}
	}

	var dests []*Peer
	for _, e := range entries {
		dests = dests[:0]
		for _, p := range peers {
			if _, ok := e.known[p.GUID()]; ok && e.replica.QuerySerialization(p.GUID()) {
				dests = append(dests, p)
			}
		}
		if len(dests) == 0 {
			continue
		}
		w := replica.NewWriter()
		if e.replica.Serialize(w, dests[0].GUID()) {
			f := replica.Frame{Op: replica.OpSerialize, NetworkID: e.replica.NetworkID(), Payload: w.Bytes()}
			for _, p := range dests {
				m.send(p, f)
			}
		}
		w.Release()
	}
}

func (m *Manager) construct(p *Peer, e *entry) {
	w := replica.NewWriter()
	defer w.Release()
	w.Blob(e.replica.Allocation().Encode())
	e.replica.SerializeConstruction(w, p.GUID())
	m.send(p, replica.Frame{Op: replica.OpConstruct, NetworkID: e.replica.NetworkID(), Payload: w.Bytes()})
	e.known[p.GUID()] = struct{}{}
}

func (m *Manager) send(p *Peer, f replica.Frame) {
	if err := p.send(f); err != nil {
		m.logger.Warn("Failed to send frame, dropping peer",
			log.Stringer("peer", p.GUID()),
			log.Stringer("op", f.Op),
			log.Error(err))
		_ = p.conn.Close()
		return
	}
	m.metrics.FrameSent(f.Op.String())
}

func (m *Manager) join(p *Peer) {
	guid := p.GUID()
	if m.id.Mode == network.Client && guid != m.id.Server {
		m.logger.Warn("Refusing peer that is not our server", log.Stringer("peer", guid))
		_ = p.conn.Close()
		return
	}
	m.peers.Set(guid, p)
	m.metrics.PeerConnected()

	if m.id.Mode != network.Server || m.ledger == nil {
		return
	}
	if !m.ledger.HasPeer(guid) {
		m.ledger.RegisterPeer(guid, m.group)
	}
	policies, err := m.ledger.Policies(guid)
	if err != nil {
		m.logger.Error("Failed to read peer policies", log.Stringer("peer", guid), log.Error(err))
		return
	}
	data, err := yaml.Marshal(policies)
	if err != nil {
		m.logger.Error("Failed to encode peer policies", log.Stringer("peer", guid), log.Error(err))
		return
	}
	m.send(p, replica.Frame{Op: replica.OpPermissions, Payload: data})
}

// leave forgets what the peer knew and destroys the replicas it created.
func (m *Manager) leave(p *Peer) {
	guid := p.GUID()
	if current, ok := m.peers.Get(guid); !ok || current != p {
		return
	}
	m.peers.Delete(guid)
	m.metrics.PeerDisconnected()

	for _, e := range m.entries.Values() {
		delete(e.known, guid)
	}
	replicas := m.entries.Keys()
	for i := len(replicas) - 1; i >= 0; i-- {
		if c, ok := replicas[i].(creator); ok && c.IsCreatedBy(guid) {
			replicas[i].DeallocReplica(guid)
		}
	}

	if m.id.Mode == network.Server && m.ledger != nil {
		m.ledger.UnregisterPeer(guid)
	}
}

func (m *Manager) handle(p *Peer, f replica.Frame) {
	if _, ok := m.peers.Get(p.GUID()); !ok {
		return
	}
	switch f.Op {
	case replica.OpPermissions:
		m.receivePermissions(p.GUID(), f.Payload)
	case replica.OpConstruct:
		m.receiveConstruction(p.GUID(), f)
	case replica.OpDestroy:
		m.receiveDestruction(p.GUID(), f.NetworkID)
	case replica.OpSerialize:
		m.receiveSerialization(p.GUID(), f)
	default:
		m.logger.Debug("Ignoring frame", log.Stringer("peer", p.GUID()), log.Stringer("op", f.Op))
	}
}

func (m *Manager) receivePermissions(source network.GUID, payload []byte) {
	if m.id.Mode != network.Client || source != m.id.Server || m.ledger == nil {
		return
	}
	var g permission.Group
	if err := yaml.Unmarshal(payload, &g); err != nil {
		m.logger.Warn("Dropping malformed policies", log.Error(err))
		return
	}
	m.ledger.RegisterPeer(m.id.Own, g)
}

func (m *Manager) receiveConstruction(source network.GUID, f replica.Frame) {
	if m.conn == nil {
		m.logger.Error("Dropping construction, no connection set", log.Stringer("peer", source))
		return
	}
	r := replica.NewReader(f.Payload)
	allocation := r.Blob()
	if err := r.Err(); err != nil {
		m.logger.Warn("Dropping malformed construction", log.Stringer("peer", source), log.Error(err))
		return
	}
	rep, err := m.conn.AllocReplica(source, allocation)
	if err != nil {
		return
	}
	if rep.NetworkID() != f.NetworkID {
		m.logger.Debug("Construction network id differs from the local one",
			log.Stringer("peer", source),
			log.Stringer("sent", f.NetworkID),
			log.Stringer("local", rep.NetworkID()))
	}
	if !rep.QueryRemoteConstruction(source) {
		m.logger.Warn("Remote construction refused",
			log.Stringer("peer", source),
			log.String("allocation", rep.Allocation().String()))
		rep.DeallocReplica(source)
		return
	}
	if err := rep.DeserializeConstruction(r, source); err != nil {
		m.logger.Warn("Failed to apply construction",
			log.Stringer("peer", source),
			log.String("allocation", rep.Allocation().String()),
			log.Error(err))
	}
	m.track(rep).known[source] = struct{}{}
}

func (m *Manager) receiveDestruction(source network.GUID, id network.NetworkID) {
	rep, ok := m.byID[id]
	if !ok {
		m.logger.Debug("Destruction for unknown replica", log.Stringer("peer", source), log.Stringer("network_id", id))
		return
	}
	if e, ok := m.entries.Get(rep); ok {
		delete(e.known, source)
	}
	if !rep.DeserializeDestruction(source) {
		m.logger.Warn("Remote destruction refused",
			log.Stringer("peer", source),
			log.String("allocation", rep.Allocation().String()))
		return
	}
	rep.DeallocReplica(source)
}

func (m *Manager) receiveSerialization(source network.GUID, f replica.Frame) {
	rep, ok := m.byID[f.NetworkID]
	if !ok {
		m.logger.Debug("Update for unknown replica", log.Stringer("peer", source), log.Stringer("network_id", f.NetworkID))
		return
	}
	if err := rep.Deserialize(replica.NewReader(f.Payload), source); err != nil {
		m.logger.Warn("Failed to apply update",
			log.Stringer("peer", source),
			log.String("allocation", rep.Allocation().String()),
			log.Error(err))
	}
}
