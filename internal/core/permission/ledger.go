package permission

import (
	"time"

	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/observability/log"
	"github.com/zeusync/authority/internal/core/observability/metrics"
)

type peerEntry struct {
	group       string
	permissions map[string]*Permission
}

// Ledger holds one permission set per peer. It is only touched from the tick
// goroutine.
type Ledger struct {
	logger  log.Log
	metrics *metrics.Metrics
	now     func() time.Time

	peers   map[network.GUID]*peerEntry
	offline bool
}

type Option func(*Ledger)

// WithClock replaces time.Now, mainly for timeframe tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

func NewLedger(logger log.Log, opts ...Option) *Ledger {
	l := &Ledger{
		logger: logger.Named("permission"),
		now:    time.Now,
		peers:  make(map[network.GUID]*peerEntry),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterPeer gives a peer a fresh copy of the group's policies. Registering
// an existing peer replaces its policies but keeps counters of keys present in
// both.
func (l *Ledger) RegisterPeer(guid network.GUID, group Group) {
	entry, ok := l.peers[guid]
	if !ok {
		entry = &peerEntry{permissions: make(map[string]*Permission, len(group.Policies))}
		l.peers[guid] = entry
	}
	entry.group = group.Name
	for key, perm := range entry.permissions {
		if _, keep := group.Policies[key]; !keep {
			delete(entry.permissions, key)
			continue
		}
		perm.SetPolicy(group.Policies[key])
	}
	for key, policy := range group.Policies {
		if _, exists := entry.permissions[key]; !exists {
			entry.permissions[key] = newPermission(key, policy, l.now)
		}
	}
	l.logger.Debug("Peer registered",
		log.Stringer("peer", guid),
		log.String("group", group.Name),
		log.Int("keys", len(group.Policies)))
}

func (l *Ledger) UnregisterPeer(guid network.GUID) {
	delete(l.peers, guid)
}

func (l *Ledger) HasPeer(guid network.GUID) bool {
	_, ok := l.peers[guid]
	return ok
}

// PeerGroup returns the group name a peer was registered with.
func (l *Ledger) PeerGroup(guid network.GUID) (string, bool) {
	entry, ok := l.peers[guid]
	if !ok {
		return "", false
	}
	return entry.group, true
}

// Policies returns the peer's current policies as a group, e.g. to hand a
// client the rules the server will enforce on it.
func (l *Ledger) Policies(guid network.GUID) (Group, error) {
	entry, ok := l.peers[guid]
	if !ok {
		return Group{}, errors.ItemNotFound("Ledger.Policies", "peer %s not registered", guid)
	}
	g := NewGroup(entry.group)
	for key, perm := range entry.permissions {
		g.Policies[key] = perm.Policy()
	}
	return g, nil
}

func (l *Ledger) SetOffline(offline bool) { l.offline = offline }

func (l *Ledger) Offline() bool { return l.offline }

// Permission returns the live counter for a key. Offline, unknown peers and
// keys are created on demand as unlimited allows.
func (l *Ledger) Permission(guid network.GUID, key string) (*Permission, error) {
	entry, ok := l.peers[guid]
	if !ok {
		if !l.offline {
			return nil, errors.ItemNotFound("Ledger.Permission", "peer %s not registered", guid).
				WithContext("key", key)
		}
		entry = &peerEntry{group: "offline", permissions: make(map[string]*Permission)}
		l.peers[guid] = entry
	}
	perm, ok := entry.permissions[key]
	if !ok {
		if !l.offline {
			return nil, errors.ItemNotFound("Ledger.Permission", "permission %q does not exist", key).
				WithContext("peer", guid.String())
		}
		perm = newPermission(key, Allow(), l.now)
		entry.permissions[key] = perm
	}
	return perm, nil
}

// CheckPermission returns PermissionDenied (or ItemNotFound) when the peer may
// not add an item under key. It never changes a counter. context names the
// calling operation and ends up in the error.
func (l *Ledger) CheckPermission(guid network.GUID, key, context string) error {
	if l.offline {
		return nil
	}
	perm, err := l.Permission(guid, key)
	if err != nil {
		return err
	}
	if err := perm.Check(context); err != nil {
		l.metrics.Denied(key)
		l.logger.Debug("Permission denied",
			log.Stringer("peer", guid),
			log.String("key", key),
			log.String("context", context))
		return err
	}
	return nil
}

// CheckPermissionAllowed is the boolean form of CheckPermission. Unknown
// peers and keys are not allowed.
func (l *Ledger) CheckPermissionAllowed(guid network.GUID, key string) bool {
	return l.CheckPermission(guid, key, "Ledger.CheckPermissionAllowed") == nil
}

// AddItem counts an item if the peer has the key; missing keys are ignored so
// counting never fails after a successful check.
func (l *Ledger) AddItem(guid network.GUID, key string) {
	if perm, err := l.Permission(guid, key); err == nil {
		perm.AddItem()
	}
}

// RemoveItem releases an item if the peer has the key.
func (l *Ledger) RemoveItem(guid network.GUID, key string, provisional bool) {
	if perm, err := l.Permission(guid, key); err == nil {
		perm.RemoveItem(provisional)
	}
}

// Snapshot captures the counters of the given keys of a peer. Keys the peer
// does not have are skipped.
func (l *Ledger) Snapshot(guid network.GUID, keys ...string) []Snapshot {
	snaps := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		if perm, err := l.Permission(guid, k); err == nil {
			snaps = append(snaps, perm.Snapshot())
		}
	}
	return snaps
}

// Restore rolls back snapshots taken by Snapshot, last first.
func Restore(snaps []Snapshot) {
	for i := len(snaps) - 1; i >= 0; i-- {
		snaps[i].Restore()
	}
}

// Items reports the current count, zero for unknown keys.
func (l *Ledger) Items(guid network.GUID, key string) uint32 {
	entry, ok := l.peers[guid]
	if !ok {
		return 0
	}
	if perm, ok := entry.permissions[key]; ok {
		return perm.Items()
	}
	return 0
}
