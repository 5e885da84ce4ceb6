package object

import (
	"github.com/zeusync/authority/internal/core/errors"
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/replica"
)

// componentSelf is what componentCore needs from the concrete component or
// component template embedding it.
type componentSelf interface {
	ComponentEntity
	replica.Replica
}

// componentCore is the authority state machine shared by components and
// component templates.
type componentCore struct {
	base
	typ           string
	factory       Factory
	localOverride bool

	auth        Authority
	broadcaster replica.Broadcaster
	self        componentSelf
	// typeChanged runs after the networking type flipped and the authority
	// was told.
	typeChanged func(t network.Type)
}

func newComponentCore(name string, id network.Identity, t network.Type, source network.GUID, nid network.NetworkID,
	f Factory, localOverride bool, auth Authority, broadcaster replica.Broadcaster) componentCore {
	c := componentCore{
		base:          newBase(name, id, t, source, nid),
		typ:           f.Type(),
		factory:       f,
		localOverride: localOverride || restricted(f, id.Mode),
		auth:          auth,
		broadcaster:   broadcaster,
	}
	if c.localOverride {
		c.networkingType = network.Local
	}
	return c
}

func (c *componentCore) Type() string { return c.typ }

func (c *componentCore) Factory() Factory { return c.factory }

func (c *componentCore) LocalOverride() bool { return c.localOverride }

// QueryBroadcastDestruction reports whether destroying the entity must be
// mirrored to peers.
func (c *componentCore) QueryBroadcastDestruction() bool {
	return c.broadcasts() && !c.localOverride
}

func (c *componentCore) broadcastConstruction() {
	c.broadcaster.Reference(c.self)
}

func (c *componentCore) broadcastDestruction() {
	c.broadcastingDestruction = true
	c.broadcaster.BroadcastDestruction(c.self)
	c.broadcastingDestruction = false
}

// participant returns the query/cleanup pair for moving to t, or false when
// the entity would not change.
func (c *componentCore) participant(t network.Type) (participant, bool) {
	if t == c.networkingType || (t == network.Remote && c.localOverride) {
		return participant{}, false
	}
	return participant{
		query:   func() error { return c.auth.QueryComponentNetworkingType(c.self, t) },
		cleanup: func() { c.auth.CleanupComponentNetworkingType(c.self, t) },
	}, true
}

// applyNetworkingType flips the type without asking. Remote is ignored while
// the override is set.
func (c *componentCore) applyNetworkingType(t network.Type) {
	if t == c.networkingType || (t == network.Remote && c.localOverride) {
		return
	}
	c.networkingType = t
	c.auth.ComponentNetworkingTypeChanged(c.self, t)
	if c.typeChanged != nil {
		c.typeChanged(t)
	}
	switch {
	case c.broadcasts():
		c.broadcastConstruction()
	case t == network.Local:
		c.broadcastDestruction()
	}
}

// SetNetworkingType asks the authority for this single entity and applies
// the change when approved.
func (c *componentCore) SetNetworkingType(t network.Type) error {
	p, ok := c.participant(t)
	if !ok {
		return nil
	}
	if err := runParticipants([]participant{p}); err != nil {
		return err
	}
	c.applyNetworkingType(t)
	return nil
}

// SetLocalOverride forces the entity Local, or lets it follow its owner
// again. Types restricted to this side cannot drop the override, and only
// the creator may change it.
func (c *componentCore) SetLocalOverride(v bool) error {
	const op = "Component.SetLocalOverride"
	if v == c.localOverride {
		return nil
	}
	if !v && restricted(c.factory, c.id.Mode) {
		return errors.InvalidState(op, "%s components only exist on the %s", c.typ, c.id.Mode)
	}
	if !c.IsCreatedByOwnGUID() {
		return errors.PermissionDenied(op, "can only override owned component %q", c.name)
	}

	if v {
		if err := c.SetNetworkingType(network.Local); err != nil {
			return err
		}
		c.localOverride = true
		return nil
	}

	c.localOverride = false
	if c.self.Owner().NetworkingType() == network.Remote {
		if err := c.SetNetworkingType(network.Remote); err != nil {
			c.localOverride = true
			return err
		}
	}
	return nil
}

// forceLocal drops the entity to Local for its creator without asking, so
// the following destruction is neither checked nor broadcast.
func (c *componentCore) forceLocal() {
	if c.IsCreatedByOwnGUID() && c.networkingType != network.Local {
		c.networkingType = network.Local
		c.localOverride = false
		c.auth.ComponentNetworkingTypeChanged(c.self, network.Local)
		if c.typeChanged != nil {
			c.typeChanged(network.Local)
		}
	}
}
