package object

import (
	"github.com/zeusync/authority/internal/core/network"
	"github.com/zeusync/authority/internal/core/permission"
)

// Authority decides whether a mutation is allowed and keeps the permission
// counters in step with the entities that exist. Clients and servers apply
// different rules; NewAuthority picks the variant from the process mode.
//
// Query hooks never leave a counter changed when they fail. The networking
// type hooks come in pairs: QueryNetworkingType records a provisional change
// that CleanupNetworkingType undoes exactly, the real bookkeeping happens in
// NetworkingTypeChanged once the whole tree was approved.
type Authority interface {
	QueryCreate(name string, t network.Type, source network.GUID) error
	Created(e Entity)
	Released(e Entity)
	QueryDestroy(e Entity, source network.GUID) error
	QueryNetworkingType(e Entity, t network.Type) error
	CleanupNetworkingType(e Entity, t network.Type)
	NetworkingTypeChanged(e Entity, t network.Type)
	// QuerySetParent is called with a nil parent for unparenting.
	QuerySetParent(e Entity, parent Entity, source network.GUID) error
	AllowRemoteDestruction(e Entity, source network.GUID) bool

	QueryCreateComponent(owner Entity, componentType string, localOverride bool, source network.GUID) error
	ComponentCreated(c ComponentEntity)
	ComponentReleased(c ComponentEntity)
	QueryDestroyComponent(c ComponentEntity, source network.GUID) error
	QueryComponentNetworkingType(c ComponentEntity, t network.Type) error
	CleanupComponentNetworkingType(c ComponentEntity, t network.Type)
	ComponentNetworkingTypeChanged(c ComponentEntity, t network.Type)
}

// NewAuthority returns the client or server rules for id.Mode, checking keys
// of the given family.
func NewAuthority(id network.Identity, ledger *permission.Ledger, keys permission.KeySet) Authority {
	l := ledgerOps{ledger: ledger, keys: keys}
	if id.Mode == network.Client {
		return &clientAuthority{ledgerOps: l, id: id}
	}
	return &serverAuthority{ledgerOps: l, id: id}
}

type ledgerOps struct {
	ledger *permission.Ledger
	keys   permission.KeySet
}

func (l ledgerOps) check(guid network.GUID, key, context string) error {
	return l.ledger.CheckPermission(guid, key, context)
}

func (l ledgerOps) add(guid network.GUID, keys ...string) {
	for _, k := range keys {
		l.ledger.AddItem(guid, k)
	}
}

func (l ledgerOps) remove(guid network.GUID, provisional bool, keys ...string) {
	for _, k := range keys {
		l.ledger.RemoveItem(guid, k, provisional)
	}
}

// componentOn is the remote component key selected by who owns the object the
// component lives on, from the component creator's point of view.
func (l ledgerOps) componentOn(c ComponentEntity) string {
	return l.keys.CreateComponentOn(c.Owner().IsCreatedBy(c.SourceGUID()))
}

// countsAsRemote reports whether a component is accounted under the remote
// component keys rather than the local one.
func countsAsRemote(c ComponentEntity) bool {
	return c.NetworkingType() == network.Remote && !c.LocalOverride()
}

// AllowAll is an Authority that approves everything and counts nothing.
type AllowAll struct{}

func (AllowAll) QueryCreate(string, network.Type, network.GUID) error          { return nil }
func (AllowAll) Created(Entity)                                               {}
func (AllowAll) Released(Entity)                                              {}
func (AllowAll) QueryDestroy(Entity, network.GUID) error                      { return nil }
func (AllowAll) QueryNetworkingType(Entity, network.Type) error               { return nil }
func (AllowAll) CleanupNetworkingType(Entity, network.Type)                   {}
func (AllowAll) NetworkingTypeChanged(Entity, network.Type)                   {}
func (AllowAll) QuerySetParent(Entity, Entity, network.GUID) error            { return nil }
func (AllowAll) AllowRemoteDestruction(Entity, network.GUID) bool             { return true }
func (AllowAll) QueryCreateComponent(Entity, string, bool, network.GUID) error { return nil }
func (AllowAll) ComponentCreated(ComponentEntity)                             {}
func (AllowAll) ComponentReleased(ComponentEntity)                            {}
func (AllowAll) QueryDestroyComponent(ComponentEntity, network.GUID) error    { return nil }
func (AllowAll) QueryComponentNetworkingType(ComponentEntity, network.Type) error {
	return nil
}
func (AllowAll) CleanupComponentNetworkingType(ComponentEntity, network.Type) {}
func (AllowAll) ComponentNetworkingTypeChanged(ComponentEntity, network.Type) {}
