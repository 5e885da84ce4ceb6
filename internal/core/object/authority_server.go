package object

import (
	"github.com/zeusync/authority/internal/core/network"
)

// serverAuthority checks the originating client's ledger entry, and only for
// client-originated mutations of remote entities. The server itself is never
// restricted. Client-sourced remote entities are counted against their
// creator for as long as they stay remote.
type serverAuthority struct {
	ledgerOps
	id network.Identity
}

func (a *serverAuthority) fromServer(source network.GUID) bool {
	return source == a.id.Server
}

func (a *serverAuthority) QueryCreate(_ string, t network.Type, source network.GUID) error {
	if a.fromServer(source) || t != network.Remote {
		return nil
	}
	return a.check(source, a.keys.CreateRemote, "ObjectManager.CreateObject")
}

func (a *serverAuthority) counted(e Entity) bool {
	return e.NetworkingType() == network.Remote && !e.IsCreatedBy(a.id.Server)
}

func (a *serverAuthority) Created(e Entity) {
	if a.counted(e) {
		a.add(e.SourceGUID(), a.keys.CreateRemote)
	}
}

func (a *serverAuthority) Released(e Entity) {
	if a.counted(e) {
		a.remove(e.SourceGUID(), false, a.keys.CreateRemote)
	}
}

func (a *serverAuthority) QueryDestroy(e Entity, source network.GUID) error {
	if a.fromServer(source) || e.NetworkingType() != network.Remote {
		return nil
	}
	return a.check(source, a.keys.DestroyObject(e.IsCreatedBy(source)), "ObjectManager.DestroyObject")
}

func (a *serverAuthority) QueryNetworkingType(Entity, network.Type) error { return nil }

func (a *serverAuthority) CleanupNetworkingType(Entity, network.Type) {}

func (a *serverAuthority) NetworkingTypeChanged(e Entity, t network.Type) {
	if e.IsCreatedBy(a.id.Server) {
		return
	}
	if t == network.Remote {
		a.add(e.SourceGUID(), a.keys.CreateRemote)
	} else {
		a.remove(e.SourceGUID(), false, a.keys.CreateRemote)
	}
}

func (a *serverAuthority) QuerySetParent(e Entity, parent Entity, source network.GUID) error {
	if a.fromServer(source) {
		return nil
	}
	ownParent := parent != nil && parent.IsCreatedBy(source)
	key := a.keys.Parent(parent == nil, ownParent, e.IsCreatedBy(source))
	return a.check(source, key, "Object.Parent")
}

// AllowRemoteDestruction is asked when a client requests destruction of a
// replicated entity.
func (a *serverAuthority) AllowRemoteDestruction(e Entity, source network.GUID) bool {
	if a.fromServer(source) {
		return true
	}
	return a.ledger.CheckPermissionAllowed(source, a.keys.DestroyObject(e.IsCreatedBy(source)))
}

func (a *serverAuthority) QueryCreateComponent(owner Entity, componentType string, localOverride bool, source network.GUID) error {
	if a.fromServer(source) || owner.NetworkingType() != network.Remote || localOverride {
		return nil
	}
	const op = "Object.CreateComponent"
	for _, key := range []string{
		a.keys.CreateRemoteComponent,
		a.keys.CreateComponentOn(owner.IsCreatedBy(source)),
		a.keys.ComponentCreate(componentType),
	} {
		if err := a.check(source, key, op); err != nil {
			return err
		}
	}
	return nil
}

func (a *serverAuthority) componentKeys(c ComponentEntity) []string {
	return []string{a.keys.CreateRemoteComponent, a.componentOn(c), a.keys.ComponentCreate(c.Type())}
}

func (a *serverAuthority) componentCounted(c ComponentEntity) bool {
	return countsAsRemote(c) && !c.IsCreatedBy(a.id.Server)
}

func (a *serverAuthority) ComponentCreated(c ComponentEntity) {
	if a.componentCounted(c) {
		a.add(c.SourceGUID(), a.componentKeys(c)...)
	}
}

func (a *serverAuthority) ComponentReleased(c ComponentEntity) {
	if a.componentCounted(c) {
		a.remove(c.SourceGUID(), false, a.componentKeys(c)...)
	}
}

func (a *serverAuthority) QueryDestroyComponent(c ComponentEntity, source network.GUID) error {
	if a.fromServer(source) || !countsAsRemote(c) {
		return nil
	}
	key := a.keys.DestroyComponentOn(c.IsCreatedBy(source), c.Owner().IsCreatedBy(source))
	return a.check(source, key, "Object.DestroyComponent")
}

func (a *serverAuthority) QueryComponentNetworkingType(ComponentEntity, network.Type) error {
	return nil
}

func (a *serverAuthority) CleanupComponentNetworkingType(ComponentEntity, network.Type) {}

func (a *serverAuthority) ComponentNetworkingTypeChanged(c ComponentEntity, t network.Type) {
	if c.IsCreatedBy(a.id.Server) || c.LocalOverride() {
		return
	}
	if t == network.Remote {
		a.add(c.SourceGUID(), a.componentKeys(c)...)
	} else {
		a.remove(c.SourceGUID(), false, a.componentKeys(c)...)
	}
}
